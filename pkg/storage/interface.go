/*******************************************************************************
*
* Copyright 2018 Yahoo Japan Corporation
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package storage

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

// Driver is an interface that wraps the underlying key-value store holding
// all authorization data (users, tokens, seeds, keystone endpoints) under
// hierarchical YRN string keys. Because it is an interface, the real
// implementation can be mocked away in unit tests.
type Driver interface {
	// Get returns the value stored under key. The second return value is
	// false when the key is absent; absence is not an error.
	Get(key string) (string, bool, error)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Remove deletes the entry stored under key. Removing an absent key is
	// not an error.
	Remove(key string) error

	// List returns all keys starting with prefix, in lexical order.
	List(prefix string) ([]string, error)

	// Close releases the underlying store handle. It must be called on
	// every exit path once the driver is no longer needed.
	Close() error
}

// NewDriver is a factory method which chooses the right driver implementation
// based on configuration settings.
func NewDriver() Driver {
	driverName := viper.GetString("k2hr3.storage_driver")
	switch driverName {
	case "bolt":
		driver, err := Bolt(viper.GetString("k2hr3.storage_file"))
		if err != nil {
			util.LogFatal("Couldn't initialize bolt storage driver with file \"%s\": %s", viper.GetString("k2hr3.storage_file"), err.Error())
			return nil
		}
		return driver
	case "mock":
		return Mock()
	default:
		panic(fmt.Errorf("invalid k2hr3.storage_driver setting: %s", driverName))
	}
}
