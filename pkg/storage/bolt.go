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
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/yahoojapan/k2hr3-api/pkg/util"
)

var boltBucket = []byte("k2hr3")

type boltDriver struct {
	db *bolt.DB
}

// Bolt creates a file-backed storage driver. All YRN keys live in a single
// bucket; the hierarchical structure is encoded in the key strings
// themselves, so prefix scans cover subkey listing.
func Bolt(path string) (Driver, error) {
	if path == "" {
		return nil, fmt.Errorf("no storage file configured (k2hr3.storage_file)")
	}
	util.LogDebug("Opening storage file %s", path)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cannot open storage file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltDriver{db: db}, nil
}

func (d *boltDriver) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw != nil {
			value = string(raw)
			found = true
		}
		return nil
	})
	return value, found, err
}

func (d *boltDriver) Set(key, value string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
}

func (d *boltDriver) Remove(key string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

func (d *boltDriver) List(prefix string) ([]string, error) {
	matches := []string{}
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			matches = append(matches, string(k))
		}
		return nil
	})
	return matches, err
}

func (d *boltDriver) Close() error {
	return d.db.Close()
}
