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
	"sort"
	"strings"
	"sync"
)

type mock struct {
	mu   sync.RWMutex
	data map[string]string
}

// Mock creates an in-memory storage driver. It backs tests and purely local
// deployments of the dummy identity provider.
func Mock() Driver {
	return &mock{data: map[string]string{}}
}

func (m *mock) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *mock) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mock) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mock) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := []string{}
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, key)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (m *mock) Close() error {
	return nil
}
