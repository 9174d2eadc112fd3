// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package splitcore

// Store holds build artifacts for the kernel core across runs.
type Store interface {
	// Get returns the words stored under key, or nil.
	Get(key string) []uint32
	// Put stores data under key.
	Put(key string, data []uint32) error
}

type cacheEntry struct {
	data     []uint32
	borrowed bool
}

// Cache is a Store whose entries become read-only once they are read.
//
// The slice returned by Get aliases the cache's storage and the kernel
// core may keep using it, so a non-empty Get makes the entry borrowed for
// the rest of the process lifetime, and later Puts on it fail with ErrBorrowed.
// Entries are kept when the kernel core is stopped.
type Cache struct {
	entries map[string]*cacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

func (c *Cache) Get(key string) []uint32 {
	e, ok := c.entries[key]
	if !ok || len(e.data) == 0 {
		return nil
	}
	e.borrowed = true
	return e.data
}

func (c *Cache) Put(key string, data []uint32) error {
	e, ok := c.entries[key]
	if !ok {
		c.entries[key] = &cacheEntry{data: append([]uint32(nil), data...)}
		return nil
	}
	if e.borrowed {
		return ErrBorrowed
	}
	e.data = append(e.data[:0], data...)
	return nil
}

// Borrowed reports whether key has been handed out by Get.
func (c *Cache) Borrowed(key string) bool {
	e, ok := c.entries[key]
	return ok && e.borrowed
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
