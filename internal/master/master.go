/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package master keeps the aggregate of all files' graphs. Labels are file
// scoped, so aggregation is a key-value merge and never resolves anything
// across files.
package master

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"scriptgraph/internal/export"
	"scriptgraph/internal/graph"
)

// Script is one file's current graph together with its serialized record.
type Script struct {
	File   string
	Graph  *graph.Graph
	Record export.Record
}

// Snapshot is a consistent view of the master graph.
type Snapshot struct {
	Revision uint64
	Records  map[string]export.Record
}

// Files returns the snapshot's file keys in sorted order.
func (s Snapshot) Files() []string {
	out := make([]string, 0, len(s.Records))
	for f := range s.Records {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Marshal encodes the snapshot as the aggregate record.
func (s Snapshot) Marshal() ([]byte, error) { return export.MarshalMaster(s.Records) }

// Graph is the master graph. All methods are safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	scripts  map[string]Script
	revision uint64
}

// New returns an empty master graph.
func New() *Graph {
	return &Graph{scripts: map[string]Script{}}
}

// Upsert replaces the entry for file with g. Only successfully built graphs
// may be passed; a failed build leaves the previous entry in place simply by
// not calling Upsert.
func (m *Graph) Upsert(file string, g *graph.Graph) error {
	if g == nil {
		return errors.New("nil graph")
	}
	if file == "" {
		return errors.New("file is required")
	}
	if g.File != file {
		return fmt.Errorf("graph built for %q cannot be stored as %q", g.File, file)
	}
	s := Script{File: file, Graph: g, Record: export.Serialize(g)}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[file] = s
	m.revision++
	return nil
}

// Remove deletes the entry for file and reports whether it existed.
func (m *Graph) Remove(file string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[file]; !ok {
		return false
	}
	delete(m.scripts, file)
	m.revision++
	return true
}

// Get returns the current entry for file.
func (m *Graph) Get(file string) (Script, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[file]
	return s, ok
}

// Len returns the number of files.
func (m *Graph) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scripts)
}

// Snapshot returns the current records. Records are never mutated after
// creation, so the returned map can be read without holding the lock.
func (m *Graph) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make(map[string]export.Record, len(m.scripts))
	for f, s := range m.scripts {
		recs[f] = s.Record
	}
	return Snapshot{Revision: m.revision, Records: recs}
}
