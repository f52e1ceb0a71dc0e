/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package master

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptgraph/internal/graph"
	"scriptgraph/internal/script"
)

const good = "Start\n---\nA: hello\n--> Next\n===\nNext\n---\nB: bye\n===\n"

func mustCompile(t *testing.T, file, src string) *graph.Graph {
	t.Helper()
	g, err := graph.Compile(file, src)
	require.NoError(t, err)
	return g
}

func TestUpsertGetRemove(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("a.s2py", mustCompile(t, "a.s2py", good)))

	s, ok := m.Get("a.s2py")
	require.True(t, ok)
	assert.Equal(t, graph.NodeID("Start#0"), s.Record.Entry)
	assert.Len(t, s.Record.Nodes, 3)
	assert.Equal(t, 1, m.Len())

	assert.True(t, m.Remove("a.s2py"))
	assert.False(t, m.Remove("a.s2py"))
	_, ok = m.Get("a.s2py")
	assert.False(t, ok)
}

func TestUpsertRejectsMismatchedFile(t *testing.T) {
	m := New()
	assert.Error(t, m.Upsert("b.s2py", mustCompile(t, "a.s2py", good)))
	assert.Error(t, m.Upsert("a.s2py", nil))
	assert.Equal(t, 0, m.Len())
}

func TestFailedBuildKeepsPreviousGraph(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("a.s2py", mustCompile(t, "a.s2py", good)))
	before := m.Snapshot()

	broken := "Start\n---\nA: hello\n--> MissingBranch\n===\n"
	g, err := graph.Compile("a.s2py", broken)
	require.True(t, errors.Is(err, script.ErrUnresolvedLabel))
	if err == nil {
		require.NoError(t, m.Upsert("a.s2py", g))
	}

	after := m.Snapshot()
	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, before.Records["a.s2py"].Nodes, after.Records["a.s2py"].Nodes)
}

func TestSnapshotIsolatedFromLaterUpdates(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("a.s2py", mustCompile(t, "a.s2py", good)))
	snap := m.Snapshot()

	require.NoError(t, m.Upsert("b.s2py", mustCompile(t, "b.s2py", good)))
	m.Remove("a.s2py")

	assert.Equal(t, []string{"a.s2py"}, snap.Files())
	assert.Equal(t, []string{"b.s2py"}, m.Snapshot().Files())
	assert.Greater(t, m.Snapshot().Revision, snap.Revision)
}

func TestSnapshotMarshalDeterministic(t *testing.T) {
	m := New()
	for _, f := range []string{"c.s2py", "a.s2py", "b.s2py"} {
		require.NoError(t, m.Upsert(f, mustCompile(t, f, good)))
	}
	first, err := m.Snapshot().Marshal()
	require.NoError(t, err)
	second, err := m.Snapshot().Marshal()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConcurrentUpsertAndSnapshot(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			file := fmt.Sprintf("f%d.s2py", i)
			g, err := graph.Compile(file, good)
			if err != nil {
				t.Errorf("compile: %v", err)
				return
			}
			for j := 0; j < 20; j++ {
				if err := m.Upsert(file, g); err != nil {
					t.Errorf("upsert: %v", err)
				}
				snap := m.Snapshot()
				for _, rec := range snap.Records {
					if len(rec.Nodes) != 3 {
						t.Errorf("half-written record: %d nodes", len(rec.Nodes))
					}
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, m.Len())
}
