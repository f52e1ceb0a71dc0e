/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package watch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptgraph/internal/master"
	"scriptgraph/internal/script"
	"scriptgraph/internal/storage"
)

const (
	goodScript = "Start\n---\nA: hello\n--> Next\n===\nNext\n---\nB: bye\n===\n"
	altScript  = "Start\n---\nA: hello again\nB: and more\n===\n"
	badScript  = "Start\n---\nA: hello\n--> Nowhere\n===\n"
)

type fixture struct {
	root  string
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "scenes")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return &fixture{root: root, clock: time.Now().Add(-time.Hour)}
}

// write stores a script and gives it a fresh, strictly increasing mtime.
func (f *fixture) write(t *testing.T, rel, body string) string {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	f.clock = f.clock.Add(2 * time.Second)
	require.NoError(t, os.Chtimes(p, f.clock, f.clock))
	return p
}

func newDriver(t *testing.T, root string, mod func(*Options)) *Driver {
	t.Helper()
	opts := Options{Root: root, Metrics: NewMetrics()}
	if mod != nil {
		mod(&opts)
	}
	d, err := New(opts)
	require.NoError(t, err)
	return d
}

func byFile(res Result) map[string]FileResult {
	out := map[string]FileResult{}
	for _, f := range res.Files {
		out[f.File] = f
	}
	return out
}

func TestNewValidatesRoot(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	file := filepath.Join(t.TempDir(), "f.s2py")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(Options{Root: file})
	assert.Error(t, err)
}

func TestScanBuildsNestedFilesAndWritesOutputs(t *testing.T) {
	f := newFixture(t)
	a := f.write(t, "a.s2py", goodScript)
	b := f.write(t, "sub/deeper/b.S2PY", goodScript)
	f.write(t, "notes.txt", "not a script")
	f.write(t, ".hidden/c.s2py", goodScript)

	d := newDriver(t, f.root, nil)
	res, err := d.Scan(context.Background())
	require.NoError(t, err)

	files := byFile(res)
	require.Len(t, files, 2)
	assert.Equal(t, StatusBuilt, files["a.s2py"].Status)
	assert.Equal(t, StatusBuilt, files["sub/deeper/b.S2PY"].Status)
	assert.Equal(t, 3, files["a.s2py"].Nodes)
	assert.NotEmpty(t, res.PassID)
	assert.Equal(t, 2, res.Tracked)

	for _, p := range []string{a, b} {
		out := OutputsFor(p)
		assert.FileExists(t, out.JSON)
		assert.FileExists(t, out.DOT)
		assert.NoFileExists(t, out.PNG)
		assert.NoFileExists(t, out.PDF)
	}

	data, err := os.ReadFile(d.MasterPath())
	require.NoError(t, err)
	assert.Equal(t, f.root+".json", d.MasterPath())
	var agg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &agg))
	assert.Len(t, agg, 2)
	assert.Contains(t, agg, "sub/deeper/b.S2PY")
}

func TestScanSkipsUnchangedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.s2py", goodScript)
	d := newDriver(t, f.root, nil)

	first, err := d.Scan(context.Background())
	require.NoError(t, err)
	second, err := d.Scan(context.Background())
	require.NoError(t, err)

	assert.True(t, first.Changed())
	assert.False(t, second.Changed())
	assert.Equal(t, first.Revision, second.Revision)
	assert.NotEqual(t, first.PassID, second.PassID)
}

func TestFailedBuildKeepsPreviousGraph(t *testing.T) {
	f := newFixture(t)
	p := f.write(t, "a.s2py", goodScript)
	d := newDriver(t, f.root, nil)
	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	before, ok := d.Master().Get("a.s2py")
	require.True(t, ok)
	jsonBefore, err := os.ReadFile(OutputsFor(p).JSON)
	require.NoError(t, err)

	f.write(t, "a.s2py", badScript)
	res, err := d.Scan(context.Background())
	require.NoError(t, err)

	fr := byFile(res)["a.s2py"]
	require.Equal(t, StatusFailed, fr.Status)
	assert.True(t, errors.Is(fr.Err, script.ErrUnresolvedLabel))
	require.Len(t, res.Failed(), 1)

	after, ok := d.Master().Get("a.s2py")
	require.True(t, ok)
	assert.Equal(t, before.Record, after.Record)
	jsonAfter, err := os.ReadFile(OutputsFor(p).JSON)
	require.NoError(t, err)
	assert.Equal(t, jsonBefore, jsonAfter)
	assert.Contains(t, d.Failing(), "a.s2py")

	// A failing file is not rebuilt until it changes again.
	again, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, again.Changed())

	f.write(t, "a.s2py", altScript)
	fixed, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusBuilt, byFile(fixed)["a.s2py"].Status)
	assert.NotContains(t, d.Failing(), "a.s2py")
}

func TestFirstBuildFailureLeavesFileAbsent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "bad.s2py", badScript)
	d := newDriver(t, f.root, nil)
	res, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, byFile(res)["bad.s2py"].Status)
	assert.Equal(t, 0, d.Master().Len())

	data, err := os.ReadFile(d.MasterPath())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestDeletedFileIsRemoved(t *testing.T) {
	f := newFixture(t)
	p := f.write(t, "a.s2py", goodScript)
	f.write(t, "b.s2py", goodScript)
	d := newDriver(t, f.root, nil)
	_, err := d.Scan(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(p))
	res, err := d.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusRemoved, byFile(res)["a.s2py"].Status)
	_, ok := d.Master().Get("a.s2py")
	assert.False(t, ok)
	assert.NoFileExists(t, OutputsFor(p).JSON)
	assert.NoFileExists(t, OutputsFor(p).DOT)
	assert.Equal(t, []string{"b.s2py"}, d.Master().Snapshot().Files())
	assert.Equal(t, 1, res.Tracked)
}

func TestRefreshServesIdenticalContentFromCache(t *testing.T) {
	d := newDriver(t, t.TempDir(), nil)
	first := d.Refresh("a.s2py", goodScript)
	second := d.Refresh("a.s2py", goodScript)
	other := d.Refresh("b.s2py", goodScript)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.False(t, other.Cached, "cache is keyed by file as well as content")
	assert.Equal(t, first.Hash, second.Hash)

	m := d.opts.Metrics
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Builds.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Builds.WithLabelValues(ResultCached)))
}

func TestMetricsAfterScans(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.s2py", goodScript)
	f.write(t, "b.s2py", badScript)
	d := newDriver(t, f.root, nil)
	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.root, "b.s2py")))
	_, err = d.Scan(context.Background())
	require.NoError(t, err)

	m := d.opts.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Builds.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Builds.WithLabelValues(ResultFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Passes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Files))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Removed))
	n, err := testutil.GatherAndCount(m.Registry(), "scriptgraph_build_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanRecordsHistoryAndRecords(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.s2py", goodScript)
	f.write(t, "b.s2py", badScript)
	idx, err := storage.OpenIndex(f.root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	d := newDriver(t, f.root, func(o *Options) { o.Index = idx })
	res, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracked, "index directory must not be scanned")

	ctx := context.Background()
	hist, err := idx.History(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	for _, e := range hist {
		assert.Equal(t, res.PassID, e.PassID)
		if e.File == "b.s2py" {
			assert.False(t, e.OK)
			assert.Equal(t, "unresolved_label", e.ErrorKind)
		} else {
			assert.True(t, e.OK)
			assert.Equal(t, 3, e.Nodes)
		}
	}
	rec, ok, err := idx.LatestRecord(ctx, "a.s2py")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byFile(res)["a.s2py"].Hash, rec.Hash)

	require.NoError(t, os.Remove(filepath.Join(f.root, "a.s2py")))
	_, err = d.Scan(ctx)
	require.NoError(t, err)
	_, ok, err = idx.LatestRecord(ctx, "a.s2py")
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakePublisher struct {
	mu    sync.Mutex
	snaps []master.Snapshot
}

func (p *fakePublisher) Publish(_ context.Context, snap master.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func TestPublishOnlyWhenMasterChanges(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.s2py", goodScript)
	pub := &fakePublisher{}
	d := newDriver(t, f.root, func(o *Options) { o.Publisher = pub })

	for i := 0; i < 3; i++ {
		_, err := d.Scan(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, pub.snaps, 1)
	assert.Equal(t, []string{"a.s2py"}, pub.snaps[0].Files())

	f.write(t, "a.s2py", badScript)
	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.snaps, 1, "a failed build leaves the master unchanged")
}

func TestPDFOutput(t *testing.T) {
	f := newFixture(t)
	p := f.write(t, "a.s2py", goodScript)
	d := newDriver(t, f.root, func(o *Options) { o.PDF = true })
	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(OutputsFor(p).PDF)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data[:5]))
}

func TestRenderWithoutGraphvizIsNotAnError(t *testing.T) {
	f := newFixture(t)
	p := f.write(t, "a.s2py", goodScript)
	d := newDriver(t, f.root, func(o *Options) {
		o.Render = true
		o.Graphviz.Bin = "scriptgraph-no-such-dot-binary"
	})
	res, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.NoError(t, byFile(res)["a.s2py"].OutputErr)
	assert.NoFileExists(t, OutputsFor(p).PNG)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.s2py", goodScript)
	d := newDriver(t, f.root, func(o *Options) { o.FSNotify = true })

	ctx, cancel := context.WithCancel(context.Background())
	passes := make(chan Result, 4)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, 20*time.Millisecond, func(r Result) {
			select {
			case passes <- r:
			default:
			}
		})
	}()

	select {
	case r := <-passes:
		assert.True(t, r.Changed())
	case <-time.After(5 * time.Second):
		t.Fatal("no pass reported")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestOutputsFor(t *testing.T) {
	o := OutputsFor(filepath.Join("x", "scene.s2py"))
	assert.Equal(t, filepath.Join("x", "scene.json"), o.JSON)
	assert.Equal(t, filepath.Join("x", "scene.pdf"), o.PDF)
	assert.Len(t, o.All(), 4)
}
