/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package watch is the driver around the build core: it discovers script
// files under a root directory, rebuilds the ones whose modification time
// changed, keeps the master graph current and writes every output.
// All filesystem access lives here.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"scriptgraph/internal/crash"
	"scriptgraph/internal/graph"
	applog "scriptgraph/internal/log"
	"scriptgraph/internal/master"
	"scriptgraph/internal/render"
	"scriptgraph/internal/script"
	"scriptgraph/internal/storage"
)

// Publisher receives the master snapshot after every pass that changed it.
type Publisher interface {
	Publish(ctx context.Context, snap master.Snapshot) error
}

// Options configures a Driver. Zero values fall back to defaults.
type Options struct {
	Root        string
	Extensions  []string
	Wrap        int
	Render      bool
	Graphviz    render.Graphviz
	PDF         bool
	FSNotify    bool
	CacheSize   int
	Concurrency int

	Index     *storage.Index
	Publisher Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Status is what happened to a file within a scan pass.
type Status int

const (
	StatusUnchanged Status = iota
	StatusBuilt
	StatusFailed
	StatusRemoved
)

func (s Status) String() string {
	switch s {
	case StatusBuilt:
		return "built"
	case StatusFailed:
		return "failed"
	case StatusRemoved:
		return "removed"
	default:
		return "unchanged"
	}
}

// FileResult is the outcome for one file.
type FileResult struct {
	File      string
	Status    Status
	Err       error
	OutputErr error
	Cached    bool
	Hash      string
	Nodes     int
	Warnings  []graph.Warning
	Duration  time.Duration
}

// Result summarizes one scan pass. Files lists only files that changed,
// sorted by key.
type Result struct {
	PassID     string
	Started    time.Time
	Files      []FileResult
	Tracked    int
	Revision   uint64
	MasterPath string
}

// Changed reports whether anything was rebuilt or removed.
func (r Result) Changed() bool { return len(r.Files) > 0 }

// Failed returns the files whose build failed in this pass.
func (r Result) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Status == StatusFailed {
			out = append(out, f)
		}
	}
	return out
}

type fileState struct {
	modTime time.Time
	size    int64
}

type discovered struct {
	key     string
	path    string
	modTime time.Time
	size    int64
}

// Driver owns the master graph and everything written to disk.
type Driver struct {
	opts   Options
	root   string
	master *master.Graph
	cache  *lru.Cache[string, *graph.Graph]
	log    *slog.Logger

	scanMu      sync.Mutex
	tracked     map[string]fileState
	wroteMaster bool

	mu      sync.Mutex
	failing map[string]error

	graphvizOnce sync.Once
}

// New validates opts and returns a driver with an empty master graph.
func New(opts Options) (*Driver, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	exts := make([]string, 0, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	if len(exts) == 0 {
		exts = []string{".s2py"}
	}
	opts.Extensions = exts
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Wrap == 0 {
		opts.Wrap = render.DefaultWrap
	}
	cache, err := lru.New[string, *graph.Graph](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("watch")
	}
	return &Driver{
		opts:    opts,
		root:    root,
		master:  master.New(),
		cache:   cache,
		log:     l.With(slog.String("root", root)),
		tracked: map[string]fileState{},
		failing: map[string]error{},
	}, nil
}

// Root returns the absolute watched directory.
func (d *Driver) Root() string { return d.root }

// Master returns the driver's master graph.
func (d *Driver) Master() *master.Graph { return d.master }

// MasterPath is where the aggregate JSON is written: <root>.json next to the directory.
func (d *Driver) MasterPath() string { return d.root + ".json" }

// Failing returns the files whose latest build failed.
func (d *Driver) Failing() map[string]error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]error, len(d.failing))
	for k, v := range d.failing {
		out[k] = v
	}
	return out
}

// Refresh builds file from text and replaces its entry in the master graph
// on success. On failure the previous entry stays in place and the error is
// returned in the result. Identical content is served from the cache.
func (d *Driver) Refresh(file, text string) FileResult {
	start := time.Now()
	sum := sha256.Sum256([]byte(text))
	fr := FileResult{File: file, Hash: hex.EncodeToString(sum[:])}
	key := file + "\x00" + fr.Hash

	g, cached := d.cache.Get(key)
	if !cached {
		err := crash.Capture(func() error {
			var err error
			g, err = graph.Compile(file, text)
			return err
		})
		if err != nil {
			return d.fail(fr, err, start)
		}
		d.cache.Add(key, g)
	}
	if err := d.master.Upsert(file, g); err != nil {
		return d.fail(fr, err, start)
	}

	d.mu.Lock()
	delete(d.failing, file)
	d.mu.Unlock()

	fr.Status = StatusBuilt
	fr.Cached = cached
	fr.Nodes = g.Len()
	fr.Warnings = g.Warnings
	fr.Duration = time.Since(start)
	if m := d.opts.Metrics; m != nil {
		if cached {
			m.Builds.WithLabelValues(ResultCached).Inc()
		} else {
			m.Builds.WithLabelValues(ResultOK).Inc()
			m.Duration.Observe(fr.Duration.Seconds())
		}
	}
	return fr
}

func (d *Driver) fail(fr FileResult, err error, start time.Time) FileResult {
	fr.Status = StatusFailed
	fr.Err = err
	fr.Duration = time.Since(start)
	d.mu.Lock()
	d.failing[fr.File] = err
	d.mu.Unlock()
	if m := d.opts.Metrics; m != nil {
		m.Builds.WithLabelValues(ResultFailed).Inc()
		m.Duration.Observe(fr.Duration.Seconds())
	}
	return fr
}

// Scan runs one pass: discover files, rebuild changed ones in parallel,
// drop deleted ones, then write the master JSON, record history and publish.
func (d *Driver) Scan(ctx context.Context) (Result, error) {
	d.scanMu.Lock()
	defer d.scanMu.Unlock()

	res := Result{PassID: uuid.NewString(), Started: time.Now(), MasterPath: d.MasterPath()}
	ctx = applog.ContextWithPass(ctx, res.PassID)

	found, err := d.discover()
	if err != nil {
		return res, err
	}

	var changed []discovered
	present := make(map[string]bool, len(found))
	for _, f := range found {
		present[f.key] = true
		if st, ok := d.tracked[f.key]; ok && st.modTime.Equal(f.modTime) && st.size == f.size {
			continue
		}
		changed = append(changed, f)
	}

	results := make([]FileResult, len(changed))
	read := make([]bool, len(changed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, f := range changed {
		g.Go(func() error {
			data, err := os.ReadFile(f.path)
			if err != nil {
				results[i] = d.fail(FileResult{File: f.key}, fmt.Errorf("read %s: %w", f.key, err), time.Now())
				return nil
			}
			read[i] = true
			fr := d.Refresh(f.key, string(data))
			if fr.Status == StatusBuilt {
				fr.OutputErr = d.writeOutputs(gctx, f, fr)
			}
			results[i] = fr
			return nil
		})
	}
	// Workers report through results and never return an error.
	_ = g.Wait()

	for i, f := range changed {
		// Unreadable files are retried on the next pass.
		if read[i] {
			d.tracked[f.key] = fileState{modTime: f.modTime, size: f.size}
		}
		d.logResult(ctx, results[i])
	}

	var removed []FileResult
	for key := range d.tracked {
		if present[key] {
			continue
		}
		removed = append(removed, d.remove(ctx, key))
	}

	res.Files = append(results, removed...)
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].File < res.Files[j].File })
	res.Tracked = len(d.tracked)

	masterChanged := len(removed) > 0
	for _, fr := range results {
		if fr.Status == StatusBuilt {
			masterChanged = true
		}
	}
	snap := d.master.Snapshot()
	res.Revision = snap.Revision
	if masterChanged || !d.wroteMaster {
		if err := d.writeMaster(snap); err != nil {
			d.log.ErrorContext(ctx, "write master failed", slog.Any("err", err))
		} else {
			d.wroteMaster = true
		}
		if masterChanged && d.opts.Publisher != nil {
			if err := d.opts.Publisher.Publish(ctx, snap); err != nil {
				d.log.ErrorContext(ctx, "publish failed", slog.Any("err", err))
			}
		}
	}
	d.recordHistory(ctx, res)

	if m := d.opts.Metrics; m != nil {
		m.Passes.Inc()
		m.Files.Set(float64(res.Tracked))
		m.Removed.Add(float64(len(removed)))
	}
	return res, nil
}

// remove drops a deleted file from the master graph and deletes its outputs.
func (d *Driver) remove(ctx context.Context, key string) FileResult {
	delete(d.tracked, key)
	d.master.Remove(key)
	d.mu.Lock()
	delete(d.failing, key)
	d.mu.Unlock()

	fr := FileResult{File: key, Status: StatusRemoved}
	var errs []error
	for _, p := range OutputsFor(filepath.Join(d.root, filepath.FromSlash(key))).All() {
		if err := storage.RemoveIfExists(p); err != nil {
			errs = append(errs, err)
		}
	}
	if d.opts.Index != nil {
		if err := d.opts.Index.DeleteRecord(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	fr.OutputErr = errors.Join(errs...)
	applog.WithFile(d.log, key).InfoContext(ctx, "script removed")
	return fr
}

func (d *Driver) logResult(ctx context.Context, fr FileResult) {
	l := applog.WithFile(d.log, fr.File)
	switch fr.Status {
	case StatusBuilt:
		l.InfoContext(ctx, "script built",
			slog.Int("nodes", fr.Nodes),
			slog.Int("warnings", len(fr.Warnings)),
			slog.Bool("cached", fr.Cached),
			slog.Duration("took", fr.Duration))
		for _, w := range fr.Warnings {
			l.WarnContext(ctx, "branch unreachable", slog.String("branch", w.Branch), slog.Int("line", w.Line))
		}
	case StatusFailed:
		attrs := []any{slog.Any("err", fr.Err)}
		if se, ok := script.AsError(fr.Err); ok {
			attrs = append(attrs, slog.String("kind", se.Kind.String()), slog.Int("line", se.Line))
		}
		l.WarnContext(ctx, "build failed, keeping previous graph", attrs...)
	}
	if fr.OutputErr != nil {
		l.ErrorContext(ctx, "write outputs failed", slog.Any("err", fr.OutputErr))
	}
}

func (d *Driver) recordHistory(ctx context.Context, res Result) {
	if d.opts.Index == nil {
		return
	}
	var entries []storage.BuildEntry
	for _, fr := range res.Files {
		if fr.Status != StatusBuilt && fr.Status != StatusFailed {
			continue
		}
		e := storage.BuildEntry{
			PassID:   res.PassID,
			File:     fr.File,
			Time:     res.Started,
			OK:       fr.Status == StatusBuilt,
			Nodes:    fr.Nodes,
			Warnings: len(fr.Warnings),
		}
		if fr.Err != nil {
			e.Error = fr.Err.Error()
			e.ErrorKind = "io"
			if se, ok := script.AsError(fr.Err); ok {
				e.ErrorKind = se.Kind.String()
			}
		}
		entries = append(entries, e)
	}
	if err := d.opts.Index.RecordBuild(ctx, entries...); err != nil {
		d.log.ErrorContext(ctx, "record history failed", slog.Any("err", err))
	}
}

// discover walks the root for script files. Hidden directories are skipped.
func (d *Driver) discover() ([]discovered, error) {
	var out []discovered
	err := filepath.WalkDir(d.root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if path == d.root {
				return err
			}
			return nil
		}
		if de.IsDir() {
			if path != d.root && strings.HasPrefix(de.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.matches(de.Name()) {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return nil
		}
		out = append(out, discovered{key: filepath.ToSlash(rel), path: path, modTime: info.ModTime(), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out, nil
}

func (d *Driver) matches(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range d.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Run scans every interval until ctx is done, calling onPass after each
// pass. With FSNotify enabled a filesystem event triggers an early scan.
func (d *Driver) Run(ctx context.Context, interval time.Duration, onPass func(Result)) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	trigger := make(chan struct{}, 1)
	if d.opts.FSNotify {
		n, err := newNotifier(d.root, d.matches, trigger, d.log)
		if err != nil {
			d.log.Warn("filesystem notifications unavailable, polling only", slog.Any("err", err))
		} else {
			defer n.Close()
			go n.loop(ctx)
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := d.Scan(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			d.log.Error("scan failed", slog.Any("err", err))
		case onPass != nil:
			onPass(res)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-trigger:
		}
	}
}
