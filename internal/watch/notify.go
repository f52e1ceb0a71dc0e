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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// notifier turns filesystem events under root into scan triggers. Events are
// coalesced by the one-slot trigger channel; the scan itself decides what
// changed by comparing modification times.
type notifier struct {
	w       *fsnotify.Watcher
	matches func(name string) bool
	trigger chan<- struct{}
	log     *slog.Logger
}

func newNotifier(root string, matches func(string) bool, trigger chan<- struct{}, l *slog.Logger) (*notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &notifier{w: w, matches: matches, trigger: trigger, log: l}
	if err := n.addRecursive(root); err != nil {
		_ = w.Close()
		return nil, err
	}
	return n, nil
}

func (n *notifier) Close() error { return n.w.Close() }

// addRecursive watches dir and its non-hidden subdirectories.
func (n *notifier) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return n.w.Add(path)
	})
}

func (n *notifier) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-n.w.Events:
			if !ok {
				return
			}
			n.handle(ev)
		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}
			n.log.Warn("filesystem watch error", slog.Any("err", err))
		}
	}
}

func (n *notifier) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}
	relevant := n.matches(name)
	if ev.Has(fsnotify.Create) && !relevant {
		// A new subdirectory needs its own watch.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := n.addRecursive(ev.Name); err == nil {
				relevant = true
			}
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// Could have been a directory full of scripts.
		relevant = true
	}
	if !relevant {
		return
	}
	select {
	case n.trigger <- struct{}{}:
	default:
	}
}
