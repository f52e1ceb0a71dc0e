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
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"scriptgraph/internal/export"
	"scriptgraph/internal/master"
	"scriptgraph/internal/render"
	"scriptgraph/internal/storage"
)

// Outputs are the files generated next to one script.
type Outputs struct {
	JSON string
	DOT  string
	PNG  string
	PDF  string
}

// OutputsFor derives output paths from a script path by swapping its extension.
func OutputsFor(scriptPath string) Outputs {
	base := strings.TrimSuffix(scriptPath, filepath.Ext(scriptPath))
	return Outputs{JSON: base + ".json", DOT: base + ".dot", PNG: base + ".png", PDF: base + ".pdf"}
}

// All lists every output path.
func (o Outputs) All() []string { return []string{o.JSON, o.DOT, o.PNG, o.PDF} }

// writeOutputs writes the record, DOT, and optionally PNG and PDF for a
// freshly built file, then stores the record in the index.
func (d *Driver) writeOutputs(ctx context.Context, f discovered, fr FileResult) error {
	s, ok := d.master.Get(f.key)
	if !ok {
		return fmt.Errorf("%s missing from master graph", f.key)
	}
	data, err := export.Marshal(s.Record)
	if err != nil {
		return err
	}
	if err := export.Validate(data); err != nil {
		return err
	}
	out := OutputsFor(f.path)
	ropts := render.Options{Wrap: d.opts.Wrap}

	var errs []error
	if err := storage.WriteFileAtomic(out.JSON, data); err != nil {
		errs = append(errs, err)
	}
	dot := render.DOT(s.Record, ropts)
	if err := storage.WriteFileAtomic(out.DOT, dot); err != nil {
		errs = append(errs, err)
	}
	if d.opts.Render {
		if err := d.writePNG(ctx, out.PNG, dot); err != nil {
			errs = append(errs, err)
		}
	}
	if d.opts.PDF {
		pdf, err := render.PDF(s.Record, ropts)
		if err == nil {
			err = storage.WriteFileAtomic(out.PDF, pdf)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if d.opts.Index != nil {
		if err := d.opts.Index.SaveRecord(ctx, f.key, fr.Hash, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writePNG renders through graphviz. A missing binary is logged once and
// otherwise ignored.
func (d *Driver) writePNG(ctx context.Context, path string, dot []byte) error {
	if !d.opts.Graphviz.Available() {
		d.graphvizOnce.Do(func() {
			d.log.Warn("graphviz not found, skipping PNG output", slog.String("bin", d.opts.Graphviz.Bin))
		})
		return nil
	}
	png, err := d.opts.Graphviz.Render(ctx, dot, "png")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, png)
}

func (d *Driver) writeMaster(snap master.Snapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(d.MasterPath(), data)
}
