/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrGraphvizMissing reports that the dot binary could not be found.
var ErrGraphvizMissing = errors.New("graphviz dot binary not found")

// Graphviz runs the external dot tool.
type Graphviz struct {
	// Bin is the dot executable name or path; empty means "dot".
	Bin string
}

func (g Graphviz) bin() string {
	if strings.TrimSpace(g.Bin) == "" {
		return "dot"
	}
	return g.Bin
}

// Available reports whether the dot binary can be found.
func (g Graphviz) Available() bool {
	_, err := exec.LookPath(g.bin())
	return err == nil
}

// Render pipes dot source through the binary and returns the output in the
// given format (e.g. "png", "svg").
func (g Graphviz) Render(ctx context.Context, dot []byte, format string) ([]byte, error) {
	path, err := exec.LookPath(g.bin())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphvizMissing, g.bin())
	}
	if format == "" {
		format = "png"
	}
	cmd := exec.CommandContext(ctx, path, "-T"+format)
	cmd.Stdin = bytes.NewReader(dot)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %s: %w", g.bin(), err)
		}
		return nil, fmt.Errorf("run %s: %w: %s", g.bin(), err, msg)
	}
	return stdout.Bytes(), nil
}
