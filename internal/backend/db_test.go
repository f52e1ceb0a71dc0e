/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"scriptgraph/internal/graph"
	"scriptgraph/internal/master"
)

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("migrations/001_init.sql")
	if err != nil || v != 1 {
		t.Fatalf("parseVersion = %d, %v", v, err)
	}
	if _, err := parseVersion("init.sql"); err == nil {
		t.Fatal("expected error for name without version prefix")
	}
	if _, err := parseVersion("abc_init.sql"); err == nil {
		t.Fatal("expected error for non-numeric version")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, e := range entries {
		if _, err := parseVersion(e.Name()); err != nil {
			t.Errorf("%s: %v", e.Name(), err)
		}
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open(context.Background(), "  ", "", 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	if _, err := Open(context.Background(), "postgres://%zz", "", time.Second); err == nil {
		t.Fatal("expected parse error")
	}
}

// openPublisherForTest connects to SG_TEST_PG_DSN and skips when no server
// is reachable.
func openPublisherForTest(t *testing.T) *Publisher {
	t.Helper()
	dsn := os.Getenv("SG_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SG_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := Open(ctx, dsn, "", 5*time.Second)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM scripts`); err != nil {
		_ = p.Close()
		t.Fatalf("reset scripts: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func compile(t *testing.T, file, src string) *graph.Graph {
	t.Helper()
	g, err := graph.Compile(file, src)
	if err != nil {
		t.Fatalf("compile %s: %v", file, err)
	}
	return g
}

func TestPublishUpsertAndPrune(t *testing.T) {
	p := openPublisherForTest(t)
	ctx := context.Background()

	m := master.New()
	if err := m.Upsert("a.s2py", compile(t, "a.s2py", "Start\n---\nA: hello\n===\n")); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert("b.s2py", compile(t, "b.s2py", "Start\n---\nB: bye\n===\n")); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(ctx, m.Snapshot()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	files, err := p.Files(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "a.s2py" || files[1] != "b.s2py" {
		t.Fatalf("files = %v", files)
	}

	var raw []byte
	if err := p.db.QueryRowContext(ctx, `SELECT record FROM scripts WHERE file = $1`, "a.s2py").Scan(&raw); err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("stored record is not JSON: %v", err)
	}
	if rec["file"] != "a.s2py" {
		t.Fatalf("record file = %v", rec["file"])
	}

	m.Remove("b.s2py")
	if err := p.Publish(ctx, m.Snapshot()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	files, err = p.Files(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "a.s2py" {
		t.Fatalf("files after prune = %v", files)
	}

	m.Remove("a.s2py")
	if err := p.Publish(ctx, m.Snapshot()); err != nil {
		t.Fatalf("publish empty: %v", err)
	}
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM scripts`).Scan(&n); err != nil && err != sql.ErrNoRows {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("rows after empty publish = %d", n)
	}
}
