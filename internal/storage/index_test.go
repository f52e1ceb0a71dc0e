/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestOpenIndexCreatesWALAndMetaVersion(t *testing.T) {
	root := t.TempDir()
	idx, err := OpenIndex(root)
	if err != nil {
		t.Fatalf("OpenIndex error: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idxPath := IndexPath(root)
	if _, err := os.Stat(idxPath); err != nil {
		t.Fatalf("index file missing at %s: %v", idxPath, err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(2000)", filepath.ToSlash(idxPath))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" && mode != "WAL" {
		t.Fatalf("expected WAL mode, got %s", mode)
	}
	var cnt int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('meta','version','builds','records')").Scan(&cnt); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if cnt != 4 {
		t.Fatalf("expected 4 tables, got %d", cnt)
	}
	var schema int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&schema); err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if schema != schemaVersion {
		t.Fatalf("expected schema %d, got %d", schemaVersion, schema)
	}
}

func TestOpenIndexRequiresRoot(t *testing.T) {
	if _, err := OpenIndex("  "); err == nil {
		t.Fatalf("expected error for blank root")
	}
}

func TestOpenIndexRebuildsCorruptFile(t *testing.T) {
	root := t.TempDir()
	path := IndexPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("this is not a sqlite database at all"), 0o644); err != nil {
		t.Fatalf("seed corrupt: %v", err)
	}
	idx, err := OpenIndex(root)
	if err != nil {
		t.Fatalf("OpenIndex after corruption: %v", err)
	}
	defer idx.Close()
	if err := idx.RecordBuild(context.Background(), BuildEntry{PassID: "p", File: "a.s2py", OK: true}); err != nil {
		t.Fatalf("rebuilt index unusable: %v", err)
	}
	ents, err := os.ReadDir(filepath.Join(filepath.Dir(path), "backups"))
	if err != nil || len(ents) == 0 {
		t.Fatalf("expected a backup of the corrupt index, err=%v", err)
	}
}

func TestOpenIndexRequiresExistingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	if _, err := OpenIndex(root); err == nil {
		t.Fatal("expected error for missing root")
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("root was created: %v", err)
	}
}
