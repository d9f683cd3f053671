// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package csvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sixnode/overlay/topology"
)

func TestLoadParsesNumericAndPassthroughColumns(t *testing.T) {
	dir := t.TempDir()
	bounds := topology.DateBounds{Start: "20240101", End: "20240102"}
	content := "station,PM2.5\nA1,40.5\nA2,not-a-number\n"
	if err := os.WriteFile(filepath.Join(dir, "20240101_20240102.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	rows, err := (Loader{Dir: dir}).Load(bounds)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if v, ok := rows[0].Get("PM2.5"); !ok || v != 40.5 {
		t.Fatalf("expected PM2.5=40.5, got %v ok=%v", v, ok)
	}
	if rows[0].Passthrough["station"] != "A1" {
		t.Fatalf("expected station passthrough A1, got %q", rows[0].Passthrough["station"])
	}
	if _, ok := rows[1].Get("PM2.5"); ok {
		t.Fatal("expected non-numeric PM2.5 to land in passthrough, not fields")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := (Loader{Dir: dir}).Load(topology.DateBounds{Start: "x", End: "y"})
	if err == nil {
		t.Fatal("expected error for missing shard file")
	}
}
