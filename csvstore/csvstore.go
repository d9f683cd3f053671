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

// Package csvstore is a reference implementation of store.Loader: it reads
// one CSV file per worker's date range from a configured directory,
// satisfying §6's "data store reads CSV-like shard files from a path
// computed from the date range" and the out-of-scope dataset-loader
// contract named in §1a.
package csvstore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/topology"
)

// Loader reads "<dir>/<start>_<end>.csv" files with a header row of
// column names; each value that parses as a number becomes a
// query.Row.Fields entry and every other value is kept verbatim in
// Passthrough.
type Loader struct {
	Dir string
}

func (l Loader) path(bounds topology.DateBounds) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s.csv", bounds.Start, bounds.End))
}

func (l Loader) Load(bounds topology.DateBounds) ([]query.Row, error) {
	f, err := os.Open(l.path(bounds))
	if err != nil {
		return nil, fmt.Errorf("csvstore: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("csvstore: reading header: %w", err)
	}

	var rows []query.Row
	for {
		rec, err := r.Read()
		if err != nil {
			break // io.EOF or any malformed record ends the scan; later rows are not read
		}
		row := query.Row{
			Fields:      make(map[string]float64),
			Passthrough: make(map[string]string),
		}
		for i, col := range header {
			if i >= len(rec) {
				continue
			}
			if f, err := strconv.ParseFloat(rec[i], 64); err == nil {
				row.Fields[col] = f
			} else {
				row.Passthrough[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
