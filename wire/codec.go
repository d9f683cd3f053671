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

package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/sixnode/overlay/query"
)

// EncodeRows serializes a row batch for a GetChunk response's opaque Data
// field. §6 requires only that the encoding "round-trip rows losslessly";
// gob is used for the same reason the examples reach for a plain
// self-describing Go codec over hand-rolled framing, and the result is
// zstd-compressed the way the teacher's block storage compresses row
// batches.
func EncodeRows(rows []query.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return nil, fmt.Errorf("wire: encoding rows: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

// DecodeRows reverses EncodeRows.
func DecodeRows(data []byte) ([]query.Row, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("wire: creating zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: decompressing rows: %w", err)
	}

	var rows []query.Row
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("wire: decoding rows: %w", err)
	}
	return rows, nil
}
