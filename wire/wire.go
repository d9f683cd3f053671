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

// Package wire defines the three neighbor-facing operations of §6: Query,
// GetChunk, and GetMetrics, realized as JSON message shapes over HTTP.
package wire

import "github.com/sixnode/overlay/query"

// QueryRequest is the request shape of §6's Query operation. UID and Hops
// are set only on internal forwards; the client omits both.
type QueryRequest struct {
	Field      string             `json:"field"`
	Comparator query.Comparator   `json:"comparator"`
	Threshold  float64            `json:"threshold"`
	Limit      uint32             `json:"limit"`
	UID        string             `json:"uid,omitempty"`
	Hops       []string           `json:"hops,omitempty"`
	DeadlineMs int64              `json:"deadline_ms,omitempty"` // milliseconds remaining, set on forwards
}

// QueryResponse is the response shape of §6's Query operation.
type QueryResponse struct {
	UID          string       `json:"uid"`
	TotalChunks  uint32       `json:"total_chunks"`
	TotalRecords uint32       `json:"total_records"`
	Hops         []string     `json:"hops"`
	Status       query.Status `json:"status"`
}

// GetChunkRequest is the request shape of §6's GetChunk operation.
type GetChunkRequest struct {
	UID   string `json:"uid"`
	Index uint32 `json:"index"`
}

// GetChunkResponse is the response shape of §6's GetChunk operation. Data
// is the opaque, losslessly round-trippable row-batch encoding (see
// codec.go); its internal format is not part of the wire contract.
type GetChunkResponse struct {
	UID         string       `json:"uid"`
	Index       uint32       `json:"index"`
	TotalChunks uint32       `json:"total_chunks"`
	Data        []byte       `json:"data"`
	IsLast      bool         `json:"is_last"`
	Status      query.Status `json:"status"`
}

// GetMetricsResponse is the response shape of §6's GetMetrics operation.
type GetMetricsResponse struct {
	ProcessID       string  `json:"process_id"`
	Role            string  `json:"role"`
	Team            string  `json:"team"`
	ActiveRequests  int64   `json:"active_requests"`
	QueueSize       int64   `json:"queue_size"`
	AvgProcessingMs float64 `json:"avg_processing_time_ms"`
	DataFilesLoaded int64   `json:"data_files_loaded"`
	IsHealthy       bool    `json:"is_healthy"`
}
