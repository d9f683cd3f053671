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

// Package neighbor maintains one long-lived transport channel per
// declared neighbor and exposes a typed client view (§4.5).
package neighbor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sixnode/overlay/wire"
)

// Client is the typed per-neighbor view exposed by the registry (§4.5:
// "exposes a typed client per neighbor exposing Query, GetChunk,
// GetMetrics").
type Client interface {
	Query(ctx context.Context, req wire.QueryRequest) (wire.QueryResponse, error)
	GetChunk(ctx context.Context, req wire.GetChunkRequest) (wire.GetChunkResponse, error)
	GetMetrics(ctx context.Context) (wire.GetMetricsResponse, error)
}

// httpClient is the HTTP+JSON realization of Client for one neighbor
// endpoint. It does not buffer or reorder requests (§4.5); the registry
// layer above it applies the single transparent retry.
type httpClient struct {
	base string // e.g. "http://127.0.0.1:9002"
	hc   *http.Client
}

func newHTTPClient(base string, hc *http.Client) *httpClient {
	return &httpClient{base: base, hc: hc}
}

func (c *httpClient) Query(ctx context.Context, req wire.QueryRequest) (wire.QueryResponse, error) {
	var resp wire.QueryResponse
	err := c.doJSON(ctx, http.MethodPost, "/query", req, &resp)
	return resp, err
}

func (c *httpClient) GetChunk(ctx context.Context, req wire.GetChunkRequest) (wire.GetChunkResponse, error) {
	var resp wire.GetChunkResponse
	path := fmt.Sprintf("/chunk?uid=%s&index=%d", req.UID, req.Index)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

func (c *httpClient) GetMetrics(ctx context.Context) (wire.GetMetricsResponse, error) {
	var resp wire.GetMetricsResponse
	err := c.doJSON(ctx, http.MethodGet, "/metrics-json", nil, &resp)
	return resp, err
}

func (c *httpClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("neighbor: encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("neighbor: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("neighbor: request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("neighbor: decoding response: %w", err)
	}
	return nil
}
