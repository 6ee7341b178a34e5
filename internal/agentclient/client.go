// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agentclient is the default, minimal remote.Canister
// implementation: plain HTTP POSTs of opaque bytes against a network's
// gateway URL. spec.md §1 explicitly keeps the wire-encoding library out
// of scope ("a RemoteCanister abstraction with opaque byte in/out"); this
// package is the thin concrete stand-in the CLI needs to actually run,
// not a claim about the real wire protocol.
package agentclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/icp-cli/icp/pkg/icpcontext"
	"github.com/icp-cli/icp/pkg/network"
	"github.com/icp-cli/icp/pkg/remote"
	"github.com/icp-cli/icp/pkg/snapshot"
)

// Client is a remote.Canister backed by HTTP.
type Client struct {
	BaseURL  string
	Identity string
	HTTP     *http.Client
}

var _ remote.Canister = (*Client)(nil)

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{}}}
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &snapshot.TransportError{Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &snapshot.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agentclient: %s: status %d: %s", path, resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) Call(ctx context.Context, id, method string, arg []byte) ([]byte, error) {
	return c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/call/%s", id, method), arg)
}

func (c *Client) UploadAsset(ctx context.Context, id, key string, data []byte) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/assets/%s", id, key), data)
	return err
}

func (c *Client) ReadSnapshotMetadata(ctx context.Context, id, snapshotID string) (remote.SnapshotMetadata, error) {
	data, err := c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/snapshot/%s/metadata", id, snapshotID), nil)
	if err != nil {
		return remote.SnapshotMetadata{}, err
	}
	var meta remote.SnapshotMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return remote.SnapshotMetadata{}, fmt.Errorf("agentclient: decode metadata: %w", err)
	}
	return meta, nil
}

func (c *Client) ReadSnapshotChunk(ctx context.Context, id string, blob remote.BlobKind, offset, length uint64) ([]byte, error) {
	return c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/snapshot/%s/read?offset=%d&length=%d", id, blob, offset, length), nil)
}

func (c *Client) ReadChunkStoreEntry(ctx context.Context, id, hash string) ([]byte, error) {
	return c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/chunk/%s", id, hash), nil)
}

func (c *Client) UploadSnapshotMetadata(ctx context.Context, id string, meta remote.SnapshotMetadata) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	data, err := c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/snapshot/metadata", id), body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) UploadSnapshotChunk(ctx context.Context, id string, blob remote.BlobKind, offset uint64, data []byte) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/snapshot/write?blob=%s&offset=%d", id, blob, offset), data)
	return err
}

func (c *Client) UploadChunkStoreEntry(ctx context.Context, id, hash string, data []byte) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v2/canister/%s/chunk/%s", id, hash), data)
	return err
}

// Factory builds a Client per network.Access/identity pair, satisfying
// icpcontext.AgentFactory.
type Factory struct {
	HTTP *http.Client
}

var _ icpcontext.AgentFactory = (*Factory)(nil)

func (f *Factory) NewAgent(ctx context.Context, access network.Access, identityName string) (remote.Canister, error) {
	return &Client{BaseURL: access.URL, Identity: identityName, HTTP: f.HTTP}, nil
}
