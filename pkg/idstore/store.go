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

// Package idstore is the persistent (environment, canister-name) ->
// principal mapping (C3). It is backed by a single JSON document guarded by
// an exclusive fslock for every write.
package idstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/icp-cli/icp/pkg/fslock"
	"tailscale.com/atomicfile"
)

// Key identifies one (environment, canister) slot in the store.
type Key struct {
	Network     string `json:"network"`
	Environment string `json:"environment"`
	Canister    string `json:"canister"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Network, k.Environment, k.Canister)
}

// ErrNotFound is returned by Lookup when the key has no registered
// principal.
var ErrNotFound = errors.New("idstore: not found")

// ErrAlreadyRegistered is returned by Register when the key already has a
// principal, preventing silent overwrite during an accidental re-create.
var ErrAlreadyRegistered = errors.New("idstore: already registered")

type document struct {
	// Entries maps Key.String() to a hex-encoded principal, preserving
	// canonical (sorted) ordering on every write so two loads of the same
	// logical state serialize identically (testable property 5).
	Entries map[string]string `json:"entries"`
}

// Store is the on-disk id store paths descriptor, also used directly as
// the fslock PathsAccess for its directory.
type Store struct {
	path string
	lock *fslock.Handle
}

// Open opens (creating if absent) the id store at dir/ids.json.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("idstore: create dir: %w", err)
	}
	s := &Store{path: filepath.Join(dir, "ids.json")}
	h, err := fslock.Open(s)
	if err != nil {
		return nil, err
	}
	s.lock = h
	return s, nil
}

// LockFile implements fslock.PathsAccess.
func (s *Store) LockFile() string { return s.path + ".lock" }

func (s *Store) readLocked() (document, error) {
	doc := document{Entries: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("idstore: read: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("idstore: parse: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

func (s *Store) writeLocked(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("idstore: marshal: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("idstore: write: %w", err)
	}
	return nil
}

// Lookup returns the principal registered for key.
func (s *Store) Lookup(key Key) ([]byte, error) {
	return fslock.WithRead(s.lock, func(fslock.LRead) ([]byte, error) {
		doc, err := s.readLocked()
		if err != nil {
			return nil, err
		}
		hexVal, ok := doc.Entries[key.String()]
		if !ok {
			return nil, ErrNotFound
		}
		return hex.DecodeString(hexVal)
	})
}

// Register atomically registers principal under key. It fails with
// ErrAlreadyRegistered if the key is already present (testable property 4).
func (s *Store) Register(key Key, principal []byte) error {
	_, err := fslock.WithWrite(s.lock, func(fslock.LWrite) (struct{}, error) {
		doc, err := s.readLocked()
		if err != nil {
			return struct{}{}, err
		}
		if _, ok := doc.Entries[key.String()]; ok {
			return struct{}{}, ErrAlreadyRegistered
		}
		doc.Entries[key.String()] = hex.EncodeToString(principal)
		return struct{}{}, s.writeLocked(doc)
	})
	return err
}

// Unregister removes key's entry, if any. It is a no-op if the key is
// absent.
func (s *Store) Unregister(key Key) error {
	_, err := fslock.WithWrite(s.lock, func(fslock.LWrite) (struct{}, error) {
		doc, err := s.readLocked()
		if err != nil {
			return struct{}{}, err
		}
		delete(doc.Entries, key.String())
		return struct{}{}, s.writeLocked(doc)
	})
	return err
}

// ListForEnvironment returns canister name -> principal for every entry
// whose (network, environment) matches.
func (s *Store) ListForEnvironment(network, environment string) (map[string][]byte, error) {
	return fslock.WithRead(s.lock, func(fslock.LRead) (map[string][]byte, error) {
		doc, err := s.readLocked()
		if err != nil {
			return nil, err
		}
		out := map[string][]byte{}
		keys := make([]string, 0, len(doc.Entries))
		for k := range doc.Entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		prefix := network + "/" + environment + "/"
		for _, k := range keys {
			if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
				continue
			}
			canister := k[len(prefix):]
			p, err := hex.DecodeString(doc.Entries[k])
			if err != nil {
				return nil, err
			}
			out[canister] = p
		}
		return out, nil
	})
}
