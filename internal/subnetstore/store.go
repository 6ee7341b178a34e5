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

// Package subnetstore remembers which subnet each canister was created on
// within an environment, the supporting state internal/canistercreate's
// co-location rule (spec.md Scenario S6) needs but that IdStore itself
// doesn't track (IdStore only maps a canister to its principal). It
// mirrors idstore's single-JSON-document-under-FSLock shape exactly.
package subnetstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tailscale.com/atomicfile"

	"github.com/icp-cli/icp/pkg/fslock"
)

type document struct {
	// Entries maps "environment/canister" to the subnet it was created on.
	Entries map[string]string `json:"entries"`
}

// Store is the on-disk subnet-assignment store.
type Store struct {
	path string
	lock *fslock.Handle
}

// Open opens (creating if absent) the subnet store at dir/subnets.json.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("subnetstore: create dir: %w", err)
	}
	s := &Store{path: filepath.Join(dir, "subnets.json")}
	h, err := fslock.Open(s)
	if err != nil {
		return nil, err
	}
	s.lock = h
	return s, nil
}

// LockFile implements fslock.PathsAccess.
func (s *Store) LockFile() string { return s.path + ".lock" }

func key(environment, canister string) string { return environment + "/" + canister }

func (s *Store) readLocked() (document, error) {
	doc := document{Entries: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("subnetstore: read: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("subnetstore: parse: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

func (s *Store) writeLocked(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("subnetstore: marshal: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("subnetstore: write: %w", err)
	}
	return nil
}

// ExistingForEnvironment returns canister -> subnet for every canister
// already assigned within environment, for internal/canistercreate's
// co-location rule.
func (s *Store) ExistingForEnvironment(environment string) (map[string]string, error) {
	return fslock.WithRead(s.lock, func(fslock.LRead) (map[string]string, error) {
		doc, err := s.readLocked()
		if err != nil {
			return nil, err
		}
		prefix := environment + "/"
		out := map[string]string{}
		for k, subnet := range doc.Entries {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				out[k[len(prefix):]] = subnet
			}
		}
		return out, nil
	})
}

// Record persists environment/canister -> subnet assignments, overwriting
// any prior assignment for the same canister.
func (s *Store) Record(environment string, assignments map[string]string) error {
	_, err := fslock.WithWrite(s.lock, func(fslock.LWrite) (struct{}, error) {
		doc, err := s.readLocked()
		if err != nil {
			return struct{}{}, err
		}
		for canister, subnet := range assignments {
			doc.Entries[key(environment, canister)] = subnet
		}
		return struct{}{}, s.writeLocked(doc)
	})
	return err
}
