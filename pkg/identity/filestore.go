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

package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"tailscale.com/atomicfile"

	"github.com/icp-cli/icp/pkg/fslock"
)

// ErrIdentityNotFound is returned by FileKeyStore.Get and Delete when name
// has no stored key.
var ErrIdentityNotFound = errors.New("identity: not found")

// FileKeyStore is the default remote.KeyStore implementation: one PEM file
// per identity name under a directory, guarded by an FSLock the same way
// IdStore guards its single JSON document. This is the concrete storage
// remote.KeyStore leaves out of scope; the CLI needs one to actually run.
type FileKeyStore struct {
	dir  string
	lock *fslock.Handle
}

// OpenFileKeyStore opens (creating if absent) a FileKeyStore rooted at dir.
func OpenFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: create key store dir: %w", err)
	}
	s := &FileKeyStore{dir: dir}
	h, err := fslock.Open(s)
	if err != nil {
		return nil, err
	}
	s.lock = h
	return s, nil
}

// LockFile implements fslock.PathsAccess.
func (s *FileKeyStore) LockFile() string { return filepath.Join(s.dir, ".lock") }

func (s *FileKeyStore) pemPath(name string) string { return filepath.Join(s.dir, name+".pem") }

// Get reads name's stored PEM-encoded private key.
func (s *FileKeyStore) Get(name string) ([]byte, error) {
	return fslock.WithRead(s.lock, func(fslock.LRead) ([]byte, error) {
		data, err := os.ReadFile(s.pemPath(name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrIdentityNotFound
			}
			return nil, err
		}
		return data, nil
	})
}

// Put atomically stores privateKeyPEM under name, overwriting any existing
// entry (re-import is expected to replace, unlike IdStore's Register).
func (s *FileKeyStore) Put(name string, privateKeyPEM []byte) error {
	_, err := fslock.WithWrite(s.lock, func(fslock.LWrite) (struct{}, error) {
		return struct{}{}, atomicfile.WriteFile(s.pemPath(name), privateKeyPEM, 0o600)
	})
	return err
}

// Delete removes name's stored key. It is a no-op if absent.
func (s *FileKeyStore) Delete(name string) error {
	_, err := fslock.WithWrite(s.lock, func(fslock.LWrite) (struct{}, error) {
		err := os.Remove(s.pemPath(name))
		if err != nil && !os.IsNotExist(err) {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

// List returns every stored identity name, sorted.
func (s *FileKeyStore) List() ([]string, error) {
	return fslock.WithRead(s.lock, func(fslock.LRead) ([]string, error) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".pem" {
				continue
			}
			names = append(names, e.Name()[:len(e.Name())-len(".pem")])
		}
		sort.Strings(names)
		return names, nil
	})
}
