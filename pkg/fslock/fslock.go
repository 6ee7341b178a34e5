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

// Package fslock provides cross-process shared/exclusive file locks over
// directory structures, with typed read/write capability tokens gating which
// paths a callback may touch. It backs every piece of on-disk state this
// module mutates: the id store, network descriptors, and snapshot
// directories.
package fslock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// PathsAccess is implemented by any directory-structure descriptor that
// knows where its own lock file lives. Components own their own PathsAccess
// (e.g. a SnapshotPaths, a NetworkDirectory) and pass it to Open.
type PathsAccess interface {
	LockFile() string
}

// ErrBusy is returned by TryAcquireExclusive when the lock is already held.
var ErrBusy = errors.New("fslock: lock is held by another process")

// Handle is a reference to a directory's lock file. Its lifecycle is: Open
// (ensures the file exists) -> WithRead/WithWrite any number of times; each
// of those opens and closes its own file descriptor, so a Handle keeps
// nothing open and has no Close. Reentrant acquisition is not supported: calling
// WithRead/WithWrite while already holding a lock on the same Handle will
// deadlock against the OS, matching flock(2) semantics.
type Handle struct {
	paths PathsAccess
	path  string

	mu   sync.Mutex
	file *os.File
}

// Open ensures the lock file exists (creating parent directories as
// needed) and returns a Handle for it. The lock file itself is never
// deleted by this package.
func Open(paths PathsAccess) (*Handle, error) {
	path := paths.LockFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("fslock: create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fslock: open lock file: %w", err)
	}
	f.Close()
	return &Handle{paths: paths, path: path}, nil
}

// LRead is the capability token passed to callbacks running under a shared
// lock. Its existence signals "a shared lock is held"; it carries no
// methods of its own, matching the teacher's pattern of typed tokens
// controlling which methods the rest of the package exposes to locked
// code.
type LRead struct{ paths PathsAccess }

// LWrite is the capability token passed to callbacks running under an
// exclusive lock.
type LWrite struct{ paths PathsAccess }

// Paths returns the directory-structure descriptor the lock was opened
// against, letting locked code resolve paths without re-deriving them.
func (l LRead) Paths() PathsAccess { return l.paths }

// Paths returns the directory-structure descriptor the lock was opened
// against.
func (l LWrite) Paths() PathsAccess { return l.paths }

func (h *Handle) open() (*os.File, error) {
	return os.OpenFile(h.path, os.O_RDWR, 0o644)
}

// WithRead acquires a shared lock, invokes fn with an LRead token, and
// releases the lock on every exit path (including fn panicking).
func WithRead[R any](h *Handle, fn func(LRead) (R, error)) (R, error) {
	var zero R
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.open()
	if err != nil {
		return zero, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return zero, fmt.Errorf("fslock: acquire shared lock on %s: %w", h.path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn(LRead{paths: h.paths})
}

// WithWrite acquires an exclusive lock, invokes fn with an LWrite token, and
// releases the lock on every exit path (including fn panicking). Exclusive
// locks exclude all readers; concurrent WithWrite invocations on the same
// directory are serialised.
func WithWrite[R any](h *Handle, fn func(LWrite) (R, error)) (R, error) {
	var zero R
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.open()
	if err != nil {
		return zero, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return zero, fmt.Errorf("fslock: acquire exclusive lock on %s: %w", h.path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn(LWrite{paths: h.paths})
}

// Claim is a held exclusive lock returned by TryAcquireExclusive. The
// caller must call Release to give it up; unlike WithWrite it is
// not scoped to a single callback, because callers like NetworkSupervisor
// hold the claim for the lifetime of a whole running network.
type Claim struct {
	file *os.File
	path string
}

// Release unlocks and closes the underlying file descriptor. It is
// idempotent.
func (c *Claim) Release() error {
	if c == nil || c.file == nil {
		return nil
	}
	err := unix.Flock(int(c.file.Fd()), unix.LOCK_UN)
	c.file.Close()
	c.file = nil
	return err
}

// TryAcquireExclusive attempts a non-blocking exclusive lock. It returns
// ErrBusy (without blocking) if another process already holds it.
func TryAcquireExclusive(h *Handle) (*Claim, error) {
	f, err := h.open()
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("fslock: try-acquire exclusive lock on %s: %w", h.path, err)
	}
	return &Claim{file: f, path: h.path}, nil
}
