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

package fslock

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testPaths struct{ dir string }

func (p testPaths) LockFile() string { return filepath.Join(p.dir, ".lock") }

func TestWithWriteExclusivity(t *testing.T) {
	dir := t.TempDir()
	h1, err := Open(testPaths{dir})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Open(testPaths{dir})
	if err != nil {
		t.Fatal(err)
	}

	var inside int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup

	run := func(h *Handle) {
		defer wg.Done()
		_, _ = WithWrite(h, func(LWrite) (struct{}, error) {
			if atomic.AddInt32(&inside, 1) != 1 {
				overlapped.Store(true)
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return struct{}{}, nil
		})
	}

	wg.Add(2)
	go run(h1)
	go run(h2)
	wg.Wait()

	if overlapped.Load() {
		t.Fatal("two exclusive holders were active at the same time")
	}
}

func TestTryAcquireExclusiveBusy(t *testing.T) {
	dir := t.TempDir()
	h1, err := Open(testPaths{dir})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Open(testPaths{dir})
	if err != nil {
		t.Fatal(err)
	}

	claim, err := TryAcquireExclusive(h1)
	if err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}
	defer claim.Release()

	if _, err := TryAcquireExclusive(h2); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestSharedLocksDoNotExcludeEachOther(t *testing.T) {
	dir := t.TempDir()
	h1, err := Open(testPaths{dir})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Open(testPaths{dir})
	if err != nil {
		t.Fatal(err)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	for _, h := range []*Handle{h1, h2} {
		h := h
		go func() {
			defer wg.Done()
			<-start
			_, _ = WithRead(h, func(LRead) (struct{}, error) {
				time.Sleep(20 * time.Millisecond)
				return struct{}{}, nil
			})
		}()
	}
	close(start)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared locks appear to have blocked each other")
	}
}
