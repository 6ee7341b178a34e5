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

package idstore

import (
	"bytes"
	"testing"
)

func TestRegisterIsIdempotentAtMostOnce(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	k := Key{Network: "local", Environment: "local", Canister: "counter"}
	p1 := []byte{0x01, 0x02, 0x03}
	p2 := []byte{0x04, 0x05, 0x06}

	if err := s.Register(k, p1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.Register(k, p2); err != ErrAlreadyRegistered {
		t.Fatalf("second register: got %v, want ErrAlreadyRegistered", err)
	}

	got, err := s.Lookup(k)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, p1) {
		t.Fatalf("lookup returned %x, want first registration %x", got, p1)
	}
}

func TestLookupNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Lookup(Key{Network: "local", Environment: "local", Canister: "ghost"})
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUnregisterThenReregister(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	k := Key{Network: "local", Environment: "local", Canister: "counter"}
	p := []byte{0xAA}

	if err := s.Register(k, p); err != nil {
		t.Fatal(err)
	}
	if err := s.Unregister(k); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(k, p); err != nil {
		t.Fatalf("re-register after unregister should succeed: %v", err)
	}
}

func TestListForEnvironment(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Register(Key{"local", "local", "a"}, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(Key{"local", "local", "b"}, []byte{2}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(Key{"local", "staging", "a"}, []byte{3}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListForEnvironment("local", "local")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(got), got)
	}
}
