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
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"testing"
)

type memKeyStore map[string][]byte

func (m memKeyStore) Get(name string) ([]byte, error) {
	key, ok := m[name]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return key, nil
}
func (m memKeyStore) Put(name string, key []byte) error {
	m[name] = key
	return nil
}
func (m memKeyStore) Delete(name string) error {
	delete(m, name)
	return nil
}
func (m memKeyStore) List() ([]string, error) {
	var names []string
	for n := range m {
		names = append(names, n)
	}
	return names, nil
}

func TestSelectorResolve(t *testing.T) {
	cases := []struct {
		sel  Selector
		want string
	}{
		{Selector{Kind: SelectDefault}, DefaultName},
		{Selector{Kind: SelectAnonymous}, AnonymousName},
		{Selector{Kind: SelectNamed, Name: "alice"}, "alice"},
	}
	for _, c := range cases {
		if got := c.sel.Resolve(); got != c.want {
			t.Errorf("Resolve() = %q, want %q", got, c.want)
		}
	}
}

func TestImportRequiresExactlyOneSource(t *testing.T) {
	store := memKeyStore{}
	if err := Import(store, "alice", ImportSource{}, false); err != ErrNoImportSource {
		t.Fatalf("got %v, want ErrNoImportSource", err)
	}
	if err := Import(store, "alice", ImportSource{
		FromPEMBytes:   []byte("x"),
		FromSeedPhrase: "y",
	}, false); err != ErrNoImportSource {
		t.Fatalf("got %v, want ErrNoImportSource for both sources set", err)
	}
}

func TestImportFromPEM(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	store := memKeyStore{}
	if err := Import(store, "alice", ImportSource{FromPEMBytes: pemBytes}, false); err != nil {
		t.Fatalf("import: %v", err)
	}
	stored := store["alice"]
	if len(stored) == 0 {
		t.Fatal("expected a stored key")
	}
	block, _ := pem.Decode(stored)
	if block == nil {
		t.Fatal("stored key is not valid PEM")
	}
}

func TestImportFromSeedPhraseIsDeterministic(t *testing.T) {
	store := memKeyStore{}
	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	if err := Import(store, "alice", ImportSource{FromSeedPhrase: phrase}, false); err != nil {
		t.Fatal(err)
	}
	first := store["alice"]

	store2 := memKeyStore{}
	if err := Import(store2, "alice", ImportSource{FromSeedPhrase: phrase}, false); err != nil {
		t.Fatal(err)
	}
	second := store2["alice"]

	if !bytes.Equal(first, second) {
		t.Fatal("expected the same seed phrase to derive the same key bytes")
	}
}

func TestImportFromSeedPhraseRejectsShortPhrase(t *testing.T) {
	store := memKeyStore{}
	err := Import(store, "alice", ImportSource{FromSeedPhrase: "too short"}, false)
	if err == nil {
		t.Fatal("expected an error for a too-short seed phrase")
	}
}

func TestImportFromSeedFile(t *testing.T) {
	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	dir := t.TempDir()
	path := dir + "/seed.txt"
	if err := os.WriteFile(path, []byte(phrase), 0o600); err != nil {
		t.Fatal(err)
	}

	store := memKeyStore{}
	if err := Import(store, "alice", ImportSource{FromSeedFilePath: path}, false); err != nil {
		t.Fatalf("import: %v", err)
	}

	expected := memKeyStore{}
	if err := Import(expected, "alice", ImportSource{FromSeedPhrase: phrase}, false); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(store["alice"], expected["alice"]) {
		t.Fatal("seed file import should derive the same key as the equivalent phrase")
	}
}

func TestImportRejectsUnknownAssertedKeyType(t *testing.T) {
	store := memKeyStore{}
	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	err := Import(store, "alice", ImportSource{FromSeedPhrase: phrase, AssertKeyType: "ed25519"}, false)
	var unsupported *UnsupportedAlgorithmError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want *UnsupportedAlgorithmError", err)
	}
}

func TestImportRefusesToOverwriteExistingIdentity(t *testing.T) {
	store := memKeyStore{}
	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	if err := Import(store, "alice", ImportSource{FromSeedPhrase: phrase}, false); err != nil {
		t.Fatal(err)
	}
	err := Import(store, "alice", ImportSource{FromSeedPhrase: phrase}, false)
	if err != ErrIdentityAlreadyExists {
		t.Fatalf("err = %v, want ErrIdentityAlreadyExists", err)
	}
	if err := Import(store, "alice", ImportSource{FromSeedPhrase: phrase}, true); err != nil {
		t.Fatalf("overwrite import: %v", err)
	}
}
