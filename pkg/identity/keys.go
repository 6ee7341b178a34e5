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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"math/big"
)

// ecdsaKeyFromSeed deterministically derives a P-256 key from arbitrary
// seed bytes. None of the example pack's dependencies wrap a secp256k1
// curve implementation for Go (the corpus's secp256k1 usage is all inside
// the Rust original_source crates); crypto/elliptic's P-256 is therefore
// used here, noted as a stdlib exception in the design ledger rather than
// reaching for an unvetted out-of-pack curve library.
func ecdsaKeyFromSeed(seed []byte) (*ecdsa.PrivateKey, error) {
	digest := sha512.Sum512(seed)
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(digest[:32])
	order := curve.Params().N
	d.Mod(d, order)
	if d.Sign() == 0 {
		d.SetInt64(1)
	}
	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

func marshalECDSAPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return pem.EncodeToMemory(block), nil
}
