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

// Package principal renders the opaque binary principal identifiers
// (spec.md GLOSSARY) to and from their textual form: a CRC32 checksum
// prefix followed by the principal bytes, base32-encoded and grouped into
// dash-separated 5-character blocks. This is the one textual encoding
// every command-line surface needs (Scenario S3's `identity principal`,
// `canister create`'s printed id, IdStore's stored keys) so it lives in
// its own small leaf package rather than being duplicated per caller.
package principal

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"hash/crc32"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Text renders raw principal bytes as the standard
// "xxxxx-xxxxx-...-xxx" textual form.
func Text(raw []byte) string {
	sum := crc32.ChecksumIEEE(raw)
	buf := make([]byte, 4+len(raw))
	buf[0] = byte(sum >> 24)
	buf[1] = byte(sum >> 16)
	buf[2] = byte(sum >> 8)
	buf[3] = byte(sum)
	copy(buf[4:], raw)

	encoded := strings.ToLower(encoding.EncodeToString(buf))
	var groups []string
	for i := 0; i < len(encoded); i += 5 {
		end := i + 5
		if end > len(encoded) {
			end = len(encoded)
		}
		groups = append(groups, encoded[i:end])
	}
	return strings.Join(groups, "-")
}

// Parse reverses Text, validating the CRC32 checksum.
func Parse(text string) ([]byte, error) {
	encoded := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	buf, err := encoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("principal: invalid textual encoding: %w", err)
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("principal: decoded form too short")
	}
	checksum := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	raw := buf[4:]
	if crc32.ChecksumIEEE(raw) != checksum {
		return nil, fmt.Errorf("principal: checksum mismatch")
	}
	return raw, nil
}

// FromPublicKeyDER derives a self-authenticating principal from a DER
// public key, per the platform's standard derivation: SHA-224 of the DER
// bytes with a trailing 0x02 tag byte.
func FromPublicKeyDER(der []byte) []byte {
	digest := sha256.Sum224(der)
	return append(digest[:], 0x02)
}
