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

// Package chunk splits a byte stream into fixed-size pieces and computes
// each piece's content-addressed id.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// IDLength is the width in bytes of a chunk-id (256-bit digest).
	IDLength = sha256.Size

	// DefaultSize is the chunk size used when the caller doesn't
	// override it.
	DefaultSize = 5 * 1024 * 1024

	// MinSize and MaxSize bound the configurable chunk size.
	MinSize = 1 * 1024 * 1024
	MaxSize = 1024 * 1024 * 1024
)

// ID is the hex-encodable identity of a chunk: the SHA-256 digest of its
// plaintext bytes, computed before compression or encryption so that
// identical plaintext dedupes regardless of compression level or
// password.
type ID [IDLength]byte

// ComputeID returns the id for the given plaintext chunk bytes.
func ComputeID(plaintext []byte) ID {
	return ID(sha256.Sum256(plaintext))
}

// Hex returns the fixed-width hex representation of an id, used as the
// chunk's storage key suffix.
func (id ID) Hex() string {
	return fmt.Sprintf("%x", id[:])
}

// String satisfies fmt.Stringer.
func (id ID) String() string {
	return id.Hex()
}

// ParseID decodes a hex string produced by Hex back into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != IDLength*2 {
		return id, fmt.Errorf("chunk id %q: wrong length", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("chunk id %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}

// ValidateSize checks that a configured chunk size is within bounds.
func ValidateSize(size int64) error {
	if size < MinSize || size > MaxSize {
		return fmt.Errorf("chunk size %d out of range [%d, %d]", size, MinSize, MaxSize)
	}
	return nil
}
