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

// Package codec encodes plaintext chunk bytes into the stored blob
// format (compress, then optionally wrap in an authenticated envelope)
// and decodes them back, verifying the envelope's AEAD tag.
package codec

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/keys"
)

const (
	// Magic identifies a coldstore-encoded blob.
	Magic byte = 0xCB

	// Version is the current blob format version.
	Version byte = 1

	flagEncrypted byte = 1 << 0

	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSize // 12
	tagSize   = chacha20poly1305.Overhead  // 16

	headerSize = 3 // magic + version + flags
)

// DefaultLevel is the zstd compression level used when the caller
// doesn't override it.
const DefaultLevel = 3

// MinLevel and MaxLevel bound the configurable compression level.
const (
	MinLevel = 1
	MaxLevel = 22
)

// ValidateLevel checks a configured compression level.
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return fmt.Errorf("%w: compression level %d out of range [%d, %d]", errs.ErrUserInput, level, MinLevel, MaxLevel)
	}
	return nil
}

// Codec encodes and decodes chunk blobs for one repository. A zero-value
// Codec (no deriver) only supports unencrypted mode.
type Codec struct {
	Level   int
	Deriver keys.Deriver // nil disables encryption
}

// New returns a Codec at the given compression level. Pass a nil deriver
// for an unencrypted repository.
func New(level int, deriver keys.Deriver) *Codec {
	return &Codec{Level: level, Deriver: deriver}
}

// Encode compresses plaintext and, if the Codec has a deriver and a
// password is supplied, wraps it in an authenticated envelope keyed by a
// fresh per-chunk salt and nonce. associatedData is bound into the AEAD
// tag (the chunk-id, per the envelope contract).
func (c *Codec) Encode(associatedData []byte, plaintext []byte, password string) ([]byte, error) {
	compressed, err := compress(plaintext, c.Level)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	if c.Deriver == nil || password == "" {
		out := make([]byte, 0, headerSize+len(compressed))
		out = append(out, Magic, Version, 0)
		out = append(out, compressed...)
		return out, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := c.Deriver.DeriveKey(password, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, compressed, associatedData)

	out := make([]byte, 0, headerSize+saltSize+nonceSize+len(ciphertext))
	out = append(out, Magic, Version, flagEncrypted)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...) // includes trailing tag
	return out, nil
}

// Decode reverses Encode, verifying the AEAD tag when the blob is
// encrypted. associatedData must match what was passed to Encode (the
// chunk-id).
func (c *Codec) Decode(associatedData []byte, blob []byte, password string) ([]byte, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: blob shorter than header", errs.ErrCorrupt)
	}
	if blob[0] != Magic {
		return nil, fmt.Errorf("%w: bad magic byte", errs.ErrCorrupt)
	}
	if blob[1] != Version {
		return nil, fmt.Errorf("%w: unsupported blob version %d", errs.ErrCorrupt, blob[1])
	}
	encrypted := blob[2]&flagEncrypted != 0
	payload := blob[headerSize:]

	if !encrypted {
		return decompress(payload)
	}

	if password == "" {
		return nil, errs.ErrMissingPassword
	}
	if c.Deriver == nil {
		return nil, errs.ErrMissingPassword
	}

	if len(payload) < saltSize+nonceSize+tagSize {
		return nil, fmt.Errorf("%w: encrypted payload too short", errs.ErrCorrupt)
	}
	salt := payload[:saltSize]
	nonce := payload[saltSize : saltSize+nonceSize]
	ciphertext := payload[saltSize+nonceSize:]

	key := c.Deriver.DeriveKey(password, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	compressed, err := aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrWrongPassword, err)
	}

	return decompress(compressed)
}

// IsEncrypted reports whether a blob's header indicates encrypted
// payload. It reads only the header flag and neither decodes nor
// authenticates the payload.
func IsEncrypted(blob []byte) (bool, error) {
	if len(blob) < headerSize {
		return false, fmt.Errorf("%w: blob shorter than header", errs.ErrCorrupt)
	}
	if blob[0] != Magic {
		return false, fmt.Errorf("%w: bad magic byte", errs.ErrCorrupt)
	}
	return blob[2]&flagEncrypted != 0, nil
}

func compress(plaintext []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(plaintext, nil), nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorrupt, err)
	}
	return out, nil
}
