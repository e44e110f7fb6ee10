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

// Package keys derives the per-chunk symmetric key used by internal/codec
// from a user password and a random salt, using Argon2id.
package keys

import (
	"golang.org/x/crypto/argon2"
)

// KeySize is the length in bytes of derived keys (256 bits).
const KeySize = 32

// Params fixes the Argon2id cost parameters for a repository. They are
// recorded once in the repository marker so any future decoder can
// reproduce the same derivation; changing them would silently change
// every subsequently-derived key, so params are chosen at repository
// creation and never vary per backup.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32 // passes
	Parallelism uint8
}

// DefaultParams are conservative but practical values for an
// interactively-used CLI tool: 64 MiB, 3 passes, 4 lanes.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 4,
}

// A Deriver knows how to turn a user password and a per-chunk salt into a
// symmetric key. The password is never persisted; callers hold it in
// memory only for the lifetime of one backup or restore.
type Deriver interface {
	DeriveKey(password string, salt []byte) []byte
}

// NewArgon2idDeriver returns a Deriver using Argon2id with the given
// parameters.
func NewArgon2idDeriver(p Params) Deriver {
	return &argon2idDeriver{p}
}

type argon2idDeriver struct {
	params Params
}

func (d *argon2idDeriver) DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(password),
		salt,
		d.params.Time,
		d.params.Memory,
		d.params.Parallelism,
		KeySize,
	)
}
