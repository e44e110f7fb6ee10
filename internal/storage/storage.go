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

// Package storage provides the byte-level get/put/list/delete
// abstraction over opaque keys that every higher layer builds on, plus
// local filesystem and S3-compatible implementations.
package storage

import (
	"context"
	"io"
)

// Backend is the streaming storage abstraction. Keys are opaque,
// '/'-separated strings; implementations map them onto paths or object
// keys. All methods must be safe for concurrent use.
type Backend interface {
	// Put stores the bytes read from r under key, atomically: the key
	// becomes visible with the full contents, or not at all.
	Put(ctx context.Context, key string, r io.Reader) error

	// PutIfAbsent stores r under key only if key does not already
	// exist, reporting false without error if it does. Used for the
	// repository lock sentinel's compare-and-swap semantics. Under the
	// single-writer-per-repository assumption this needs only be
	// best-effort atomic, not linearizable across a distributed set of
	// writers.
	PutIfAbsent(ctx context.Context, key string, r io.Reader) (bool, error)

	// Get opens the object stored under key for streaming read. The
	// caller must Close the returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. It is idempotent: deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix. It may be
	// eventually consistent with respect to recent Puts, but must
	// eventually reflect them.
	List(ctx context.Context, prefix string) ([]string, error)

	// String names the backend for logging (e.g. "local:/var/backups").
	String() string
}
