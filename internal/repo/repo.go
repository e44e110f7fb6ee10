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

// Package repo wires together a repository's storage backend, codec,
// chunk index, and backup index, and implements the exclusive-lock
// protocol that every mutating operation (backup, delete, prune,
// encrypt) must hold.
package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relique/coldstore/internal/backupidx"
	"github.com/relique/coldstore/internal/chunkidx"
	"github.com/relique/coldstore/internal/codec"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/keys"
	"github.com/relique/coldstore/internal/storage"
)

var log = logrus.WithFields(logrus.Fields{"component": "repo"})

const (
	keyMarker       = "marker"
	keyLockWriter   = "locks/writer"
	keyIndexChunks  = "indexes/chunks"
	keyIndexBackups = "indexes/backups"
	keyBackupsDir   = "backups"
	keyChunksDir    = "chunks"
)

// StaleLockAge is how old a lock sentinel must be before readers report
// it as stale.
const StaleLockAge = time.Hour

// Repo is an open handle onto one repository key within a storage
// backend: its marker (if any), codec, and (once loaded) its two
// indexes.
type Repo struct {
	Backend storage.Backend
	Key     string
	Marker  *Marker // nil for a brand new repository with no marker yet
	Codec   *codec.Codec
	Password string

	ChunkIndex  *chunkidx.Index
	BackupIndex *backupidx.Index

	lockHeld bool
}

// Open loads (or initializes) a repository. If a marker exists it is
// read and used to configure the codec (encrypted or not, and with
// what KDF parameters); if absent, the repository is new and Encrypted
// is determined by whether the caller supplies a non-empty password.
func Open(ctx context.Context, backend storage.Backend, repoKey string, password string) (*Repo, error) {
	r := &Repo{Backend: backend, Key: repoKey, Password: password}

	markerBytes, err := getObject(ctx, backend, r.key(keyMarker))
	switch {
	case err == nil:
		m, err := DecodeMarker(markerBytes)
		if err != nil {
			return nil, err
		}
		r.Marker = &m
		var deriver keys.Deriver
		if m.Encrypted {
			deriver = keys.NewArgon2idDeriver(m.KDFParams)
		}
		r.Codec = codec.New(codec.DefaultLevel, deriver)

	case errors.Is(err, errs.ErrNotFound):
		r.Marker = nil
		r.Codec = codec.New(codec.DefaultLevel, keys.NewArgon2idDeriver(keys.DefaultParams))

	default:
		return nil, err
	}

	if err := r.loadIndexes(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

// EnsureMarker writes the repository marker if one doesn't exist yet,
// fixing whether this repository is encrypted for all future backups.
func (r *Repo) EnsureMarker(ctx context.Context, encrypted bool, params keys.Params) error {
	if r.Marker != nil {
		return nil
	}
	m := NewMarker(encrypted, params)
	if err := r.Backend.Put(ctx, r.key(keyMarker), bytes.NewReader(EncodeMarker(m))); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	r.Marker = &m

	var deriver keys.Deriver
	if encrypted {
		deriver = keys.NewArgon2idDeriver(params)
	}
	r.Codec = codec.New(r.Codec.Level, deriver)
	return nil
}

// SetEncrypted overwrites the marker to flip a repository from
// unencrypted to encrypted, deriving chunk keys from params from now
// on. Unlike EnsureMarker, which only ever creates a marker and is a
// no-op once one exists, this rewrites an existing one — the `encrypt`
// command's sole legitimate reason to change an already-published
// marker. Callers must hold the repository lock, and must call this
// before re-encoding any existing object, since Codec.Encode's output
// depends on the deriver this installs.
func (r *Repo) SetEncrypted(ctx context.Context, params keys.Params) error {
	if r.Marker != nil && r.Marker.Encrypted {
		return nil
	}
	m := NewMarker(true, params)
	if err := r.Backend.Put(ctx, r.key(keyMarker), bytes.NewReader(EncodeMarker(m))); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	r.Marker = &m
	r.Codec = codec.New(r.Codec.Level, keys.NewArgon2idDeriver(params))
	return nil
}

func (r *Repo) key(parts ...string) string {
	return path.Join(append([]string{r.Key}, parts...)...)
}

// ChunkKey returns the storage key for a chunk-id's object, sharded by
// its first two hex characters.
func (r *Repo) ChunkKey(hexID string) string {
	return r.key(keyChunksDir, hexID[:2], hexID[2:])
}

// BackupKey returns the storage key for a backup-id's manifest object.
func (r *Repo) BackupKey(backupID string) string {
	return r.key(keyBackupsDir, backupID)
}

// ChunksPrefix returns the storage key prefix under which every chunk
// object in this repository lives, for `prune`'s List-based scan.
func (r *Repo) ChunksPrefix() string {
	return r.key(keyChunksDir)
}

// BackupsPrefix returns the storage key prefix under which every
// manifest object in this repository lives, for `encrypt`'s
// List-based rewrite.
func (r *Repo) BackupsPrefix() string {
	return r.key(keyBackupsDir)
}

func (r *Repo) loadIndexes(ctx context.Context) error {
	chunkBytes, err := getObject(ctx, r.Backend, r.key(keyIndexChunks))
	switch {
	case err == nil:
		plain, err := r.Codec.Decode([]byte(keyIndexChunks), chunkBytes, r.Password)
		if err != nil {
			return fmt.Errorf("decode chunk index: %w", err)
		}
		idx, err := chunkidx.Decode(plain)
		if err != nil {
			return err
		}
		r.ChunkIndex = idx
	case errors.Is(err, errs.ErrNotFound):
		r.ChunkIndex = chunkidx.New()
	default:
		return fmt.Errorf("load chunk index: %w", err)
	}

	backupBytes, err := getObject(ctx, r.Backend, r.key(keyIndexBackups))
	switch {
	case err == nil:
		plain, err := r.Codec.Decode([]byte(keyIndexBackups), backupBytes, r.Password)
		if err != nil {
			return fmt.Errorf("decode backup index: %w", err)
		}
		idx, err := backupidx.Decode(plain)
		if err != nil {
			return err
		}
		r.BackupIndex = idx
	case errors.Is(err, errs.ErrNotFound):
		r.BackupIndex = backupidx.New()
	default:
		return fmt.Errorf("load backup index: %w", err)
	}

	return nil
}

// PersistChunkIndex re-serializes and atomically publishes the in-memory
// chunk index. Per the backup pipeline's ordering rule, this is called
// only after every chunk upload has succeeded.
func (r *Repo) PersistChunkIndex(ctx context.Context) error {
	plain := chunkidx.Encode(r.ChunkIndex)
	blob, err := r.Codec.Encode([]byte(keyIndexChunks), plain, r.Password)
	if err != nil {
		return fmt.Errorf("encode chunk index: %w", err)
	}
	if err := r.Backend.Put(ctx, r.key(keyIndexChunks), bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("publish chunk index: %w", err)
	}
	return nil
}

// PersistBackupIndex re-serializes and atomically publishes the
// in-memory backup index.
func (r *Repo) PersistBackupIndex(ctx context.Context) error {
	plain := backupidx.Encode(r.BackupIndex)
	blob, err := r.Codec.Encode([]byte(keyIndexBackups), plain, r.Password)
	if err != nil {
		return fmt.Errorf("encode backup index: %w", err)
	}
	if err := r.Backend.Put(ctx, r.key(keyIndexBackups), bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("publish backup index: %w", err)
	}
	return nil
}

// Lock acquires the repository's exclusive writer sentinel via
// conditional put. It returns errs.ErrLocked if another writer already
// holds it (unless that sentinel is stale, in which case a warning is
// logged but the lock is still refused — the user must run prune to
// force-release it).
func (r *Repo) Lock(ctx context.Context) error {
	sentinel := lockSentinel{ID: uuid.NewString(), CreatedUnix: nowUnix()}
	ok, err := r.Backend.PutIfAbsent(ctx, r.key(keyLockWriter), bytes.NewReader(encodeSentinel(sentinel)))
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if existing, err := r.readSentinel(ctx); err == nil {
			age := time.Since(time.Unix(existing.CreatedUnix, 0))
			if age > StaleLockAge {
				log.WithFields(logrus.Fields{"repository": r.Key, "age": age}).
					Warn("repository lock is stale; run prune to force-release it")
			}
		}
		return fmt.Errorf("%w: repository %s", errs.ErrLocked, r.Key)
	}
	r.lockHeld = true
	return nil
}

// Unlock releases a lock acquired by Lock. A graceful exit always calls
// this; a crash leaves the sentinel in place until prune force-releases
// it.
func (r *Repo) Unlock(ctx context.Context) error {
	if !r.lockHeld {
		return nil
	}
	if err := r.Backend.Delete(ctx, r.key(keyLockWriter)); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	r.lockHeld = false
	return nil
}

// ForceUnlock removes the lock sentinel regardless of whether this
// process holds it, for `prune`'s crash-recovery path.
func (r *Repo) ForceUnlock(ctx context.Context) error {
	return r.Backend.Delete(ctx, r.key(keyLockWriter))
}

func (r *Repo) readSentinel(ctx context.Context) (lockSentinel, error) {
	data, err := getObject(ctx, r.Backend, r.key(keyLockWriter))
	if err != nil {
		return lockSentinel{}, err
	}
	return decodeSentinel(data)
}

func getObject(ctx context.Context, backend storage.Backend, key string) ([]byte, error) {
	rc, err := backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
