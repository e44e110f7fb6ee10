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

// Package backup walks a directory tree, splits each regular file into
// fixed-size chunks, uploads any chunk not already present in the
// repository, and publishes a manifest describing the snapshot.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relique/coldstore/internal/backupidx"
	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/keys"
	"github.com/relique/coldstore/internal/manifest"
	"github.com/relique/coldstore/internal/repo"
)

// DefaultConcurrency bounds how many chunks may be in flight (encoding
// or uploading) at once, absent an override.
const DefaultConcurrency = 32

// Options configures one backup run.
type Options struct {
	RootPath    string
	Exclusions  []*regexp.Regexp
	ChunkSize   int // bytes; defaults to chunk.DefaultSize
	Author      string
	Message     string
	Concurrency int // defaults to DefaultConcurrency

	// NowUnix stamps the manifest's TimestampUnix. Tests override it;
	// callers otherwise leave it zero and Run substitutes time.Now.
	NowUnix int64
}

// Result summarizes a completed backup.
type Result struct {
	BackupID       string
	TotalBytes     uint64
	FilesBackedUp  int
	ChunksUploaded int
}

// Run performs one backup under the repository's exclusive lock.
func Run(ctx context.Context, r *repo.Repo, opts Options) (Result, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = chunk.DefaultSize
	}
	if err := chunk.ValidateSize(int64(opts.ChunkSize)); err != nil {
		return Result{}, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	if err := r.Lock(ctx); err != nil {
		return Result{}, err
	}
	defer r.Unlock(ctx)

	if err := r.EnsureMarker(ctx, r.Password != "", keys.DefaultParams); err != nil {
		return Result{}, fmt.Errorf("ensure marker: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)

	var uploaded int64
	w := &walker{
		repo:     r,
		opts:     opts,
		eg:       eg,
		egCtx:    egCtx,
		uploaded: &uploaded,
		seen:     make(map[chunk.ID]bool),
	}

	entries, totalBytes, err := w.walk()
	if err != nil {
		return Result{}, fmt.Errorf("walk: %w", err)
	}
	if err := eg.Wait(); err != nil {
		return Result{}, fmt.Errorf("upload chunks: %w", err)
	}

	m := manifest.New()
	m.Author = opts.Author
	m.Message = opts.Message
	m.TimestampUnix = uint64(timestamp(opts.NowUnix))
	m.RepositoryKey = r.Key
	m.ChunkSize = uint64(opts.ChunkSize)
	m.CompressionLevel = uint8(r.Codec.Level)
	m.Encrypted = r.Marker != nil && r.Marker.Encrypted
	m.TotalBytes = totalBytes
	m.RootPath = opts.RootPath
	m.Entries = entries
	m.SortEntries()

	encoded := manifest.Encode(m)
	backupID := manifest.BackupID(encoded)

	blob, err := r.Codec.Encode([]byte(backupID), encoded, r.Password)
	if err != nil {
		return Result{}, fmt.Errorf("encode manifest: %w", err)
	}
	exists, err := r.Backend.Exists(ctx, r.BackupKey(backupID))
	if err != nil {
		return Result{}, fmt.Errorf("check existing manifest: %w", err)
	}
	if !exists {
		if err := r.Backend.Put(ctx, r.BackupKey(backupID), bytes.NewReader(blob)); err != nil {
			return Result{}, fmt.Errorf("publish manifest: %w", err)
		}
	}

	// Publish the chunk index only once every chunk object it references
	// has been durably uploaded, and the backup index only once the
	// manifest it names is durably uploaded. This ordering means a crash
	// mid-backup can leave unreferenced chunk objects (cleaned up by a
	// later prune) but never a backup index entry for a manifest that
	// doesn't exist, or a manifest that references a chunk that doesn't.
	if err := r.PersistChunkIndex(ctx); err != nil {
		return Result{}, fmt.Errorf("persist chunk index: %w", err)
	}

	r.BackupIndex.Append(backupidx.Entry{
		BackupID:  backupID,
		Timestamp: m.TimestampUnix,
		Message:   opts.Message,
		Author:    opts.Author,
		ByteCount: totalBytes,
	})
	if err := r.PersistBackupIndex(ctx); err != nil {
		return Result{}, fmt.Errorf("persist backup index: %w", err)
	}

	return Result{
		BackupID:       backupID,
		TotalBytes:     totalBytes,
		FilesBackedUp:  len(entries),
		ChunksUploaded: int(uploaded),
	}, nil
}

func timestamp(override int64) int64 {
	if override != 0 {
		return override
	}
	return time.Now().Unix()
}
