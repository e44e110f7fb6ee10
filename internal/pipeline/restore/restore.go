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

// Package restore resolves a backup-id (or unambiguous prefix), fetches
// its manifest, and materializes it into a target directory.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/fsutil"
	"github.com/relique/coldstore/internal/manifest"
	"github.com/relique/coldstore/internal/repo"
)

// DefaultConcurrency bounds how many files are restored at once; each
// file fetches at most chunkFetchConcurrency chunks at a time.
const DefaultConcurrency = 32

// Options configures one restore run.
type Options struct {
	// Prefix is a full backup-id or unambiguous hex prefix of one.
	Prefix string

	// TargetDir is where the snapshot is materialized. It must already
	// exist.
	TargetDir string

	Concurrency int // defaults to DefaultConcurrency

	// ContinueOnError makes a per-file materialize failure get recorded
	// in Result.Failures instead of aborting the whole restore. The
	// default (false) aborts on the first failure, per spec.md §7.
	ContinueOnError bool
}

// FileFailure records one file that failed to materialize during a
// ContinueOnError restore.
type FileFailure struct {
	Path string
	Err  error
}

// Result summarizes a completed restore.
type Result struct {
	BackupID   string
	FilesCount int
	TotalBytes uint64

	// Failures is only ever non-empty when Options.ContinueOnError was
	// set; otherwise the first file failure aborts Run outright.
	Failures []FileFailure
}

// PartialRestoreError reports that one or more files failed to
// materialize during a ContinueOnError restore.
type PartialRestoreError struct {
	Failures []FileFailure
}

func (e *PartialRestoreError) Error() string {
	return fmt.Sprintf("%d files failed to restore", len(e.Failures))
}

func (e *PartialRestoreError) Unwrap() error {
	return errs.ErrBackendFatal
}

// Run resolves opts.Prefix against the repository's backup index and
// restores the corresponding snapshot into opts.TargetDir.
func Run(ctx context.Context, r *repo.Repo, opts Options) (Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	entry, err := r.BackupIndex.FindByPrefix(opts.Prefix)
	if err != nil {
		return Result{}, err
	}

	rc, err := r.Backend.Get(ctx, r.BackupKey(entry.BackupID))
	if err != nil {
		return Result{}, fmt.Errorf("fetch manifest %s: %w", entry.BackupID, err)
	}
	blob, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return Result{}, fmt.Errorf("read manifest %s: %w", entry.BackupID, err)
	}

	plain, err := r.Codec.Decode([]byte(entry.BackupID), blob, r.Password)
	if err != nil {
		return Result{}, fmt.Errorf("decode manifest %s: %w", entry.BackupID, err)
	}
	m, err := manifest.Decode(plain)
	if err != nil {
		return Result{}, err
	}

	dirs, files, symlinks := partitionByKind(m.Entries)

	for _, e := range dirs {
		if err := materializeDir(opts.TargetDir, e); err != nil {
			return Result{}, err
		}
	}

	var failures []FileFailure
	if opts.ContinueOnError {
		failures = materializeFilesContinuing(ctx, r, opts.TargetDir, files, opts.Concurrency)
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(opts.Concurrency)
		for _, e := range files {
			e := e
			eg.Go(func() error {
				return materializeFile(egCtx, r, opts.TargetDir, e)
			})
		}
		if err := eg.Wait(); err != nil {
			return Result{}, err
		}
	}

	for _, e := range symlinks {
		if err := materializeSymlink(opts.TargetDir, e); err != nil {
			return Result{}, err
		}
	}

	// Apply directory mode bits last: creating descendants may have
	// needed write permission the recorded mode doesn't grant.
	for _, e := range dirs {
		if err := fsutil.ApplyMode(filepath.Join(opts.TargetDir, filepath.FromSlash(e.Path)), e.Mode); err != nil {
			return Result{}, fmt.Errorf("apply mode %s: %w", e.Path, err)
		}
	}

	result := Result{
		BackupID:   entry.BackupID,
		FilesCount: len(files),
		TotalBytes: m.TotalBytes,
		Failures:   failures,
	}
	if len(failures) > 0 {
		return result, &PartialRestoreError{Failures: failures}
	}
	return result, nil
}

// materializeFilesContinuing runs materializeFile for every entry with
// bounded concurrency, recording each failure instead of aborting the
// rest — the --continue-on-error path.
func materializeFilesContinuing(ctx context.Context, r *repo.Repo, targetDir string, files []manifest.FileEntry, concurrency int) []FileFailure {
	var mu sync.Mutex
	var failures []FileFailure

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, e := range files {
		e := e
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := materializeFile(ctx, r, targetDir, e); err != nil {
				mu.Lock()
				failures = append(failures, FileFailure{Path: e.Path, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	return failures
}

// partitionByKind splits entries by kind and sorts the directory list by
// path depth so that parents are always created before their children
// even if path sort order didn't already guarantee it.
func partitionByKind(entries []manifest.FileEntry) (dirs, files, symlinks []manifest.FileEntry) {
	for _, e := range entries {
		switch e.Kind {
		case manifest.KindDir:
			dirs = append(dirs, e)
		case manifest.KindFile:
			files = append(files, e)
		case manifest.KindSymlink:
			symlinks = append(symlinks, e)
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return depth(dirs[i].Path) < depth(dirs[j].Path)
	})
	return
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

func materializeDir(targetDir string, e manifest.FileEntry) error {
	abs := filepath.Join(targetDir, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", e.Path, err)
	}
	return nil
}

func materializeSymlink(targetDir string, e manifest.FileEntry) error {
	abs := filepath.Join(targetDir, filepath.FromSlash(e.Path))
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove existing %s: %w", e.Path, err)
	}
	if err := os.Symlink(e.LinkTarget, abs); err != nil {
		return fmt.Errorf("symlink %s: %w", e.Path, err)
	}
	return nil
}

// fetchedChunk carries one chunk fetch's outcome back to the writer.
type fetchedChunk struct {
	data []byte
	err  error
}

// chunkFetchConcurrency bounds in-flight chunk fetches for one file, so
// memory use stays bounded by concurrency * chunk-size rather than the
// whole file's size even though results are written out in order.
const chunkFetchConcurrency = 4

// materializeFile fetches e's chunks with bounded concurrency and
// appends them to the output file strictly in order. If any step fails,
// the partially written output file is removed.
func materializeFile(ctx context.Context, r *repo.Repo, targetDir string, e manifest.FileEntry) (err error) {
	abs := filepath.Join(targetDir, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("mkdir parent of %s: %w", e.Path, err)
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", e.Path, err)
	}
	defer f.Close()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(abs)
		}
	}()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan fetchedChunk, len(e.Chunks))
	for i := range results {
		results[i] = make(chan fetchedChunk, 1)
	}

	go func() {
		sem := make(chan struct{}, chunkFetchConcurrency)
		for i, id := range e.Chunks {
			select {
			case sem <- struct{}{}:
			case <-fetchCtx.Done():
				return
			}
			go func(i int, id chunk.ID) {
				defer func() { <-sem }()
				data, err := fetchChunk(fetchCtx, r, id)
				results[i] <- fetchedChunk{data: data, err: err}
			}(i, id)
		}
	}()

	for i, result := range results {
		fc := <-result
		if fc.err != nil {
			return fmt.Errorf("file %s chunk %d: %w", e.Path, i, fc.err)
		}
		if _, err := f.Write(fc.data); err != nil {
			return fmt.Errorf("write %s: %w", e.Path, err)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", e.Path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", e.Path, err)
	}

	if err := fsutil.ApplyMode(abs, e.Mode); err != nil {
		return fmt.Errorf("apply mode %s: %w", e.Path, err)
	}
	return nil
}

func fetchChunk(ctx context.Context, r *repo.Repo, id chunk.ID) ([]byte, error) {
	rc, err := r.Backend.Get(ctx, r.ChunkKey(id.Hex()))
	if err != nil {
		return nil, err
	}
	blob, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}

	plaintext, err := r.Codec.Decode(id[:], blob, r.Password)
	if err != nil {
		return nil, err
	}

	if chunk.ComputeID(plaintext) != id {
		return nil, &errs.CorruptChunkError{ChunkID: id.Hex(), Reason: "decoded plaintext digest mismatch"}
	}
	return plaintext, nil
}
