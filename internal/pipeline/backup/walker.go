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

package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/fsutil"
	"github.com/relique/coldstore/internal/manifest"
	"github.com/relique/coldstore/internal/repo"
)

// walker performs a deterministic depth-first traversal of a root
// directory, in the manner of the teacher's file_system_visitor.go, and
// schedules one upload task per not-yet-seen chunk it encounters.
type walker struct {
	repo  *repo.Repo
	opts  Options
	eg    *errgroup.Group
	egCtx context.Context

	uploaded *int64

	// seen tracks chunk-ids already referenced earlier in this same
	// backup, so a chunk appearing in two files (or twice in one file)
	// increments the chunk index's reference count only once per backup,
	// matching delete's one-decrement-per-backup-per-chunk behavior.
	// Only ever touched from the single goroutine running walk/visit, so
	// it needs no locking of its own.
	seen map[chunk.ID]bool
}

// walk traverses opts.RootPath and returns one FileEntry per descendant,
// relative to RootPath. A directory root is never emitted as an entry —
// only its contents are, named relative to it. A plain-file root yields
// exactly one entry, named by the file's base name.
func (w *walker) walk() ([]manifest.FileEntry, uint64, error) {
	var entries []manifest.FileEntry
	var totalBytes uint64

	rootInfo, err := os.Lstat(w.opts.RootPath)
	if err != nil {
		return nil, 0, fmt.Errorf("lstat %s: %w", w.opts.RootPath, err)
	}

	var visit func(relPath, absPath string) error
	visit = func(relPath, absPath string) error {
		if w.shouldSkip(relPath) {
			return nil
		}

		info, err := os.Lstat(absPath)
		if err != nil {
			return fmt.Errorf("lstat %s: %w", absPath, err)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(absPath)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", absPath, err)
			}
			entries = append(entries, manifest.FileEntry{
				Path:       fsutil.ToSlash(relPath),
				Kind:       manifest.KindSymlink,
				Mode:       fsutil.ModeOf(info),
				LinkTarget: target,
			})

		case info.IsDir():
			entries = append(entries, manifest.FileEntry{
				Path: fsutil.ToSlash(relPath),
				Kind: manifest.KindDir,
				Mode: fsutil.ModeOf(info),
			})

			names, err := readDirNames(absPath)
			if err != nil {
				return fmt.Errorf("readdir %s: %w", absPath, err)
			}
			fsutil.SortNames(names)
			for _, name := range names {
				if err := visit(filepath.Join(relPath, name), filepath.Join(absPath, name)); err != nil {
					return err
				}
			}

		default:
			ids, size, err := w.chunkFile(absPath)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", absPath, err)
			}
			totalBytes += uint64(size)
			entries = append(entries, manifest.FileEntry{
				Path:   fsutil.ToSlash(relPath),
				Kind:   manifest.KindFile,
				Mode:   fsutil.ModeOf(info),
				Size:   uint64(size),
				Chunks: ids,
			})
		}

		return nil
	}

	if rootInfo.IsDir() {
		names, err := readDirNames(w.opts.RootPath)
		if err != nil {
			return nil, 0, fmt.Errorf("readdir %s: %w", w.opts.RootPath, err)
		}
		fsutil.SortNames(names)
		for _, name := range names {
			if err := visit(name, filepath.Join(w.opts.RootPath, name)); err != nil {
				return nil, 0, err
			}
		}
	} else {
		if err := visit(filepath.Base(w.opts.RootPath), w.opts.RootPath); err != nil {
			return nil, 0, err
		}
	}

	return entries, totalBytes, nil
}

func (w *walker) shouldSkip(relPath string) bool {
	if relPath == "" {
		return false
	}
	slash := fsutil.ToSlash(relPath)
	for _, re := range w.opts.Exclusions {
		if re.MatchString(slash) {
			return true
		}
	}
	return false
}

// chunkFile splits one regular file into fixed-size chunks, scheduling
// an upload task for each chunk not already referenced elsewhere in the
// repository.
func (w *walker) chunkFile(absPath string) ([]chunk.ID, int64, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var ids []chunk.ID
	var size int64

	err = chunk.Split(f, w.opts.ChunkSize, func(c chunk.Chunk) error {
		size += int64(len(c.Data))
		ids = append(ids, c.ID)

		if w.seen[c.ID] {
			return nil
		}
		w.seen[c.ID] = true

		_, firstEver := w.repo.ChunkIndex.AddReference(c.ID)
		if !firstEver {
			return nil
		}

		data := make([]byte, len(c.Data))
		copy(data, c.Data)

		w.eg.Go(func() error {
			return w.uploadChunk(c.ID, data)
		})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ids, size, nil
}

func (w *walker) uploadChunk(id chunk.ID, plaintext []byte) error {
	blob, err := w.repo.Codec.Encode(id[:], plaintext, w.repo.Password)
	if err != nil {
		return fmt.Errorf("encode chunk %s: %w", id, err)
	}

	key := w.repo.ChunkKey(id.Hex())
	exists, err := w.repo.Backend.Exists(w.egCtx, key)
	if err != nil {
		return fmt.Errorf("check chunk %s: %w", id, err)
	}
	if exists {
		atomic.AddInt64(w.uploaded, 1)
		return nil
	}

	if err := w.repo.Backend.Put(w.egCtx, key, bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("upload chunk %s: %w", id, err)
	}
	atomic.AddInt64(w.uploaded, 1)
	return nil
}

func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(0)
}
