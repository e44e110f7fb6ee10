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

// Package prune implements the repository's two garbage-collection
// operations: deleting one backup (decrementing the chunks it
// references) and pruning the chunk namespace against the chunk index
// (reclaiming true orphans, reporting index entries storage can't back).
package prune

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/chunkidx"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/manifest"
	"github.com/relique/coldstore/internal/repo"
)

// DeleteResult summarizes one delete(backup-id) run.
type DeleteResult struct {
	BackupID       string
	ChunksRemoved  int
	ChunksRetained int
}

// Delete removes one backup: its manifest, its backup index entry, and
// any chunk whose reference count reaches zero as a result. Matches
// spec.md §4.J's delete semantics, including the "one decrement per
// backup per chunk-id" dedup rule mirroring the backup pipeline's own
// per-backup seen-set.
func Delete(ctx context.Context, r *repo.Repo, prefix string) (DeleteResult, error) {
	if err := r.Lock(ctx); err != nil {
		return DeleteResult{}, err
	}
	defer r.Unlock(ctx)

	entry, err := r.BackupIndex.FindByPrefix(prefix)
	if err != nil {
		return DeleteResult{}, err
	}

	m, err := fetchManifest(ctx, r, entry.BackupID)
	if err != nil {
		return DeleteResult{}, err
	}

	unique := make(map[chunk.ID]bool)
	for _, e := range m.Entries {
		for _, id := range e.Chunks {
			unique[id] = true
		}
	}

	var removed, retained int
	for id := range unique {
		if _, zero := r.ChunkIndex.RemoveReference(id); zero {
			if err := r.Backend.Delete(ctx, r.ChunkKey(id.Hex())); err != nil {
				return DeleteResult{}, fmt.Errorf("delete chunk %s: %w", id.Hex(), err)
			}
			removed++
		} else {
			retained++
		}
	}

	if err := r.Backend.Delete(ctx, r.BackupKey(entry.BackupID)); err != nil {
		return DeleteResult{}, fmt.Errorf("delete manifest %s: %w", entry.BackupID, err)
	}
	r.BackupIndex.Remove(entry.BackupID)

	if err := r.PersistChunkIndex(ctx); err != nil {
		return DeleteResult{}, fmt.Errorf("persist chunk index: %w", err)
	}
	if err := r.PersistBackupIndex(ctx); err != nil {
		return DeleteResult{}, fmt.Errorf("persist backup index: %w", err)
	}

	return DeleteResult{
		BackupID:       entry.BackupID,
		ChunksRemoved:  removed,
		ChunksRetained: retained,
	}, nil
}

// PruneOptions configures a Prune run.
type PruneOptions struct {
	// Repair drops chunk index entries whose backing object is missing
	// instead of returning errs.ErrInconsistentRepository, and also
	// force-releases a stale (or any) repository lock before starting,
	// matching spec.md §5's "crash recovery requires the user to invoke
	// prune which also force-releases".
	Repair bool
}

// PruneResult summarizes a Prune run.
type PruneResult struct {
	OrphansDeleted  int // objects in chunks/ with no chunk index entry
	MissingRepaired int // index entries dropped because their object was missing (Repair only)
}

// Prune reconciles the chunk namespace against the chunk index: objects
// under chunks/ that the index no longer references are deleted, and
// index entries whose backing object is missing are either reported as
// errs.ErrInconsistentRepository or, with Repair, dropped and the index
// republished.
func Prune(ctx context.Context, r *repo.Repo, opts PruneOptions) (PruneResult, error) {
	if opts.Repair {
		if err := r.ForceUnlock(ctx); err != nil {
			return PruneResult{}, fmt.Errorf("force-unlock before repair: %w", err)
		}
	}

	if err := r.Lock(ctx); err != nil {
		return PruneResult{}, err
	}
	defer r.Unlock(ctx)

	prefix := r.ChunksPrefix()
	keys, err := r.Backend.List(ctx, prefix)
	if err != nil {
		return PruneResult{}, fmt.Errorf("list chunks: %w", err)
	}

	stored := make(map[chunk.ID]bool, len(keys))
	for _, key := range keys {
		id, ok := parseChunkKey(prefix, key)
		if !ok {
			continue
		}
		stored[id] = true
	}

	indexed := r.ChunkIndex.Snapshot()

	var result PruneResult
	for id := range stored {
		if !indexHas(indexed, id) {
			if err := r.Backend.Delete(ctx, r.ChunkKey(id.Hex())); err != nil {
				return PruneResult{}, fmt.Errorf("delete orphan chunk %s: %w", id.Hex(), err)
			}
			result.OrphansDeleted++
		}
	}

	var missing []chunk.ID
	for _, e := range indexed {
		if !stored[e.ID] {
			missing = append(missing, e.ID)
		}
	}

	if len(missing) > 0 {
		if !opts.Repair {
			return result, fmt.Errorf("%w: %d chunk index entries have no backing object (first: %s)",
				errs.ErrInconsistentRepository, len(missing), missing[0].Hex())
		}
		for _, id := range missing {
			r.ChunkIndex.Drop(id)
			result.MissingRepaired++
		}
		if err := r.PersistChunkIndex(ctx); err != nil {
			return result, fmt.Errorf("persist repaired chunk index: %w", err)
		}
	}

	return result, nil
}

func indexHas(entries []chunkidx.Entry, id chunk.ID) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func fetchManifest(ctx context.Context, r *repo.Repo, backupID string) (*manifest.Manifest, error) {
	rc, err := r.Backend.Get(ctx, r.BackupKey(backupID))
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", backupID, err)
	}
	blob, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", backupID, err)
	}

	plain, err := r.Codec.Decode([]byte(backupID), blob, r.Password)
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", backupID, err)
	}
	return manifest.Decode(plain)
}

// parseChunkKey recovers a chunk.ID from a storage key of the form
// "<prefix>/xx/<62 remaining hex chars>".
func parseChunkKey(prefix, key string) (chunk.ID, bool) {
	rest := strings.TrimPrefix(key, prefix+"/")
	if rest == key {
		return chunk.ID{}, false
	}
	hex := strings.ReplaceAll(rest, "/", "")
	id, err := chunk.ParseID(hex)
	if err != nil {
		return chunk.ID{}, false
	}
	return id, true
}
