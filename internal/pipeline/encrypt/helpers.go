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

package encrypt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/repo"
)

// runBounded applies fn to every item in items with at most concurrency
// in flight at once, the same errgroup.SetLimit pattern the backup and
// restore pipelines use.
func runBounded(ctx context.Context, concurrency int, items []string, fn func(context.Context, string) error) (int, error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)

	for _, item := range items {
		item := item
		eg.Go(func() error {
			return fn(egCtx, item)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func readAll(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

// chunkIDForKey recovers a chunk-id, and the associated-data bytes
// bound into its AEAD tag, from its storage key's sharded
// "<prefix>/xx/<rest>" layout, the same one repo.ChunkKey produces.
func chunkIDForKey(r *repo.Repo, key string) (chunk.ID, []byte, error) {
	prefix := r.ChunksPrefix()
	rest := strings.TrimPrefix(key, prefix+"/")
	if rest == key {
		return chunk.ID{}, nil, fmt.Errorf("chunk key %q outside of %q", key, prefix)
	}
	hex := strings.ReplaceAll(rest, "/", "")
	id, err := chunk.ParseID(hex)
	if err != nil {
		return chunk.ID{}, nil, fmt.Errorf("chunk key %q: %w", key, err)
	}
	return id, id[:], nil
}

// backupIDForManifestKey recovers a manifest's backup-id (the
// associated data bound into its envelope) from its storage key.
func backupIDForManifestKey(r *repo.Repo, key string) string {
	prefix := r.BackupsPrefix()
	return strings.TrimPrefix(key, prefix+"/")
}
