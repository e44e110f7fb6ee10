package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/relique/coldstore/internal/backupidx"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/keys"
	"github.com/relique/coldstore/internal/storage"
)

func newLocalRepo(t *testing.T) *Repo {
	t.Helper()
	backend, err := storage.NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	r, err := Open(context.Background(), backend, "myrepo", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestOpenFreshRepositoryStartsEmpty(t *testing.T) {
	r := newLocalRepo(t)
	if r.Marker != nil {
		t.Fatalf("expected no marker on a fresh repository")
	}
	if r.ChunkIndex.Len() != 0 {
		t.Fatalf("expected empty chunk index")
	}
	if len(r.BackupIndex.List()) != 0 {
		t.Fatalf("expected empty backup index")
	}
}

func TestEnsureMarkerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newLocalRepo(t)

	if err := r.EnsureMarker(ctx, true, keys.DefaultParams); err != nil {
		t.Fatalf("EnsureMarker: %v", err)
	}
	if r.Marker == nil || !r.Marker.Encrypted {
		t.Fatalf("expected encrypted marker, got %+v", r.Marker)
	}

	// A second call with different args must not change the first marker.
	if err := r.EnsureMarker(ctx, false, keys.Params{}); err != nil {
		t.Fatalf("EnsureMarker (2nd): %v", err)
	}
	if !r.Marker.Encrypted {
		t.Fatalf("second EnsureMarker call must not overwrite the first marker")
	}
}

func TestPersistAndReopenIndexes(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	r, err := Open(ctx, backend, "myrepo", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var id [32]byte
	id[0] = 0xAB
	r.ChunkIndex.AddReference(id)
	if err := r.PersistChunkIndex(ctx); err != nil {
		t.Fatalf("PersistChunkIndex: %v", err)
	}

	r.BackupIndex.Append(backupidx.Entry{BackupID: "deadbeef", Timestamp: 100, Message: "m", Author: "a", ByteCount: 10})
	if err := r.PersistBackupIndex(ctx); err != nil {
		t.Fatalf("PersistBackupIndex: %v", err)
	}

	r2, err := Open(ctx, backend, "myrepo", "")
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if r2.ChunkIndex.Len() != 1 {
		t.Fatalf("reopened chunk index len = %d, want 1", r2.ChunkIndex.Len())
	}
	if len(r2.BackupIndex.List()) != 1 {
		t.Fatalf("reopened backup index len = %d, want 1", len(r2.BackupIndex.List()))
	}
}

func TestLockExcludesSecondWriter(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	r1, _ := Open(ctx, backend, "myrepo", "")
	if err := r1.Lock(ctx); err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	r2, _ := Open(ctx, backend, "myrepo", "")
	err = r2.Lock(ctx)
	if !errors.Is(err, errs.ErrLocked) {
		t.Fatalf("second Lock = %v, want ErrLocked", err)
	}

	if err := r1.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := r2.Lock(ctx); err != nil {
		t.Fatalf("Lock after Unlock: %v", err)
	}
}

func TestForceUnlockReleasesRegardlessOfHolder(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	r1, _ := Open(ctx, backend, "myrepo", "")
	if err := r1.Lock(ctx); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	r2, _ := Open(ctx, backend, "myrepo", "")
	if err := r2.ForceUnlock(ctx); err != nil {
		t.Fatalf("ForceUnlock: %v", err)
	}
	if err := r2.Lock(ctx); err != nil {
		t.Fatalf("Lock after ForceUnlock: %v", err)
	}
}
