package backup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/relique/coldstore/internal/manifest"
	"github.com/relique/coldstore/internal/repo"
	"github.com/relique/coldstore/internal/storage"
)

func openTestRepo(t *testing.T, password string) (*repo.Repo, storage.Backend) {
	t.Helper()
	backend, err := storage.NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	r, err := repo.Open(context.Background(), backend, "myrepo", password)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, backend
}

func fetchManifest(t *testing.T, r *repo.Repo, password, backupID string) *manifest.Manifest {
	t.Helper()
	rc, err := r.Backend.Get(context.Background(), r.BackupKey(backupID))
	if err != nil {
		t.Fatalf("Get manifest: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	plain, err := r.Codec.Decode([]byte(backupID), data, password)
	if err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	m, err := manifest.Decode(plain)
	if err != nil {
		t.Fatalf("manifest.Decode: %v", err)
	}
	return m
}

func TestBackupTinyFileNoEncryption(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "hello.txt"), []byte("Hello, world!\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, _ := openTestRepo(t, "")
	result, err := Run(ctx, r, Options{
		RootPath: src,
		Author:   "tester",
		Message:  "first",
		NowUnix:  1000,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.TotalBytes != 14 {
		t.Fatalf("TotalBytes = %d, want 14", result.TotalBytes)
	}
	if result.ChunksUploaded != 1 {
		t.Fatalf("ChunksUploaded = %d, want 1", result.ChunksUploaded)
	}

	wantDigest := fmt.Sprintf("%x", sha256.Sum256([]byte("Hello, world!\n")))

	m := fetchManifest(t, r, "", result.BackupID)
	if len(m.Entries) != 1 {
		t.Fatalf("manifest entries = %d, want 1", len(m.Entries))
	}
	e := m.Entries[0]
	if e.Path != "hello.txt" || e.Size != 14 || len(e.Chunks) != 1 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Chunks[0].Hex() != wantDigest {
		t.Fatalf("chunk id = %s, want %s", e.Chunks[0].Hex(), wantDigest)
	}

	entries := r.BackupIndex.List()
	if len(entries) != 1 {
		t.Fatalf("backup index length = %d, want 1", len(entries))
	}
}

func TestBackupDedupsIdenticalContentWithinOneRun(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	content := []byte("same bytes in both files")
	if err := os.WriteFile(filepath.Join(src, "a.txt"), content, 0644); err != nil {
		t.Fatalf("WriteFile a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "b.txt"), content, 0644); err != nil {
		t.Fatalf("WriteFile b: %v", err)
	}

	r, _ := openTestRepo(t, "")
	result, err := Run(ctx, r, Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.ChunksUploaded != 1 {
		t.Fatalf("ChunksUploaded = %d, want 1 (dedup across identical files)", result.ChunksUploaded)
	}
	if r.ChunkIndex.Len() != 1 {
		t.Fatalf("chunk index length = %d, want 1", r.ChunkIndex.Len())
	}

	m := fetchManifest(t, r, "", result.BackupID)
	var totalRefs int
	for _, e := range m.Entries {
		totalRefs += len(e.Chunks)
	}
	if totalRefs != 2 {
		t.Fatalf("total chunk references across entries = %d, want 2", totalRefs)
	}
	for _, e := range m.Entries {
		if r.ChunkIndex.Count(e.Chunks[0]) != 1 {
			t.Fatalf("chunk reference count = %d, want 1 (one increment per backup)", r.ChunkIndex.Count(e.Chunks[0]))
		}
	}
}

func TestBackupSingleFileRoot(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	path := filepath.Join(src, "only.txt")
	if err := os.WriteFile(path, []byte("just one file"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, _ := openTestRepo(t, "")
	result, err := Run(ctx, r, Options{RootPath: path, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	m := fetchManifest(t, r, "", result.BackupID)
	if len(m.Entries) != 1 {
		t.Fatalf("manifest entries = %d, want 1", len(m.Entries))
	}
	if m.Entries[0].Path != "only.txt" {
		t.Fatalf("entry path = %q, want %q", m.Entries[0].Path, "only.txt")
	}
}

func TestBackupWithEncryptionRoundTrips(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "secret.txt"), []byte("shh"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, _ := openTestRepo(t, "correct horse battery staple")
	result, err := Run(ctx, r, Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Marker == nil || !r.Marker.Encrypted {
		t.Fatalf("expected repository to be marked encrypted")
	}

	m := fetchManifest(t, r, "correct horse battery staple", result.BackupID)
	if len(m.Entries) != 1 || m.Entries[0].Path != "secret.txt" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestBackupExclusions(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "keep.txt"), []byte("keep"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "skip.tmp"), []byte("skip"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, _ := openTestRepo(t, "")
	result, err := Run(ctx, r, Options{
		RootPath:   src,
		Author:     "t",
		NowUnix:    1,
		Exclusions: []*regexp.Regexp{regexp.MustCompile(`\.tmp$`)},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	m := fetchManifest(t, r, "", result.BackupID)
	if len(m.Entries) != 1 || m.Entries[0].Path != "keep.txt" {
		t.Fatalf("unexpected manifest entries: %+v", m.Entries)
	}
}
