package restore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/relique/coldstore/internal/backupidx"
	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/manifest"
	"github.com/relique/coldstore/internal/pipeline/backup"
	"github.com/relique/coldstore/internal/repo"
	"github.com/relique/coldstore/internal/storage"
)

func openTestRepo(t *testing.T, password string) *repo.Repo {
	t.Helper()
	backend, err := storage.NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	r, err := repo.Open(context.Background(), backend, "myrepo", password)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
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

func TestRoundTripPreservesContentsAndModes(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()

	if err := os.MkdirAll(filepath.Join(src, "sub"), 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "top.txt"), []byte("top level"), 0644); err != nil {
		t.Fatalf("WriteFile top: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested contents"), 0640); err != nil {
		t.Fatalf("WriteFile nested: %v", err)
	}
	if err := os.Symlink("nested.txt", filepath.Join(src, "sub", "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	r := openTestRepo(t, "")
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}

	dst := t.TempDir()
	rres, err := Run(ctx, r, Options{Prefix: bres.BackupID, TargetDir: dst})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rres.BackupID != bres.BackupID {
		t.Fatalf("restored backup id = %s, want %s", rres.BackupID, bres.BackupID)
	}
	if rres.FilesCount != 2 {
		t.Fatalf("FilesCount = %d, want 2", rres.FilesCount)
	}

	top, err := os.ReadFile(filepath.Join(dst, "top.txt"))
	if err != nil {
		t.Fatalf("ReadFile top: %v", err)
	}
	if !bytes.Equal(top, []byte("top level")) {
		t.Fatalf("top.txt contents = %q", top)
	}

	nested, err := os.ReadFile(filepath.Join(dst, "sub", "nested.txt"))
	if err != nil {
		t.Fatalf("ReadFile nested: %v", err)
	}
	if !bytes.Equal(nested, []byte("nested contents")) {
		t.Fatalf("nested.txt contents = %q", nested)
	}

	info, err := os.Stat(filepath.Join(dst, "sub", "nested.txt"))
	if err != nil {
		t.Fatalf("Stat nested: %v", err)
	}
	if info.Mode().Perm() != 0640 {
		t.Fatalf("nested.txt mode = %v, want 0640", info.Mode().Perm())
	}

	target, err := os.Readlink(filepath.Join(dst, "sub", "link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "nested.txt" {
		t.Fatalf("link target = %q, want %q", target, "nested.txt")
	}

	dirInfo, err := os.Stat(filepath.Join(dst, "sub"))
	if err != nil {
		t.Fatalf("Stat sub: %v", err)
	}
	if dirInfo.Mode().Perm() != 0700 {
		t.Fatalf("sub dir mode = %v, want 0700", dirInfo.Mode().Perm())
	}
}

func TestRoundTripWithEncryption(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "secret.txt"), []byte("shh"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := openTestRepo(t, "correct horse battery staple")
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}

	dst := t.TempDir()
	if _, err := Run(ctx, r, Options{Prefix: bres.BackupID, TargetDir: dst}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "secret.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("shh")) {
		t.Fatalf("contents = %q, want %q", got, "shh")
	}
}

func TestRestoreMultiChunkFile(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()

	// Three times the minimum chunk size so the file splits into several
	// chunks, exercising the per-file ordered fetch/writeback path rather
	// than the single-chunk case the other tests cover.
	const chunkSize = 1 << 20
	content := bytes.Repeat([]byte("x"), 3*chunkSize+17)
	if err := os.WriteFile(filepath.Join(src, "big.bin"), content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := openTestRepo(t, "")
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1, ChunkSize: chunkSize})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}
	// The three full chunks are identical runs of 'x' and dedupe to one
	// uploaded object; the 17-byte tail is the second.
	if bres.ChunksUploaded != 2 {
		t.Fatalf("ChunksUploaded = %d, want 2", bres.ChunksUploaded)
	}

	dst := t.TempDir()
	if _, err := Run(ctx, r, Options{Prefix: bres.BackupID, TargetDir: dst, Concurrency: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "big.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("restored content mismatch, len=%d want=%d", len(got), len(content))
	}
}

func TestRestoreUnambiguousPrefix(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := openTestRepo(t, "")
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}

	dst := t.TempDir()
	result, err := Run(ctx, r, Options{Prefix: bres.BackupID[:8], TargetDir: dst})
	if err != nil {
		t.Fatalf("Run with prefix: %v", err)
	}
	if result.BackupID != bres.BackupID {
		t.Fatalf("resolved id = %s, want %s", result.BackupID, bres.BackupID)
	}
}

func TestRestoreUnknownPrefixIsNotFound(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t, "")
	dst := t.TempDir()

	_, err := Run(ctx, r, Options{Prefix: "deadbeef", TargetDir: dst})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRestoreAmbiguousPrefix(t *testing.T) {
	ctx := context.Background()
	r := openTestRepo(t, "")

	r.BackupIndex.Append(backupidx.Entry{BackupID: "aaaa1111", Timestamp: 1})
	r.BackupIndex.Append(backupidx.Entry{BackupID: "aaaa2222", Timestamp: 2})

	dst := t.TempDir()
	_, err := Run(ctx, r, Options{Prefix: "aaaa", TargetDir: dst})
	var ambiguous *errs.AmbiguousBackupError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want *errs.AmbiguousBackupError", err)
	}
}

func TestRestoreDetectsCorruptChunk(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f.txt"), []byte("clean content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := openTestRepo(t, "")
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}

	m := fetchManifest(t, r, "", bres.BackupID)
	if len(m.Entries) != 1 || len(m.Entries[0].Chunks) != 1 {
		t.Fatalf("unexpected manifest shape: %+v", m.Entries)
	}
	id := m.Entries[0].Chunks[0]

	tampered, err := r.Codec.Encode(id[:], []byte("not the original plaintext"), r.Password)
	if err != nil {
		t.Fatalf("encode tampered chunk: %v", err)
	}
	if err := r.Backend.Put(ctx, r.ChunkKey(id.Hex()), bytes.NewReader(tampered)); err != nil {
		t.Fatalf("overwrite chunk: %v", err)
	}

	dst := t.TempDir()
	_, err = Run(ctx, r, Options{Prefix: bres.BackupID, TargetDir: dst})
	if !errors.Is(err, errs.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestRestoreContinueOnErrorReportsFailureAndRestoresRest(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "good.txt"), []byte("fine"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "bad.txt"), []byte("will be deleted"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := openTestRepo(t, "")
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}

	m := fetchManifest(t, r, "", bres.BackupID)
	var badChunk string
	for _, e := range m.Entries {
		if e.Path == "bad.txt" {
			badChunk = r.ChunkKey(e.Chunks[0].Hex())
		}
	}
	if badChunk == "" {
		t.Fatalf("couldn't find bad.txt's chunk key in manifest: %+v", m.Entries)
	}
	if err := r.Backend.Delete(ctx, badChunk); err != nil {
		t.Fatalf("delete chunk: %v", err)
	}

	dst := t.TempDir()
	result, err := Run(ctx, r, Options{Prefix: bres.BackupID, TargetDir: dst, ContinueOnError: true})
	var partial *PartialRestoreError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want *PartialRestoreError", err)
	}
	if len(result.Failures) != 1 || result.Failures[0].Path != "bad.txt" {
		t.Fatalf("Failures = %+v, want exactly bad.txt", result.Failures)
	}

	got, err := os.ReadFile(filepath.Join(dst, "good.txt"))
	if err != nil {
		t.Fatalf("ReadFile good.txt: %v", err)
	}
	if string(got) != "fine" {
		t.Fatalf("good.txt = %q, want %q", got, "fine")
	}
	if _, err := os.Stat(filepath.Join(dst, "bad.txt")); !os.IsNotExist(err) {
		t.Fatalf("bad.txt should not have been materialized, stat err = %v", err)
	}
}
