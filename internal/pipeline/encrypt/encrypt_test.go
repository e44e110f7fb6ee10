package encrypt

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/pipeline/backup"
	"github.com/relique/coldstore/internal/pipeline/restore"
	"github.com/relique/coldstore/internal/repo"
	"github.com/relique/coldstore/internal/storage"
)

func openTestRepo(t *testing.T, password string) (*repo.Repo, storage.Backend, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "repo")
	backend, err := storage.NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	r, err := repo.Open(context.Background(), backend, "myrepo", password)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, backend, root
}

func reopen(t *testing.T, backend storage.Backend, password string) *repo.Repo {
	t.Helper()
	r, err := repo.Open(context.Background(), backend, "myrepo", password)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	return r
}

// TestEncryptNeverBackedUpRepository turns a brand-new repository with
// no marker at all straight into an encrypted one; nothing has been
// written yet, so the run should simply establish the marker.
func TestEncryptNeverBackedUpRepository(t *testing.T) {
	ctx := context.Background()
	r, backend, _ := openTestRepo(t, "")

	if r.Marker != nil {
		t.Fatalf("fresh repository should have no marker yet")
	}

	res, err := Run(ctx, r, Options{NewPassword: "new password"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ChunksRewritten != 0 || res.ManifestsRewritten != 0 {
		t.Fatalf("unexpected rewrite counts on an empty repository: %+v", res)
	}

	reopened := reopen(t, backend, "new password")
	if reopened.Marker == nil || !reopened.Marker.Encrypted {
		t.Fatalf("marker should now record Encrypted = true")
	}
}

// TestEncryptExistingUnencryptedRepository covers the gap between "no
// marker yet" and "already encrypted": a repository that already has
// backups stored without a password, turned encrypted for the first
// time. Every existing chunk and manifest must decode correctly under
// the new codec and be restorable under the new password afterward.
func TestEncryptExistingUnencryptedRepository(t *testing.T) {
	ctx := context.Background()
	r, backend, _ := openTestRepo(t, "")

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("plain content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}

	res, err := Run(ctx, r, Options{NewPassword: "fresh secret"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ChunksRewritten != 1 {
		t.Fatalf("ChunksRewritten = %d, want 1", res.ChunksRewritten)
	}
	if res.ManifestsRewritten != 1 {
		t.Fatalf("ManifestsRewritten = %d, want 1", res.ManifestsRewritten)
	}

	if _, err := repo.Open(ctx, backend, "myrepo", ""); err == nil {
		t.Fatalf("reopening without a password should fail now that the repository is encrypted")
	}

	withPassword := reopen(t, backend, "fresh secret")
	if withPassword.Marker == nil || !withPassword.Marker.Encrypted {
		t.Fatalf("marker should record Encrypted = true after reopening")
	}
	dst2 := t.TempDir()
	if _, err := restore.Run(ctx, withPassword, restore.Options{Prefix: bres.BackupID, TargetDir: dst2}); err != nil {
		t.Fatalf("restore with new password: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst2, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("plain content")) {
		t.Fatalf("contents = %q", got)
	}
}

// TestEncryptRotatesPasswordOnAlreadyEncryptedRepository rotates the
// password of a repository that is already encrypted: the old password
// must stop working and the new one must restore byte-for-byte.
func TestEncryptRotatesPasswordOnAlreadyEncryptedRepository(t *testing.T) {
	ctx := context.Background()
	r, backend, _ := openTestRepo(t, "old password")

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "secret.txt"), []byte("rotate me"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	bres, err := backup.Run(ctx, r, backup.Options{RootPath: src, Author: "t", NowUnix: 1})
	if err != nil {
		t.Fatalf("backup.Run: %v", err)
	}
	oldParams := r.Marker.KDFParams

	res, err := Run(ctx, r, Options{NewPassword: "new password"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ChunksRewritten != 1 || res.ManifestsRewritten != 1 {
		t.Fatalf("unexpected rewrite counts: %+v", res)
	}

	if _, err := repo.Open(ctx, backend, "myrepo", "old password"); !errors.Is(err, errs.ErrWrongPassword) {
		t.Fatalf("reopening with the old password: err = %v, want ErrWrongPassword", err)
	}

	withNewPassword := reopen(t, backend, "new password")
	if withNewPassword.Marker.KDFParams != oldParams {
		t.Fatalf("KDF params must not change on a password rotation: got %+v, want %+v", withNewPassword.Marker.KDFParams, oldParams)
	}
	dst2 := t.TempDir()
	if _, err := restore.Run(ctx, withNewPassword, restore.Options{Prefix: bres.BackupID, TargetDir: dst2}); err != nil {
		t.Fatalf("restore with new password: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst2, "secret.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("rotate me")) {
		t.Fatalf("contents = %q", got)
	}
}

func TestEncryptRejectsEmptyNewPassword(t *testing.T) {
	ctx := context.Background()
	r, _, _ := openTestRepo(t, "")

	_, err := Run(ctx, r, Options{NewPassword: ""})
	if !errors.Is(err, errs.ErrUserInput) {
		t.Fatalf("err = %v, want ErrUserInput", err)
	}
}
