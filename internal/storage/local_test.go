package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"testing"

	"github.com/relique/coldstore/internal/errs"
)

func TestLocalPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	want := []byte("chunk payload")
	if err := l.Put(ctx, "chunks/ab/cdef", bytes.NewReader(want)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r, err := l.Get(ctx, "chunks/ab/cdef")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLocalExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	exists, err := l.Exists(ctx, "backups/abc")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatalf("expected key absent")
	}

	if err := l.Put(ctx, "backups/abc", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err = l.Exists(ctx, "backups/abc")
	if err != nil || !exists {
		t.Fatalf("Exists after Put = %v, %v; want true, nil", exists, err)
	}

	if err := l.Delete(ctx, "backups/abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Idempotent.
	if err := l.Delete(ctx, "backups/abc"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	exists, err = l.Exists(ctx, "backups/abc")
	if err != nil || exists {
		t.Fatalf("Exists after Delete = %v, %v; want false, nil", exists, err)
	}
}

func TestLocalPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	ok, err := l.PutIfAbsent(ctx, "locks/writer", bytes.NewReader([]byte("first")))
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent = %v, %v; want true, nil", ok, err)
	}

	ok, err = l.PutIfAbsent(ctx, "locks/writer", bytes.NewReader([]byte("second")))
	if err != nil || ok {
		t.Fatalf("second PutIfAbsent = %v, %v; want false, nil", ok, err)
	}

	r, err := l.Get(ctx, "locks/writer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "first" {
		t.Fatalf("got %q, want %q (second PutIfAbsent must not overwrite)", got, "first")
	}
}

func TestLocalGetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	_, err = l.Get(ctx, "does/not/exist")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Get missing key = %v, want ErrNotFound", err)
	}
}

func TestLocalList(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	keys := []string{"chunks/aa/111", "chunks/aa/222", "chunks/bb/333", "indexes/chunks"}
	for _, k := range keys {
		if err := l.Put(ctx, k, bytes.NewReader([]byte("v"))); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	got, err := l.List(ctx, "chunks/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(got)
	want := []string{"chunks/aa/111", "chunks/aa/222", "chunks/bb/333"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
