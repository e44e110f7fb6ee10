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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/relique/coldstore/internal/errs"
)

// Local is a Backend rooted at a directory on the local filesystem (or
// anything mounted to look like one, including SMB shares). Keys map
// onto paths under the root using filepath.Join, so '/' in a key
// becomes a directory separator.
type Local struct {
	root string
}

// NewLocal returns a Backend rooted at dir. dir is created if absent.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", dir, err)
	}
	return &Local{root: dir}, nil
}

func (l *Local) String() string {
	return "local:" + l.root
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Put writes r to a temp file alongside the destination and renames it
// into place, so a reader never observes a partially-written object.
func (l *Local) Put(ctx context.Context, key string, r io.Reader) error {
	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", errs.ErrBackendFatal, key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".coldstore-tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", errs.ErrBackendFatal, key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", errs.ErrBackendFatal, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", errs.ErrBackendFatal, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", errs.ErrBackendFatal, key, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("%w: rename into place %s: %v", errs.ErrBackendFatal, key, err)
	}
	return nil
}

// PutIfAbsent claims dest by creating it directly with O_EXCL, which is
// atomic on a local filesystem (unlike Put's temp+rename, which would
// happily clobber an existing file).
func (l *Local) PutIfAbsent(ctx context.Context, key string, r io.Reader) (bool, error) {
	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, fmt.Errorf("%w: mkdir for %s: %v", errs.ErrBackendFatal, key, err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: create %s: %v", errs.ErrBackendFatal, key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(dest)
		return false, fmt.Errorf("%w: write %s: %v", errs.ErrBackendFatal, key, err)
	}
	return true, nil
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errs.ErrBackendFatal, key, err)
	}
	return f, nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", errs.ErrBackendFatal, key, err)
	}
	return true, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", errs.ErrBackendFatal, key, err)
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	base := l.path(prefix)
	var keys []string

	err := filepath.Walk(l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasPrefix(p, base) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", errs.ErrBackendFatal, prefix, err)
	}
	return keys, nil
}
