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

// Package backupidx implements the repository's backup index: an
// ordered list of snapshot descriptors supporting append, removal, and
// unambiguous prefix lookup. It is rewritten in full on every mutation
// rather than appended to, per the repository's full-rewrite index
// policy (see internal/chunkidx).
package backupidx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/relique/coldstore/internal/errs"
)

// Entry describes one completed backup.
type Entry struct {
	BackupID  string // hex chunk-style digest, lowercase
	Timestamp uint64 // unix seconds, UTC
	Message   string
	Author    string
	ByteCount uint64
}

// Index is the ordered (by timestamp, ties broken by backup-id) list of
// backup entries for one repository.
type Index struct {
	entries []Entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// Append adds e, keeping entries in (timestamp, backup-id) order.
func (idx *Index) Append(e Entry) {
	idx.entries = append(idx.entries, e)
	idx.sort()
}

// Remove deletes the entry with the given (full) backup-id, if present.
func (idx *Index) Remove(backupID string) bool {
	for i, e := range idx.entries {
		if e.BackupID == backupID {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return true
		}
	}
	return false
}

// List returns all entries, oldest first.
func (idx *Index) List() []Entry {
	out := make([]Entry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// FindByPrefix resolves a hex prefix (which may be the full backup-id)
// to exactly one entry. An empty match is ErrNotFound; more than one
// match is an *errs.AmbiguousBackupError.
func (idx *Index) FindByPrefix(prefix string) (Entry, error) {
	prefix = strings.ToLower(prefix)

	var matches []Entry
	for _, e := range idx.entries {
		if strings.HasPrefix(e.BackupID, prefix) {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return Entry{}, fmt.Errorf("%w: no backup matches prefix %q", errs.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.BackupID
		}
		return Entry{}, &errs.AmbiguousBackupError{Prefix: prefix, Matches: ids}
	}
}

func (idx *Index) sort() {
	sort.SliceStable(idx.entries, func(i, j int) bool {
		a, b := idx.entries[i], idx.entries[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.BackupID < b.BackupID
	})
}

const formatVersion uint16 = 1

// Encode serializes the index in timestamp order.
func Encode(idx *Index) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, formatVersion)
	binary.Write(&buf, binary.BigEndian, uint64(len(idx.entries)))
	for _, e := range idx.entries {
		writeString(&buf, e.BackupID)
		binary.Write(&buf, binary.BigEndian, e.Timestamp)
		writeString(&buf, e.Message)
		writeString(&buf, e.Author)
		binary.Write(&buf, binary.BigEndian, e.ByteCount)
	}
	return buf.Bytes()
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Index, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: backup index header: %v", errs.ErrCorrupt, err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: backup index format version %d", errs.ErrCorrupt, version)
	}

	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: backup index count: %v", errs.ErrCorrupt, err)
	}

	idx := New()
	for i := uint64(0); i < n; i++ {
		var e Entry
		var err error
		if e.BackupID, err = readString(r); err != nil {
			return nil, fmt.Errorf("%w: backup index entry %d id: %v", errs.ErrCorrupt, i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: backup index entry %d timestamp: %v", errs.ErrCorrupt, i, err)
		}
		if e.Message, err = readString(r); err != nil {
			return nil, fmt.Errorf("%w: backup index entry %d message: %v", errs.ErrCorrupt, i, err)
		}
		if e.Author, err = readString(r); err != nil {
			return nil, fmt.Errorf("%w: backup index entry %d author: %v", errs.ErrCorrupt, i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &e.ByteCount); err != nil {
			return nil, fmt.Errorf("%w: backup index entry %d byte count: %v", errs.ErrCorrupt, i, err)
		}
		idx.entries = append(idx.entries, e)
	}
	idx.sort()
	return idx, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
