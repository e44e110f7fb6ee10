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

// Package manifest defines the per-backup snapshot manifest and its
// byte-stable serialization: encoding a manifest and re-decoding it must
// yield a structurally equal manifest whose re-encoding is
// byte-identical, since the backup-id is the digest of the encoded
// bytes.
package manifest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/errs"
)

// Kind identifies what a FileEntry represents.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// FileEntry is one record inside a Manifest.
type FileEntry struct {
	Path       string // relative, '/'-separated
	Kind       Kind
	Mode       uint16 // 9 permission bits + type bits
	Size       uint64 // 0 for Dir/Symlink
	LinkTarget string // empty unless Symlink
	Chunks     []chunk.ID
}

// Manifest is the serialized tree for one backup.
type Manifest struct {
	FormatVersion    uint16
	Author           string
	TimestampUnix    uint64
	Message          string
	RepositoryKey    string
	ChunkSize        uint64
	CompressionLevel uint8
	Encrypted        bool
	TotalBytes       uint64
	RootPath         string
	Entries          []FileEntry
}

const formatVersion uint16 = 1

// New returns a Manifest with FormatVersion set and Entries sorted by
// path once populated via SortEntries.
func New() *Manifest {
	return &Manifest{FormatVersion: formatVersion}
}

// SortEntries orders Entries lexicographically by path byte value, as
// required for byte-stable encoding.
func (m *Manifest) SortEntries() {
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Path < m.Entries[j].Path
	})
}

// Encode serializes m. Callers must have called SortEntries (New's
// callers build entries in traversal order and sort once at the end).
func Encode(m *Manifest) []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.BigEndian, m.FormatVersion)
	writeString(&buf, m.Author)
	binary.Write(&buf, binary.BigEndian, m.TimestampUnix)
	writeString(&buf, m.Message)
	writeString(&buf, m.RepositoryKey)
	binary.Write(&buf, binary.BigEndian, m.ChunkSize)
	buf.WriteByte(m.CompressionLevel)
	buf.WriteByte(boolByte(m.Encrypted))
	binary.Write(&buf, binary.BigEndian, m.TotalBytes)
	writeString(&buf, m.RootPath)
	binary.Write(&buf, binary.BigEndian, uint64(len(m.Entries)))

	for _, e := range m.Entries {
		writeString(&buf, e.Path)
		buf.WriteByte(byte(e.Kind))
		binary.Write(&buf, binary.BigEndian, e.Mode)
		binary.Write(&buf, binary.BigEndian, e.Size)
		writeString(&buf, e.LinkTarget)
		binary.Write(&buf, binary.BigEndian, uint64(len(e.Chunks)))
		for _, id := range e.Chunks {
			buf.Write(id[:])
		}
	}

	return buf.Bytes()
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Manifest, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	m := &Manifest{}
	var err error

	if err = binary.Read(r, binary.BigEndian, &m.FormatVersion); err != nil {
		return nil, wrapCorrupt("format_version", err)
	}
	if m.FormatVersion != formatVersion {
		return nil, fmt.Errorf("%w: manifest format version %d", errs.ErrCorrupt, m.FormatVersion)
	}
	if m.Author, err = readString(r); err != nil {
		return nil, wrapCorrupt("author", err)
	}
	if err = binary.Read(r, binary.BigEndian, &m.TimestampUnix); err != nil {
		return nil, wrapCorrupt("timestamp_unix", err)
	}
	if m.Message, err = readString(r); err != nil {
		return nil, wrapCorrupt("message", err)
	}
	if m.RepositoryKey, err = readString(r); err != nil {
		return nil, wrapCorrupt("repository_key", err)
	}
	if err = binary.Read(r, binary.BigEndian, &m.ChunkSize); err != nil {
		return nil, wrapCorrupt("chunk_size", err)
	}
	if m.CompressionLevel, err = r.ReadByte(); err != nil {
		return nil, wrapCorrupt("compression_level", err)
	}
	encByte, err := r.ReadByte()
	if err != nil {
		return nil, wrapCorrupt("encrypted", err)
	}
	m.Encrypted = encByte != 0
	if err = binary.Read(r, binary.BigEndian, &m.TotalBytes); err != nil {
		return nil, wrapCorrupt("total_bytes", err)
	}
	if m.RootPath, err = readString(r); err != nil {
		return nil, wrapCorrupt("root_path", err)
	}

	var numEntries uint64
	if err = binary.Read(r, binary.BigEndian, &numEntries); err != nil {
		return nil, wrapCorrupt("entries count", err)
	}

	m.Entries = make([]FileEntry, 0, numEntries)
	for i := uint64(0); i < numEntries; i++ {
		var e FileEntry
		if e.Path, err = readString(r); err != nil {
			return nil, wrapCorrupt(fmt.Sprintf("entry %d path", i), err)
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, wrapCorrupt(fmt.Sprintf("entry %d kind", i), err)
		}
		e.Kind = Kind(kindByte)
		if err := binary.Read(r, binary.BigEndian, &e.Mode); err != nil {
			return nil, wrapCorrupt(fmt.Sprintf("entry %d mode", i), err)
		}
		if err := binary.Read(r, binary.BigEndian, &e.Size); err != nil {
			return nil, wrapCorrupt(fmt.Sprintf("entry %d size", i), err)
		}
		if e.LinkTarget, err = readString(r); err != nil {
			return nil, wrapCorrupt(fmt.Sprintf("entry %d link_target", i), err)
		}
		var numChunks uint64
		if err := binary.Read(r, binary.BigEndian, &numChunks); err != nil {
			return nil, wrapCorrupt(fmt.Sprintf("entry %d chunks count", i), err)
		}
		e.Chunks = make([]chunk.ID, numChunks)
		for j := uint64(0); j < numChunks; j++ {
			if _, err := io.ReadFull(r, e.Chunks[j][:]); err != nil {
				return nil, wrapCorrupt(fmt.Sprintf("entry %d chunk %d", i, j), err)
			}
		}
		m.Entries = append(m.Entries, e)
	}

	return m, nil
}

// BackupID returns the hex digest of the serialized manifest bytes,
// which is the manifest's content-addressed identity.
func BackupID(encoded []byte) string {
	sum := sha256.Sum256(encoded)
	return fmt.Sprintf("%x", sum[:])
}

func wrapCorrupt(field string, err error) error {
	return fmt.Errorf("%w: manifest %s: %v", errs.ErrCorrupt, field, err)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
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
