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

// Package chunkidx implements the repository's reference-counted chunk
// catalog: which chunk-ids exist and how many backups reference each
// one. It is touched by every worker in the backup pipeline, so access
// is serialized through a single mutex; contention is negligible next
// to the hash/compress/upload work surrounding each touch.
package chunkidx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/relique/coldstore/internal/chunk"
	"github.com/relique/coldstore/internal/errs"
)

// Index is the in-memory chunk-id -> reference-count map. The zero value
// is an empty index ready to use.
type Index struct {
	mu     sync.Mutex
	counts map[chunk.ID]uint64
}

// New returns an empty Index.
func New() *Index {
	return &Index{counts: make(map[chunk.ID]uint64)}
}

// AddReference inserts id with count 1, or increments its existing
// count, and returns the count after the update along with whether this
// was the first reference (i.e. the chunk needs uploading).
func (idx *Index) AddReference(id chunk.ID) (count uint64, first bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	count = idx.counts[id] + 1
	first = idx.counts[id] == 0
	idx.counts[id] = count
	return
}

// RemoveReference decrements id's count. If the count reaches zero the
// entry is removed and removed reports true, meaning the caller should
// schedule the chunk object for deletion.
func (idx *Index) RemoveReference(id chunk.ID) (count uint64, removed bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, ok := idx.counts[id]
	if !ok || c == 0 {
		return 0, false
	}
	c--
	if c == 0 {
		delete(idx.counts, id)
		return 0, true
	}
	idx.counts[id] = c
	return c, false
}

// Drop removes id's entry unconditionally, regardless of its reference
// count. Used only by `prune --repair` to discard index entries whose
// backing chunk object has gone missing; ordinary reference-count
// bookkeeping goes through RemoveReference instead.
func (idx *Index) Drop(id chunk.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.counts, id)
}

// Contains reports whether id has a positive reference count.
func (idx *Index) Contains(id chunk.ID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.counts[id] > 0
}

// Count returns id's current reference count (0 if absent).
func (idx *Index) Count(id chunk.ID) uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.counts[id]
}

// Len returns the number of distinct chunk-ids with a positive count.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.counts)
}

// Snapshot returns a sorted copy of the index's (id, count) pairs,
// suitable for serialization. A count of zero never appears: such
// entries are deleted from the map as soon as they reach zero.
func (idx *Index) Snapshot() []Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := make([]Entry, 0, len(idx.counts))
	for id, count := range idx.counts {
		entries = append(entries, Entry{ID: id, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].ID[:], entries[j].ID[:]) < 0
	})
	return entries
}

// Entry is one (chunk-id, reference count) pair.
type Entry struct {
	ID    chunk.ID
	Count uint64
}

// Encode serializes the index as a sorted sequence of (id, count) pairs.
// The format is a small fixed header followed by one record per entry;
// it is deliberately simple since the index is rewritten in full on
// every mutation rather than appended to.
func Encode(idx *Index) []byte {
	entries := idx.Snapshot()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, formatVersion)
	binary.Write(&buf, binary.BigEndian, uint64(len(entries)))
	for _, e := range entries {
		buf.Write(e.ID[:])
		binary.Write(&buf, binary.BigEndian, e.Count)
	}
	return buf.Bytes()
}

const formatVersion uint16 = 1

// Decode parses bytes produced by Encode into a fresh Index.
func Decode(data []byte) (*Index, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: chunk index header: %v", errs.ErrCorrupt, err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: chunk index format version %d", errs.ErrCorrupt, version)
	}

	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: chunk index count: %v", errs.ErrCorrupt, err)
	}

	idx := New()
	for i := uint64(0); i < n; i++ {
		var id chunk.ID
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("%w: chunk index entry %d id: %v", errs.ErrCorrupt, i, err)
		}
		var count uint64
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: chunk index entry %d count: %v", errs.ErrCorrupt, i, err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: chunk index entry %d has zero count", errs.ErrCorrupt, i)
		}
		idx.counts[id] = count
	}
	return idx, nil
}
