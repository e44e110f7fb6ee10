package chunkidx

import (
	"testing"

	"github.com/relique/coldstore/internal/chunk"
)

func id(b byte) chunk.ID {
	var i chunk.ID
	i[0] = b
	return i
}

func TestAddAndRemoveReference(t *testing.T) {
	idx := New()

	count, first := idx.AddReference(id(1))
	if count != 1 || !first {
		t.Fatalf("first AddReference = (%d, %v), want (1, true)", count, first)
	}

	count, first = idx.AddReference(id(1))
	if count != 2 || first {
		t.Fatalf("second AddReference = (%d, %v), want (2, false)", count, first)
	}

	count, removed := idx.RemoveReference(id(1))
	if count != 1 || removed {
		t.Fatalf("RemoveReference = (%d, %v), want (1, false)", count, removed)
	}

	count, removed = idx.RemoveReference(id(1))
	if count != 0 || !removed {
		t.Fatalf("RemoveReference (last) = (%d, %v), want (0, true)", count, removed)
	}

	if idx.Contains(id(1)) {
		t.Fatalf("expected id to be gone after last reference removed")
	}
}

func TestSnapshotSortedAndRoundTrips(t *testing.T) {
	idx := New()
	idx.AddReference(id(3))
	idx.AddReference(id(1))
	idx.AddReference(id(1))
	idx.AddReference(id(2))

	entries := idx.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("Snapshot len = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if string(entries[i-1].ID[:]) >= string(entries[i].ID[:]) {
			t.Fatalf("Snapshot not sorted at index %d", i)
		}
	}

	data := Encode(idx)
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Count(id(1)) != 2 || decoded.Count(id(2)) != 1 || decoded.Count(id(3)) != 1 {
		t.Fatalf("decoded counts mismatch: 1=%d 2=%d 3=%d", decoded.Count(id(1)), decoded.Count(id(2)), decoded.Count(id(3)))
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x02, 0, 0, 0, 0, 0, 0, 0, 0})
	if err == nil {
		t.Fatalf("expected error for bad format version")
	}
}
