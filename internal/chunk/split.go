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

package chunk

import (
	"io"
)

// Chunk is one fixed-size piece of a stream: its plaintext bytes and the
// id computed from them.
type Chunk struct {
	ID   ID
	Data []byte
}

// Splitter reads successive chunks of exactly Size bytes from an
// underlying reader (the final chunk may be shorter). Peak memory is
// bounded by Size: each call to Next reuses the splitter's internal
// buffer rather than accumulating the whole stream.
type Splitter struct {
	r    io.Reader
	size int
	buf  []byte
	done bool
}

// NewSplitter returns a Splitter over r using the given chunk size in
// bytes. Callers should validate size with ValidateSize first.
func NewSplitter(r io.Reader, size int) *Splitter {
	return &Splitter{r: r, size: size, buf: make([]byte, size)}
}

// Next reads and returns the next chunk, or io.EOF once the stream is
// exhausted. The returned Chunk's Data slice is only valid until the
// next call to Next; callers that need to retain it must copy.
func (s *Splitter) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
		// Full buffer; there may be more data, or this may exactly end
		// the stream. Either way emit it as-is.
	case err == io.ErrUnexpectedEOF:
		s.done = true
		if n == 0 {
			return Chunk{}, io.EOF
		}
	case err == io.EOF:
		s.done = true
		return Chunk{}, io.EOF
	default:
		return Chunk{}, err
	}

	data := s.buf[:n]
	return Chunk{ID: ComputeID(data), Data: data}, nil
}

// Split reads all chunks from r and invokes fn for each in order,
// stopping at the first error fn returns.
func Split(r io.Reader, size int, fn func(Chunk) error) error {
	sp := NewSplitter(r, size)
	for {
		c, err := sp.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}
