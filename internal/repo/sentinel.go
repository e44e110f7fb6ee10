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

package repo

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/relique/coldstore/internal/errs"
)

// lockSentinel is the object written to locks/writer while a mutating
// operation holds the repository lock. It carries just enough to let a
// second writer report whose lock it's blocked on and how old it is.
type lockSentinel struct {
	ID          string
	CreatedUnix int64
}

func encodeSentinel(s lockSentinel) []byte {
	var buf bytes.Buffer
	writeShortString(&buf, s.ID)
	binary.Write(&buf, binary.BigEndian, s.CreatedUnix)
	return buf.Bytes()
}

func decodeSentinel(data []byte) (lockSentinel, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	var s lockSentinel

	id, err := readShortString(r)
	if err != nil {
		return s, fmt.Errorf("%w: lock sentinel id: %v", errs.ErrCorrupt, err)
	}
	s.ID = id

	if err := binary.Read(r, binary.BigEndian, &s.CreatedUnix); err != nil {
		return s, fmt.Errorf("%w: lock sentinel created_unix: %v", errs.ErrCorrupt, err)
	}
	return s, nil
}

func writeShortString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readShortString(r *bufio.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}
