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

	"github.com/relique/coldstore/internal/errs"
	"github.com/relique/coldstore/internal/keys"
)

const markerFormatVersion uint16 = 1

// Marker is the small object at <key>/marker recording enough to
// reproduce chunk encryption for this repository: whether it is
// encrypted at all, and if so the Argon2id parameters used to derive
// chunk keys. It is written once, on the first backup, and never
// changes except via the encrypt command.
type Marker struct {
	FormatVersion uint16
	Encrypted     bool
	KDFParams     keys.Params
}

// NewMarker returns a marker for a fresh repository.
func NewMarker(encrypted bool, params keys.Params) Marker {
	return Marker{FormatVersion: markerFormatVersion, Encrypted: encrypted, KDFParams: params}
}

// EncodeMarker serializes a marker. Markers are small and infrequently
// written/read, so this reuses the same plain big-endian framing as the
// indexes rather than going through the chunk codec: there's nothing to
// compress and nothing to authenticate until a password exists.
func EncodeMarker(m Marker) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.FormatVersion)
	buf.WriteByte(boolByte(m.Encrypted))
	binary.Write(&buf, binary.BigEndian, m.KDFParams.Memory)
	binary.Write(&buf, binary.BigEndian, m.KDFParams.Time)
	buf.WriteByte(m.KDFParams.Parallelism)
	return buf.Bytes()
}

// DecodeMarker parses bytes produced by EncodeMarker.
func DecodeMarker(data []byte) (Marker, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	var m Marker

	if err := binary.Read(r, binary.BigEndian, &m.FormatVersion); err != nil {
		return m, fmt.Errorf("%w: marker format_version: %v", errs.ErrCorrupt, err)
	}
	if m.FormatVersion != markerFormatVersion {
		return m, fmt.Errorf("%w: marker format version %d", errs.ErrCorrupt, m.FormatVersion)
	}
	encByte, err := r.ReadByte()
	if err != nil {
		return m, fmt.Errorf("%w: marker encrypted flag: %v", errs.ErrCorrupt, err)
	}
	m.Encrypted = encByte != 0
	if err := binary.Read(r, binary.BigEndian, &m.KDFParams.Memory); err != nil {
		return m, fmt.Errorf("%w: marker kdf memory: %v", errs.ErrCorrupt, err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.KDFParams.Time); err != nil {
		return m, fmt.Errorf("%w: marker kdf time: %v", errs.ErrCorrupt, err)
	}
	if m.KDFParams.Parallelism, err = r.ReadByte(); err != nil {
		return m, fmt.Errorf("%w: marker kdf parallelism: %v", errs.ErrCorrupt, err)
	}
	return m, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
