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

//go:build !unix

package fsutil

import "os"

// ModeOf returns the canonical default mode for platforms without
// native Unix permission bits: DefaultDirMode for directories,
// DefaultFileMode otherwise.
func ModeOf(info os.FileInfo) uint16 {
	if info.IsDir() {
		return DefaultDirMode
	}
	return DefaultFileMode
}

// ApplyMode is a best-effort no-op on platforms without native Unix
// permission bits.
func ApplyMode(path string, mode uint16) error {
	return nil
}
