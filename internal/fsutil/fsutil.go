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

// Package fsutil holds small filesystem helpers shared by the backup and
// restore pipelines: path normalization, permission-bit conversion (with
// a platform split for the Unix-specific parts), and deterministic walk
// ordering.
package fsutil

import (
	"path/filepath"
	"sort"
)

// Canonical default mode bits used on platforms without native Unix
// permissions (see ModeOf in the per-platform files).
const (
	DefaultFileMode uint16 = 0644
	DefaultDirMode  uint16 = 0755
)

// ToSlash normalizes a filesystem path to the manifest's '/'-separated
// form.
func ToSlash(p string) string {
	return filepath.ToSlash(p)
}

// SortNames sorts names lexicographically by byte value, matching the
// deterministic depth-first traversal order the backup pipeline uses.
func SortNames(names []string) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}
