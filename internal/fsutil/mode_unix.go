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

//go:build unix

package fsutil

import "os"

// ModeOf extracts the 9 permission bits from a Unix FileInfo. Go keeps
// setuid/setgid/sticky above bit 15, so the uint16 result drops them.
func ModeOf(info os.FileInfo) uint16 {
	const permMask = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky
	return uint16(info.Mode() & permMask)
}

// ApplyMode sets path's permission bits to mode, best-effort.
func ApplyMode(path string, mode uint16) error {
	return os.Chmod(path, os.FileMode(mode))
}
