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

package config

import (
	"fmt"
	"regexp"

	"github.com/relique/coldstore/internal/errs"
)

// authorPattern matches "Firstname Lastname <email>", the same format
// original_source's `config` command enforces for the author identity.
var authorPattern = regexp.MustCompile(`^[A-Za-z]+(?: [A-Za-z]+)+(?: )?<[^@ ]+@[^@ ]+\.[^@ >]+>$`)

// ValidateAuthor checks that author is in "Firstname Lastname <email>"
// form, the identity recorded in every manifest's Author field.
func ValidateAuthor(author string) error {
	if !authorPattern.MatchString(author) {
		return fmt.Errorf("%w: author must look like \"Firstname Lastname <email>\", got %q", errs.ErrUserInput, author)
	}
	return nil
}
