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

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/relique/coldstore/internal/errs"
)

// Exit codes per spec.md §6: 0 success, 1 user error, 2 repository
// error, 3 I/O/network error, 4 authentication error, 130 interrupted.
const (
	exitOK          = 0
	exitUserError   = 1
	exitRepository  = 2
	exitIO          = 3
	exitAuth        = 4
	exitInterrupted = 130
)

// exitCode classifies err into one of the process exit codes above,
// printing it to stderr unless it is nil. Interruption and success both
// print nothing extra beyond whatever the command itself already wrote.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, errs.ErrCancelled) {
		return exitInterrupted
	}

	fmt.Fprintln(stderr, "coldstore: "+err.Error())

	switch {
	case errors.Is(err, errs.ErrAuthFailed),
		errors.Is(err, errs.ErrWrongPassword),
		errors.Is(err, errs.ErrMissingPassword):
		return exitAuth

	case errors.Is(err, errs.ErrBackendTransient),
		errors.Is(err, errs.ErrBackendFatal):
		return exitIO

	case errors.Is(err, errs.ErrNotFound),
		errors.Is(err, errs.ErrInconsistentRepository),
		errors.Is(err, errs.ErrCorrupt),
		errors.Is(err, errs.ErrLocked):
		return exitRepository

	case errors.Is(err, errs.ErrUserInput):
		return exitUserError

	default:
		return exitUserError
	}
}
