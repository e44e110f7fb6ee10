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

package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/relique/coldstore/internal/errs"
)

const (
	retryBaseDelay   = 250 * time.Millisecond
	retryFactor      = 2
	retryMaxAttempts = 5
)

// withRetry calls f, retrying with full-jitter exponential backoff while
// f returns an error wrapping errs.ErrBackendTransient, up to
// retryMaxAttempts total attempts. When every attempt fails transiently,
// the returned error wraps errs.ErrBackendFatal.
func withRetry(ctx context.Context, f func() error) error {
	var err error
	delay := retryBaseDelay

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrBackendTransient) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}

		d := time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
		delay *= retryFactor
	}

	return fmt.Errorf("%w: gave up after %d attempts: %v", errs.ErrBackendFatal, retryMaxAttempts, err)
}
