// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
)

// Attempt run op up to attempts times with a fixed delay between tries. The
// last error is returned on exhaustion, never swallowed. A cancelled context
// ends the retry loop early with the context error.
func Attempt(
	ctxt context.Context,
	attempts int,
	delay time.Duration,
	logTags log.Fields,
	op func() error,
) error {
	if attempts < 1 {
		return fmt.Errorf("attempt count must be at least 1")
	}
	var lastErr error
	for try := 0; try < attempts; try++ {
		if try > 0 && delay > 0 {
			select {
			case <-ctxt.Done():
				return ctxt.Err()
			case <-time.After(delay):
			}
		}
		if lastErr = op(); lastErr == nil {
			return nil
		}
		log.WithError(lastErr).WithFields(logTags).Debugf(
			"Attempt %d/%d failed", try+1, attempts,
		)
	}
	return lastErr
}
