// Copyright 2025 AUTHORS
//
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

package snapshot

import (
	"context"
	"errors"
	"time"
)

// RetryCap is the total elapsed time budget for a single retryable
// operation (§4.8 "Retry policy").
const RetryCap = 60 * time.Second

// TimeoutError and TransportError classify a failure as retryable (§4.8).
// Any other error propagates immediately.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return "snapshot: timeout: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

type TransportError struct{ Err error }

func (e *TransportError) Error() string { return "snapshot: transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

func isRetryable(err error) bool {
	var te *TimeoutError
	var xe *TransportError
	return errors.As(err, &te) || errors.As(err, &xe)
}

// withRetry re-attempts op under exponential backoff until it succeeds,
// returns a non-retryable error, or the 60-second elapsed cap is exceeded
// (in which case the last error is surfaced).
func withRetry[R any](ctx context.Context, op func(ctx context.Context) (R, error)) (R, error) {
	start := time.Now()
	backoff := 100 * time.Millisecond
	for {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return result, err
		}
		if time.Since(start) >= RetryCap {
			return result, err
		}
		select {
		case <-ctx.Done():
			var zero R
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}
