// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backoff

import (
	"time"
)

// Operation is retried by Retry until it succeeds or the policy gives up.
type Operation func() error

// IsRetryable decides whether an error is worth another attempt.
type IsRetryable func(error) bool

// Retry runs op, sleeping between attempts per the policy. A nil isRetryable
// treats every error as retryable. The last error is returned when the
// policy is exhausted.
func Retry(op Operation, policy RetryPolicy, isRetryable IsRetryable) error {
	var err error
	retrier := NewRetrier(policy)

	for {
		if err = op(); err == nil {
			return nil
		}

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		next := retrier.NextBackOff()
		if next == Done {
			return err
		}
		time.Sleep(next)
	}
}
