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
	"math/rand"
	"time"
)

const (
	// Done is returned by a Retrier when no more attempts should be made.
	Done time.Duration = -1
)

// Retrier manages the backoff schedule for a sequence of attempts.
type Retrier interface {
	// NextBackOff returns the delay before the next attempt, or Done
	// when the policy is exhausted.
	NextBackOff() time.Duration
}

// NewRetrier creates a Retrier for the given policy.
func NewRetrier(policy RetryPolicy) Retrier {
	return &retrierImpl{
		policy:         policy,
		currentAttempt: 1,
	}
}

type retrierImpl struct {
	policy         RetryPolicy
	currentAttempt int
}

func (r *retrierImpl) NextBackOff() time.Duration {
	next := r.policy.CalculateNextDelay(r.currentAttempt)
	r.currentAttempt++
	return next
}

// RetryPolicy computes the delay before a given attempt.
type RetryPolicy interface {
	CalculateNextDelay(attempt int) time.Duration
}

// NewRetryPolicy creates a fixed interval policy capped at maxAttempts.
func NewRetryPolicy(maxAttempts int, retryInterval time.Duration) RetryPolicy {
	return &retryPolicy{
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
	}
}

type retryPolicy struct {
	maxAttempts   int
	retryInterval time.Duration
}

func (p *retryPolicy) CalculateNextDelay(attempt int) time.Duration {
	if attempt >= p.maxAttempts {
		return Done
	}
	return p.retryInterval
}

// NewTruncatedExponentialPolicy creates a policy that doubles the delay on
// each attempt, chooses a uniformly random duration within the current
// window, and truncates the window at maxDelay. maxAttempts <= 0 means
// unlimited attempts.
func NewTruncatedExponentialPolicy(
	initialDelay time.Duration,
	maxDelay time.Duration,
	maxAttempts int) RetryPolicy {
	return &truncatedExponentialPolicy{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		maxAttempts:  maxAttempts,
	}
}

type truncatedExponentialPolicy struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int
}

func (p *truncatedExponentialPolicy) CalculateNextDelay(attempt int) time.Duration {
	if p.maxAttempts > 0 && attempt >= p.maxAttempts {
		return Done
	}

	window := p.initialDelay << uint(attempt-1)
	if window <= 0 || window > p.maxDelay {
		window = p.maxDelay
	}
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)) + 1)
}
