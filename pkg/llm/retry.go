// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// RetryPolicy controls exponential backoff for retryable provider
// failures. Auth and bad-request failures are never retried.
type RetryPolicy struct {
	// MaxAttempts is the total attempt cap, including the first call.
	// Zero or one means no retries.
	MaxAttempts int

	// BaseDelay is the first backoff interval
	BaseDelay time.Duration

	// Factor multiplies the delay after each failed attempt
	Factor float64

	// MaxDelay caps the backoff interval
	MaxDelay time.Duration

	// Jitter is the symmetric random fraction applied to each delay
	// (0.2 means plus or minus twenty percent)
	Jitter float64
}

// DefaultRetryPolicy matches the step-level default: three attempts,
// 1s base, doubling, 30s cap, twenty percent jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// NextDelay computes the backoff before the given retry (1-based),
// with jitter applied.
func (p RetryPolicy) NextDelay(retry int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		delay *= p.Factor
		if delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		delay *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// CompleteWithRetry calls the provider, retrying rate_limited, transient,
// and timeout failures under the policy. Other kinds propagate
// immediately; context cancellation always wins.
func CompleteWithRetry(ctx context.Context, p Provider, req *Request, policy RetryPolicy, logger *zap.Logger) (*Response, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			if attempt > 1 {
				logger.Info("provider retry succeeded",
					zap.Int("attempt", attempt),
					zap.String("model", req.Model))
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, types.WrapError(interruptKind(ctx), err,
				"provider call interrupted on attempt %d", attempt)
		}
		if !types.KindOf(err).Retryable() || attempt == attempts {
			return nil, err
		}

		delay := policy.NextDelay(attempt)
		logger.Warn("provider call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.String("kind", string(types.KindOf(err))),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, types.WrapError(interruptKind(ctx), ctx.Err(),
				"provider retry interrupted after attempt %d", attempt)
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// interruptKind distinguishes an expired deadline from an explicit
// cancellation, matching how the provider adapters classify them.
func interruptKind(ctx context.Context) types.Kind {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return types.KindTimeout
	}
	return types.KindCancelled
}
