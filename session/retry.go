/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tomoncle/txorm/database"
)

// DefaultRetryBackoff is used by WithTransactionRetry when backoff is nil:
// up to three retries, starting at 100ms and doubling.
func DefaultRetryBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
}

// RetryPoolExhausted retries run while it fails with database.ErrPoolExhausted.
// Checkout timeouts acquire nothing, so another attempt starts clean. Any
// other error, and the last pool error once backoff stops, is returned as is.
func RetryPoolExhausted(ctx context.Context, backoff retry.Backoff, logger database.Logger, run func(context.Context) error) error {
	if backoff == nil {
		backoff = DefaultRetryBackoff()
	}
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := run(ctx)
		if errors.Is(err, database.ErrPoolExhausted) {
			logger.Warn("Retrying after pool exhaustion", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// WithTransactionRetry is WithTransaction retried on pool exhaustion.
func (p *Provider) WithTransactionRetry(ctx context.Context, backoff retry.Backoff, fn func(ctx context.Context, s *Session) error) error {
	return RetryPoolExhausted(ctx, backoff, p.logger, func(ctx context.Context) error {
		return p.WithTransaction(ctx, fn)
	})
}
