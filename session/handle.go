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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/txorm/database"
	"github.com/tomoncle/txorm/entity"
)

// Handle is one in-flight transaction bound to one pooled connection. Both
// the database/sql and the pgx variants implement it.
//
// A Handle is owned by a single goroutine. Pass it explicitly; never share it
// between goroutines.
type Handle interface {
	ID() string
	State() State
	Execute(ctx context.Context, query string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// Observer is notified when handles open and close. outcome is the terminal
// state the handle reached before closing.
type Observer interface {
	HandleOpened(variant string)
	HandleFinished(variant string, outcome State, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) HandleOpened(string)                         {}
func (nopObserver) HandleFinished(string, State, time.Duration) {}

// Lifecycle is the state machine shared by every Handle implementation. The
// driver-specific work is passed in as callbacks so the transitions and their
// error reporting live in one place.
type Lifecycle struct {
	mu       sync.Mutex
	id       string
	variant  string
	state    State
	outcome  State
	opened   time.Time
	identity *entity.IdentitySet
	observer Observer
	logger   database.Logger
}

// NewLifecycle starts an open lifecycle and reports it to observer.
func NewLifecycle(variant string, observer Observer, logger database.Logger) *Lifecycle {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = database.GetLogger()
	}
	l := &Lifecycle{
		id:       uuid.NewString(),
		variant:  variant,
		state:    StateOpen,
		opened:   time.Now(),
		identity: entity.NewIdentitySet(),
		observer: observer,
		logger:   logger,
	}
	observer.HandleOpened(variant)
	return l
}

func (l *Lifecycle) ID() string { return l.id }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Outcome returns the terminal state reached, or StateOpen if none was.
func (l *Lifecycle) Outcome() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome
}

// Attach binds a materialized record to this handle.
func (l *Lifecycle) Attach(e any) { l.identity.Attach(e) }

// Detach strips the binding of e and reports whether it was attached.
func (l *Lifecycle) Detach(e any) bool { return l.identity.Detach(e) }

// Attached reports whether e is still bound to this handle.
func (l *Lifecycle) Attached(e any) bool { return l.identity.Contains(e) }

// CheckOpen returns a *database.HandleStateError unless the handle is open.
func (l *Lifecycle) CheckOpen(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkOpen(op)
}

func (l *Lifecycle) checkOpen(op string) error {
	if l.state != StateOpen {
		return &database.HandleStateError{HandleID: l.id, Op: op, State: l.state.String()}
	}
	return nil
}

// Commit runs commit through open -> committing -> committed. A failed
// commit leaves the transaction aborted, so the handle ends rolled-back.
func (l *Lifecycle) Commit(ctx context.Context, commit func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen("commit"); err != nil {
		return err
	}
	l.state = StateCommitting
	if err := commit(ctx); err != nil {
		l.finish(StateRolledBack)
		l.logger.Error("Transaction commit failed", "handle_id", l.id, "error", err)
		return database.Classify("commit", err)
	}
	l.finish(StateCommitted)
	return nil
}

// Rollback runs rollback through open -> rolling-back -> rolled-back. The
// handle is rolled-back even when the driver reports an error.
func (l *Lifecycle) Rollback(ctx context.Context, rollback func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkOpen("rollback"); err != nil {
		return err
	}
	l.state = StateRollingBack
	err := rollback(ctx)
	l.finish(StateRolledBack)
	if err != nil {
		return database.Classify("rollback", err)
	}
	return nil
}

func (l *Lifecycle) finish(outcome State) {
	l.state = outcome
	l.outcome = outcome
}

// Close rolls back an open handle, releases its connection and moves it to
// closed. Records still attached are detached. Closing twice is an error.
func (l *Lifecycle) Close(ctx context.Context, rollback func(context.Context) error, release func() error) error {
	if l.State() == StateOpen {
		if err := l.Rollback(ctx, rollback); err != nil {
			l.logger.Warn("Rollback on close failed", "handle_id", l.id, "error", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return &database.HandleStateError{HandleID: l.id, Op: "close", State: l.state.String()}
	}
	if n := l.identity.Clear(); n > 0 {
		l.logger.Debug("Detached records on close", "handle_id", l.id, "count", n)
	}
	releaseErr := release()
	l.state = StateClosed
	l.observer.HandleFinished(l.variant, l.outcome, time.Since(l.opened))
	if releaseErr != nil {
		return database.Classify("release", releaseErr)
	}
	return nil
}
