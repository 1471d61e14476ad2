// Copyright 2026 The OpenTrusty Authors
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

// Package outbox implements the transactional outbox: events are written as
// publication records in the same transaction as the business change and
// delivered to subscribers after commit, with a periodic sweep for anything
// a crash or a failing subscriber left behind.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoTransaction is returned by Register outside WithTransaction.
	ErrNoTransaction = errors.New("outbox: register called outside a transaction")
	// ErrUnknownSubscriber marks a stored publication whose subscriber is no
	// longer registered.
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Event is a fact that can be published. EventType must be stable across
// releases since it is persisted.
type Event interface {
	EventType() string
}

// Publication is the durable record of one event for one subscriber.
// CompletedAt nil means pending; once set it is never cleared.
type Publication struct {
	ID            string
	EventType     string
	SubscriberID  string
	Payload       json.RawMessage
	CreatedAt     time.Time
	CompletedAt   *time.Time
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	// LeasedUntil is set by a claim and identifies the claimant's lease.
	LeasedUntil time.Time
}

// Pending reports whether the publication still awaits delivery.
func (p Publication) Pending() bool {
	return p.CompletedAt == nil
}

// Store persists publications. Insert runs on the transaction carried by
// ctx; every other method runs outside any business transaction.
type Store interface {
	Insert(ctx context.Context, pubs []Publication) error
	// ClaimByIDs leases the given pending publications for dispatch. A
	// publication is skipped while an older pending one for the same
	// subscriber is not part of the claim. maxAttempts 0 means no cap;
	// exhausted publications never hold back younger ones.
	ClaimByIDs(ctx context.Context, ids []string, maxAttempts int, lease time.Duration, now time.Time) ([]Publication, error)
	// ClaimDue leases up to limit pending publications whose next attempt is
	// due, oldest first, with the same per-subscriber ordering rule as
	// ClaimByIDs. maxAttempts 0 means no cap.
	ClaimDue(ctx context.Context, limit, maxAttempts int, lease time.Duration, now time.Time) ([]Publication, error)
	// MarkDelivered completes a pending publication. It reports false when
	// another dispatcher completed it first.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkFailed counts an attempt and schedules the next one. It reports
	// false when the lease identified by leasedUntil is no longer held.
	MarkFailed(ctx context.Context, id string, leasedUntil time.Time, lastError string, nextAttemptAt time.Time) (bool, error)
	// Release drops the lease on publications that were claimed but not attempted.
	Release(ctx context.Context, ids []string) error
}

// Transactor runs fn in one database transaction carried by ctx.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
