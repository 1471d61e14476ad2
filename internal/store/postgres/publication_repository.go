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

package postgres

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/provisioner/internal/outbox"
)

const publicationColumns = `p.id, p.event_type, p.subscriber_id, p.payload, p.created_at, p.completed_at,
	p.attempts, p.last_error, p.next_attempt_at, p.claimed_until`

// PublicationRepository implements outbox.Store on the event_publications
// table. A claim sets claimed_until so concurrent dispatchers and sweepers
// skip leased rows.
type PublicationRepository struct {
	db *DB
}

// NewPublicationRepository creates a new publication repository
func NewPublicationRepository(db *DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

// Insert writes publications on the transaction carried by ctx.
func (r *PublicationRepository) Insert(ctx context.Context, pubs []outbox.Publication) error {
	q := r.db.conn(ctx)
	for _, p := range pubs {
		_, err := q.Exec(ctx, `
			INSERT INTO event_publications (
				id, event_type, subscriber_id, payload, created_at, attempts, last_error, next_attempt_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, p.EventType, p.SubscriberID, []byte(p.Payload), p.CreatedAt, p.Attempts, p.LastError, p.NextAttemptAt)
		if err != nil {
			return fmt.Errorf("failed to insert publication: %w", err)
		}
	}
	return nil
}

// ClaimByIDs leases the pending, unleased publications among ids. A row is
// skipped while an older pending row of the same subscriber stays outside
// this claim; rows past maxAttempts never hold others back.
func (r *PublicationRepository) ClaimByIDs(ctx context.Context, ids []string, maxAttempts int, lease time.Duration, now time.Time) ([]outbox.Publication, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.conn(ctx).Query(ctx, `
		UPDATE event_publications p
		SET claimed_until = $2
		WHERE p.id = ANY($1::uuid[])
			AND p.completed_at IS NULL
			AND (p.claimed_until IS NULL OR p.claimed_until < $3)
			AND NOT EXISTS (
				SELECT 1 FROM event_publications o
				WHERE o.subscriber_id = p.subscriber_id
					AND o.completed_at IS NULL
					AND (o.created_at, o.id) < (p.created_at, p.id)
					AND ($4::int = 0 OR o.attempts < $4::int)
					AND NOT (o.id = ANY($1::uuid[]) AND (o.claimed_until IS NULL OR o.claimed_until < $3))
			)
		RETURNING `+publicationColumns,
		ids, leaseUntil(now, lease), now, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to claim publications: %w", err)
	}
	return collectPublications(rows)
}

// ClaimDue leases up to limit due publications, oldest first. A row is
// skipped while an older pending row of the same subscriber is backed off
// or leased elsewhere.
func (r *PublicationRepository) ClaimDue(ctx context.Context, limit, maxAttempts int, lease time.Duration, now time.Time) ([]outbox.Publication, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		WITH due AS (
			SELECT c.id FROM event_publications c
			WHERE c.completed_at IS NULL
				AND c.next_attempt_at <= $1
				AND (c.claimed_until IS NULL OR c.claimed_until < $1)
				AND ($2::int = 0 OR c.attempts < $2::int)
				AND NOT EXISTS (
					SELECT 1 FROM event_publications o
					WHERE o.subscriber_id = c.subscriber_id
						AND o.completed_at IS NULL
						AND (o.created_at, o.id) < (c.created_at, c.id)
						AND ($2::int = 0 OR o.attempts < $2::int)
						AND (o.next_attempt_at > $1 OR o.claimed_until >= $1)
				)
			ORDER BY c.created_at, c.id
			LIMIT $3
			FOR UPDATE OF c SKIP LOCKED
		)
		UPDATE event_publications p
		SET claimed_until = $4
		FROM due
		WHERE p.id = due.id
		RETURNING `+publicationColumns,
		now, maxAttempts, limit, leaseUntil(now, lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due publications: %w", err)
	}
	return collectPublications(rows)
}

// MarkDelivered completes a publication unless it was already completed.
func (r *PublicationRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE event_publications
		SET completed_at = $2, claimed_until = NULL
		WHERE id = $1 AND completed_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark publication delivered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed records a failed attempt and releases the lease. It is a no-op
// returning false once the lease identified by leasedUntil was taken over.
func (r *PublicationRepository) MarkFailed(ctx context.Context, id string, leasedUntil time.Time, lastError string, nextAttemptAt time.Time) (bool, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE event_publications
		SET attempts = attempts + 1, last_error = $3, next_attempt_at = $4, claimed_until = NULL
		WHERE id = $1 AND completed_at IS NULL AND claimed_until = $2
	`, id, leasedUntil, lastError, nextAttemptAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark publication failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release clears the lease on publications that were not attempted.
func (r *PublicationRepository) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE event_publications SET claimed_until = NULL
		WHERE id = ANY($1::uuid[]) AND completed_at IS NULL
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to release publications: %w", err)
	}
	return nil
}

// leaseUntil is truncated to the column precision so it round-trips as a
// lease token.
func leaseUntil(now time.Time, lease time.Duration) time.Time {
	return now.Add(lease).Truncate(time.Microsecond)
}

func collectPublications(rows pgx.Rows) ([]outbox.Publication, error) {
	defer rows.Close()

	var pubs []outbox.Publication
	for rows.Next() {
		var p outbox.Publication
		var payload []byte
		var leasedUntil *time.Time
		if err := rows.Scan(
			&p.ID, &p.EventType, &p.SubscriberID, &payload, &p.CreatedAt, &p.CompletedAt,
			&p.Attempts, &p.LastError, &p.NextAttemptAt, &leasedUntil,
		); err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		p.Payload = payload
		if leasedUntil != nil {
			p.LeasedUntil = *leasedUntil
		}
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read publications: %w", err)
	}

	// UPDATE ... RETURNING does not preserve the claim order.
	slices.SortFunc(pubs, func(a, b outbox.Publication) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return pubs, nil
}
