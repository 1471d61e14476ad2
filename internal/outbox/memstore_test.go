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

package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same claim semantics as the
// Postgres implementation.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*memRow
	failOn  map[string]error // method name -> forced error
	inserts int
}

type memRow struct {
	pub          Publication
	claimedUntil *time.Time
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*memRow), failOn: make(map[string]error)}
}

type stagedKey struct{}

type staged struct {
	pubs []Publication
}

func (s *memStore) Insert(ctx context.Context, pubs []Publication) error {
	if err := s.failOn["Insert"]; err != nil {
		return err
	}
	st, ok := ctx.Value(stagedKey{}).(*staged)
	if !ok {
		return errors.New("insert outside transaction")
	}
	st.pubs = append(st.pubs, pubs...)
	return nil
}

func (s *memStore) commit(st *staged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range st.pubs {
		s.rows[p.ID] = &memRow{pub: p}
		s.inserts++
	}
}

func (s *memStore) claimable(r *memRow, now time.Time) bool {
	return r.pub.CompletedAt == nil && (r.claimedUntil == nil || r.claimedUntil.Before(now))
}

// heldBack reports whether r has an older pending, non-exhausted sibling for
// the same subscriber that claims does not take along.
func (s *memStore) heldBack(r *memRow, maxAttempts int, claims func(*memRow) bool) bool {
	for _, o := range s.rows {
		if o == r || o.pub.SubscriberID != r.pub.SubscriberID || o.pub.CompletedAt != nil {
			continue
		}
		if maxAttempts > 0 && o.pub.Attempts >= maxAttempts {
			continue
		}
		if !olderThan(o.pub, r.pub) {
			continue
		}
		if !claims(o) {
			return true
		}
	}
	return false
}

func (s *memStore) lease(rows []*memRow, lease time.Duration, now time.Time) []Publication {
	out := make([]Publication, 0, len(rows))
	for _, r := range rows {
		until := now.Add(lease)
		r.claimedUntil = &until
		p := r.pub
		p.LeasedUntil = until
		out = append(out, p)
	}
	sortPubs(out)
	return out
}

func (s *memStore) ClaimByIDs(_ context.Context, ids []string, maxAttempts int, lease time.Duration, now time.Time) ([]Publication, error) {
	if err := s.failOn["ClaimByIDs"]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}
	claims := func(o *memRow) bool { return inSet[o.pub.ID] && s.claimable(o, now) }

	var picked []*memRow
	for _, id := range ids {
		r, ok := s.rows[id]
		if !ok || !s.claimable(r, now) || s.heldBack(r, maxAttempts, claims) {
			continue
		}
		picked = append(picked, r)
	}
	return s.lease(picked, lease, now), nil
}

func (s *memStore) ClaimDue(_ context.Context, limit, maxAttempts int, lease time.Duration, now time.Time) ([]Publication, error) {
	if err := s.failOn["ClaimDue"]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := func(r *memRow) bool {
		return s.claimable(r, now) && !r.pub.NextAttemptAt.After(now)
	}

	var picked []*memRow
	for _, r := range s.rows {
		if !due(r) {
			continue
		}
		if maxAttempts > 0 && r.pub.Attempts >= maxAttempts {
			continue
		}
		if s.heldBack(r, maxAttempts, due) {
			continue
		}
		picked = append(picked, r)
	}
	sort.Slice(picked, func(i, j int) bool { return olderThan(picked[i].pub, picked[j].pub) })
	if len(picked) > limit {
		picked = picked[:limit]
	}
	return s.lease(picked, lease, now), nil
}

func (s *memStore) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	if err := s.failOn["MarkDelivered"]; err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok || r.pub.CompletedAt != nil {
		return false, nil
	}
	r.pub.CompletedAt = &at
	r.claimedUntil = nil
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, id string, leasedUntil time.Time, lastError string, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok || r.pub.CompletedAt != nil || r.claimedUntil == nil || !r.claimedUntil.Equal(leasedUntil) {
		return false, nil
	}
	r.pub.Attempts++
	r.pub.LastError = lastError
	r.pub.NextAttemptAt = next
	r.claimedUntil = nil
	return true, nil
}

func (s *memStore) Release(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.rows[id]; ok {
			r.claimedUntil = nil
		}
	}
	return nil
}

func (s *memStore) get(id string) Publication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].pub
}

func (s *memStore) leasedUntil(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].claimedUntil
}

func (s *memStore) all() []Publication {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Publication, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.pub)
	}
	sortPubs(out)
	return out
}

func olderThan(a, b Publication) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func sortPubs(p []Publication) {
	sort.Slice(p, func(i, j int) bool { return olderThan(p[i], p[j]) })
}

// memTx stages inserts and applies them to the store only on commit.
type memTx struct {
	store *memStore
}

func (m memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	st := &staged{}
	if err := fn(context.WithValue(ctx, stagedKey{}, st)); err != nil {
		return err
	}
	m.store.commit(st)
	return nil
}
