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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/id"
	"github.com/opentrusty/provisioner/internal/observability/logger"
	"github.com/opentrusty/provisioner/internal/observability/metrics"
)

// Config tunes delivery.
type Config struct {
	BatchSize       int
	MaxAttempts     int // 0 = retry forever
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	Lease           time.Duration
	DispatchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = time.Minute
	}
	return c
}

type collectorKey struct{}

// collector gathers the publications registered inside one transaction.
type collector struct {
	mu  sync.Mutex
	ids []string
}

// Outbox registers events inside business transactions and dispatches them
// to subscribers after commit.
type Outbox struct {
	store       Store
	db          Transactor
	registry    *Registry
	cfg         Config
	metrics     *metrics.OutboxMetrics
	auditLogger audit.Logger
	tracer      trace.Tracer
	now         func() time.Time

	inflight sync.WaitGroup
}

// New creates an outbox. m and auditLogger may be nil.
func New(store Store, db Transactor, registry *Registry, cfg Config, m *metrics.OutboxMetrics, auditLogger audit.Logger) *Outbox {
	if m == nil {
		m, _ = metrics.NewOutboxMetrics(metrics.Noop())
	}
	if auditLogger == nil {
		auditLogger = audit.NewSlogLogger()
	}
	return &Outbox{
		store:       store,
		db:          db,
		registry:    registry,
		cfg:         cfg.withDefaults(),
		metrics:     m,
		auditLogger: auditLogger,
		tracer:      otel.Tracer("github.com/opentrusty/provisioner/internal/outbox"),
		now:         time.Now,
	}
}

// WithTransaction runs fn in a database transaction. Publications registered
// inside fn are dispatched only after the commit succeeds; a rollback
// discards them. A nested call joins the outer transaction.
func (o *Outbox) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(collectorKey{}).(*collector); nested {
		return fn(ctx)
	}

	c := &collector{}
	err := o.db.WithTransaction(ctx, func(txCtx context.Context) error {
		return fn(context.WithValue(txCtx, collectorKey{}, c))
	})
	if err != nil {
		return err
	}

	if len(c.ids) > 0 {
		o.dispatchAfterCommit(ctx, c.ids)
	}
	return nil
}

// Register writes one pending publication per subscriber of the event's
// type, on the caller's transaction.
func (o *Outbox) Register(ctx context.Context, event Event) error {
	c, ok := ctx.Value(collectorKey{}).(*collector)
	if !ok {
		return ErrNoTransaction
	}

	eventType := event.EventType()
	subs := o.registry.Subscribers(eventType)
	if len(subs) == 0 {
		slog.WarnContext(ctx, "event has no subscribers", logger.EventType(eventType))
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}

	now := o.now().UTC()
	pubs := make([]Publication, 0, len(subs))
	for _, s := range subs {
		pubs = append(pubs, Publication{
			ID:            id.NewUUIDv7(),
			EventType:     eventType,
			SubscriberID:  s.ID(),
			Payload:       payload,
			CreatedAt:     now,
			NextAttemptAt: now,
		})
	}

	if err := o.store.Insert(ctx, pubs); err != nil {
		return fmt.Errorf("failed to insert publications: %w", err)
	}

	c.mu.Lock()
	for _, p := range pubs {
		c.ids = append(c.ids, p.ID)
		o.metrics.Registered.Add(ctx, 1, metrics.EventAttrs(p.EventType, p.SubscriberID))
	}
	c.mu.Unlock()
	return nil
}

// dispatchAfterCommit delivers freshly committed publications on a
// background goroutine so the caller does not wait on subscribers.
func (o *Outbox) dispatchAfterCommit(ctx context.Context, ids []string) {
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DispatchTimeout)
		defer cancel()

		pubs, err := o.store.ClaimByIDs(dctx, ids, o.cfg.MaxAttempts, o.cfg.Lease, o.now().UTC())
		if err != nil {
			slog.WarnContext(dctx, "post-commit dispatch deferred to sweeper",
				logger.Count(len(ids)),
				logger.Error(err),
			)
			return
		}
		o.deliver(dctx, pubs)
	}()
}

// Wait blocks until every post-commit dispatch started so far has finished.
func (o *Outbox) Wait() {
	o.inflight.Wait()
}

// DispatchPending claims due publications and delivers them. It returns the
// number delivered.
func (o *Outbox) DispatchPending(ctx context.Context) (int, error) {
	pubs, err := o.store.ClaimDue(ctx, o.cfg.BatchSize, o.cfg.MaxAttempts, o.cfg.Lease, o.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to claim publications: %w", err)
	}
	return o.deliver(ctx, pubs), nil
}

// deliver runs one lane per subscriber. Within a lane publications are
// handled in creation order and a failure stops the lane for this round.
func (o *Outbox) deliver(ctx context.Context, pubs []Publication) int {
	if len(pubs) == 0 {
		return 0
	}

	var order []string
	lanes := make(map[string][]Publication)
	for _, p := range pubs {
		if _, ok := lanes[p.SubscriberID]; !ok {
			order = append(order, p.SubscriberID)
		}
		lanes[p.SubscriberID] = append(lanes[p.SubscriberID], p)
	}

	var delivered atomic.Int64
	var g errgroup.Group
	for _, sid := range order {
		lane := lanes[sid]
		g.Go(func() error {
			for i, p := range lane {
				ok, done := o.deliverOne(ctx, p)
				if done {
					delivered.Add(1)
				}
				if !ok {
					o.release(ctx, lane[i+1:])
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

// deliverOne invokes the subscriber for p. continueLane is false when the
// subscriber failed and later publications for it must wait.
func (o *Outbox) deliverOne(ctx context.Context, p Publication) (continueLane, delivered bool) {
	sub, found := o.registry.Lookup(p.SubscriberID)
	if !found {
		slog.ErrorContext(ctx, "publication references unknown subscriber",
			logger.PublicationID(p.ID),
			logger.SubscriberID(p.SubscriberID),
			logger.EventType(p.EventType),
		)
		o.fail(ctx, p, ErrUnknownSubscriber)
		return true, false
	}

	ctx, span := o.tracer.Start(ctx, "outbox.dispatch", trace.WithAttributes(
		attribute.String("outbox.publication_id", p.ID),
		attribute.String("outbox.event_type", p.EventType),
		attribute.String("outbox.subscriber_id", p.SubscriberID),
		attribute.Int("outbox.attempt", p.Attempts+1),
	))
	defer span.End()

	start := time.Now()
	err := invoke(ctx, sub, p)
	o.metrics.Dispatch.Record(ctx, time.Since(start).Seconds(), metrics.EventAttrs(p.EventType, p.SubscriberID))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscriber failed")
		o.fail(ctx, p, err)
		return false, false
	}

	won, err := o.store.MarkDelivered(ctx, p.ID, o.now().UTC())
	if err != nil {
		// the lease expires and the sweep redelivers; subscribers are idempotent
		slog.ErrorContext(ctx, "failed to mark publication delivered",
			logger.PublicationID(p.ID),
			logger.Error(err),
		)
		return true, false
	}
	if !won {
		slog.DebugContext(ctx, "publication already delivered by another dispatcher",
			logger.PublicationID(p.ID),
		)
		return true, false
	}

	o.metrics.Delivered.Add(ctx, 1, metrics.EventAttrs(p.EventType, p.SubscriberID))
	slog.InfoContext(ctx, "publication delivered",
		logger.PublicationID(p.ID),
		logger.SubscriberID(p.SubscriberID),
		logger.Attempts(p.Attempts+1),
	)
	return true, true
}

func invoke(ctx context.Context, sub Subscriber, p Publication) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", sub.ID(), r)
		}
	}()
	return sub.Handle(ctx, p)
}

func (o *Outbox) fail(ctx context.Context, p Publication, cause error) {
	attempts := p.Attempts + 1
	next := o.now().UTC().Add(o.backoff(attempts))
	o.metrics.Failed.Add(ctx, 1, metrics.EventAttrs(p.EventType, p.SubscriberID))

	held, err := o.store.MarkFailed(ctx, p.ID, p.LeasedUntil, cause.Error(), next)
	if err != nil {
		slog.ErrorContext(ctx, "failed to record publication failure",
			logger.PublicationID(p.ID),
			logger.Error(err),
		)
		return
	}
	if !held {
		slog.WarnContext(ctx, "lease expired before failure was recorded",
			logger.PublicationID(p.ID),
			logger.SubscriberID(p.SubscriberID),
			logger.Error(cause),
		)
		return
	}

	if o.cfg.MaxAttempts > 0 && attempts >= o.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "publication abandoned after max attempts",
			logger.PublicationID(p.ID),
			logger.SubscriberID(p.SubscriberID),
			logger.Attempts(attempts),
			logger.Error(cause),
		)
		o.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypePublicationAbandoned,
			Resource: p.ID,
			Metadata: map[string]any{"subscriber_id": p.SubscriberID, "event_type": p.EventType, "attempts": attempts},
		})
		return
	}

	slog.WarnContext(ctx, "publication delivery failed, will retry",
		logger.PublicationID(p.ID),
		logger.SubscriberID(p.SubscriberID),
		logger.Attempts(attempts),
		logger.NextAttempt(next),
		logger.Error(cause),
	)
}

func (o *Outbox) release(ctx context.Context, rest []Publication) {
	if len(rest) == 0 {
		return
	}
	ids := make([]string, len(rest))
	for i, p := range rest {
		ids[i] = p.ID
	}
	if err := o.store.Release(ctx, ids); err != nil {
		slog.WarnContext(ctx, "failed to release publications", logger.Count(len(ids)), logger.Error(err))
	}
}

// backoff is exponential in the attempt number, capped at BackoffMax.
func (o *Outbox) backoff(attempts int) time.Duration {
	d := o.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.cfg.BackoffMax {
			return o.cfg.BackoffMax
		}
	}
	if d > o.cfg.BackoffMax {
		return o.cfg.BackoffMax
	}
	return d
}
