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

// Package eventstream forwards outbox publications to NATS JetStream so
// other services can react to tenant lifecycle events.
package eventstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/opentrusty/provisioner/internal/observability/logger"
	"github.com/opentrusty/provisioner/internal/outbox"
)

// SubscriberID identifies the stream forwarder in the outbox.
const SubscriberID = "eventstream.tenant-created"

// Header names set on every forwarded message.
const (
	HeaderEventType = "Event-Type"
)

// Config holds the JetStream target.
type Config struct {
	URL     string
	Stream  string
	Subject string
}

type publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Forwarder publishes outbox payloads to a JetStream subject.
type Forwarder struct {
	nc      *nats.Conn
	js      publisher
	subject string
}

// Connect dials NATS and ensures the stream exists.
func Connect(ctx context.Context, cfg Config) (*Forwarder, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("provisioner"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", logger.Component("eventstream"), slog.String("stream", cfg.Stream), slog.String("subject", cfg.Subject))
	return &Forwarder{nc: nc, js: js, subject: cfg.Subject}, nil
}

func newForwarder(js publisher, subject string) *Forwarder {
	return &Forwarder{js: js, subject: subject}
}

// ID implements outbox.Subscriber.
func (f *Forwarder) ID() string { return SubscriberID }

// Handle publishes the publication payload unchanged. The publication id is
// used as the JetStream message id so redelivery after a crash is
// deduplicated by the server within the stream's duplicate window.
func (f *Forwarder) Handle(ctx context.Context, p outbox.Publication) error {
	msg := nats.NewMsg(f.subject)
	msg.Data = p.Payload
	msg.Header.Set(HeaderEventType, p.EventType)

	ack, err := f.js.PublishMsg(ctx, msg, jetstream.WithMsgID(p.ID))
	if err != nil {
		return fmt.Errorf("nats publish %s: %w", f.subject, err)
	}
	if ack != nil && ack.Duplicate {
		slog.DebugContext(ctx, "duplicate publication suppressed by stream",
			logger.PublicationID(p.ID),
			logger.EventType(p.EventType),
		)
	}
	return nil
}

// Close drains the connection.
func (f *Forwarder) Close() error {
	if f.nc == nil {
		return nil
	}
	return f.nc.Drain()
}
