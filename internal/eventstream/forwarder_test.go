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

package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/provisioner/internal/outbox"
)

var _ outbox.Subscriber = (*Forwarder)(nil)

type fakePublisher struct {
	msgs []*nats.Msg
	opts int
	err  error
	dup  bool
}

func (f *fakePublisher) PublishMsg(_ context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	f.opts = len(opts)
	return &jetstream.PubAck{Stream: "TENANTS", Duplicate: f.dup}, nil
}

// TestPurpose: Validates that publications are forwarded verbatim to the configured subject.
// Scope: Unit Test
// Expected: One message with the payload, event type header and a message id option.
// Test Case ID: EVS-01
func TestForwarder_Handle(t *testing.T) {
	pub := &fakePublisher{}
	f := newForwarder(pub, "tenants.created")

	payload, err := json.Marshal(map[string]string{"tenantId": "t-1"})
	require.NoError(t, err)

	err = f.Handle(context.Background(), outbox.Publication{
		ID:        "pub-1",
		EventType: "tenant.created",
		Payload:   payload,
	})
	require.NoError(t, err)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "tenants.created", pub.msgs[0].Subject)
	assert.JSONEq(t, `{"tenantId":"t-1"}`, string(pub.msgs[0].Data))
	assert.Equal(t, "tenant.created", pub.msgs[0].Header.Get(HeaderEventType))
	assert.Equal(t, 1, pub.opts)
}

// TestPurpose: Validates that duplicate acks are not treated as failures.
// Scope: Unit Test
// Expected: No error.
// Test Case ID: EVS-02
func TestForwarder_Duplicate(t *testing.T) {
	f := newForwarder(&fakePublisher{dup: true}, "tenants.created")
	err := f.Handle(context.Background(), outbox.Publication{ID: "pub-1", EventType: "tenant.created", Payload: []byte(`{}`)})
	assert.NoError(t, err)
}

// TestPurpose: Validates that publish failures propagate so the outbox retries.
// Scope: Unit Test
// Expected: Error wrapping the publish failure.
// Test Case ID: EVS-03
func TestForwarder_PublishError(t *testing.T) {
	boom := errors.New("no responders")
	f := newForwarder(&fakePublisher{err: boom}, "tenants.created")

	err := f.Handle(context.Background(), outbox.Publication{ID: "pub-1", Payload: []byte(`{}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, SubscriberID, f.ID())
	assert.NoError(t, f.Close())
}
