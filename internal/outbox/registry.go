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
	"sync"
)

// Subscriber consumes publications of the event types it is registered for.
// Handle must be idempotent: a publication can be delivered more than once.
type Subscriber interface {
	ID() string
	Handle(ctx context.Context, p Publication) error
}

type typedSubscriber[T Event] struct {
	id string
	fn func(ctx context.Context, event T) error
}

// HandlerFor adapts a typed event handler into a Subscriber that decodes the
// publication payload into T.
func HandlerFor[T Event](id string, fn func(ctx context.Context, event T) error) Subscriber {
	return &typedSubscriber[T]{id: id, fn: fn}
}

func (s *typedSubscriber[T]) ID() string { return s.id }

func (s *typedSubscriber[T]) Handle(ctx context.Context, p Publication) error {
	var event T
	if err := json.Unmarshal(p.Payload, &event); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", p.EventType, err)
	}
	return s.fn(ctx, event)
}

// Registry maps event types to their ordered subscribers. It is populated
// at process start and read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]Subscriber
	byID   map[string]Subscriber
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string][]Subscriber),
		byID:   make(map[string]Subscriber),
	}
}

// Subscribe registers s for eventType. Subscriber ids are persisted with
// each publication, so they must be unique; a duplicate panics.
func (r *Registry) Subscribe(eventType string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[s.ID()]; dup {
		panic(fmt.Sprintf("outbox: subscriber %q registered twice", s.ID()))
	}
	r.byID[s.ID()] = s
	r.byType[eventType] = append(r.byType[eventType], s)
}

// Subscribers returns the subscribers of eventType in registration order.
func (r *Registry) Subscribers(eventType string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Subscriber(nil), r.byType[eventType]...)
}

// Lookup finds a subscriber by id.
func (r *Registry) Lookup(id string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}
