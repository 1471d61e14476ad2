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

package tenant

import (
	"context"
	"errors"

	"github.com/opentrusty/provisioner/internal/outbox"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrHostnameTaken is returned by stores when the hostname unique
	// constraint rejects an insert.
	ErrHostnameTaken = errors.New("hostname already taken")
)

// Repository defines the interface for tenant aggregate storage.
// Implementations run on the transaction carried by ctx when there is one.
type Repository interface {
	ExistsByHostname(ctx context.Context, hostname string) (bool, error)
	// Create inserts the tenant and all of its sub-units.
	Create(ctx context.Context, t *Tenant) error
	// GetByID loads the aggregate with sub-units in position order.
	GetByID(ctx context.Context, id string) (*Tenant, error)
}

// Transactor runs fn in a single database transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRegistrar records an event for post-commit delivery. It must be
// called inside Transactor.WithTransaction.
type EventRegistrar interface {
	Register(ctx context.Context, event outbox.Event) error
}
