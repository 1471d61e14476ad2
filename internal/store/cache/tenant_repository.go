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

// Package cache provides an in-process read-through cache in front of the
// tenant store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/opentrusty/provisioner/internal/observability/logger"
	"github.com/opentrusty/provisioner/internal/tenant"
)

// TenantRepository caches GetByID results. Writes and hostname checks go
// straight to the wrapped repository; a tenant is only cached once it has
// been read back from committed storage.
type TenantRepository struct {
	next  tenant.Repository
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

// NewTenantRepository wraps next. maxCostBytes bounds the total size of
// cached entries.
func NewTenantRepository(next tenant.Repository, maxCostBytes int64, ttl time.Duration) (*TenantRepository, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant cache: %w", err)
	}
	return &TenantRepository{next: next, cache: c, ttl: ttl}, nil
}

func (r *TenantRepository) ExistsByHostname(ctx context.Context, hostname string) (bool, error) {
	return r.next.ExistsByHostname(ctx, hostname)
}

func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	return r.next.Create(ctx, t)
}

// GetByID serves from cache when possible. Each call returns a fresh copy.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	if data, ok := r.cache.Get(id); ok {
		t, err := decode(data)
		if err == nil {
			return t, nil
		}
		slog.WarnContext(ctx, "dropping undecodable cache entry", logger.TenantID(id), logger.Error(err))
		r.cache.Del(id)
	}

	t, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(t); err == nil {
		r.cache.SetWithTTL(id, data, int64(len(data)), r.ttl)
	}
	return t, nil
}

// Wait blocks until buffered writes are applied.
func (r *TenantRepository) Wait() {
	r.cache.Wait()
}

// Close releases the cache.
func (r *TenantRepository) Close() {
	r.cache.Close()
}

func decode(data []byte) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	for i := range t.SubUnits {
		t.SubUnits[i].Position = i
	}
	return &t, nil
}
