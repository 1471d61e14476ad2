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
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opentrusty/provisioner/internal/tenant"
)

const (
	pgUniqueViolation   = "23505"
	hostnameUniqueIndex = "tenants_hostname_key"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ExistsByHostname reports whether a tenant already uses hostname.
func (r *TenantRepository) ExistsByHostname(ctx context.Context, hostname string) (bool, error) {
	var exists bool
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE hostname = $1)`, hostname,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check hostname: %w", err)
	}
	return exists, nil
}

// Create inserts the tenant row followed by its sub-units.
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	q := r.db.conn(ctx)

	_, err := q.Exec(ctx, `
		INSERT INTO tenants (id, name, hostname, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Name, t.Hostname, t.Audit.CreatedAt, t.Audit.CreatedBy, t.Audit.UpdatedAt, t.Audit.UpdatedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == hostnameUniqueIndex {
			return tenant.ErrHostnameTaken
		}
		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	for _, su := range t.SubUnits {
		var line1, line2, city, postal *string
		if a := su.Address; a != nil {
			line1, line2, city, postal = &a.Line1, nullable(a.Line2), &a.City, &a.PostalCode
		}
		_, err := q.Exec(ctx, `
			INSERT INTO sub_units (
				id, tenant_id, name, is_primary, position,
				address_line1, address_line2, address_city, address_postal_code,
				created_at, created_by, updated_at, updated_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			su.ID, t.ID, su.Name, su.Primary, su.Position,
			line1, line2, city, postal,
			su.Audit.CreatedAt, su.Audit.CreatedBy, su.Audit.UpdatedAt, su.Audit.UpdatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sub-unit: %w", err)
		}
	}

	return nil
}

// GetByID loads a tenant and its sub-units in position order.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	q := r.db.conn(ctx)

	var t tenant.Tenant
	err := q.QueryRow(ctx, `
		SELECT id, name, hostname, created_at, created_by, updated_at, updated_by
		FROM tenants
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.Name, &t.Hostname,
		&t.Audit.CreatedAt, &t.Audit.CreatedBy, &t.Audit.UpdatedAt, &t.Audit.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, tenant_id, name, is_primary, position,
			address_line1, address_line2, address_city, address_postal_code,
			created_at, created_by, updated_at, updated_by
		FROM sub_units
		WHERE tenant_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sub-units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var su tenant.SubUnit
		var line1, line2, city, postal *string
		if err := rows.Scan(
			&su.ID, &su.TenantID, &su.Name, &su.Primary, &su.Position,
			&line1, &line2, &city, &postal,
			&su.Audit.CreatedAt, &su.Audit.CreatedBy, &su.Audit.UpdatedAt, &su.Audit.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sub-unit: %w", err)
		}
		if line1 != nil {
			su.Address = &tenant.Address{
				Line1:      *line1,
				Line2:      deref(line2),
				City:       deref(city),
				PostalCode: deref(postal),
			}
		}
		t.SubUnits = append(t.SubUnits, su)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sub-units: %w", err)
	}

	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
