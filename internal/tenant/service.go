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
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/auth"
	"github.com/opentrusty/provisioner/internal/id"
	"github.com/opentrusty/provisioner/internal/observability/logger"
)

// CreateRequest is the input of CreateTenant.
type CreateRequest struct {
	Name          string        `json:"name" validate:"required,max=200"`
	Hostname      string        `json:"hostname" validate:"required,max=200,hostname_rfc1123"`
	AdminUsername string        `json:"adminUsername" validate:"required,max=100"`
	AdminEmail    string        `json:"adminEmail" validate:"required,email,max=200"`
	AdminFullName string        `json:"adminFullName" validate:"max=200"`
	Address       *AddressInput `json:"address"`
}

// AddressInput is the optional address of the primary sub-unit.
type AddressInput struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
}

// Service provides tenant provisioning and lookup
type Service struct {
	repo        Repository
	tx          Transactor
	events      EventRegistrar
	auditLogger audit.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService creates a new tenant service
func NewService(repo Repository, tx Transactor, events EventRegistrar, auditLogger audit.Logger) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		repo:        repo,
		tx:          tx,
		events:      events,
		auditLogger: auditLogger,
		validate:    v,
		now:         time.Now,
	}
}

// CreateTenant persists a new tenant with its primary sub-unit and records
// a TenantCreated event in the same transaction. Identity provisioning
// happens after commit; this call never waits on it.
func (s *Service) CreateTenant(ctx context.Context, req CreateRequest) (*Tenant, error) {
	req = normalizeRequest(req)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	actor := auth.ActorID(ctx)
	now := s.now().UTC()
	stamp := Audit{CreatedAt: now, CreatedBy: actor, UpdatedAt: now, UpdatedBy: actor}

	t := &Tenant{
		ID:       id.NewUUIDv7(),
		Name:     req.Name,
		Hostname: req.Hostname,
		Audit:    stamp,
	}
	t.SubUnits = []SubUnit{{
		ID:       id.NewUUIDv7(),
		TenantID: t.ID,
		Name:     DefaultPrimaryName,
		Primary:  true,
		Address:  req.Address.toAddress(),
		Audit:    stamp,
	}}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		taken, err := s.repo.ExistsByHostname(ctx, t.Hostname)
		if err != nil {
			return fmt.Errorf("failed to check hostname: %w", err)
		}
		if taken {
			return apperr.Conflict("hostname", t.Hostname)
		}

		if err := s.repo.Create(ctx, t); err != nil {
			// lost a concurrent race for the same hostname
			if errors.Is(err, ErrHostnameTaken) {
				return apperr.Conflict("hostname", t.Hostname)
			}
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		return s.events.Register(ctx, TenantCreated{
			TenantID:      t.ID,
			Name:          t.Name,
			AdminUsername: req.AdminUsername,
			AdminEmail:    req.AdminEmail,
			AdminFullName: req.AdminFullName,
		})
	})
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeTenantCreateRejected,
				ActorID:  actor,
				Resource: t.Hostname,
				Metadata: map[string]any{"reason": "hostname_taken"},
			})
		}
		return nil, err
	}

	slog.InfoContext(ctx, "tenant created",
		logger.TenantID(t.ID),
		logger.Hostname(t.Hostname),
	)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		ActorID:  actor,
		Resource: t.Hostname,
		Metadata: map[string]any{"name": t.Name, "admin_email": req.AdminEmail},
	})

	return t, nil
}

// GetTenant loads a tenant on behalf of a caller scoped to callerTenantID.
// Absent, malformed and foreign ids all produce the same NotFound.
func (s *Service) GetTenant(ctx context.Context, tenantID, callerTenantID string) (*Tenant, error) {
	var t *Tenant
	if id.IsUUID(tenantID) {
		found, err := s.repo.GetByID(ctx, tenantID)
		switch {
		case errors.Is(err, ErrTenantNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to get tenant: %w", err)
		default:
			t = found
		}
	}

	visible, err := Enforce(t, callerTenantID)
	if err != nil && t != nil {
		slog.DebugContext(ctx, "cross-tenant read masked as not found",
			logger.TenantID(t.ID),
			logger.CallerTenantID(callerTenantID),
		)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTenantAccessDenied,
			TenantID: callerTenantID,
			ActorID:  auth.ActorID(ctx),
			Resource: t.ID,
		})
	}
	return visible, err
}

func (s *Service) validateRequest(req CreateRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, "invalid request", err)
	}

	out := apperr.Validation("invalid request")
	for _, fe := range verrs {
		out.WithField(fieldPath(fe), describe(fe))
	}
	return out
}

// fieldPath drops the root struct name: "CreateRequest.address.city" -> "address.city".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "hostname_rfc1123":
		return "must be a valid hostname"
	default:
		return "is invalid"
	}
}

func normalizeRequest(req CreateRequest) CreateRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Hostname = NormalizeHostname(req.Hostname)
	req.AdminUsername = strings.TrimSpace(req.AdminUsername)
	req.AdminEmail = strings.TrimSpace(req.AdminEmail)
	req.AdminFullName = strings.TrimSpace(req.AdminFullName)
	return req
}

func (a *AddressInput) toAddress() *Address {
	if a == nil {
		return nil
	}
	return &Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		PostalCode: a.PostalCode,
	}
}
