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

package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/observability/logger"
	"github.com/opentrusty/provisioner/internal/outbox"
	"github.com/opentrusty/provisioner/internal/tenant"
)

// SubscriberID is persisted on every publication this listener consumes.
// Changing it orphans pending publications.
const SubscriberID = "identity.provision-admin"

// TenantAttribute links the account to its tenant in the identity provider.
const TenantAttribute = "organization-id"

// ListenerConfig configures account provisioning.
type ListenerConfig struct {
	DefaultGroup string
	CallTimeout  time.Duration
}

// Listener provisions the administrator account of a newly created tenant.
// It holds no locks or transactions and never retries on its own; a
// returned error leaves the publication pending for the outbox.
type Listener struct {
	gateway     Gateway
	auditLogger audit.Logger
	cfg         ListenerConfig
}

func NewListener(gateway Gateway, auditLogger audit.Logger, cfg ListenerConfig) *Listener {
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = "USERS"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Listener{gateway: gateway, auditLogger: auditLogger, cfg: cfg}
}

// Subscriber adapts the listener for registration with an outbox.Registry.
func (l *Listener) Subscriber() outbox.Subscriber {
	return outbox.HandlerFor(SubscriberID, l.OnTenantCreated)
}

// OnTenantCreated creates the tenant administrator account.
func (l *Listener) OnTenantCreated(ctx context.Context, event tenant.TenantCreated) error {
	req, err := l.BuildAccountRequest(event)
	if err != nil {
		// a malformed event will never succeed, but dropping it silently
		// would lose the tenant's admin; keep it pending and visible
		slog.ErrorContext(ctx, "cannot build account request",
			logger.TenantID(event.TenantID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	defer cancel()

	outcome, err := l.gateway.CreateAccount(callCtx, req)
	if err != nil {
		l.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAccountFailed,
			TenantID: event.TenantID,
			Resource: req.Username,
			Metadata: map[string]any{"error": err.Error()},
		})
		return apperr.ExternalDependency("identity provider call failed",
			fmt.Errorf("%w: %w", ErrProvisioningFailed, err)).WithOp("CreateAccount")
	}

	eventType := audit.TypeAccountProvisioned
	if outcome == OutcomeAlreadyExists {
		eventType = audit.TypeAccountExists
		slog.InfoContext(ctx, "identity account already exists, treating as provisioned",
			logger.TenantID(event.TenantID),
			logger.Username(req.Username),
		)
	}
	l.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		TenantID: event.TenantID,
		Resource: req.Username,
		Metadata: map[string]any{"group": l.cfg.DefaultGroup, "outcome": outcome.String()},
	})
	return nil
}

// BuildAccountRequest maps the event onto the account to create. The
// account username is the admin email.
func (l *Listener) BuildAccountRequest(event tenant.TenantCreated) (AccountRequest, error) {
	email := strings.TrimSpace(event.AdminEmail)
	if email == "" {
		return AccountRequest{}, fmt.Errorf("%w: admin email is empty", ErrInvalidAccount)
	}
	if event.TenantID == "" {
		return AccountRequest{}, fmt.Errorf("%w: tenant id is empty", ErrInvalidAccount)
	}

	fullName := strings.TrimSpace(event.AdminFullName)
	if fullName == "" {
		fullName = strings.TrimSpace(event.AdminUsername)
	}
	given, family := SplitFullName(fullName)

	password, err := temporaryPassword()
	if err != nil {
		return AccountRequest{}, err
	}

	return AccountRequest{
		Username:      email,
		Email:         email,
		Profile:       Profile{GivenName: given, FamilyName: family},
		Enabled:       true,
		EmailVerified: true,
		Credentials:   []Credential{{Type: "password", Value: password, Temporary: true}},
		Groups:        []string{l.cfg.DefaultGroup},
		Attributes:    map[string][]string{TenantAttribute: {event.TenantID}},
	}, nil
}

// SplitFullName splits on the first run of whitespace. A single word is
// all given name.
func SplitFullName(full string) (given, family string) {
	full = strings.TrimSpace(full)
	i := strings.IndexFunc(full, unicode.IsSpace)
	if i < 0 {
		return full, ""
	}
	return full[:i], strings.TrimSpace(full[i:])
}

func temporaryPassword() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(errors.New("failed to generate temporary password"), err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
