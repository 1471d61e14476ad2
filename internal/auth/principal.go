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

// Package auth turns bearer credentials into principals and resolves the
// tenant a principal is scoped to.
package auth

import (
	"context"
	"strings"

	"github.com/opentrusty/provisioner/internal/audit"
)

// Principal is the authenticated caller of one request. It is derived from
// a verified credential and never persisted.
type Principal struct {
	Subject       string
	Username      string
	TenantID      string // raw claim value; see ResolveTenantID
	Roles         []string
	Authenticated bool
}

// HasRole reports whether p holds role. Comparison ignores case and an
// optional "ROLE_" prefix on either side.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	want := normalizeRole(role)
	for _, r := range p.Roles {
		if normalizeRole(r) == want {
			return true
		}
	}
	return false
}

func normalizeRole(r string) string {
	r = strings.TrimSpace(r)
	if len(r) >= 5 && strings.EqualFold(r[:5], "ROLE_") {
		r = r[5:]
	}
	return strings.ToUpper(r)
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal stored in ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// ActorID names the caller for audit stamps: the principal's username or
// subject, or audit.ActorSystem when the call is not request-scoped.
func ActorID(ctx context.Context) string {
	p := FromContext(ctx)
	if p == nil || !p.Authenticated {
		return audit.ActorSystem
	}
	if p.Username != "" {
		return p.Username
	}
	if p.Subject != "" {
		return p.Subject
	}
	return audit.ActorSystem
}
