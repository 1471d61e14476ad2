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

package auth

import (
	"strings"

	"github.com/google/uuid"
	"github.com/opentrusty/provisioner/internal/apperr"
)

// ResolveTenantID returns the canonical tenant id the principal is scoped to.
// A nil or unauthenticated principal, or a tenant claim that is missing,
// blank or not a UUID, yields an apperr.KindUnauthorized error.
func ResolveTenantID(p *Principal) (string, error) {
	if p == nil || !p.Authenticated {
		return "", apperr.Unauthorized("authentication required")
	}

	raw := strings.TrimSpace(p.TenantID)
	if raw == "" {
		return "", apperr.Unauthorized("credential carries no tenant")
	}

	u, err := uuid.Parse(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, "credential carries a malformed tenant", err)
	}
	return u.String(), nil
}
