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

import "github.com/opentrusty/provisioner/internal/apperr"

const notFoundMessage = "tenant not found"

// Enforce decides whether t is visible to a caller scoped to callerTenantID.
// A foreign tenant is reported exactly like an absent one, so callers cannot
// probe for the existence of other tenants.
func Enforce(t *Tenant, callerTenantID string) (*Tenant, error) {
	if t == nil || callerTenantID == "" || t.ID != callerTenantID {
		return nil, apperr.NotFound(notFoundMessage)
	}
	return t, nil
}
