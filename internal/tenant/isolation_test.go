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
	"testing"

	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that foreign tenants are indistinguishable from absent ones.
// Scope: Unit Test
// Security: Tenant enumeration prevention (CWE-204)
// Expected: Own tenant is returned; foreign and nil both yield an identical NotFound.
// Test Case ID: ISO-01
func TestEnforce(t *testing.T) {
	own := &Tenant{ID: id.NewUUIDv7()}
	foreign := &Tenant{ID: id.NewUUIDv7()}

	got, err := Enforce(own, own.ID)
	require.NoError(t, err)
	assert.Same(t, own, got)

	_, errForeign := Enforce(foreign, own.ID)
	_, errAbsent := Enforce(nil, own.ID)
	_, errNoCaller := Enforce(own, "")

	for _, err := range []error{errForeign, errAbsent, errNoCaller} {
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	}
	assert.Equal(t, errAbsent.Error(), errForeign.Error())
}

// TestPurpose: Validates the read path masks cross-tenant, absent and malformed ids identically.
// Scope: Unit Test
// Security: Multi-tenant Data Separation (CWE-284)
// Expected: Only the caller's own tenant is returned; denials are audited.
// Test Case ID: ISO-02
func TestTenant_Service_GetTenant_Isolation(t *testing.T) {
	svc, repo, _, _, aud := newTestService()
	ctx := context.Background()

	tenantA := &Tenant{ID: id.NewUUIDv7(), Name: "A"}
	tenantB := &Tenant{ID: id.NewUUIDv7(), Name: "B"}
	missing := id.NewUUIDv7()

	repo.On("GetByID", mock.Anything, tenantA.ID).Return(tenantA, nil)
	repo.On("GetByID", mock.Anything, tenantB.ID).Return(tenantB, nil)
	repo.On("GetByID", mock.Anything, missing).Return(nil, ErrTenantNotFound)

	got, err := svc.GetTenant(ctx, tenantA.ID, tenantA.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	_, errForeign := svc.GetTenant(ctx, tenantB.ID, tenantA.ID)
	_, errMissing := svc.GetTenant(ctx, missing, tenantA.ID)
	_, errMalformed := svc.GetTenant(ctx, "../etc/passwd", tenantA.ID)

	for _, err := range []error{errForeign, errMissing, errMalformed} {
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.Equal(t, errMissing.Error(), err.Error())
	}

	repo.AssertNotCalled(t, "GetByID", mock.Anything, "../etc/passwd")
	aud.AssertCalled(t, "Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantAccessDenied && e.Resource == tenantB.ID && e.TenantID == tenantA.ID
	}))
}

func TestTenant_Service_GetTenant_StoreError(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	tid := id.NewUUIDv7()
	repo.On("GetByID", mock.Anything, tid).Return(nil, assert.AnError)

	_, err := svc.GetTenant(context.Background(), tid, tid)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNormalizeHostname(t *testing.T) {
	assert.Equal(t, "first-baptist.church", NormalizeHostname("  First-Baptist.Church\t"))
}
