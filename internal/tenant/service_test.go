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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/auth"
	"github.com/opentrusty/provisioner/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) ExistsByHostname(ctx context.Context, hostname string) (bool, error) {
	args := m.Called(ctx, hostname)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, t *Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Tenant), args.Error(1)
}

// fakeTx runs fn inline and records whether the unit of work committed.
type fakeTx struct {
	committed  int
	rolledBack int
}

func (f *fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		f.rolledBack++
		return err
	}
	f.committed++
	return nil
}

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) Register(ctx context.Context, event outbox.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

func validRequest() CreateRequest {
	return CreateRequest{
		Name:          "First Baptist",
		Hostname:      "first-baptist.church",
		AdminUsername: "pastor",
		AdminEmail:    "pastor@first-baptist.church",
		AdminFullName: "John Smith",
	}
}

func newTestService() (*Service, *mockRepo, *fakeTx, *mockRegistrar, *mockAudit) {
	repo := new(mockRepo)
	tx := &fakeTx{}
	reg := new(mockRegistrar)
	aud := new(mockAudit)
	aud.On("Log", mock.Anything, mock.Anything).Return()
	svc := NewService(repo, tx, reg, aud)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, tx, reg, aud
}

// TestPurpose: Validates that tenant creation persists one aggregate with exactly one primary sub-unit and records the creation event.
// Scope: Unit Test
// Security: Traceability and unique identification of tenants
// Expected: UUIDv7 ids, primary "Main Congregation", one TenantCreated registered in the same unit of work.
// Test Case ID: TEN-01
func TestTenant_Service_CreateTenant_Success(t *testing.T) {
	svc, repo, tx, reg, aud := newTestService()
	ctx := auth.WithPrincipal(context.Background(), &auth.Principal{Authenticated: true, Subject: "admin-1", Username: "platform-admin"})

	repo.On("ExistsByHostname", mock.Anything, "first-baptist.church").Return(false, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*tenant.Tenant")).Return(nil)
	reg.On("Register", mock.Anything, mock.MatchedBy(func(e outbox.Event) bool {
		tc, ok := e.(TenantCreated)
		return ok && tc.Name == "First Baptist" &&
			tc.AdminUsername == "pastor" &&
			tc.AdminEmail == "pastor@first-baptist.church" &&
			tc.AdminFullName == "John Smith"
	})).Return(nil).Once()

	got, err := svc.CreateTenant(ctx, validRequest())
	require.NoError(t, err)

	uid, err := uuid.Parse(got.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), uid.Version())
	assert.Equal(t, "First Baptist", got.Name)
	assert.Equal(t, "first-baptist.church", got.Hostname)

	require.Len(t, got.SubUnits, 1)
	primary := got.PrimarySubUnit()
	require.NotNil(t, primary)
	assert.Equal(t, DefaultPrimaryName, primary.Name)
	assert.Equal(t, got.ID, primary.TenantID)
	assert.Nil(t, got.MainAddress())

	assert.Equal(t, "platform-admin", got.Audit.CreatedBy)
	assert.Equal(t, "platform-admin", got.Audit.UpdatedBy)
	assert.Equal(t, svc.now(), got.Audit.CreatedAt)

	registered := reg.Calls[0].Arguments.Get(1).(TenantCreated)
	assert.Equal(t, got.ID, registered.TenantID)

	assert.Equal(t, 1, tx.committed)
	repo.AssertExpectations(t)
	reg.AssertExpectations(t)
	aud.AssertCalled(t, "Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantCreated && e.TenantID == got.ID
	}))
}

// TestPurpose: Validates that a duplicate hostname detected by the pre-check is rejected with a structured conflict.
// Scope: Unit Test
// Security: Uniqueness of tenant routing keys
// Expected: Conflict(hostname, value); no insert and no event.
// Test Case ID: TEN-02
func TestTenant_Service_CreateTenant_DuplicateHostname(t *testing.T) {
	svc, repo, tx, reg, _ := newTestService()

	repo.On("ExistsByHostname", mock.Anything, "first-baptist.church").Return(true, nil)

	req := validRequest()
	req.Hostname = "  First-Baptist.CHURCH "
	_, err := svc.CreateTenant(context.Background(), req)

	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, ae.Kind)
	assert.Equal(t, "hostname", ae.ConflictType)
	assert.Equal(t, "first-baptist.church", ae.ConflictValue)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	assert.Equal(t, 1, tx.rolledBack)
}

// TestPurpose: Validates that losing a concurrent race on the unique index yields the same conflict as the pre-check.
// Scope: Unit Test
// Security: Race-safe uniqueness
// Expected: Store ErrHostnameTaken is reported as Conflict(hostname); no event is registered.
// Test Case ID: TEN-03
func TestTenant_Service_CreateTenant_UniqueViolationRace(t *testing.T) {
	svc, repo, tx, reg, _ := newTestService()

	repo.On("ExistsByHostname", mock.Anything, "first-baptist.church").Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(fmt.Errorf("insert tenant: %w", ErrHostnameTaken))

	_, err := svc.CreateTenant(context.Background(), validRequest())

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, ae.Kind)
	assert.Equal(t, "hostname", ae.ConflictType)
	assert.Equal(t, "first-baptist.church", ae.ConflictValue)
	reg.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
	assert.Equal(t, 1, tx.rolledBack)
}

// TestPurpose: Validates that an event registration failure aborts the whole unit of work.
// Scope: Unit Test
// Expected: The error surfaces and the transaction rolls back, so the tenant is not committed without its event.
// Test Case ID: TEN-04
func TestTenant_Service_CreateTenant_RegisterFailureRollsBack(t *testing.T) {
	svc, repo, tx, reg, _ := newTestService()

	repo.On("ExistsByHostname", mock.Anything, mock.Anything).Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	reg.On("Register", mock.Anything, mock.Anything).Return(errors.New("insert publication: connection reset"))

	got, err := svc.CreateTenant(context.Background(), validRequest())
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Equal(t, 0, tx.committed)
	assert.Equal(t, 1, tx.rolledBack)
}

func TestTenant_Service_CreateTenant_StoreError(t *testing.T) {
	svc, repo, _, _, _ := newTestService()

	dbErr := errors.New("connection refused")
	repo.On("ExistsByHostname", mock.Anything, mock.Anything).Return(false, dbErr)

	_, err := svc.CreateTenant(context.Background(), validRequest())
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, apperr.KindUnknown, apperr.GetKind(err))
}

// TestPurpose: Validates input validation before any storage access.
// Scope: Unit Test
// Expected: Validation error listing each offending field; repository untouched.
// Test Case ID: TEN-05
func TestTenant_Service_CreateTenant_Validation(t *testing.T) {
	svc, repo, _, _, _ := newTestService()

	req := CreateRequest{
		Name:       "   ",
		Hostname:   "not a host!",
		AdminEmail: "not-an-email",
		Address:    &AddressInput{Line1: "1 Main St"},
	}
	_, err := svc.CreateTenant(context.Background(), req)

	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, ae.Kind)

	fields := map[string]string{}
	for _, fe := range ae.FieldErrors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be a valid hostname", fields["hostname"])
	assert.Equal(t, "is required", fields["adminUsername"])
	assert.Equal(t, "must be a valid email address", fields["adminEmail"])
	assert.Equal(t, "is required", fields["address.city"])
	assert.Equal(t, "is required", fields["address.postalCode"])

	repo.AssertNotCalled(t, "ExistsByHostname", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that a supplied address is copied verbatim onto the primary sub-unit.
// Scope: Unit Test
// Expected: MainAddress equals the request address.
// Test Case ID: TEN-06
func TestTenant_Service_CreateTenant_WithAddress(t *testing.T) {
	svc, repo, _, reg, _ := newTestService()

	repo.On("ExistsByHostname", mock.Anything, mock.Anything).Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	reg.On("Register", mock.Anything, mock.Anything).Return(nil)

	req := validRequest()
	req.Address = &AddressInput{Line1: "12 Church Rd", Line2: "Suite 1", City: "Springfield", PostalCode: "12345"}

	got, err := svc.CreateTenant(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, &Address{Line1: "12 Church Rd", Line2: "Suite 1", City: "Springfield", PostalCode: "12345"}, got.MainAddress())
	assert.Equal(t, audit.ActorSystem, got.Audit.CreatedBy)
}
