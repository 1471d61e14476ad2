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
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrProvisioningFailed wraps every gateway failure returned to the outbox.
	ErrProvisioningFailed = errors.New("identity provisioning failed")
	ErrInvalidAccount     = errors.New("invalid account request")
)

// Outcome is the successful result of CreateAccount.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	// OutcomeAlreadyExists means a matching account is already present.
	// Provisioning is idempotent, so this counts as success.
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Profile holds the display name parts of an account.
type Profile struct {
	GivenName  string
	FamilyName string
}

// Credential is an initial password the user must replace on first login.
type Credential struct {
	Type      string
	Value     string
	Temporary bool
}

// AccountRequest describes the identity provider account for a tenant
// administrator.
type AccountRequest struct {
	Username      string
	Email         string
	Profile       Profile
	Enabled       bool
	EmailVerified bool
	Credentials   []Credential
	Groups        []string
	Attributes    map[string][]string
}

// GatewayError is any non-success response from the identity provider.
// All gateway errors are retryable.
type GatewayError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Gateway creates accounts in the external identity provider.
type Gateway interface {
	CreateAccount(ctx context.Context, req AccountRequest) (Outcome, error)
}
