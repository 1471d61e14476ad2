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
	"strings"
	"time"
)

// DefaultPrimaryName names the sub-unit every tenant is created with.
const DefaultPrimaryName = "Main Congregation"

// Tenant is the aggregate root of an organization. Its sub-units are owned
// by it and stored with it.
type Tenant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Hostname string    `json:"hostname"`
	SubUnits []SubUnit `json:"subUnits"`
	Audit    Audit     `json:"audit"`
}

// SubUnit is a congregation, branch or site belonging to one tenant.
// Exactly one sub-unit per tenant is primary.
type SubUnit struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Name     string   `json:"name"`
	Primary  bool     `json:"primary"`
	Address  *Address `json:"address,omitempty"`
	Position int      `json:"-"`
	Audit    Audit    `json:"audit"`
}

// Address is a postal address.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

// Audit stamps are assigned by the system, never by clients.
type Audit struct {
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// PrimarySubUnit returns the primary sub-unit, or nil if the aggregate is
// malformed.
func (t *Tenant) PrimarySubUnit() *SubUnit {
	for i := range t.SubUnits {
		if t.SubUnits[i].Primary {
			return &t.SubUnits[i]
		}
	}
	return nil
}

// MainAddress is the address of the primary sub-unit.
func (t *Tenant) MainAddress() *Address {
	if p := t.PrimarySubUnit(); p != nil {
		return p.Address
	}
	return nil
}

// NormalizeHostname folds a hostname to the form used for uniqueness.
// Hostnames are case-insensitive.
func NormalizeHostname(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
