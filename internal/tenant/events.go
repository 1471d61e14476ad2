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

// EventTypeTenantCreated identifies TenantCreated publications.
const EventTypeTenantCreated = "tenant.created"

// TenantCreated is recorded in the same transaction that creates a tenant.
// It carries what a subscriber needs to provision the tenant's first
// administrator account.
type TenantCreated struct {
	TenantID      string `json:"tenantId"`
	Name          string `json:"name"`
	AdminUsername string `json:"adminUsername"`
	AdminEmail    string `json:"adminEmail"`
	AdminFullName string `json:"adminFullName"`
}

// EventType implements outbox.Event.
func (TenantCreated) EventType() string {
	return EventTypeTenantCreated
}
