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

package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/opentrusty/provisioner/internal/tenant"
)

// maxBodyBytes bounds tenant creation payloads.
const maxBodyBytes = 64 << 10

// TenantResponse is the read representation of a tenant.
type TenantResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Hostname    string            `json:"hostname"`
	MainAddress *tenant.Address   `json:"mainAddress"`
	SubUnits    []SubUnitResponse `json:"subUnits"`
	CreatedAt   time.Time         `json:"createdAt"`
	CreatedBy   string            `json:"createdBy"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	UpdatedBy   string            `json:"updatedBy"`
}

// SubUnitResponse is the read representation of a sub-unit.
type SubUnitResponse struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Primary bool            `json:"primary"`
	Address *tenant.Address `json:"address,omitempty"`
}

func toTenantResponse(t *tenant.Tenant) TenantResponse {
	resp := TenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		Hostname:    t.Hostname,
		MainAddress: t.MainAddress(),
		SubUnits:    make([]SubUnitResponse, 0, len(t.SubUnits)),
		CreatedAt:   t.Audit.CreatedAt,
		CreatedBy:   t.Audit.CreatedBy,
		UpdatedAt:   t.Audit.UpdatedAt,
		UpdatedBy:   t.Audit.UpdatedBy,
	}
	for _, su := range t.SubUnits {
		resp.SubUnits = append(resp.SubUnits, SubUnitResponse{
			ID:      su.ID,
			Name:    su.Name,
			Primary: su.Primary,
			Address: su.Address,
		})
	}
	return resp
}

// CreateTenant handles tenant creation
// @Summary Create Tenant
// @Description Create a tenant with its primary sub-unit. The tenant administrator account is provisioned asynchronously.
// @Tags Tenant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body tenant.CreateRequest true "Tenant Data"
// @Success 201 {object} TenantResponse
// @Failure 400 {object} Problem
// @Failure 401 {object} Problem
// @Failure 403 {object} Problem
// @Failure 409 {object} Problem
// @Router /tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenant.CreateRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, r, apperr.Validation("malformed request body"))
		return
	}

	t, err := h.tenantService.CreateTenant(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tenants/"+t.ID)
	respondJSON(w, http.StatusCreated, toTenantResponse(t))
}

// GetTenant returns a tenant visible to the caller
// @Summary Get Tenant
// @Description Fetch a tenant by id. Tenants other than the caller's own are reported as not found.
// @Tags Tenant
// @Produce json
// @Security BearerAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} TenantResponse
// @Failure 401 {object} Problem
// @Failure 404 {object} Problem
// @Router /tenants/{tenantID} [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenantService.GetTenant(r.Context(), chi.URLParam(r, "tenantID"), GetTenantID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toTenantResponse(t))
}
