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
	"log/slog"
	"net/http"
	"time"

	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/opentrusty/provisioner/internal/observability/logger"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 9457 problem document with the extension members used
// by this API.
type Problem struct {
	Type          string              `json:"type"`
	Title         string              `json:"title"`
	Status        int                 `json:"status"`
	Detail        string              `json:"detail"`
	Timestamp     time.Time           `json:"timestamp"`
	FieldErrors   []apperr.FieldError `json:"fieldErrors,omitempty"`
	ConflictType  string              `json:"conflictType,omitempty"`
	ConflictValue string              `json:"conflictValue,omitempty"`
}

func newProblem(status int, detail string, at time.Time) Problem {
	return Problem{
		Type:      "about:blank",
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Timestamp: at.UTC(),
	}
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}

// respondError maps err onto a problem response. Errors that are not client
// errors are logged and returned with a generic detail.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok || ae.HTTPStatus() >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Error(err),
		)
		writeProblem(w, newProblem(http.StatusInternalServerError, "An unexpected error occurred", h.now()))
		return
	}

	p := newProblem(ae.HTTPStatus(), ae.Message, h.now())
	p.FieldErrors = ae.FieldErrors
	p.ConflictType = ae.ConflictType
	p.ConflictValue = ae.ConflictValue
	writeProblem(w, p)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
