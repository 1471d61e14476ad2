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

package audit

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
)

// Event types
const (
	TypeTenantCreated        = "tenant_created"
	TypeTenantCreateRejected = "tenant_create_rejected"
	TypeTenantAccessDenied   = "tenant_access_denied"
	TypeAccountProvisioned   = "account_provisioned"
	TypeAccountExists        = "account_already_exists"
	TypeAccountFailed        = "account_provisioning_failed"
	TypePublicationAbandoned = "publication_abandoned"
)

// ActorSystem is recorded when no authenticated principal is present.
const ActorSystem = "system"

// Event represents an auditable action
type Event struct {
	Type      string
	TenantID  string
	ActorID   string
	Resource  string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger on top of a slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger writing to the default slog logger.
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// NewSlogLoggerWith creates an audit logger writing to l.
func NewSlogLoggerWith(l *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: l}
}

// Log records an audit event. Metadata keys are emitted in sorted order and
// values under secret-looking keys are redacted.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ActorID == "" {
		event.ActorID = ActorSystem
	}

	attrs := make([]slog.Attr, 0, 9)
	attrs = append(attrs,
		slog.String("audit_type", event.Type),
		slog.String("tenant_id", event.TenantID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	)
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, metadataGroup(event.Metadata))
	}
	attrs = append(attrs, slog.String("component", "audit"))

	lg := l.logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.LogAttrs(ctx, slog.LevelInfo, "AUDIT_EVENT", attrs...)
}

func metadataGroup(md map[string]any) slog.Attr {
	group := make([]any, 0, len(md))
	for _, k := range slices.Sorted(maps.Keys(md)) {
		v := md[k]
		if isSecret(k) {
			v = "[REDACTED]"
		}
		group = append(group, slog.Any(k, v))
	}
	return slog.Group("metadata", group...)
}

var secretMarkers = []string{"password", "secret", "token", "key", "authorization", "hash", "credential"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
