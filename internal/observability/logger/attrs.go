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

package logger

import (
	"log/slog"
	"time"
)

// Common attribute keys for consistent logging across the application

// Request attributes
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func RemoteAddr(addr string) slog.Attr {
	return slog.String("remote_addr", addr)
}

func UserAgent(ua string) slog.Attr {
	return slog.String("user_agent", ua)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

func Duration(ms int64) slog.Attr {
	return slog.Int64("duration_ms", ms)
}

// Tenant attributes
func TenantID(id string) slog.Attr {
	return slog.String("tenant_id", id)
}

func CallerTenantID(id string) slog.Attr {
	return slog.String("caller_tenant_id", id)
}

func Hostname(h string) slog.Attr {
	return slog.String("hostname", h)
}

// Principal attributes
func Subject(sub string) slog.Attr {
	return slog.String("subject", sub)
}

func Username(u string) slog.Attr {
	return slog.String("username", u)
}

// Outbox attributes
func PublicationID(id string) slog.Attr {
	return slog.String("publication_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

func SubscriberID(id string) slog.Attr {
	return slog.String("subscriber_id", id)
}

func Attempts(n int) slog.Attr {
	return slog.Int("attempts", n)
}

func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

func NextAttempt(at time.Time) slog.Attr {
	return slog.Time("next_attempt_at", at)
}

// Error attributes
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func ErrorType(errType string) slog.Attr {
	return slog.String("error_type", errType)
}

// Component attributes
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}
