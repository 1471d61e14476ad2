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

// Package keycloak implements identity.Gateway against the Keycloak admin
// REST API using a confidential client with the client-credentials grant.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/provisioner/internal/identity"
)

// tokenSkew renews the admin token this long before it expires.
const tokenSkew = 30 * time.Second

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 2048

// Config holds the admin client settings.
type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
}

// Client is a Keycloak admin API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a client. A nil httpClient gets an otelhttp-instrumented default.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClient, now: time.Now}
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	Username      string                     `json:"username"`
	Email         string                     `json:"email"`
	FirstName     string                     `json:"firstName,omitempty"`
	LastName      string                     `json:"lastName,omitempty"`
	Enabled       bool                       `json:"enabled"`
	EmailVerified bool                       `json:"emailVerified"`
	Credentials   []credentialRepresentation `json:"credentials,omitempty"`
	Groups        []string                   `json:"groups,omitempty"`
	Attributes    map[string][]string        `json:"attributes,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// CreateAccount creates a user in the realm. 201 means created and 409
// means a user with that username or email already exists; any other
// status is a *identity.GatewayError.
func (c *Client) CreateAccount(ctx context.Context, req identity.AccountRequest) (identity.Outcome, error) {
	token, err := c.adminToken(ctx)
	if err != nil {
		return 0, err
	}

	user := userRepresentation{
		Username:      req.Username,
		Email:         req.Email,
		FirstName:     req.Profile.GivenName,
		LastName:      req.Profile.FamilyName,
		Enabled:       req.Enabled,
		EmailVerified: req.EmailVerified,
		Groups:        req.Groups,
		Attributes:    req.Attributes,
	}
	for _, cr := range req.Credentials {
		user.Credentials = append(user.Credentials, credentialRepresentation(cr))
	}

	body, err := json.Marshal(user)
	if err != nil {
		return 0, fmt.Errorf("keycloak encode user: %w", err)
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s/users", c.cfg.BaseURL, url.PathEscape(c.cfg.Realm))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("keycloak build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, &identity.GatewayError{Op: "keycloak create user", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return identity.OutcomeCreated, nil
	case http.StatusConflict:
		return identity.OutcomeAlreadyExists, nil
	case http.StatusUnauthorized:
		// token revoked or realm keys rotated; fetch a fresh one next time
		c.invalidateToken()
	}
	return 0, &identity.GatewayError{Op: "keycloak create user", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
}

// adminToken returns a cached access token, fetching a new one when the
// cached token is within tokenSkew of expiry.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	endpoint := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.cfg.BaseURL, url.PathEscape(c.cfg.Realm))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("keycloak build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &identity.GatewayError{Op: "keycloak token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &identity.GatewayError{Op: "keycloak token", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &identity.GatewayError{Op: "keycloak token", Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", &identity.GatewayError{Op: "keycloak token", Status: resp.StatusCode, Body: "empty access_token"}
	}

	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSkew)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
