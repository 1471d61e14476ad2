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

package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/provisioner/internal/apperr"
)

// VerifierConfig configures bearer token verification.
type VerifierConfig struct {
	Issuer       string
	Audience     string
	PublicKeyPEM string // RS256
	HMACSecret   string // HS256, used when PublicKeyPEM is empty
	TenantClaim  string
	RoleClients  []string
}

// Verifier validates signed JWTs and maps their claims onto a Principal.
type Verifier struct {
	key         any
	parser      *jwt.Parser
	tenantClaim string
	roleClients []string
}

// NewVerifier builds a verifier from cfg.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	var (
		key    any
		method string
	)
	switch {
	case cfg.PublicKeyPEM != "":
		pub, err := parseRSAPublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		key, method = pub, jwt.SigningMethodRS256.Alg()
	case cfg.HMACSecret != "":
		key, method = []byte(cfg.HMACSecret), jwt.SigningMethodHS256.Alg()
	default:
		return nil, errors.New("no verification key configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	tenantClaim := cfg.TenantClaim
	if tenantClaim == "" {
		tenantClaim = "organization_id"
	}

	return &Verifier{
		key:         key,
		parser:      jwt.NewParser(opts...),
		tenantClaim: tenantClaim,
		roleClients: cfg.RoleClients,
	}, nil
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}
	return pub, nil
}

// Verify checks the token signature and registered claims and returns the
// authenticated principal. The tenant claim is copied verbatim; validating
// it is ResolveTenantID's job.
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid bearer token", err)
	}

	sub, _ := claims.GetSubject()
	p := &Principal{
		Subject:       sub,
		Username:      stringClaim(claims, "preferred_username"),
		TenantID:      stringClaim(claims, v.tenantClaim),
		Roles:         v.extractRoles(claims),
		Authenticated: true,
	}
	return p, nil
}

// extractRoles merges the flat "roles" claim, Keycloak realm roles and the
// client roles of every configured client.
func (v *Verifier) extractRoles(claims jwt.MapClaims) []string {
	seen := make(map[string]struct{})
	var roles []string
	add := func(list []string) {
		for _, r := range list {
			if _, dup := seen[r]; dup || r == "" {
				continue
			}
			seen[r] = struct{}{}
			roles = append(roles, r)
		}
	}

	add(stringList(claims["roles"]))
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		add(stringList(realm["roles"]))
	}
	if resources, ok := claims["resource_access"].(map[string]any); ok {
		for _, client := range v.roleClients {
			if res, ok := resources[client].(map[string]any); ok {
				add(stringList(res["roles"]))
			}
		}
	}
	return roles
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	case string:
		return strings.Fields(vv)
	}
	return nil
}
