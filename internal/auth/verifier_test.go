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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/provisioner/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-hmac-secret"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                "user-1",
		"preferred_username": "pastor@first-baptist.church",
		"organization_id":    "0190a8c4-1f2e-7c3d-9a4b-5c6d7e8f9a0b",
		"iss":                "https://idp.example/realms/church",
		"aud":                "church-cms-api",
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
}

func newHSVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Issuer:      "https://idp.example/realms/church",
		Audience:    "church-cms-api",
		HMACSecret:  testSecret,
		TenantClaim: "organization_id",
		RoleClients: []string{"church-cms-api", "church-cms-ui"},
	})
	require.NoError(t, err)
	return v
}

// TestPurpose: Validates that a well-formed token yields a principal with tenant and merged roles.
// Scope: Unit Test
// Security: Token-derived identity (RFC 7519)
// Expected: Subject, username, raw tenant claim and de-duplicated roles from all claim locations.
// Test Case ID: JWT-01
func TestVerifier_Verify_Success(t *testing.T) {
	v := newHSVerifier(t)

	claims := baseClaims()
	claims["roles"] = []string{"ADMIN"}
	claims["realm_access"] = map[string]any{"roles": []string{"offline_access", "ADMIN"}}
	claims["resource_access"] = map[string]any{
		"church-cms-ui": map[string]any{"roles": []string{"USER"}},
		"other-client":  map[string]any{"roles": []string{"IGNORED"}},
	}

	p, err := v.Verify(signHS256(t, claims))
	require.NoError(t, err)

	assert.True(t, p.Authenticated)
	assert.Equal(t, "user-1", p.Subject)
	assert.Equal(t, "pastor@first-baptist.church", p.Username)
	assert.Equal(t, "0190a8c4-1f2e-7c3d-9a4b-5c6d7e8f9a0b", p.TenantID)
	assert.Equal(t, []string{"ADMIN", "offline_access", "USER"}, p.Roles)
}

// TestPurpose: Validates that tampered, expired or mis-addressed tokens are rejected.
// Scope: Unit Test
// Security: Signature and claim validation (CWE-347)
// Expected: Each case returns an Unauthorized error.
// Test Case ID: JWT-02
func TestVerifier_Verify_Rejects(t *testing.T) {
	v := newHSVerifier(t)

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noExp := baseClaims()
	delete(noExp, "exp")

	wrongIss := baseClaims()
	wrongIss["iss"] = "https://evil.example"

	wrongAud := baseClaims()
	wrongAud["aud"] = "someone-else"

	badSig, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"expired":        signHS256(t, expired),
		"missing exp":    signHS256(t, noExp),
		"wrong issuer":   signHS256(t, wrongIss),
		"wrong audience": signHS256(t, wrongAud),
		"bad signature":  badSig,
		"alg none":       none,
		"garbage":        "not.a.jwt",
		"empty":          "",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := v.Verify(token)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
		})
	}
}

// TestPurpose: Validates that a token without a tenant claim still authenticates but cannot be scoped.
// Scope: Unit Test
// Security: Fail-closed tenant scoping
// Expected: Verify succeeds; ResolveTenantID returns Unauthorized.
// Test Case ID: JWT-03
func TestVerifier_MissingTenantClaim(t *testing.T) {
	v := newHSVerifier(t)

	claims := baseClaims()
	delete(claims, "organization_id")

	p, err := v.Verify(signHS256(t, claims))
	require.NoError(t, err)

	_, err = ResolveTenantID(p)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestVerifier_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewVerifier(VerifierConfig{PublicKeyPEM: string(pubPEM)})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, baseClaims()).SignedString(key)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.Subject)

	// HS256 token signed with the public key bytes must not pass an RS256 verifier
	confused, err := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims()).SignedString(pubPEM)
	require.NoError(t, err)
	_, err = v.Verify(confused)
	assert.Error(t, err)
}

func TestNewVerifier_NoKey(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.Error(t, err)

	_, err = NewVerifier(VerifierConfig{PublicKeyPEM: "garbage"})
	assert.Error(t, err)
}
