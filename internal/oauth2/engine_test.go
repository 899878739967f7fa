// Copyright 2026 The VaultGate Authors
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

package oauth2_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/oauth2"
	"github.com/vaultgate/vaultgate/internal/storage"
	"github.com/vaultgate/vaultgate/internal/storage/sqlite"
)

func newTestEngine(t *testing.T) (*oauth2.Engine, storage.Port) {
	t.Helper()
	db, err := sqlite.New(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)

	bus := eventbus.New(eventbus.NewRing(64), nil, eventbus.AllowAll)
	hasher := oauth2.NewSecretHasher(64*1024, 1, 1, 16, 32)
	clients := oauth2.NewClientRegistry(db, hasher, bus)
	codes := oauth2.NewCodeStore(db, bus)
	tokens := oauth2.NewTokenStore(db, []byte("test-signing-key-at-least-32-bytes!!"), bus)
	consent := oauth2.NewStubConsent()

	return oauth2.NewEngine(clients, codes, tokens, consent), db
}

func registerTestClient(t *testing.T, engine *oauth2.Engine, redirectURI string, grantTypes, scopes []string) (clientID, secret string) {
	t.Helper()
	client, secret, err := engine.Clients.RegisterClient(context.Background(), oauth2.Registration{
		ClientName:    "test client",
		RedirectURIs:  []string{redirectURI},
		AllowedScopes: scopes,
		GrantTypes:    grantTypes,
	})
	require.NoError(t, err)
	return client.ClientID, secret
}

func pkceS256Pair() (verifier, challenge string) {
	verifier = "test-code-verifier-0123456789abcdefghijklmno"
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

func TestAuthorizationCodeFlowHappyPath(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, secret := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"authorization_code"}, []string{"read", "write"})

	verifier, challenge := pkceS256Pair()
	redirect, err := engine.Authorize(ctx, oauth2.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         "https://client.example/callback",
		Scope:               "read",
		State:               "xyz",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	require.Equal(t, "xyz", u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)

	token, err := engine.AuthorizationCodeGrant(ctx, code, clientID, "https://client.example/callback", verifier, secret)
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)
	require.Equal(t, "read", token.Scope)
	require.Empty(t, token.RefreshToken)
}

func TestAuthorizePKCEMandatory(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, _ := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"authorization_code"}, []string{"read"})

	_, err := engine.Authorize(ctx, oauth2.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     clientID,
		RedirectURI:  "https://client.example/callback",
	})
	require.Error(t, err)
	oauthErr, ok := err.(*oauth2.Error)
	require.True(t, ok)
	require.Equal(t, oauth2.ErrInvalidRequest, oauthErr.Code)
}

func TestCodeIsSingleUse(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, secret := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"authorization_code"}, []string{"read"})

	verifier, challenge := pkceS256Pair()
	redirect, err := engine.Authorize(ctx, oauth2.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         "https://client.example/callback",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	u, _ := url.Parse(redirect)
	code := u.Query().Get("code")

	_, err = engine.AuthorizationCodeGrant(ctx, code, clientID, "https://client.example/callback", verifier, secret)
	require.NoError(t, err)

	_, err = engine.AuthorizationCodeGrant(ctx, code, clientID, "https://client.example/callback", verifier, secret)
	require.Error(t, err)
}

// TestBadSecretDoesNotBurnCode is the critical ordering invariant: an
// authorization-code grant attempt with a wrong client_secret must leave
// the code usable by a subsequent, correctly authenticated request.
func TestBadSecretDoesNotBurnCode(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, secret := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"authorization_code"}, []string{"read"})

	verifier, challenge := pkceS256Pair()
	redirect, err := engine.Authorize(ctx, oauth2.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            clientID,
		RedirectURI:         "https://client.example/callback",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	u, _ := url.Parse(redirect)
	code := u.Query().Get("code")

	_, err = engine.AuthorizationCodeGrant(ctx, code, clientID, "https://client.example/callback", verifier, "wrong-secret")
	require.Error(t, err)

	token, err := engine.AuthorizationCodeGrant(ctx, code, clientID, "https://client.example/callback", verifier, secret)
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)
}

func TestClientCredentialsGrant(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, secret := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"client_credentials"}, []string{"read", "write"})

	token, err := engine.ClientCredentialsGrant(ctx, clientID, secret, "write")
	require.NoError(t, err)
	require.NotEmpty(t, token.AccessToken)
	require.Empty(t, token.UserID)
	require.Equal(t, "write", token.Scope)
}

func TestClientCredentialsScopeMustBeSubset(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, secret := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"client_credentials"}, []string{"read"})

	_, err := engine.ClientCredentialsGrant(ctx, clientID, secret, "admin")
	require.Error(t, err)
	oauthErr, ok := err.(*oauth2.Error)
	require.True(t, ok)
	require.Equal(t, oauth2.ErrInvalidScope, oauthErr.Code)
}

func TestIntrospectAndRevoke(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	clientID, secret := registerTestClient(t, engine, "https://client.example/callback",
		[]string{"client_credentials"}, []string{"read"})

	token, err := engine.ClientCredentialsGrant(ctx, clientID, secret, "read")
	require.NoError(t, err)

	active, _, err := engine.Introspect(ctx, token.AccessToken)
	require.NoError(t, err)
	require.True(t, active)

	require.NoError(t, engine.Revoke(ctx, token.AccessToken))

	active, _, err = engine.Introspect(ctx, token.AccessToken)
	require.NoError(t, err)
	require.False(t, active)

	// Revoking again is idempotent per RFC 7009.
	require.NoError(t, engine.Revoke(ctx, token.AccessToken))
}

func TestUnsupportedGrantTypeIsRejectedAtRegistration(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, _, err := engine.Clients.RegisterClient(context.Background(), oauth2.Registration{
		ClientName:    "legacy client",
		RedirectURIs:  []string{"https://client.example/callback"},
		AllowedScopes: []string{"read"},
		GrantTypes:    []string{"password"},
	})
	require.Error(t, err)
}
