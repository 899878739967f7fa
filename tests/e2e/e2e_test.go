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

//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/oauth2"
	"github.com/vaultgate/vaultgate/internal/observability/logger"
	"github.com/vaultgate/vaultgate/internal/storage/sqlite"
	transportHTTP "github.com/vaultgate/vaultgate/internal/transport/http"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.New(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := eventbus.New(eventbus.NewRing(64), nil, eventbus.AllowAll)
	hasher := oauth2.NewSecretHasher(64*1024, 1, 1, 16, 32)
	engine := oauth2.NewEngine(
		oauth2.NewClientRegistry(db, hasher, bus),
		oauth2.NewCodeStore(db, bus),
		oauth2.NewTokenStore(db, []byte("e2e-test-signing-key-at-least-32-bytes!!"), bus),
		oauth2.NewStubConsent(),
	)
	dedup := eventbus.NewDedupCache(64, 0)
	handler := transportHTTP.NewHandler(engine, bus, dedup, logger.NewAuditLogger(slog.Default()))
	router := transportHTTP.NewRouter(handler, transportHTTP.NewRateLimiter(1000, 1000))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func registerClient(t *testing.T, srv *httptest.Server, redirectURI string, grantTypes, scopes []string) (clientID, secret string) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"client_name":    "e2e test client",
		"redirect_uris":  []string{redirectURI},
		"allowed_scopes": scopes,
		"grant_types":    grantTypes,
	})
	resp, err := http.Post(srv.URL+"/oauth2/clients", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.ClientID, out.ClientSecret
}

func pkcePair() (verifier, challenge string) {
	verifier = "e2e-fixed-verifier-0123456789abcdefghijklmno"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

// TestAuthorizationCodeFlowEndToEnd drives the full HTTP surface: register a
// client, hit /oauth2/authorize, redeem the code at /oauth2/token, confirm
// the token via /oauth2/introspect, then revoke it.
func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	redirectURI := "https://client.example/callback"
	clientID, secret := registerClient(t, srv, redirectURI, []string{"authorization_code"}, []string{"read"})

	verifier, challenge := pkcePair()
	authorizeURL := srv.URL + "/oauth2/authorize?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {"read"},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode()

	httpClient := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := httpClient.Get(authorizeURL)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	loc, err := resp.Location()
	require.NoError(t, err)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {clientID},
		"client_secret": {secret},
		"code_verifier": {verifier},
	}
	resp, err = http.PostForm(srv.URL+"/oauth2/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokenResp))
	require.NotEmpty(t, tokenResp.AccessToken)
	require.Equal(t, "Bearer", tokenResp.TokenType)

	introspectResp, err := http.PostForm(srv.URL+"/oauth2/introspect", url.Values{"token": {tokenResp.AccessToken}})
	require.NoError(t, err)
	defer introspectResp.Body.Close()
	var introspected struct {
		Active bool `json:"active"`
	}
	require.NoError(t, json.NewDecoder(introspectResp.Body).Decode(&introspected))
	require.True(t, introspected.Active)

	revokeResp, err := http.PostForm(srv.URL+"/oauth2/revoke", url.Values{"token": {tokenResp.AccessToken}})
	require.NoError(t, err)
	defer revokeResp.Body.Close()
	require.Equal(t, http.StatusOK, revokeResp.StatusCode)

	// RFC 7009: revoking again must still be 200.
	revokeAgain, err := http.PostForm(srv.URL+"/oauth2/revoke", url.Values{"token": {tokenResp.AccessToken}})
	require.NoError(t, err)
	defer revokeAgain.Body.Close()
	require.Equal(t, http.StatusOK, revokeAgain.StatusCode)
}

// TestClientCredentialsFlowEndToEnd exercises the machine-to-machine grant.
func TestClientCredentialsFlowEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	clientID, secret := registerClient(t, srv, "https://client.example/callback",
		[]string{"client_credentials"}, []string{"read", "write"})

	resp, err := http.PostForm(srv.URL+"/oauth2/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {secret},
		"scope":         {"write"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestDuplicateAuthorizeParameterRejected ensures the HTTP layer enforces
// the "reject duplicate query parameters" invariant before it ever reaches
// the grant engine.
func TestDuplicateAuthorizeParameterRejected(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/oauth2/authorize?response_type=code&response_type=code&client_id=x&redirect_uri=https://x")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestEventsIngestIsIdempotent exercises the external ingestion endpoint's
// idempotency-key precedence and duplicate-detection contract.
func TestEventsIngestIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"event": "external.thing_happened", "producer": "e2e"})

	post := func() (status int, payload map[string]string) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/events/ingest", bytes.NewReader(body))
		req.Header.Set("Idempotency-Key", "k1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, first := post()
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, "accepted", first["status"])

	status, second := post()
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, "duplicate", second["status"])
}
