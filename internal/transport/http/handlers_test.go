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

package http

import (
	"bytes"
	"context"
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
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := sqlite.New(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := eventbus.New(eventbus.NewRing(32), nil, eventbus.AllowAll)
	hasher := oauth2.NewSecretHasher(64*1024, 1, 1, 16, 32)
	engine := oauth2.NewEngine(
		oauth2.NewClientRegistry(db, hasher, bus),
		oauth2.NewCodeStore(db, bus),
		oauth2.NewTokenStore(db, []byte("handlers-test-signing-key-32-bytes!!"), bus),
		oauth2.NewStubConsent(),
	)
	return NewHandler(engine, bus, eventbus.NewDedupCache(32, 0), logger.NewAuditLogger(slog.Default()))
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestDiscovery(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()

	h.Discovery(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	require.Contains(t, meta, "authorization_endpoint")
	require.Contains(t, meta, "token_endpoint")
	require.ElementsMatch(t, []any{"S256"}, meta["code_challenge_methods_supported"])
}

func TestAuthorize_UnknownClientDoesNotRedirect(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?response_type=code&client_id=nope&redirect_uri=https://client.example/cb&code_challenge=abc&code_challenge_method=S256", nil)
	w := httptest.NewRecorder()

	h.Authorize(w, req)

	// An unknown client_id / redirect_uri mismatch must never be redirected
	// (that would hand an attacker an open-redirect oracle).
	require.NotEqual(t, http.StatusFound, w.Code)
}

func TestAuthorize_DuplicateQueryParamRejected(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize?response_type=code&response_type=code&client_id=x&redirect_uri=https://x", nil)
	w := httptest.NewRecorder()

	h.Authorize(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	h := newTestHandler(t)
	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.Token(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "unsupported_grant_type", body["error"])
}

func TestToken_DuplicateFormParamRejected(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", bytes.NewBufferString("grant_type=client_credentials&grant_type=client_credentials"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.Token(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntrospect_UnknownTokenIsInactive(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/oauth2/introspect", bytes.NewBufferString("token=does-not-exist"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.Introspect(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, false, body["active"])
}

func TestRevoke_UnknownTokenStillReturns200(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/oauth2/revoke", bytes.NewBufferString("token=does-not-exist"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.Revoke(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterClient(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(map[string]any{
		"client_name":    "test client",
		"redirect_uris":  []string{"https://client.example/cb"},
		"allowed_scopes": []string{"read"},
		"grant_types":    []string{"authorization_code"},
	})
	req := httptest.NewRequest(http.MethodPost, "/oauth2/clients", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.RegisterClient(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out["client_id"])
	require.NotEmpty(t, out["client_secret"])
}

func TestEventsIngest_RequiresEventField(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(map[string]any{"producer": "test"})
	req := httptest.NewRequest(http.MethodPost, "/events/ingest", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.EventsIngest(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsIngest_AcceptsAndDeduplicates(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(map[string]any{"event": "external.thing_happened", "producer": "test"})

	req := httptest.NewRequest(http.MethodPost, "/events/ingest", bytes.NewReader(body))
	req.Header.Set("Idempotency-Key", "dup-1")
	w := httptest.NewRecorder()
	h.EventsIngest(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/events/ingest", bytes.NewReader(body))
	req2.Header.Set("Idempotency-Key", "dup-1")
	w2 := httptest.NewRecorder()
	h.EventsIngest(w2, req2)
	require.Equal(t, http.StatusAccepted, w2.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &out))
	require.Equal(t, "duplicate", out["status"])
}

func TestEventsHealth(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/events/health", nil)
	w := httptest.NewRecorder()

	h.EventsHealth(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
