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
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/oauth2"
	"github.com/vaultgate/vaultgate/internal/observability/logger"
	"github.com/vaultgate/vaultgate/internal/storage"
)

// tokenResponse is the RFC 6749 Section 5.1 access token response shape.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Handler holds the grant engine and its ambient dependencies. Unlike the
// multi-tenant identity provider this core grew out of, there is no
// session/tenant/authz/oidc service to wire in here — the grant engine and
// the event fabric are the entire surface.
type Handler struct {
	engine      *oauth2.Engine
	bus         *eventbus.Bus
	dedup       *eventbus.DedupCache
	auditLogger *logger.AuditLogger
}

func NewHandler(engine *oauth2.Engine, bus *eventbus.Bus, dedup *eventbus.DedupCache, auditLogger *logger.AuditLogger) *Handler {
	return &Handler{engine: engine, bus: bus, dedup: dedup, auditLogger: auditLogger}
}

// NewRouter creates a new HTTP router.
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)
	r.Get("/.well-known/openid-configuration", h.Discovery)

	r.Route("/oauth2", func(r chi.Router) {
		// RFC 6749 Section 4.1.1
		r.Get("/authorize", h.Authorize)
		// RFC 6749 Section 4.1.3 / Section 4.4.2
		r.Post("/token", h.Token)
		// RFC 7662
		r.Post("/introspect", h.Introspect)
		// RFC 7009
		r.Post("/revoke", h.Revoke)
		// Dynamic client registration (not a standard the core claims to
		// implement wire-for-wire; just the minimal admin path needed to
		// mint a client_id/client_secret pair for local use and tests).
		r.Post("/clients", h.RegisterClient)
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/ingest", h.EventsIngest)
		r.Get("/health", h.EventsHealth)
	})

	return r
}

// HealthCheck reports process liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "vaultgate",
	})
}

// Discovery serves a simplified OpenID-Provider-Configuration-like document.
// It deliberately omits id_token/JWKS-related fields — the core issues
// opaque bearer access tokens only, never id_tokens, per the Non-goals.
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	base := "https://" + r.Host
	if r.TLS == nil {
		base = "http://" + r.Host
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth2/authorize",
		"token_endpoint":                        base + "/oauth2/token",
		"introspection_endpoint":                base + "/oauth2/introspect",
		"revocation_endpoint":                   base + "/oauth2/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "client_credentials"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic"},
	})
}

// Authorize handles GET /oauth2/authorize (RFC 6749 Section 4.1.1).
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if hasDuplicateParam(query) {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "duplicate query parameter"))
		return
	}

	req := oauth2.AuthorizeRequest{
		ResponseType:        query.Get("response_type"),
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		Scope:               query.Get("scope"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	redirectURL, err := h.engine.Authorize(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "authorize request rejected",
			"error", err, "client_id", req.ClientID, "redirect_uri", req.RedirectURI)

		oauthErr, ok := err.(*oauth2.Error)
		if !ok {
			respondOAuthError(w, err)
			return
		}

		// A failure that cannot be safely attributed to a registered,
		// exact-matching redirect_uri must never be turned into a redirect —
		// that would hand an attacker an open-redirect oracle. Everything
		// else folds into the callback's query string per RFC 6749 4.1.2.1.
		if oauthErr.Code == oauth2.ErrInvalidClient || strings.Contains(oauthErr.Description, "redirect_uri") {
			h.auditLogger.AuthorizationDenied(r.Context(), "", req.ClientID, oauthErr.Description, getIPAddress(r))
			respondOAuthError(w, oauthErr)
			return
		}

		h.auditLogger.AuthorizationDenied(r.Context(), "", req.ClientID, oauthErr.Description, getIPAddress(r))
		redirectWithError(w, r, req.RedirectURI, oauthErr)
		return
	}

	h.auditLogger.AuthorizationGranted(r.Context(), "", req.ClientID, req.Scope, getIPAddress(r))
	setNoStoreHeaders(w)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Token handles POST /oauth2/token (RFC 6749 Section 4.1.3 / 4.4.2).
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "malformed form body"))
		return
	}
	if hasDuplicateParam(r.Form) {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "duplicate form parameter"))
		return
	}

	clientID := r.Form.Get("client_id")
	clientSecret := r.Form.Get("client_secret")
	if clientID == "" {
		if username, password, ok := r.BasicAuth(); ok {
			clientID = username
			clientSecret = password
		}
	}

	var token *storage.Token
	var err error

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		token, err = h.engine.AuthorizationCodeGrant(r.Context(),
			r.Form.Get("code"), clientID, r.Form.Get("redirect_uri"), r.Form.Get("code_verifier"), clientSecret)
	case "client_credentials":
		token, err = h.engine.ClientCredentialsGrant(r.Context(), clientID, clientSecret, r.Form.Get("scope"))
	default:
		respondOAuthError(w, oauth2.NewError(oauth2.ErrUnsupportedGrantType, "unsupported grant_type"))
		return
	}

	if err != nil {
		slog.ErrorContext(r.Context(), "token request failed", "error", err, "grant_type", r.Form.Get("grant_type"))
		if oauthErr, ok := err.(*oauth2.Error); ok && oauthErr.Code == oauth2.ErrInvalidClient {
			h.auditLogger.ClientAuthenticationFailed(r.Context(), clientID, getIPAddress(r))
		}
		respondOAuthError(w, err)
		return
	}

	h.auditLogger.TokenIssued(r.Context(), token.ClientID, token.UserID, token.Scope, getIPAddress(r))
	setNoStoreHeaders(w)
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(token.ExpiresAt).Seconds()),
		Scope:       token.Scope,
	})
}

// Introspect handles POST /oauth2/introspect (RFC 7662).
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "malformed form body"))
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "missing token"))
		return
	}

	active, t, err := h.engine.Introspect(r.Context(), token)
	if err != nil {
		respondOAuthError(w, err)
		return
	}
	if !active {
		setNoStoreHeaders(w)
		respondJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}

	setNoStoreHeaders(w)
	respondJSON(w, http.StatusOK, map[string]any{
		"active":     true,
		"client_id":  t.ClientID,
		"sub":        firstNonEmpty(t.UserID, t.ClientID),
		"scope":      t.Scope,
		"exp":        t.ExpiresAt.Unix(),
		"iat":        t.CreatedAt.Unix(),
		"token_type": "Bearer",
	})
}

// Revoke handles POST /oauth2/revoke (RFC 7009).
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "malformed form body"))
		return
	}

	token := r.Form.Get("token")
	if token == "" {
		respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "missing token"))
		return
	}

	// RFC 7009 Section 2.2: the authorization server responds 200 OK
	// regardless of whether the token was valid, already revoked, or
	// unknown, so callers never learn a token existed by probing revoke.
	_ = h.engine.Revoke(r.Context(), token)
	h.auditLogger.TokenRevoked(r.Context(), r.Form.Get("client_id"), getIPAddress(r))
	w.WriteHeader(http.StatusOK)
}

// registerClientRequest is the JSON body accepted by POST /oauth2/clients.
type registerClientRequest struct {
	ClientName    string   `json:"client_name"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes"`
	GrantTypes    []string `json:"grant_types"`
}

// RegisterClient handles POST /oauth2/clients, minting a new client_id and
// returning its client_secret exactly once.
func (h *Handler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, secret, err := h.engine.Clients.RegisterClient(r.Context(), oauth2.Registration{
		ClientName:    req.ClientName,
		RedirectURIs:  req.RedirectURIs,
		AllowedScopes: req.AllowedScopes,
		GrantTypes:    req.GrantTypes,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.auditLogger.ClientRegistered(r.Context(), client.ClientID, getIPAddress(r))
	respondJSON(w, http.StatusCreated, map[string]any{
		"client_id":      client.ClientID,
		"client_secret":  secret,
		"client_name":    client.ClientName,
		"redirect_uris":  client.RedirectURIs,
		"allowed_scopes": client.AllowedScopes,
		"grant_types":    client.GrantTypes,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondOAuthError serializes a protocol error into its wire shape, using
// Error.HTTPStatus() for the status code; anything that isn't an
// *oauth2.Error is an internal fault the client never sees details of.
func respondOAuthError(w http.ResponseWriter, err error) {
	if oauthErr, ok := err.(*oauth2.Error); ok {
		respondJSON(w, oauthErr.HTTPStatus(), oauthErr)
		return
	}
	respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, "internal server error"))
}

// redirectWithError folds a protocol error into the client's redirect_uri
// per RFC 6749 Section 4.1.2.1, applying the same response-hardening
// headers as a successful authorize redirect.
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI string, oauthErr *oauth2.Error) {
	if redirectURI == "" {
		respondOAuthError(w, oauthErr)
		return
	}
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		respondOAuthError(w, oauthErr)
		return
	}
	q := redirect.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if oauthErr.State != "" {
		q.Set("state", oauthErr.State)
	}
	redirect.RawQuery = q.Encode()
	setNoStoreHeaders(w)
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// setNoStoreHeaders marks a response carrying a token or authorization
// redirect as never cacheable and hardens it against being framed or
// leaking via the Referer header (spec's response-hardening requirement).
func setNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// hasDuplicateParam rejects a request carrying the same parameter name more
// than once. RFC 6749 doesn't define behavior for duplicated parameters;
// silently taking the first or last value opens the door to request
// smuggling between a validating proxy and this server, so the core
// rejects the request outright instead.
func hasDuplicateParam(values map[string][]string) bool {
	for _, v := range values {
		if len(v) > 1 {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
