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

// Package oauth2 is the grant-engine core: client registry, authorization
// code lifecycle, token issuance, and the state machines that tie them
// together per RFC 6749.
package oauth2

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/vaultgate/vaultgate/internal/storage"
)

// DefaultScope is used whenever a request omits scope entirely.
const DefaultScope = "read"

// Engine wires the Client Registry, Authorization-Code Store, Token
// Store, and a pluggable consent collaborator into the two grant-type
// state machines the core supports. It holds no persistent state of its
// own — everything durable lives behind storage.Port.
type Engine struct {
	Clients *ClientRegistry
	Codes   *CodeStore
	Tokens  *TokenStore
	Consent Consent

	// RequireClientSecretOnAuthCode gates whether a public client
	// (TokenEndpointAuthMethod "none") may redeem an authorization code with
	// PKCE alone. True by default: a client_secret is required even when
	// PKCE already proves possession of the original /authorize request.
	// Operators that register genuinely public clients (SPAs, native apps)
	// can relax this via config.
	RequireClientSecretOnAuthCode bool
}

func NewEngine(clients *ClientRegistry, codes *CodeStore, tokens *TokenStore, consent Consent) *Engine {
	return &Engine{Clients: clients, Codes: codes, Tokens: tokens, Consent: consent, RequireClientSecretOnAuthCode: true}
}

// AuthorizeRequest is the parsed input to Authorize, already checked for
// duplicate query-parameter names by the HTTP transport.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize runs the 11-step authorization-code + PKCE state machine
// (spec §4.5.1) and returns the fully built redirect URL on success. Any
// failure returns an *Error describing exactly which step rejected the
// request; the HTTP transport decides whether to render it inline (most
// pre-redirect failures can't safely be sent to the client's
// redirect_uri) or fold it into the redirect query string.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.ResponseType != "code" {
		return "", NewError(ErrInvalidRequest, "response_type must be \"code\"").WithState(req.State)
	}

	client, err := e.Clients.Get(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", NewError(ErrInvalidClient, "unknown client_id").WithState(req.State)
		}
		return "", NewError(ErrServerError, "failed to load client").WithState(req.State)
	}
	if !client.IsActive {
		return "", NewError(ErrInvalidClient, "client is not active").WithState(req.State)
	}

	if !supportsGrant(client, "authorization_code") {
		return "", NewError(ErrUnauthorizedClient, "client does not support authorization_code").WithState(req.State)
	}

	if !validRedirectURI(client, req.RedirectURI) {
		return "", NewError(ErrInvalidRequest, "redirect_uri does not match a registered URI").WithState(req.State)
	}

	if req.CodeChallenge == "" || req.CodeChallengeMethod != "S256" {
		return "", NewError(ErrInvalidRequest, "PKCE with S256 is mandatory").WithState(req.State)
	}

	scope := req.Scope
	if strings.TrimSpace(scope) == "" {
		scope = DefaultScope
	}
	if !scopeSubset(scope, client.AllowedScopes) {
		return "", NewError(ErrInvalidScope, "requested scope exceeds client's allowed scopes").WithState(req.State)
	}

	userID, ok := e.Consent.Resolve(ctx, client.ClientID, scope)
	if !ok {
		return "", NewError(ErrAccessDenied, "resource owner denied the request").WithState(req.State)
	}

	code, err := e.Codes.Create(ctx, client.ClientID, userID, req.RedirectURI, scope, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return "", NewError(ErrServerError, "failed to create authorization code").WithState(req.State)
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil || redirect.Fragment != "" {
		return "", NewError(ErrInvalidRequest, "redirect_uri is not a valid absolute URL").WithState(req.State)
	}
	q := redirect.Query()
	q.Set("code", code.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	return redirect.String(), nil
}

// AuthorizationCodeGrant is the authorization_code half of the token
// endpoint state machine (spec §4.5.2). The ordering here is load-bearing
// and must not be rearranged: the code is validated (including PKCE)
// before the client is authenticated, and MarkUsed is only called after
// client authentication succeeds — so a bad client_secret never burns an
// otherwise-valid code.
func (e *Engine) AuthorizationCodeGrant(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientSecret string) (*storage.Token, error) {
	if code == "" || clientID == "" {
		return nil, NewError(ErrInvalidRequest, "code and client_id are required")
	}

	ac, err := e.Codes.Validate(ctx, code, clientID, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}

	client, err := e.Clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError(ErrInvalidClient, "unknown client_id")
		}
		return nil, NewError(ErrServerError, "failed to load client")
	}
	if !supportsGrant(client, "authorization_code") {
		return nil, NewError(ErrUnauthorizedClient, "client does not support authorization_code")
	}

	publicClient := client.TokenEndpointAuthMethod == "none"
	if clientSecret == "" {
		if e.RequireClientSecretOnAuthCode || !publicClient {
			return nil, NewError(ErrInvalidClient, "client_secret is required")
		}
		// Public client, policy relaxed: PKCE (already verified by
		// e.Codes.Validate above) stands in for client authentication.
	} else if _, err := e.Clients.Authenticate(ctx, clientID, clientSecret); err != nil {
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}

	if err := e.Codes.MarkUsed(ctx, code); err != nil {
		return nil, err
	}

	return e.Tokens.CreateToken(ctx, ac.UserID, client.ClientID, ac.Scope, false)
}

// ClientCredentialsGrant is the client_credentials half of the token
// endpoint state machine (spec §4.5.2).
func (e *Engine) ClientCredentialsGrant(ctx context.Context, clientID, clientSecret, requestedScope string) (*storage.Token, error) {
	if clientID == "" || clientSecret == "" {
		return nil, NewError(ErrInvalidRequest, "client_id and client_secret are required")
	}

	client, err := e.Clients.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "client authentication failed")
	}
	if !supportsGrant(client, "client_credentials") {
		return nil, NewError(ErrUnauthorizedClient, "client does not support client_credentials")
	}

	scope := requestedScope
	if strings.TrimSpace(scope) == "" {
		scope = DefaultScope
	}
	if !scopeSubset(scope, client.AllowedScopes) {
		return nil, NewError(ErrInvalidScope, "requested scope exceeds client's allowed scopes")
	}

	return e.Tokens.CreateToken(ctx, "", client.ClientID, scope, false)
}

// Introspect and Revoke simply delegate; they exist on Engine so the HTTP
// transport has one entry point for every grant-engine operation.
func (e *Engine) Introspect(ctx context.Context, token string) (bool, *storage.Token, error) {
	return e.Tokens.Introspect(ctx, token)
}

func (e *Engine) Revoke(ctx context.Context, token string) error {
	return e.Tokens.Revoke(ctx, token)
}
