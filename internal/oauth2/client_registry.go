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

package oauth2

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/storage"
)

var (
	ErrRedirectURIsRequired = errors.New("oauth2: redirect_uris must be non-empty")
	ErrRedirectURIInvalid   = errors.New("oauth2: redirect_uri must be an absolute URI with no fragment, CR/LF, javascript: or data: scheme")
	ErrGrantTypesRequired   = errors.New("oauth2: grant_types must be non-empty and supported")
	ErrScopeRequired        = errors.New("oauth2: scope must be non-empty")
)

// supportedGrantTypes is the set this hardened variant of the server will
// register a client against; password and refresh_token are excluded by
// construction per the Non-goals.
var supportedGrantTypes = map[string]bool{
	"authorization_code": true,
	"client_credentials": true,
}

// Registration is the input to RegisterClient.
type Registration struct {
	ClientName    string
	RedirectURIs  []string
	AllowedScopes []string
	GrantTypes    []string
}

// ClientRegistry owns client registration, lookup, and authentication.
type ClientRegistry struct {
	db     storage.Port
	hasher *SecretHasher
	bus    *eventbus.Bus
}

func NewClientRegistry(db storage.Port, hasher *SecretHasher, bus *eventbus.Bus) *ClientRegistry {
	return &ClientRegistry{db: db, hasher: hasher, bus: bus}
}

func (r *ClientRegistry) emit(ctx context.Context, event string, attrs map[string]string) {
	env := eventbus.NewEnvelope("oauth2.client_registry", event)
	env.Attributes = attrs
	r.bus.PublishBestEffort(ctx, env)
}

// validateRedirectURI enforces the registration-time hardening rules: an
// absolute URI, no fragment, no embedded CR/LF (header/response-splitting),
// and neither javascript: nor data: schemes.
func validateRedirectURI(raw string) error {
	if strings.ContainsAny(raw, "\r\n") {
		return ErrRedirectURIInvalid
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return ErrRedirectURIInvalid
	}
	if u.Fragment != "" {
		return ErrRedirectURIInvalid
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "javascript" || scheme == "data" {
		return ErrRedirectURIInvalid
	}
	return nil
}

// RegisterClient validates a registration, mints a client_<uuid> id and a
// 32-char alphanumeric secret, and persists the client.
func (r *ClientRegistry) RegisterClient(ctx context.Context, reg Registration) (client *storage.Client, secret string, err error) {
	if len(reg.RedirectURIs) == 0 {
		return nil, "", ErrRedirectURIsRequired
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, "", err
		}
	}
	if len(reg.GrantTypes) == 0 {
		return nil, "", ErrGrantTypesRequired
	}
	for _, gt := range reg.GrantTypes {
		if !supportedGrantTypes[gt] {
			return nil, "", fmt.Errorf("%w: %q", ErrGrantTypesRequired, gt)
		}
	}
	if len(reg.AllowedScopes) == 0 {
		return nil, "", ErrScopeRequired
	}

	secret = generateClientSecret()
	hash, err := r.hasher.Hash(secret)
	if err != nil {
		return nil, "", fmt.Errorf("oauth2: hash client secret: %w", err)
	}
	now := time.Now().UTC()
	c := &storage.Client{
		ClientID:                generateClientID(),
		ClientSecretHash:        hash,
		ClientName:              reg.ClientName,
		RedirectURIs:            reg.RedirectURIs,
		AllowedScopes:           reg.AllowedScopes,
		GrantTypes:              reg.GrantTypes,
		TokenEndpointAuthMethod: "client_secret_basic",
		RequirePKCE:             true,
		AllowedPKCEMethods:      []string{"S256"},
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := r.db.SaveClient(ctx, c); err != nil {
		return nil, "", err
	}
	r.emit(ctx, "ClientRegistered", map[string]string{"client_id": c.ClientID})
	return c, secret, nil
}

func (r *ClientRegistry) Get(ctx context.Context, clientID string) (*storage.Client, error) {
	return r.db.GetClient(ctx, clientID)
}

// Authenticate validates a presented client_secret against the stored
// hash in constant time. A public client (empty ClientSecretHash) cannot
// authenticate via this path — the PKCE-only policy in engine.go decides
// whether that's acceptable. The submitted secret itself is never
// attached to the emitted event, only the outcome.
func (r *ClientRegistry) Authenticate(ctx context.Context, clientID, secret string) (*storage.Client, error) {
	c, err := r.db.GetClient(ctx, clientID)
	if err != nil {
		r.emit(ctx, "ClientValidated", map[string]string{"client_id": clientID, "success": "false"})
		return nil, err
	}
	if c.ClientSecretHash == "" || !r.hasher.Verify(secret, c.ClientSecretHash) {
		r.emit(ctx, "ClientValidated", map[string]string{"client_id": clientID, "success": "false"})
		return nil, ErrInvalidClientSecret
	}
	r.emit(ctx, "ClientValidated", map[string]string{"client_id": clientID, "success": "true"})
	return c, nil
}

var ErrInvalidClientSecret = errors.New("oauth2: invalid client secret")

func supportsGrant(c *storage.Client, grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

func validRedirectURI(c *storage.Client, redirectURI string) bool {
	for _, u := range c.RedirectURIs {
		if u == redirectURI {
			return true
		}
	}
	return false
}

// scopeSubset reports whether every space-separated scope in requested
// appears in the client's allowed scope list.
func scopeSubset(requested string, allowed []string) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}
	for _, s := range strings.Fields(requested) {
		if !allowedSet[s] {
			return false
		}
	}
	return true
}
