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
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/storage"
)

const (
	AccessTokenLifetime  = 3600 * time.Second
	RefreshTokenLifetime = 30 * 24 * time.Hour
)

// TokenStore issues, looks up, and revokes access/refresh tokens. Access
// tokens are signed JWTs (HMAC-SHA256) keyed by the process-wide signing
// key; the same encoded JWT string is both what the client receives and
// the opaque lookup key persisted in storage.Port.
type TokenStore struct {
	db         storage.Port
	signingKey []byte
	bus        *eventbus.Bus
}

func NewTokenStore(db storage.Port, signingKey []byte, bus *eventbus.Bus) *TokenStore {
	return &TokenStore{db: db, signingKey: signingKey, bus: bus}
}

func (s *TokenStore) emit(ctx context.Context, event string, attrs map[string]string) {
	env := eventbus.NewEnvelope("oauth2.token_store", event)
	env.Attributes = attrs
	s.bus.PublishBestEffort(ctx, env)
}

// claims builds {subject, aud, scope, exp, iat}. subject is user_id if
// present, else client_id (client-credentials grants have no user).
func (s *TokenStore) sign(subject, clientID, scope string, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   subject,
		"aud":   clientID,
		"scope": scope,
		"iat":   time.Now().UTC().Unix(),
		"exp":   exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// CreateToken builds and persists an access token and, if includeRefresh,
// a refresh token. userID is empty for client-credentials grants.
func (s *TokenStore) CreateToken(ctx context.Context, userID, clientID, scope string, includeRefresh bool) (*storage.Token, error) {
	now := time.Now().UTC()
	subject := userID
	if subject == "" {
		subject = clientID
	}

	accessExp := now.Add(AccessTokenLifetime)
	access, err := s.sign(subject, clientID, scope, accessExp)
	if err != nil {
		return nil, NewError(ErrServerError, "failed to sign access token")
	}

	t := &storage.Token{
		AccessToken: access,
		ClientID:    clientID,
		UserID:      userID,
		Scope:       scope,
		CreatedAt:   now,
		ExpiresAt:   accessExp,
	}

	if includeRefresh {
		refreshExp := now.Add(RefreshTokenLifetime)
		refresh, err := s.sign(subject, clientID, scope, refreshExp)
		if err != nil {
			return nil, NewError(ErrServerError, "failed to sign refresh token")
		}
		t.RefreshToken = refresh
	}

	if err := s.db.SaveToken(ctx, t); err != nil {
		return nil, err
	}
	s.emit(ctx, "TokenCreated", map[string]string{"client_id": clientID, "user_id": userID})
	return t, nil
}

// normalizeToken trims whitespace and an optional "Bearer " prefix before
// lookup, so a token copied straight out of an Authorization header still
// matches what was persisted.
func normalizeToken(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "Bearer ")
	return strings.TrimSpace(t)
}

// Introspect validates an access token's signature and storage-side
// revocation/expiry state, per RFC 7662. A structurally valid but
// expired/revoked/unknown token reports active=false, never an error.
func (s *TokenStore) Introspect(ctx context.Context, accessToken string) (active bool, t *storage.Token, err error) {
	accessToken = normalizeToken(accessToken)
	parsed, perr := jwt.Parse(accessToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.signingKey, nil
	})
	if perr != nil || !parsed.Valid {
		return false, nil, nil
	}

	t, err = s.db.GetTokenByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if !t.IsValid(time.Now().UTC()) {
		s.emit(ctx, "TokenExpired", map[string]string{"client_id": t.ClientID})
		return false, t, nil
	}
	s.emit(ctx, "TokenValidated", map[string]string{"client_id": t.ClientID})
	return true, t, nil
}

// Revoke is idempotent: revoking an already-revoked or unknown token is
// never surfaced as an error to the caller, matching RFC 7009.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	err := s.db.RevokeToken(ctx, normalizeToken(token))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	s.emit(ctx, "TokenRevoked", nil)
	return nil
}
