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
	"time"

	"github.com/vaultgate/vaultgate/internal/eventbus"
	"github.com/vaultgate/vaultgate/internal/storage"
)

// CodeLifetime is the default authorization code lifetime.
const CodeLifetime = 10 * time.Minute

// CodeStore owns authorization-code issuance, lookup, and single-use burn.
type CodeStore struct {
	db  storage.Port
	bus *eventbus.Bus
}

func NewCodeStore(db storage.Port, bus *eventbus.Bus) *CodeStore {
	return &CodeStore{db: db, bus: bus}
}

func (s *CodeStore) emit(ctx context.Context, event string, attrs map[string]string) {
	env := eventbus.NewEnvelope("oauth2.code_store", event)
	env.Attributes = attrs
	s.bus.PublishBestEffort(ctx, env)
}

// Create mints a 32-char alphanumeric code bound to the given client,
// subject, redirect URI, scope, and optional PKCE challenge.
func (s *CodeStore) Create(ctx context.Context, clientID, userID, redirectURI, scope, codeChallenge, codeChallengeMethod string) (*storage.AuthorizationCode, error) {
	now := time.Now().UTC()
	code := &storage.AuthorizationCode{
		Code:                generateAuthorizationCode(),
		ClientID:            clientID,
		UserID:              userID,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Used:                false,
		ExpiresAt:           now.Add(CodeLifetime),
		CreatedAt:           now,
	}
	if err := s.db.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}
	s.emit(ctx, "AuthorizationCodeCreated", map[string]string{
		"client_id": clientID,
		"user_id":   userID,
	})
	return code, nil
}

// Validate looks up a code and checks it against the presented client_id,
// redirect_uri, and (if the code carries a PKCE challenge) code_verifier.
// It does NOT burn the code — callers must authenticate the client first
// and call MarkUsed only after that succeeds (see engine.go).
func (s *CodeStore) Validate(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*storage.AuthorizationCode, error) {
	ac, err := s.db.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewError(ErrInvalidGrant, "unknown authorization code")
		}
		return nil, err
	}

	if ac.Used || ac.IsExpired(time.Now().UTC()) {
		s.emit(ctx, "AuthorizationCodeExpired", map[string]string{"client_id": ac.ClientID})
		return nil, NewError(ErrInvalidGrant, "authorization code already used or expired")
	}
	if ac.ClientID != clientID || ac.RedirectURI != redirectURI {
		return nil, NewError(ErrInvalidGrant, "authorization code does not match client_id/redirect_uri")
	}

	if ac.CodeChallenge != "" {
		method := ac.CodeChallengeMethod
		if method == "" {
			method = "plain"
		}
		if codeVerifier == "" || !verifyPKCE(method, codeVerifier, ac.CodeChallenge) {
			return nil, NewError(ErrInvalidGrant, "PKCE verification failed")
		}
	}

	s.emit(ctx, "AuthorizationCodeValidated", map[string]string{
		"client_id": ac.ClientID,
		"user_id":   ac.UserID,
	})
	return ac, nil
}

// MarkUsed burns the code. Per the ordering invariant, callers must only
// reach this after client authentication has already succeeded.
func (s *CodeStore) MarkUsed(ctx context.Context, code string) error {
	err := s.db.MarkAuthorizationCodeUsed(ctx, code)
	if errors.Is(err, storage.ErrConcurrentUpdate) || errors.Is(err, storage.ErrNotFound) {
		return NewError(ErrInvalidGrant, "authorization code already used or expired")
	}
	return err
}
