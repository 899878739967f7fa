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

// Package conformance provides a single suite of contract tests run against
// every storage.Port backend (postgres, sqlite, mongo), so the uniqueness
// and atomicity contracts in the Port's documentation hold regardless of
// which backend is wired in.
package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/storage"
)

type subTest struct {
	name string
	run  func(t *testing.T, ctx context.Context, db storage.Port)
}

func runTests(t *testing.T, newPort func(t *testing.T) storage.Port, tests []subTest) {
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			db := newPort(t)
			defer db.Close()
			test.run(t, context.Background(), db)
		})
	}
}

// RunTests runs the conformance suite against a backend. newPort must
// return an initialized, empty Port for each subtest.
func RunTests(t *testing.T, newPort func(t *testing.T) storage.Port) {
	runTests(t, newPort, []subTest{
		{"ClientUniqueness", testClientUniqueness},
		{"AuthorizationCodeSingleUse", testAuthorizationCodeSingleUse},
		{"AuthorizationCodeConcurrentBurn", testAuthorizationCodeConcurrentBurn},
		{"TokenUniquenessAndRevocation", testTokenUniquenessAndRevocation},
		{"NotFound", testNotFound},
		{"DeleteExpired", testDeleteExpired},
	})
}

func newClient(clientID string) *storage.Client {
	now := time.Now().UTC()
	return &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        "hash",
		ClientName:              "conformance client",
		RedirectURIs:            []string{"https://example.com/callback"},
		AllowedScopes:           []string{"read"},
		GrantTypes:              []string{"authorization_code"},
		TokenEndpointAuthMethod: "client_secret_basic",
		RequirePKCE:             true,
		AllowedPKCEMethods:      []string{"S256"},
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func testClientUniqueness(t *testing.T, ctx context.Context, db storage.Port) {
	clientID := "client_" + uuid.NewString()
	require.NoError(t, db.SaveClient(ctx, newClient(clientID)))

	err := db.SaveClient(ctx, newClient(clientID))
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := db.GetClient(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, clientID, got.ClientID)
	assert.True(t, got.IsActive)
}

func newCode(code, clientID string, expiresAt time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		UserID:              "user_123",
		RedirectURI:         "https://example.com/callback",
		Scope:               "read",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           expiresAt,
		CreatedAt:           time.Now().UTC(),
	}
}

func testAuthorizationCodeSingleUse(t *testing.T, ctx context.Context, db storage.Port) {
	code := "code_" + uuid.NewString()
	require.NoError(t, db.SaveAuthorizationCode(ctx, newCode(code, "client_a", time.Now().Add(time.Minute))))

	require.NoError(t, db.MarkAuthorizationCodeUsed(ctx, code))

	got, err := db.GetAuthorizationCode(ctx, code)
	require.NoError(t, err)
	assert.True(t, got.Used)

	// Burning an already-used code is a concurrent-use error, not success
	// and not not-found — this is the distinction the grant engine relies
	// on to reject replay.
	err = db.MarkAuthorizationCodeUsed(ctx, code)
	assert.ErrorIs(t, err, storage.ErrConcurrentUpdate)
}

func testAuthorizationCodeConcurrentBurn(t *testing.T, ctx context.Context, db storage.Port) {
	code := "code_" + uuid.NewString()
	require.NoError(t, db.SaveAuthorizationCode(ctx, newCode(code, "client_a", time.Now().Add(time.Minute))))

	const racers = 8
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func() {
			results <- db.MarkAuthorizationCodeUsed(ctx, code)
		}()
	}

	successes := 0
	for i := 0; i < racers; i++ {
		if err := <-results; err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, storage.ErrConcurrentUpdate)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent burn must win")
}

func testTokenUniquenessAndRevocation(t *testing.T, ctx context.Context, db storage.Port) {
	access := "at_" + uuid.NewString()
	refresh := "rt_" + uuid.NewString()
	now := time.Now().UTC()

	tok := &storage.Token{
		AccessToken: access, RefreshToken: refresh, ClientID: "client_a",
		UserID: "user_123", Scope: "read", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, db.SaveToken(ctx, tok))

	err := db.SaveToken(ctx, tok)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := db.GetTokenByAccessToken(ctx, access)
	require.NoError(t, err)
	assert.False(t, got.Revoked)
	assert.True(t, got.IsValid(time.Now()))

	byRefresh, err := db.GetTokenByRefreshToken(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, access, byRefresh.AccessToken)

	// Revoking by refresh token must revoke the pair it belongs to, not be
	// silently ignored (spec §4.1/§4.4: revoke_token matches either token).
	access2 := "at_" + uuid.NewString()
	refresh2 := "rt_" + uuid.NewString()
	tok2 := &storage.Token{
		AccessToken: access2, RefreshToken: refresh2, ClientID: "client_a",
		UserID: "user_123", Scope: "read", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, db.SaveToken(ctx, tok2))
	require.NoError(t, db.RevokeToken(ctx, refresh2))
	got2, err := db.GetTokenByAccessToken(ctx, access2)
	require.NoError(t, err)
	assert.True(t, got2.Revoked, "revoking by refresh token must revoke the access token it belongs to")

	require.NoError(t, db.RevokeToken(ctx, access))
	got, err = db.GetTokenByAccessToken(ctx, access)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.False(t, got.IsValid(time.Now()))

	// Revoking an already-revoked token reports not-found at the storage
	// layer; the HTTP layer is responsible for swallowing this into a
	// uniform 200 per RFC 7009.
	err = db.RevokeToken(ctx, access)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testNotFound(t *testing.T, ctx context.Context, db storage.Port) {
	_, err := db.GetClient(ctx, "client_does_not_exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.GetAuthorizationCode(ctx, "code_does_not_exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.GetTokenByAccessToken(ctx, "at_does_not_exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDeleteExpired(t *testing.T, ctx context.Context, db storage.Port) {
	expired := "code_" + uuid.NewString()
	live := "code_" + uuid.NewString()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, db.SaveAuthorizationCode(ctx, newCode(expired, "client_a", past)))
	require.NoError(t, db.SaveAuthorizationCode(ctx, newCode(live, "client_a", future)))

	codes, _, err := db.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), codes)

	_, err = db.GetAuthorizationCode(ctx, expired)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.GetAuthorizationCode(ctx, live)
	assert.NoError(t, err)
}
