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

// Package postgres implements the storage.Port over a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultgate/vaultgate/internal/storage"
)

//go:embed migrations/001_initial_schema.up.sql
var initialSchema string

// uniqueViolation is Postgres's SQLSTATE for a unique-constraint violation.
const uniqueViolation = "23505"

// DB implements storage.Port over PostgreSQL via pgx v5.
type DB struct {
	pool *pgxpool.Pool
}

// New connects and migrates the schema. The connection string is passed
// through to pgxpool.ParseConfig unmodified.
func New(ctx context.Context, connString string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	db := &DB{pool: pool}
	if err := db.Init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Init(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, initialSchema)
	return err
}

func (db *DB) Healthcheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

func (db *DB) SaveClient(ctx context.Context, c *storage.Client) error {
	redirectURIs, _ := json.Marshal(c.RedirectURIs)
	allowedScopes, _ := json.Marshal(c.AllowedScopes)
	grantTypes, _ := json.Marshal(c.GrantTypes)
	pkceMethods, _ := json.Marshal(c.AllowedPKCEMethods)

	_, err := db.pool.Exec(ctx, `
		INSERT INTO oauth2_clients
			(client_id, client_secret_hash, client_name, redirect_uris, allowed_scopes,
			 grant_types, token_endpoint_auth_method, require_pkce, allowed_pkce_methods,
			 is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ClientID, c.ClientSecretHash, c.ClientName, redirectURIs, allowedScopes,
		grantTypes, c.TokenEndpointAuthMethod, c.RequirePKCE, pkceMethods,
		c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	return translate(err)
}

func (db *DB) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT client_id, client_secret_hash, client_name, redirect_uris, allowed_scopes,
		       grant_types, token_endpoint_auth_method, require_pkce, allowed_pkce_methods,
		       is_active, created_at, updated_at
		FROM oauth2_clients WHERE client_id = $1`, clientID)

	var c storage.Client
	var redirectURIs, allowedScopes, grantTypes, pkceMethods []byte
	err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientName, &redirectURIs, &allowedScopes,
		&grantTypes, &c.TokenEndpointAuthMethod, &c.RequirePKCE, &pkceMethods,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	_ = json.Unmarshal(redirectURIs, &c.RedirectURIs)
	_ = json.Unmarshal(allowedScopes, &c.AllowedScopes)
	_ = json.Unmarshal(grantTypes, &c.GrantTypes)
	_ = json.Unmarshal(pkceMethods, &c.AllowedPKCEMethods)
	return &c, nil
}

func (db *DB) SaveUser(ctx context.Context, u *storage.User) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)`,
		u.ID, u.Username, u.CreatedAt)
	return translate(err)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var u storage.User
	err := db.pool.QueryRow(ctx, `SELECT id, username, created_at FROM users WHERE username = $1`, username).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	var u storage.User
	err := db.pool.QueryRow(ctx, `SELECT id, username, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (db *DB) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO authorization_codes
			(code, client_id, user_id, redirect_uri, scope, code_challenge,
			 code_challenge_method, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.Used, code.ExpiresAt, code.CreatedAt,
	)
	return translate(err)
}

func (db *DB) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var ac storage.AuthorizationCode
	err := db.pool.QueryRow(ctx, `
		SELECT code, client_id, user_id, redirect_uri, scope, code_challenge,
		       code_challenge_method, used, expires_at, created_at
		FROM authorization_codes WHERE code = $1`, code).
		Scan(&ac.Code, &ac.ClientID, &ac.UserID, &ac.RedirectURI, &ac.Scope, &ac.CodeChallenge,
			&ac.CodeChallengeMethod, &ac.Used, &ac.ExpiresAt, &ac.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &ac, nil
}

// MarkAuthorizationCodeUsed performs a conditional update guarded by
// "used = false" so two racing redemptions of the same code cannot both
// succeed: the loser sees RowsAffected() == 0 and is told ErrConcurrentUpdate.
func (db *DB) MarkAuthorizationCodeUsed(ctx context.Context, code string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE authorization_codes SET used = true WHERE code = $1 AND used = false`, code)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetAuthorizationCode(ctx, code); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConcurrentUpdate
	}
	return nil
}

func (db *DB) SaveToken(ctx context.Context, t *storage.Token) error {
	var refresh *string
	if t.RefreshToken != "" {
		refresh = &t.RefreshToken
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO tokens (access_token, refresh_token, client_id, user_id, scope, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.AccessToken, refresh, t.ClientID, t.UserID, t.Scope, t.Revoked, t.CreatedAt, t.ExpiresAt,
	)
	return translate(err)
}

func scanToken(row pgx.Row) (*storage.Token, error) {
	var t storage.Token
	var refresh *string
	err := row.Scan(&t.AccessToken, &refresh, &t.ClientID, &t.UserID, &t.Scope, &t.Revoked, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, translate(err)
	}
	if refresh != nil {
		t.RefreshToken = *refresh
	}
	return &t, nil
}

func (db *DB) GetTokenByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, client_id, user_id, scope, revoked, created_at, expires_at
		FROM tokens WHERE access_token = $1`, accessToken)
	return scanToken(row)
}

func (db *DB) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, client_id, user_id, scope, revoked, created_at, expires_at
		FROM tokens WHERE refresh_token = $1`, refreshToken)
	return scanToken(row)
}

// RevokeToken is a conditional update for symmetry with MarkAuthorizationCodeUsed;
// unlike code-burning, a zero-rows result here is swallowed by the caller
// (internal/oauth2) to satisfy RFC 7009's always-succeed contract.
func (db *DB) RevokeToken(ctx context.Context, token string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE tokens SET revoked = true WHERE (access_token = $1 OR refresh_token = $1) AND revoked = false`, token)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (db *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	codeTag, err := db.pool.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, 0, translate(err)
	}
	tokenTag, err := db.pool.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1`, now)
	if err != nil {
		return codeTag.RowsAffected(), 0, translate(err)
	}
	return codeTag.RowsAffected(), tokenTag.RowsAffected(), nil
}
