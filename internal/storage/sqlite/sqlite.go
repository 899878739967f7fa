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

// Package sqlite implements the storage.Port over modernc.org/sqlite, a
// pure-Go SQLite driver requiring no cgo toolchain. It shares the
// Postgres backend's SQL dialect with the adjustments SQLite needs: no
// JSONB column type (stored as TEXT) and no gen_random_uuid() default.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vaultgate/vaultgate/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth2_clients (
	client_id                  TEXT PRIMARY KEY,
	client_secret_hash         TEXT NOT NULL DEFAULT '',
	client_name                TEXT NOT NULL,
	redirect_uris              TEXT NOT NULL DEFAULT '[]',
	allowed_scopes              TEXT NOT NULL DEFAULT '[]',
	grant_types                TEXT NOT NULL DEFAULT '[]',
	token_endpoint_auth_method TEXT NOT NULL DEFAULT 'client_secret_basic',
	require_pkce               INTEGER NOT NULL DEFAULT 1,
	allowed_pkce_methods        TEXT NOT NULL DEFAULT '["S256"]',
	is_active                  INTEGER NOT NULL DEFAULT 1,
	created_at                 TEXT NOT NULL,
	updated_at                 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS authorization_codes (
	code                  TEXT PRIMARY KEY,
	client_id             TEXT NOT NULL,
	user_id               TEXT NOT NULL DEFAULT '',
	redirect_uri          TEXT NOT NULL,
	scope                 TEXT NOT NULL DEFAULT '',
	code_challenge        TEXT NOT NULL DEFAULT '',
	code_challenge_method TEXT NOT NULL DEFAULT '',
	used                  INTEGER NOT NULL DEFAULT 0,
	expires_at            TEXT NOT NULL,
	created_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tokens (
	access_token  TEXT PRIMARY KEY,
	refresh_token TEXT UNIQUE,
	client_id     TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	revoked       INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	expires_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_authorization_codes_expires_at ON authorization_codes (expires_at);
CREATE INDEX IF NOT EXISTS idx_tokens_expires_at ON tokens (expires_at);
`

const timeFmt = time.RFC3339Nano

// DB implements storage.Port over a single-file (or in-memory) SQLite database.
type DB struct {
	conn *sql.DB
}

// New opens path (e.g. "file:vaultgate.db" or ":memory:") and migrates the schema.
func New(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite only tolerates one writer; a single connection avoids
	// "database is locked" errors under the Port's concurrent-caller contract.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.Init(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Init(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

func (db *DB) Healthcheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return storage.ErrDuplicate
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (db *DB) SaveClient(ctx context.Context, c *storage.Client) error {
	redirectURIs, _ := json.Marshal(c.RedirectURIs)
	allowedScopes, _ := json.Marshal(c.AllowedScopes)
	grantTypes, _ := json.Marshal(c.GrantTypes)
	pkceMethods, _ := json.Marshal(c.AllowedPKCEMethods)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO oauth2_clients
			(client_id, client_secret_hash, client_name, redirect_uris, allowed_scopes,
			 grant_types, token_endpoint_auth_method, require_pkce, allowed_pkce_methods,
			 is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.ClientSecretHash, c.ClientName, string(redirectURIs), string(allowedScopes),
		string(grantTypes), c.TokenEndpointAuthMethod, boolToInt(c.RequirePKCE), string(pkceMethods),
		boolToInt(c.IsActive), c.CreatedAt.Format(timeFmt), c.UpdatedAt.Format(timeFmt),
	)
	return translate(err)
}

func (db *DB) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT client_id, client_secret_hash, client_name, redirect_uris, allowed_scopes,
		       grant_types, token_endpoint_auth_method, require_pkce, allowed_pkce_methods,
		       is_active, created_at, updated_at
		FROM oauth2_clients WHERE client_id = ?`, clientID)

	var c storage.Client
	var redirectURIs, allowedScopes, grantTypes, pkceMethods string
	var requirePKCE, isActive int
	var createdAt, updatedAt string
	err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientName, &redirectURIs, &allowedScopes,
		&grantTypes, &c.TokenEndpointAuthMethod, &requirePKCE, &pkceMethods,
		&isActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, translate(err)
	}
	_ = json.Unmarshal([]byte(redirectURIs), &c.RedirectURIs)
	_ = json.Unmarshal([]byte(allowedScopes), &c.AllowedScopes)
	_ = json.Unmarshal([]byte(grantTypes), &c.GrantTypes)
	_ = json.Unmarshal([]byte(pkceMethods), &c.AllowedPKCEMethods)
	c.RequirePKCE = requirePKCE != 0
	c.IsActive = isActive != 0
	c.CreatedAt, _ = time.Parse(timeFmt, createdAt)
	c.UpdatedAt, _ = time.Parse(timeFmt, updatedAt)
	return &c, nil
}

func (db *DB) SaveUser(ctx context.Context, u *storage.User) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Username, u.CreatedAt.Format(timeFmt))
	return translate(err)
}

func scanUser(row *sql.Row) (*storage.User, error) {
	var u storage.User
	var createdAt string
	err := row.Scan(&u.ID, &u.Username, &createdAt)
	if err != nil {
		return nil, translate(err)
	}
	u.CreatedAt, _ = time.Parse(timeFmt, createdAt)
	return &u, nil
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx, `SELECT id, username, created_at FROM users WHERE username = ?`, username))
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx, `SELECT id, username, created_at FROM users WHERE id = ?`, id))
}

func (db *DB) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO authorization_codes
			(code, client_id, user_id, redirect_uri, scope, code_challenge,
			 code_challenge_method, used, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, boolToInt(code.Used),
		code.ExpiresAt.Format(timeFmt), code.CreatedAt.Format(timeFmt),
	)
	return translate(err)
}

func (db *DB) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT code, client_id, user_id, redirect_uri, scope, code_challenge,
		       code_challenge_method, used, expires_at, created_at
		FROM authorization_codes WHERE code = ?`, code)

	var ac storage.AuthorizationCode
	var used int
	var expiresAt, createdAt string
	err := row.Scan(&ac.Code, &ac.ClientID, &ac.UserID, &ac.RedirectURI, &ac.Scope, &ac.CodeChallenge,
		&ac.CodeChallengeMethod, &used, &expiresAt, &createdAt)
	if err != nil {
		return nil, translate(err)
	}
	ac.Used = used != 0
	ac.ExpiresAt, _ = time.Parse(timeFmt, expiresAt)
	ac.CreatedAt, _ = time.Parse(timeFmt, createdAt)
	return &ac, nil
}

func (db *DB) MarkAuthorizationCodeUsed(ctx context.Context, code string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE authorization_codes SET used = 1 WHERE code = ? AND used = 0`, code)
	if err != nil {
		return translate(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := db.GetAuthorizationCode(ctx, code); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrConcurrentUpdate
	}
	return nil
}

func (db *DB) SaveToken(ctx context.Context, t *storage.Token) error {
	var refresh any
	if t.RefreshToken != "" {
		refresh = t.RefreshToken
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tokens (access_token, refresh_token, client_id, user_id, scope, revoked, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccessToken, refresh, t.ClientID, t.UserID, t.Scope, boolToInt(t.Revoked),
		t.CreatedAt.Format(timeFmt), t.ExpiresAt.Format(timeFmt),
	)
	return translate(err)
}

func scanToken(row *sql.Row) (*storage.Token, error) {
	var t storage.Token
	var refresh sql.NullString
	var revoked int
	var createdAt, expiresAt string
	err := row.Scan(&t.AccessToken, &refresh, &t.ClientID, &t.UserID, &t.Scope, &revoked, &createdAt, &expiresAt)
	if err != nil {
		return nil, translate(err)
	}
	if refresh.Valid {
		t.RefreshToken = refresh.String
	}
	t.Revoked = revoked != 0
	t.CreatedAt, _ = time.Parse(timeFmt, createdAt)
	t.ExpiresAt, _ = time.Parse(timeFmt, expiresAt)
	return &t, nil
}

func (db *DB) GetTokenByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	return scanToken(db.conn.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, client_id, user_id, scope, revoked, created_at, expires_at
		FROM tokens WHERE access_token = ?`, accessToken))
}

func (db *DB) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	return scanToken(db.conn.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, client_id, user_id, scope, revoked, created_at, expires_at
		FROM tokens WHERE refresh_token = ?`, refreshToken))
}

func (db *DB) RevokeToken(ctx context.Context, token string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE (access_token = ? OR refresh_token = ?) AND revoked = 0`, token, token)
	if err != nil {
		return translate(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (db *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	codeRes, err := db.conn.ExecContext(ctx, `DELETE FROM authorization_codes WHERE expires_at < ?`, now.Format(timeFmt))
	if err != nil {
		return 0, 0, translate(err)
	}
	codes, _ := codeRes.RowsAffected()

	tokenRes, err := db.conn.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at < ?`, now.Format(timeFmt))
	if err != nil {
		return codes, 0, translate(err)
	}
	tokens, _ := tokenRes.RowsAffected()
	return codes, tokens, nil
}
