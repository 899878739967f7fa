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

// Package mongo implements the storage.Port over go.mongodb.org/mongo-driver,
// the document-store half of the Storage Port contract (the relational half
// being storage/postgres and storage/sqlite).
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vaultgate/vaultgate/internal/storage"
)

func filterID(key, id string) bson.D { return bson.D{{Key: key, Value: id}} }

// DB implements storage.Port over a MongoDB database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri and ensures the unique indexes the Port's uniqueness
// contract depends on.
func New(ctx context.Context, uri string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	// The Port owns a single logical database regardless of what (if
	// anything) the caller's URI names after the host.
	db := &DB{client: client, db: client.Database("vaultgate")}
	if err := db.Init(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return db, nil
}

func (db *DB) clients() *mongo.Collection { return db.db.Collection("oauth2_clients") }
func (db *DB) users() *mongo.Collection   { return db.db.Collection("users") }
func (db *DB) codes() *mongo.Collection   { return db.db.Collection("authorization_codes") }
func (db *DB) tokens() *mongo.Collection  { return db.db.Collection("tokens") }

func (db *DB) Init(ctx context.Context) error {
	_, err := db.clients().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = db.users().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = db.tokens().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "refresh_token", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true), // sparse: most tokens have no refresh_token
	})
	return err
}

func (db *DB) Healthcheck(ctx context.Context) error {
	return db.client.Ping(ctx, nil)
}

func (db *DB) Close() error {
	return db.client.Disconnect(context.Background())
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	return err
}

type clientDoc struct {
	ClientID                string    `bson:"client_id"`
	ClientSecretHash        string    `bson:"client_secret_hash"`
	ClientName              string    `bson:"client_name"`
	RedirectURIs            []string  `bson:"redirect_uris"`
	AllowedScopes           []string  `bson:"allowed_scopes"`
	GrantTypes              []string  `bson:"grant_types"`
	TokenEndpointAuthMethod string    `bson:"token_endpoint_auth_method"`
	RequirePKCE             bool      `bson:"require_pkce"`
	AllowedPKCEMethods      []string  `bson:"allowed_pkce_methods"`
	IsActive                bool      `bson:"is_active"`
	CreatedAt               time.Time `bson:"created_at"`
	UpdatedAt               time.Time `bson:"updated_at"`
}

func (db *DB) SaveClient(ctx context.Context, c *storage.Client) error {
	doc := clientDoc{
		ClientID: c.ClientID, ClientSecretHash: c.ClientSecretHash, ClientName: c.ClientName,
		RedirectURIs: c.RedirectURIs, AllowedScopes: c.AllowedScopes, GrantTypes: c.GrantTypes,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod, RequirePKCE: c.RequirePKCE,
		AllowedPKCEMethods: c.AllowedPKCEMethods, IsActive: c.IsActive,
		CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
	_, err := db.clients().InsertOne(ctx, doc)
	return translate(err)
}

func (db *DB) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var doc clientDoc
	err := db.clients().FindOne(ctx, filterID("client_id", clientID)).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return &storage.Client{
		ClientID: doc.ClientID, ClientSecretHash: doc.ClientSecretHash, ClientName: doc.ClientName,
		RedirectURIs: doc.RedirectURIs, AllowedScopes: doc.AllowedScopes, GrantTypes: doc.GrantTypes,
		TokenEndpointAuthMethod: doc.TokenEndpointAuthMethod, RequirePKCE: doc.RequirePKCE,
		AllowedPKCEMethods: doc.AllowedPKCEMethods, IsActive: doc.IsActive,
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
	}, nil
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	CreatedAt time.Time `bson:"created_at"`
}

func (db *DB) SaveUser(ctx context.Context, u *storage.User) error {
	_, err := db.users().InsertOne(ctx, userDoc{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt})
	return translate(err)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var doc userDoc
	err := db.users().FindOne(ctx, filterID("username", username)).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return &storage.User{ID: doc.ID, Username: doc.Username, CreatedAt: doc.CreatedAt}, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	var doc userDoc
	err := db.users().FindOne(ctx, filterID("_id", id)).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return &storage.User{ID: doc.ID, Username: doc.Username, CreatedAt: doc.CreatedAt}, nil
}

type codeDoc struct {
	Code                string    `bson:"_id"`
	ClientID            string    `bson:"client_id"`
	UserID              string    `bson:"user_id"`
	RedirectURI         string    `bson:"redirect_uri"`
	Scope               string    `bson:"scope"`
	CodeChallenge       string    `bson:"code_challenge"`
	CodeChallengeMethod string    `bson:"code_challenge_method"`
	Used                bool      `bson:"used"`
	ExpiresAt           time.Time `bson:"expires_at"`
	CreatedAt           time.Time `bson:"created_at"`
}

func (db *DB) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	doc := codeDoc{
		Code: code.Code, ClientID: code.ClientID, UserID: code.UserID, RedirectURI: code.RedirectURI,
		Scope: code.Scope, CodeChallenge: code.CodeChallenge, CodeChallengeMethod: code.CodeChallengeMethod,
		Used: code.Used, ExpiresAt: code.ExpiresAt, CreatedAt: code.CreatedAt,
	}
	_, err := db.codes().InsertOne(ctx, doc)
	return translate(err)
}

func (db *DB) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	var doc codeDoc
	err := db.codes().FindOne(ctx, filterID("_id", code)).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return &storage.AuthorizationCode{
		Code: doc.Code, ClientID: doc.ClientID, UserID: doc.UserID, RedirectURI: doc.RedirectURI,
		Scope: doc.Scope, CodeChallenge: doc.CodeChallenge, CodeChallengeMethod: doc.CodeChallengeMethod,
		Used: doc.Used, ExpiresAt: doc.ExpiresAt, CreatedAt: doc.CreatedAt,
	}, nil
}

// MarkAuthorizationCodeUsed uses FindOneAndUpdate with a used:false filter so
// the update and the "was it already used" check are a single atomic
// operation, mirroring the Postgres/SQLite conditional UPDATE.
func (db *DB) MarkAuthorizationCodeUsed(ctx context.Context, code string) error {
	filter := bson.D{{Key: "_id", Value: code}, {Key: "used", Value: false}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "used", Value: true}}}}
	err := db.codes().FindOneAndUpdate(ctx, filter, update).Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return translate(err)
	}
	if _, getErr := db.GetAuthorizationCode(ctx, code); errors.Is(getErr, storage.ErrNotFound) {
		return storage.ErrNotFound
	}
	return storage.ErrConcurrentUpdate
}

type tokenDoc struct {
	AccessToken  string    `bson:"_id"`
	RefreshToken string    `bson:"refresh_token,omitempty"`
	ClientID     string    `bson:"client_id"`
	UserID       string    `bson:"user_id"`
	Scope        string    `bson:"scope"`
	Revoked      bool      `bson:"revoked"`
	CreatedAt    time.Time `bson:"created_at"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

func (db *DB) SaveToken(ctx context.Context, t *storage.Token) error {
	doc := tokenDoc{
		AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ClientID: t.ClientID,
		UserID: t.UserID, Scope: t.Scope, Revoked: t.Revoked, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt,
	}
	_, err := db.tokens().InsertOne(ctx, doc)
	return translate(err)
}

func toToken(doc tokenDoc) *storage.Token {
	return &storage.Token{
		AccessToken: doc.AccessToken, RefreshToken: doc.RefreshToken, ClientID: doc.ClientID,
		UserID: doc.UserID, Scope: doc.Scope, Revoked: doc.Revoked, CreatedAt: doc.CreatedAt, ExpiresAt: doc.ExpiresAt,
	}
}

func (db *DB) GetTokenByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	var doc tokenDoc
	err := db.tokens().FindOne(ctx, filterID("_id", accessToken)).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return toToken(doc), nil
}

func (db *DB) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	var doc tokenDoc
	err := db.tokens().FindOne(ctx, filterID("refresh_token", refreshToken)).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return toToken(doc), nil
}

func (db *DB) RevokeToken(ctx context.Context, token string) error {
	filter := bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "_id", Value: token}},
			bson.D{{Key: "refresh_token", Value: token}},
		}},
		{Key: "revoked", Value: false},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "revoked", Value: true}}}}
	err := db.tokens().FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return translate(err)
}

func (db *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	expired := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}}}
	codeRes, err := db.codes().DeleteMany(ctx, expired)
	if err != nil {
		return 0, 0, translate(err)
	}
	tokenRes, err := db.tokens().DeleteMany(ctx, expired)
	if err != nil {
		return codeRes.DeletedCount, 0, translate(err)
	}
	return codeRes.DeletedCount, tokenRes.DeletedCount, nil
}
