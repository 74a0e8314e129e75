// Package tokenvault stores delegated third-party credentials.
//
// When a subject links an external account (mail, calendar, commerce),
// the resulting access and refresh tokens are encrypted at rest with
// AES-256-GCM and keyed by subject and connection name. Tools never see
// the vault; the gateway fetches a live token on their behalf.
package tokenvault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/aegis/internal/cryptoutil"
	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var (
	// ErrTokenNotFound is returned when the subject has no linked
	// account for the requested connection.
	ErrTokenNotFound = errors.New("no token stored for connection")
	// ErrInvalidVaultKey is returned when the vault key is not exactly
	// 32 bytes (required for AES-256).
	ErrInvalidVaultKey = errors.New("invalid vault encryption key")
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/tokenvault")

// Token is a decrypted delegated credential for one connection.
type Token struct {
	SubjectID    string    `json:"subject_id"`
	Connection   string    `json:"connection"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the access token is past its lifetime.
// A token with a zero expiry never expires.
func (t *Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && !time.Now().Before(t.ExpiresAt)
}

// Connection is the public view of a linked account (no token material).
type Connection struct {
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Vault manages encrypted delegated tokens.
type Vault struct {
	db  *sql.DB
	gcm cipher.AEAD
}

// NewVault creates the token vault on an existing database handle. The
// key must be exactly 32 raw bytes or 64 hex characters.
func NewVault(db *sql.DB, key string) (*Vault, error) {
	keyBytes, err := cryptoutil.ResolveKey32(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVaultKey, err)
	}

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS delegated_tokens (
			subject_id TEXT NOT NULL,
			connection TEXT NOT NULL,
			encrypted_token TEXT NOT NULL,
			nonce TEXT NOT NULL,
			scopes_json TEXT,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (subject_id, connection)
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating delegated_tokens table: %w", err)
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Vault{db: db, gcm: gcm}, nil
}

// tokenPayload is the encrypted portion of a stored token.
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Put stores a token for a subject's connection. Upserts on conflict so
// re-linking an account replaces the old credential.
func (v *Vault) Put(ctx context.Context, token *Token) error {
	ctx, span := tracer.Start(ctx, "tokenvault.put",
		trace.WithAttributes(
			attribute.String("connection", token.Connection),
		))
	defer span.End()

	payload, err := json.Marshal(tokenPayload{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		span.RecordError(err)
		return fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := v.gcm.Seal(nil, nonce, payload, nil)
	scopesJSON, _ := json.Marshal(token.Scopes)

	_, err = v.db.ExecContext(ctx, `
		INSERT INTO delegated_tokens (subject_id, connection, encrypted_token, nonce, scopes_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, connection) DO UPDATE SET
			encrypted_token = excluded.encrypted_token,
			nonce = excluded.nonce,
			scopes_json = excluded.scopes_json,
			expires_at = excluded.expires_at`,
		token.SubjectID, token.Connection,
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(nonce),
		string(scopesJSON), token.ExpiresAt, time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

// Get retrieves and decrypts the subject's token for a connection.
func (v *Vault) Get(ctx context.Context, subjectID, connection string) (*Token, error) {
	ctx, span := tracer.Start(ctx, "tokenvault.get",
		trace.WithAttributes(
			attribute.String("connection", connection),
		))
	defer span.End()

	var encrypted, nonceB64 string
	var scopesJSON sql.NullString
	var expiresAt sql.NullTime
	var createdAt time.Time
	err := v.db.QueryRowContext(ctx, `
		SELECT encrypted_token, nonce, scopes_json, expires_at, created_at
		FROM delegated_tokens WHERE subject_id = ? AND connection = ?`,
		subjectID, connection,
	).Scan(&encrypted, &nonceB64, &scopesJSON, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying token: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decrypting token: %w", err)
	}

	var payload tokenPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("unmarshaling token: %w", err)
	}

	token := &Token{
		SubjectID:    subjectID,
		Connection:   connection,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		CreatedAt:    createdAt,
	}
	if scopesJSON.Valid && scopesJSON.String != "" {
		_ = json.Unmarshal([]byte(scopesJSON.String), &token.Scopes)
	}
	if expiresAt.Valid {
		token.ExpiresAt = expiresAt.Time
	}
	return token, nil
}

// Delete revokes the subject's stored credential for a connection.
// Deleting an absent token is a no-op.
func (v *Vault) Delete(ctx context.Context, subjectID, connection string) error {
	_, err := v.db.ExecContext(ctx,
		`DELETE FROM delegated_tokens WHERE subject_id = ? AND connection = ?`,
		subjectID, connection)
	return err
}

// Connections returns the subject's linked accounts without token material.
func (v *Vault) Connections(ctx context.Context, subjectID string) ([]Connection, error) {
	rows, err := v.db.QueryContext(ctx, `
		SELECT connection, scopes_json, expires_at, created_at
		FROM delegated_tokens WHERE subject_id = ? ORDER BY connection`,
		subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		var scopesJSON sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&c.Name, &scopesJSON, &expiresAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		if scopesJSON.Valid && scopesJSON.String != "" {
			_ = json.Unmarshal([]byte(scopesJSON.String), &c.Scopes)
		}
		if expiresAt.Valid {
			c.ExpiresAt = expiresAt.Time
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
