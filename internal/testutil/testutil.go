// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Test signing and encryption keys for use in tests only.
// 32 bytes for AES-256 / HMAC key material.
const (
	TestSigningKey = "test-signing-key-1234567890123456"
	TestVaultKey   = "12345678901234567890123456789012"
)

// NewTestDB opens a SQLite database in a temp dir and registers t.Cleanup
// to close it. Stores share this handle the same way the process-scoped
// handle is shared in production.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "aegis.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
