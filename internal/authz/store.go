// Package authz resolves relationship-based access decisions over documents.
//
// Access is expressed as directed relation tuples (subject, relation,
// document): a subject may hold an owner or viewer relation on a document,
// and the derived can_view relation is the union of the two — mirroring the
// FGA model `can_view = owner ∪ viewer`. The store only ever answers a
// single predicate, Check; policy lives in the relation data, not in code.
//
// The Checker interface is the seam for swapping the local SQLite store for
// a remote relationship-authorization service.
package authz

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/authz")

// Relation kinds. CanView is computed, never stored.
const (
	RelationOwner   = "owner"
	RelationViewer  = "viewer"
	RelationCanView = "can_view"
)

// Tuple is one stored relation between a subject and a document.
type Tuple struct {
	Subject    string `json:"subject"`
	Relation   string `json:"relation"`
	DocumentID string `json:"document_id"`
}

// Checker answers the single authorization predicate used by the retriever.
type Checker interface {
	Check(ctx context.Context, subject, relation, documentID string) (bool, error)
}

// Store persists relation tuples in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the relation schema on the given handle.
func NewStore(db *sql.DB) (*Store, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS relation_tuples (
		subject TEXT NOT NULL,
		relation TEXT NOT NULL,
		document_id TEXT NOT NULL,
		PRIMARY KEY (subject, relation, document_id)
	);

	CREATE INDEX IF NOT EXISTS idx_relations_document ON relation_tuples(document_id);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating relation schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Write stores a relation tuple. Writing an existing tuple is a no-op.
func (s *Store) Write(ctx context.Context, t Tuple) error {
	ctx, span := tracer.Start(ctx, "authz.write",
		trace.WithAttributes(
			attribute.String("authz.relation", t.Relation),
			attribute.String("authz.document_id", t.DocumentID),
		))
	defer span.End()

	if t.Relation != RelationOwner && t.Relation != RelationViewer {
		return fmt.Errorf("relation %q is not writable", t.Relation)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relation_tuples (subject, relation, document_id) VALUES (?, ?, ?)`,
		t.Subject, t.Relation, t.DocumentID)
	if err != nil {
		return fmt.Errorf("writing relation tuple: %w", err)
	}
	return nil
}

// Delete removes a relation tuple. Deleting a missing tuple is a no-op.
func (s *Store) Delete(ctx context.Context, t Tuple) error {
	ctx, span := tracer.Start(ctx, "authz.delete",
		trace.WithAttributes(
			attribute.String("authz.relation", t.Relation),
			attribute.String("authz.document_id", t.DocumentID),
		))
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM relation_tuples WHERE subject = ? AND relation = ? AND document_id = ?`,
		t.Subject, t.Relation, t.DocumentID)
	if err != nil {
		return fmt.Errorf("deleting relation tuple: %w", err)
	}
	return nil
}

// Check reports whether the subject holds the relation on the document.
// can_view resolves as the owner/viewer union.
func (s *Store) Check(ctx context.Context, subject, relation, documentID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "authz.check",
		trace.WithAttributes(
			attribute.String("authz.relation", relation),
			attribute.String("authz.document_id", documentID),
		))
	defer span.End()

	query := `SELECT COUNT(1) FROM relation_tuples WHERE subject = ? AND document_id = ? AND relation = ?`
	args := []interface{}{subject, documentID, relation}
	if relation == RelationCanView {
		query = `SELECT COUNT(1) FROM relation_tuples WHERE subject = ? AND document_id = ? AND relation IN (?, ?)`
		args = []interface{}{subject, documentID, RelationOwner, RelationViewer}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("checking relation: %w", err)
	}

	allowed := count > 0
	span.SetAttributes(attribute.Bool("authz.allowed", allowed))
	return allowed, nil
}

// ListForDocument returns all tuples on a document, for the sharing UI.
func (s *Store) ListForDocument(ctx context.Context, documentID string) ([]Tuple, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, relation, document_id FROM relation_tuples WHERE document_id = ? ORDER BY subject, relation`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("listing relation tuples: %w", err)
	}
	defer rows.Close()

	var tuples []Tuple
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.Subject, &t.Relation, &t.DocumentID); err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}
