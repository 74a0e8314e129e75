package stepup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	aegisotel "github.com/dativo-io/aegis/internal/otel"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/stepup")

// Store persists authorization challenges.
type Store struct {
	db *sql.DB
}

// NewStore creates the challenge store with SQLite backend.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS authorization_challenges (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			challenge_json TEXT NOT NULL,
			resolved_by TEXT,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_challenges_status ON authorization_challenges(status);
		CREATE INDEX IF NOT EXISTS idx_challenges_subject ON authorization_challenges(subject_id, status);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating authorization_challenges table: %w", err)
	}
	return &Store{db: db}, nil
}

// Create persists a new pending challenge.
func (s *Store) Create(ctx context.Context, ch *Challenge) error {
	ctx, span := tracer.Start(ctx, "stepup.create",
		trace.WithAttributes(
			attribute.String("challenge_id", ch.ID),
			attribute.String("challenge_kind", string(ch.Kind)),
		))
	defer span.End()

	chJSON, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshaling challenge: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authorization_challenges (id, subject_id, kind, status, challenge_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.SubjectID, string(ch.Kind), string(ch.Status),
		string(chJSON), ch.CreatedAt, ch.ExpiresAt,
	)
	return err
}

// Get returns a single challenge by id.
func (s *Store) Get(ctx context.Context, id string) (*Challenge, error) {
	var chJSON, status string
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT challenge_json, status, resolved_by, resolved_at FROM authorization_challenges WHERE id = ?`, id,
	).Scan(&chJSON, &status, &resolvedBy, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}

	var ch Challenge
	if err := json.Unmarshal([]byte(chJSON), &ch); err != nil {
		return nil, fmt.Errorf("unmarshaling challenge: %w", err)
	}

	ch.Status = Status(status)
	if resolvedBy.Valid {
		ch.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		ch.ResolvedAt = &t
	}
	return &ch, nil
}

// ListPending returns challenges awaiting resolution, newest last,
// optionally filtered by subject. Overdue ones are excluded even if the
// sweeper has not marked them yet.
func (s *Store) ListPending(ctx context.Context, subjectID string) ([]*Challenge, error) {
	query := `SELECT challenge_json FROM authorization_challenges WHERE status = 'pending' AND expires_at > ?`
	args := []interface{}{time.Now().UTC()}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var challenges []*Challenge
	for rows.Next() {
		var chJSON string
		if err := rows.Scan(&chJSON); err != nil {
			return nil, err
		}
		var ch Challenge
		if err := json.Unmarshal([]byte(chJSON), &ch); err != nil {
			continue
		}
		challenges = append(challenges, &ch)
	}
	return challenges, rows.Err()
}

// Approve resolves a pending challenge as approved.
func (s *Store) Approve(ctx context.Context, id, resolvedBy string) error {
	return s.resolve(ctx, id, StatusApproved, resolvedBy)
}

// Deny resolves a pending challenge as denied.
func (s *Store) Deny(ctx context.Context, id, resolvedBy string) error {
	return s.resolve(ctx, id, StatusDenied, resolvedBy)
}

// resolve performs the single allowed transition out of pending. The
// WHERE clause is the transition guard: a challenge that already reached
// a terminal state is left untouched and the caller gets
// ErrChallengeNotPending.
func (s *Store) resolve(ctx context.Context, id string, status Status, resolvedBy string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE authorization_challenges SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		string(status), resolvedBy, now, id, now,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrChallengeNotFound) {
			return ErrChallengeNotFound
		}
		return ErrChallengeNotPending
	}

	log.Info().Str("challenge_id", id).Str("status", string(status)).Msg("challenge_resolved")
	return nil
}

// ExpireOverdue marks pending challenges past their lifetime as expired
// and returns how many were swept.
func (s *Store) ExpireOverdue(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE authorization_challenges SET status = ?, resolved_at = ?
		WHERE status = 'pending' AND expires_at <= ?`,
		string(StatusExpired), time.Now().UTC(), time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
