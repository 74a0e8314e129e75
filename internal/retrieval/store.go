package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrDocumentNotFound is returned by Get for an unknown document id.
var ErrDocumentNotFound = errors.New("document not found")

// Document is one stored knowledge-base document.
type Document struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentStore is a keyword-scored Source over SQLite. It stands in for
// the external vector search in single-node deployments: same Candidate
// contract, similarity from keyword overlap instead of embeddings.
type DocumentStore struct {
	db *sql.DB
}

// NewDocumentStore creates the document schema on the given handle.
func NewDocumentStore(db *sql.DB) (*DocumentStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace_id);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating document schema: %w", err)
	}
	return &DocumentStore{db: db}, nil
}

// Put stores a document, assigning an id when none is set.
func (s *DocumentStore) Put(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = "doc_" + uuid.New().String()[:12]
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, workspace_id, title, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content`,
		doc.ID, doc.WorkspaceID, doc.Title, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("storing document: %w", err)
	}
	return nil
}

// Get returns one document by id.
func (s *DocumentStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, title, content, created_at FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.WorkspaceID, &doc.Title, &doc.Content, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return &doc, nil
}

// FindRelevant implements Source with keyword-overlap scoring. Results are
// ordered by descending similarity; documents sharing no keywords with the
// query are dropped.
func (s *DocumentStore) FindRelevant(ctx context.Context, query string, limit int) ([]Candidate, error) {
	ctx, span := tracer.Start(ctx, "retrieval.find_relevant",
		trace.WithAttributes(attribute.Int("retrieval.limit", limit)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var id, title, content string
		if err := rows.Scan(&id, &title, &content); err != nil {
			return nil, err
		}
		sim := keywordSimilarity(query, title+" "+content)
		if sim <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Content:    content,
			DocumentID: id,
			Similarity: sim,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	span.SetAttributes(attribute.Int("retrieval.candidates", len(candidates)))
	return candidates, nil
}

// keywordSimilarity is overlap of the two keyword sets normalized by the
// smaller set, in [0,1].
func keywordSimilarity(a, b string) float64 {
	wordsA := extractKeywordSet(a)
	wordsB := extractKeywordSet(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	overlap := 0
	for w := range wordsA {
		if wordsB[w] {
			overlap++
		}
	}

	denominator := len(wordsA)
	if len(wordsB) < denominator {
		denominator = len(wordsB)
	}
	return float64(overlap) / float64(denominator)
}

func extractKeywordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}|")
		if len(w) >= 3 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "been": true, "said": true, "each": true,
	"which": true, "their": true, "will": true, "other": true, "about": true,
	"many": true, "then": true, "them": true, "these": true, "some": true,
	"would": true, "make": true, "like": true, "into": true, "time": true,
}
