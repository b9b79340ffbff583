package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mohammad-safakhou/issuesense/models"
)

// DefaultEmbeddingDimensions matches the vector column of the documents table.
const DefaultEmbeddingDimensions = 1536

var (
	// ErrNotFound is returned when no live or deleted row matches an id.
	ErrNotFound = models.ErrDocumentNotFound
	// ErrDimensionMismatch rejects vectors of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

type Store struct {
	DB *sql.DB
	// Dimensions is the expected vector length; zero disables the check.
	Dimensions int
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db, Dimensions: dimensions}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

const documentColumns = `id, kind, owner, repo, number, title, url, markdown, author_id, author_login, author_kind,
  state, state_reason, assignees, private, content_hash, embedding, embedding_status, created_at, modified_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, extra ...any) (models.Document, error) {
	var (
		doc        models.Document
		kind       string
		authorKind string
		status     string
		markdown   sql.NullString
		embedding  sql.Null[pgvector.Vector]
		deletedAt  sql.NullTime
	)
	dest := []any{
		&doc.ID, &kind, &doc.Owner, &doc.Repo, &doc.Number, &doc.Title, &doc.URL, &markdown,
		&doc.AuthorID, &doc.AuthorLogin, &authorKind, &doc.State, &doc.StateReason,
		pq.Array(&doc.Assignees), &doc.Private, &doc.ContentHash, &embedding, &status,
		&doc.CreatedAt, &doc.ModifiedAt, &deletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return models.Document{}, err
	}
	doc.Kind = models.DocumentKind(kind)
	doc.AuthorKind = models.ParseAuthorKind(authorKind)
	doc.EmbeddingStatus = models.EmbeddingStatus(status)
	if markdown.Valid {
		md := markdown.String
		doc.Markdown = &md
	}
	if embedding.Valid {
		vec := embedding.V
		doc.Embedding = &vec
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		doc.DeletedAt = &at
	}
	return doc, nil
}

// Get returns a document by id, including soft-deleted ones.
func (s *Store) Get(ctx context.Context, id string) (models.Document, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("get document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// Upsert creates or replaces a document row. Embedding and status are written
// together with the rest of the row.
func (s *Store) Upsert(ctx context.Context, doc models.Document) error {
	if !doc.Kind.Valid() {
		return fmt.Errorf("upsert document %s: unknown kind %q", doc.ID, doc.Kind)
	}
	if doc.EmbeddingStatus == models.EmbeddingReady {
		if !doc.HasEmbedding() {
			return fmt.Errorf("upsert document %s: ready status without embedding", doc.ID)
		}
		if err := s.checkDimensions(doc.Embedding.Slice()); err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.ID, err)
		}
	}
	var markdown sql.NullString
	if doc.Markdown != nil {
		markdown = sql.NullString{String: *doc.Markdown, Valid: true}
	}
	assignees := doc.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	const q = `
INSERT INTO documents (id, kind, owner, repo, number, title, url, markdown, author_id, author_login, author_kind,
  state, state_reason, assignees, private, content_hash, embedding, embedding_status, created_at, modified_at, deleted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17::vector,$18,$19,$20,$21)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  url = EXCLUDED.url,
  markdown = EXCLUDED.markdown,
  author_id = EXCLUDED.author_id,
  author_login = EXCLUDED.author_login,
  author_kind = EXCLUDED.author_kind,
  state = EXCLUDED.state,
  state_reason = EXCLUDED.state_reason,
  assignees = EXCLUDED.assignees,
  private = EXCLUDED.private,
  content_hash = EXCLUDED.content_hash,
  embedding = EXCLUDED.embedding,
  embedding_status = EXCLUDED.embedding_status,
  modified_at = EXCLUDED.modified_at,
  deleted_at = EXCLUDED.deleted_at;
`
	_, err := s.DB.ExecContext(ctx, q,
		doc.ID, string(doc.Kind), doc.Owner, doc.Repo, doc.Number, doc.Title, doc.URL, markdown,
		doc.AuthorID, doc.AuthorLogin, doc.AuthorKind.String(), doc.State, doc.StateReason,
		pq.Array(assignees), doc.Private, doc.ContentHash, doc.Embedding, string(doc.EmbeddingStatus),
		doc.CreatedAt, doc.ModifiedAt, doc.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// SoftDelete stamps deleted_at once; deleting twice is a no-op.
func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE documents SET deleted_at = $2, modified_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.DB.ExecContext(ctx, q, id, at); err != nil {
		return fmt.Errorf("soft delete document %s: %w", id, err)
	}
	return nil
}

// SetEmbedding stores vec and flips the status to ready in one statement.
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("set embedding %s: empty vector", id)
	}
	if err := s.checkDimensions(vec); err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	const q = `UPDATE documents SET embedding = $2::vector, embedding_status = 'ready' WHERE id = $1`
	return s.execOne(ctx, "set embedding", id, q, id, pgvector.NewVector(vec))
}

// MarkEmbeddingFailed records that no embedding will be produced.
func (s *Store) MarkEmbeddingFailed(ctx context.Context, id string) error {
	const q = `UPDATE documents SET embedding_status = 'failed' WHERE id = $1`
	return s.execOne(ctx, "mark embedding failed", id, q, id)
}

func (s *Store) execOne(ctx context.Context, op, id, q string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

func (s *Store) checkDimensions(vec []float32) error {
	if s.Dimensions > 0 && len(vec) != s.Dimensions {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(vec), s.Dimensions)
	}
	return nil
}

// PendingFilter narrows ListPending. Empty fields match everything.
type PendingFilter struct {
	Owner string
	Repo  string
	Kinds []models.DocumentKind
}

// ListPending returns live documents still waiting for an embedding, oldest
// modification first.
func (s *Store) ListPending(ctx context.Context, f PendingFilter, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	where := []string{"embedding_status = 'pending'", "deleted_at IS NULL", "markdown IS NOT NULL"}
	args := []any{}
	if f.Owner != "" {
		args = append(args, f.Owner)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if f.Repo != "" {
		args = append(args, f.Repo)
		where = append(where, fmt.Sprintf("repo = $%d", len(args)))
	}
	if len(f.Kinds) > 0 {
		args = append(args, pq.Array(kindStrings(f.Kinds)))
		where = append(where, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	args = append(args, limit)
	q := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY modified_at ASC LIMIT $%d`,
		documentColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending scan: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func kindStrings(kinds []models.DocumentKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
