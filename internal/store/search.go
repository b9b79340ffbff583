package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/models"
)

// SearchQuery describes one nearest-neighbour lookup.
type SearchQuery struct {
	Embedding []float32
	ExcludeID string
	// Threshold is exclusive: only scores strictly above it are returned.
	Threshold float64
	TopK      int
	Kinds     []models.DocumentKind
	Weights   similarity.Weights
	// CompletedAssigned restricts results to issues closed as completed with
	// at least one assignee.
	CompletedAssigned bool
	// Owner and Repo, when set, restrict results to that owner or repository
	// before TopK is applied. Matching is case-insensitive.
	Owner string
	Repo  string
}

// SearchResult is a scored neighbour with its stored document.
type SearchResult struct {
	Document models.Document
	Score    float64
}

// Candidate projects the result onto the similarity policy's view.
func (r SearchResult) Candidate() similarity.Candidate {
	return similarity.Candidate{
		TargetID: r.Document.ID,
		Score:    r.Score,
		Owner:    r.Document.Owner,
		Repo:     r.Document.Repo,
	}
}

const searchQuery = `
SELECT ` + documentColumns + `, score FROM (
  SELECT d.*, ($2 * (1 - (d.embedding <=> $1::vector)) + $3 * (1 / (1 + (d.embedding <-> $1::vector)))) AS score
  FROM documents d
  WHERE d.embedding IS NOT NULL
    AND d.deleted_at IS NULL
    AND d.id <> $4
    AND d.kind = ANY($5)
    AND ($6 = FALSE OR (d.state_reason = 'completed' AND cardinality(d.assignees) > 0))
    AND ($9 = '' OR lower(d.owner) = lower($9))
    AND ($10 = '' OR lower(d.repo) = lower($10))
) scored
WHERE score > $7
ORDER BY score DESC
LIMIT $8;
`

// Search returns documents whose blended score exceeds q.Threshold, best
// first, capped at q.TopK.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("search: empty query embedding")
	}
	if err := s.checkDimensions(q.Embedding); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if err := q.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}
	kinds := q.Kinds
	if len(kinds) == 0 {
		kinds = []models.DocumentKind{models.KindIssue}
	}

	rows, err := s.DB.QueryContext(ctx, searchQuery,
		pgvector.NewVector(q.Embedding), q.Weights.Cosine, q.Weights.Euclidean, q.ExcludeID,
		pq.Array(kindStrings(kinds)), q.CompletedAssigned, q.Threshold, topK,
		q.Owner, q.Repo,
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var score float64
		doc, err := scanDocument(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("search scan: %w", err)
		}
		out = append(out, SearchResult{Document: doc, Score: score})
	}
	return out, rows.Err()
}
