// Package ingest persists webhook documents and decides how their
// embeddings get computed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/mohammad-safakhou/issuesense/internal/embedding"
	"github.com/mohammad-safakhou/issuesense/internal/queue"
	"github.com/mohammad-safakhou/issuesense/internal/store"
	"github.com/mohammad-safakhou/issuesense/internal/textutil"
	"github.com/mohammad-safakhou/issuesense/models"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// ErrInvalidMode rejects embedding modes other than sync and async.
var ErrInvalidMode = errors.New("invalid embedding mode")

// DocumentStore is the persistence surface ingestion writes through.
type DocumentStore interface {
	Get(ctx context.Context, id string) (models.Document, error)
	Upsert(ctx context.Context, doc models.Document) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	ListPending(ctx context.Context, f store.PendingFilter, limit int) ([]models.Document, error)
}

type Service struct {
	logger   *log.Logger
	store    DocumentStore
	queue    queue.Enqueuer
	embedder embedding.Embedder
	mode     string
	now      func() time.Time
}

func New(logger *log.Logger, st DocumentStore, q queue.Enqueuer, emb embedding.Embedder, mode string) (*Service, error) {
	switch mode {
	case "":
		mode = ModeSync
	case ModeSync, ModeAsync:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{logger: logger, store: st, queue: q, embedder: emb, mode: mode, now: time.Now}, nil
}

// Ingest stores doc and settles its embedding. Private documents are stored
// without markdown and never embedded. An unchanged body keeps its existing
// embedding. Otherwise sync mode embeds inline and falls back to the queue
// on any error, while async mode always defers.
func (s *Service) Ingest(ctx context.Context, doc models.Document) (models.Document, error) {
	if doc.ModifiedAt.IsZero() {
		doc.ModifiedAt = s.now().UTC()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.ModifiedAt
	}
	doc.Embedding = nil
	doc.DeletedAt = nil

	if doc.Private || doc.Markdown == nil {
		doc.Markdown = nil
		doc.ContentHash = ""
		doc.EmbeddingStatus = models.EmbeddingFailed
		return doc, s.upsert(ctx, doc)
	}

	source, srcErr := embedding.Source(doc)
	if srcErr == nil {
		doc.ContentHash = textutil.ContentHash(source)
	}

	prev, err := s.store.Get(ctx, doc.ID)
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
	case err != nil:
		return doc, fmt.Errorf("ingest %s: %w", doc.ID, err)
	default:
		doc.CreatedAt = prev.CreatedAt
		if !prev.Deleted() && prev.HasEmbedding() && prev.EmbeddingStatus == models.EmbeddingReady &&
			doc.ContentHash != "" && prev.ContentHash == doc.ContentHash {
			doc.Embedding = prev.Embedding
			doc.EmbeddingStatus = models.EmbeddingReady
			return doc, s.upsert(ctx, doc)
		}
	}

	if s.mode == ModeSync && srcErr == nil {
		vec, err := s.embedder.Embed(ctx, source)
		if err == nil {
			v := pgvector.NewVector(vec)
			doc.Embedding = &v
			doc.EmbeddingStatus = models.EmbeddingReady
			return doc, s.upsert(ctx, doc)
		}
		s.logger.Printf("embed %s inline failed, deferring: %v", doc.ID, err)
	}
	return doc, s.deferEmbedding(ctx, doc)
}

func (s *Service) deferEmbedding(ctx context.Context, doc models.Document) error {
	doc.EmbeddingStatus = models.EmbeddingPending
	if err := s.upsert(ctx, doc); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, queue.NewJob(doc.ID), 0); err != nil {
		return fmt.Errorf("ingest %s: enqueue: %w", doc.ID, err)
	}
	return nil
}

func (s *Service) upsert(ctx context.Context, doc models.Document) error {
	if err := s.store.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("ingest %s: %w", doc.ID, err)
	}
	return nil
}

// Delete soft deletes the document behind a deleted issue or comment.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("ingest delete %s: %w", id, err)
	}
	return nil
}

// Sweep re-enqueues pending documents, oldest first. It recovers jobs lost
// between removal from the queue and completion.
func (s *Service) Sweep(ctx context.Context, f store.PendingFilter, limit int) (int, error) {
	docs, err := s.store.ListPending(ctx, f, limit)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	n := 0
	for _, d := range docs {
		if err := s.queue.Enqueue(ctx, queue.NewJob(d.ID), 0); err != nil {
			return n, fmt.Errorf("sweep %s: %w", d.ID, err)
		}
		n++
	}
	if n > 0 {
		s.logger.Printf("sweep re-enqueued %d pending documents", n)
	}
	return n, nil
}
