package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mohammad-safakhou/issuesense/internal/embedding"
	"github.com/mohammad-safakhou/issuesense/models"
)

// Queue is what the processor needs from the job store.
type Queue interface {
	Enqueuer
	PopDue(ctx context.Context, now time.Time) (Job, bool, error)
	HasDue(ctx context.Context, now time.Time) (bool, error)
}

// StoreAPI captures the document store methods used while draining.
type StoreAPI interface {
	Get(ctx context.Context, id string) (models.Document, error)
	SetEmbedding(ctx context.Context, id string, vec []float32) error
	MarkEmbeddingFailed(ctx context.Context, id string) error
}

type Config struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// Result summarises one ProcessQueue call. StoppedEarly is set when due jobs
// were left behind, either because the limit was hit or ctx was cancelled.
type Result struct {
	Processed    int  `json:"processed"`
	StoppedEarly bool `json:"stopped_early"`
}

// Processor drains due jobs and writes their embeddings.
type Processor struct {
	logger   *log.Logger
	queue    Queue
	store    StoreAPI
	embedder embedding.Embedder
	cfg      Config
	tracer   trace.Tracer

	embeddedCounter otelmetric.Int64Counter
	retryCounter    otelmetric.Int64Counter
	failedCounter   otelmetric.Int64Counter
	skippedCounter  otelmetric.Int64Counter
}

// NewProcessor constructs a Processor. meter and tracer may be nil.
func NewProcessor(logger *log.Logger, q Queue, st StoreAPI, emb embedding.Embedder, cfg Config, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("queue")
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	p := &Processor{logger: logger, queue: q, store: st, embedder: emb, cfg: cfg, tracer: tracer}
	if meter != nil {
		var err error
		p.embeddedCounter, err = meter.Int64Counter("queue_embeddings_written")
		if err != nil {
			logger.Printf("warn: create embedded counter failed: %v", err)
		}
		p.retryCounter, err = meter.Int64Counter("queue_jobs_retried")
		if err != nil {
			logger.Printf("warn: create retry counter failed: %v", err)
		}
		p.failedCounter, err = meter.Int64Counter("queue_documents_failed")
		if err != nil {
			logger.Printf("warn: create failed counter failed: %v", err)
		}
		p.skippedCounter, err = meter.Int64Counter("queue_jobs_skipped")
		if err != nil {
			logger.Printf("warn: create skipped counter failed: %v", err)
		}
	}
	return p
}

// ProcessQueue handles up to maxPerRun jobs due at now, earliest first. Each
// job is removed before it is handled. Per-job failures are logged and do not
// stop the run; only queue errors are returned.
func (p *Processor) ProcessQueue(ctx context.Context, maxPerRun int, now time.Time) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "queue.process")
	defer span.End()

	var res Result
	for maxPerRun <= 0 || res.Processed < maxPerRun {
		if ctx.Err() != nil {
			res.StoppedEarly = true
			p.logger.Printf("run cancelled after %d jobs: %v", res.Processed, ctx.Err())
			return res, nil
		}
		job, ok, err := p.queue.PopDue(ctx, now)
		if errors.Is(err, ErrMalformedJob) {
			p.logger.Printf("warn: dropping job: %v", err)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("pop job: %w", err)
		}
		if !ok {
			return res, nil
		}
		res.Processed++
		if err := p.handle(ctx, job); err != nil {
			p.logger.Printf("job %s for %s attempt %d: %v", job.Suffix, job.DocumentID, job.Attempt, err)
		}
	}

	more, err := p.queue.HasDue(ctx, now)
	if err != nil {
		p.logger.Printf("warn: check remaining jobs: %v", err)
	}
	res.StoppedEarly = more
	span.SetAttributes(attribute.Int("queue.processed", res.Processed), attribute.Bool("queue.stopped_early", res.StoppedEarly))
	return res, nil
}

func (p *Processor) handle(ctx context.Context, job Job) error {
	ctx, span := p.tracer.Start(ctx, "queue.handle_job", trace.WithAttributes(
		attribute.String("document.id", job.DocumentID),
		attribute.Int("job.attempt", job.Attempt),
	))
	defer span.End()

	if job.Table != DocumentsTable {
		p.logger.Printf("warn: job %s references unknown table %q", job.Suffix, job.Table)
		p.count(ctx, p.skippedCounter)
		return nil
	}
	doc, err := p.store.Get(ctx, job.DocumentID)
	if errors.Is(err, models.ErrDocumentNotFound) {
		p.logger.Printf("warn: document %s no longer exists", job.DocumentID)
		p.count(ctx, p.skippedCounter)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Deleted() || doc.Markdown == nil || (doc.EmbeddingStatus == models.EmbeddingReady && doc.HasEmbedding()) {
		p.count(ctx, p.skippedCounter)
		return nil
	}

	text, err := embedding.Source(doc)
	if err != nil {
		p.logger.Printf("warn: document %s: %v", doc.ID, err)
		return p.fail(ctx, doc.ID)
	}
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		if embedding.IsRetryable(err) && shouldRetry(job.Attempt, p.cfg.MaxAttempts) {
			delay := Backoff(p.cfg.BaseDelay, job.Attempt)
			retry := Job{Table: job.Table, DocumentID: job.DocumentID, Attempt: job.Attempt + 1}
			if qerr := p.queue.Enqueue(ctx, retry, delay); qerr != nil {
				return fmt.Errorf("re-enqueue after %v: %w", err, qerr)
			}
			p.count(ctx, p.retryCounter)
			p.logger.Printf("document %s rate limited, retry %d in %s", doc.ID, retry.Attempt, delay)
			return nil
		}
		p.logger.Printf("document %s embedding failed after attempt %d: %v", doc.ID, job.Attempt, err)
		return p.fail(ctx, doc.ID)
	}
	if err := p.store.SetEmbedding(ctx, doc.ID, vec); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	p.count(ctx, p.embeddedCounter)
	return nil
}

func (p *Processor) fail(ctx context.Context, id string) error {
	if err := p.store.MarkEmbeddingFailed(ctx, id); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	p.count(ctx, p.failedCounter)
	return nil
}

func (p *Processor) count(ctx context.Context, c otelmetric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}
