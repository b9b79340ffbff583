// Package dedupe decides whether an issue duplicates earlier ones and
// rewrites its body with footnotes, a caution callout and state changes.
package dedupe

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
	"github.com/mohammad-safakhou/issuesense/internal/footnote"
	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/internal/store"
	"github.com/mohammad-safakhou/issuesense/internal/textutil"
	"github.com/mohammad-safakhou/issuesense/models"
)

// errPrivate stops any embedding work for private repositories.
var errPrivate = errors.New("private repository content is never embedded")

// IssueClient is the GitHub surface the engine writes through.
type IssueClient interface {
	GetIssue(ctx context.Context, ref models.IssueRef) (models.Issue, error)
	UpdateIssue(ctx context.Context, ref models.IssueRef, upd models.IssueUpdate) error
	GetComment(ctx context.Context, ref models.CommentRef) (models.Comment, error)
	UpdateComment(ctx context.Context, ref models.CommentRef, body string) error
	CreateComment(ctx context.Context, ref models.IssueRef, body string) (models.Comment, error)
	DeleteComment(ctx context.Context, ref models.CommentRef) error
}

// Searcher finds stored neighbours and loads documents.
type Searcher interface {
	Search(ctx context.Context, q store.SearchQuery) ([]store.SearchResult, error)
	Get(ctx context.Context, id string) (models.Document, error)
}

type RecommendConfig struct {
	Enabled         bool
	AlwaysRecommend bool
	RequestedUsers  []string
	MaxSuggestions  int
}

type Config struct {
	Thresholds            similarity.Thresholds
	Scope                 similarity.Scope
	TopK                  int
	MatchWeights          similarity.Weights
	AnnotateWeights       similarity.Weights
	FootnoteMinSimilarity float64
	CheckOnOpen           bool
	Recommend             RecommendConfig
}

// Validate rejects configurations the engine cannot act on.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if _, err := similarity.ParseScope(string(c.Scope)); err != nil {
		return err
	}
	if err := c.MatchWeights.Validate(); err != nil {
		return fmt.Errorf("match weights: %w", err)
	}
	if err := c.AnnotateWeights.Validate(); err != nil {
		return fmt.Errorf("annotate weights: %w", err)
	}
	return nil
}

// Outcome is the visible result of a dedupe pass.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeWarned
	OutcomeClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWarned:
		return "warned"
	case OutcomeClosed:
		return "closed"
	default:
		return "none"
	}
}

type Engine struct {
	logger   *log.Logger
	client   IssueClient
	search   Searcher
	embedder embedding.Embedder
	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer

	outcomeCounter otelmetric.Int64Counter
	writeCounter   otelmetric.Int64Counter
}

// New builds an Engine. meter and tracer may be nil.
func New(logger *log.Logger, client IssueClient, search Searcher, emb embedding.Embedder, cfg Config, meter otelmetric.Meter, tracer trace.Tracer) (*Engine, error) {
	if cfg.Scope == "" {
		cfg.Scope = similarity.ScopeOrg
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dedupe config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("dedupe")
	}
	e := &Engine{logger: logger, client: client, search: search, embedder: emb, cfg: cfg, now: time.Now, tracer: tracer}
	if meter != nil {
		var err error
		e.outcomeCounter, err = meter.Int64Counter("dedupe_outcomes")
		if err != nil {
			logger.Printf("warn: create outcome counter failed: %v", err)
		}
		e.writeCounter, err = meter.Int64Counter("dedupe_body_writes")
		if err != nil {
			logger.Printf("warn: create write counter failed: %v", err)
		}
	}
	return e, nil
}

// DecideAndApplyDedupe searches for issues similar to doc and applies the
// resulting action to the live issue at ref. The body is only written once
// it has been fully computed, and not at all when nothing would change.
func (e *Engine) DecideAndApplyDedupe(ctx context.Context, doc models.Document, ref models.IssueRef) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "dedupe.decide", trace.WithAttributes(attribute.String("issue", ref.String())))
	defer span.End()

	issue, err := e.client.GetIssue(ctx, ref)
	if err != nil {
		return OutcomeNone, fmt.Errorf("dedupe %s: %w", ref, err)
	}
	if issue.State == models.IssueStateClosed {
		return OutcomeNone, nil
	}

	base := stripDedupeAnnotations(issue.Body)
	query, err := e.queryEmbedding(ctx, doc, issue.Title, base)
	if errors.Is(err, errPrivate) || errors.Is(err, embedding.ErrNoSource) {
		e.logger.Printf("skip %s: %v", ref, err)
		return OutcomeNone, nil
	}
	if err != nil {
		return OutcomeNone, fmt.Errorf("dedupe %s: %w", ref, err)
	}

	th := e.cfg.Thresholds
	results, err := e.search.Search(ctx, withScope(store.SearchQuery{
		Embedding: query,
		ExcludeID: doc.ID,
		Threshold: min(th.Warning, th.Match),
		TopK:      e.cfg.TopK,
		Kinds:     []models.DocumentKind{models.KindIssue},
		Weights:   e.cfg.MatchWeights,
	}, e.cfg.Scope, ref))
	if err != nil {
		return OutcomeNone, fmt.Errorf("dedupe %s: search: %w", ref, err)
	}
	byID, cands := scopeResults(e.cfg.Scope, results, ref)
	decision := th.Decide(cands)

	outcome := OutcomeNone
	update := models.IssueUpdate{Body: base}
	switch decision.Action {
	case similarity.ActionClose:
		outcome = OutcomeClosed
		body := footnote.Place(base, e.dedupeMatches(decision, byID, base), footnote.Options{MinSimilarity: e.cfg.FootnoteMinSimilarity})
		body = prependCallout(body, documentsFor(decision.Closing, byID))
		update = models.IssueUpdate{
			Body:        textutil.AppendPluginUpdateComment(body, textutil.UpdateMarker(e.now())),
			State:       models.IssueStateClosed,
			StateReason: models.StateReasonNotPlanned,
		}
	case similarity.ActionWarn:
		outcome = OutcomeWarned
		body := footnote.Place(base, e.dedupeMatches(decision, byID, base), footnote.Options{MinSimilarity: e.cfg.FootnoteMinSimilarity})
		update.Body = textutil.AppendPluginUpdateComment(body, textutil.UpdateMarker(e.now()))
	}
	e.count(ctx, e.outcomeCounter, outcome.String())

	if update.State == "" && sameBody(update.Body, issue.Body) {
		return outcome, nil
	}
	if err := e.client.UpdateIssue(ctx, ref, update); err != nil {
		return outcome, fmt.Errorf("dedupe %s: %w", ref, err)
	}
	e.count(ctx, e.writeCounter, outcome.String())
	e.logger.Printf("%s: %s (%d flagged, %d closing)", ref, outcome, len(decision.Flagged), len(decision.Closing))
	return outcome, nil
}

// queryEmbedding reuses the stored vector or embeds the cleaned body.
func (e *Engine) queryEmbedding(ctx context.Context, doc models.Document, title, body string) ([]float32, error) {
	if doc.HasEmbedding() {
		return doc.Embedding.Slice(), nil
	}
	if doc.Private || doc.Markdown == nil {
		return nil, errPrivate
	}
	text, err := embedding.Source(models.Document{Title: title, Markdown: &body})
	if err != nil {
		return nil, err
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vec, nil
}

// withScope limits q to what scope allows from ref, so TopK counts only
// visible neighbours.
func withScope(q store.SearchQuery, scope similarity.Scope, ref models.IssueRef) store.SearchQuery {
	q.Owner, q.Repo = scope.Bounds(ref.Owner, ref.Repo)
	return q
}

// scopeResults applies scope and indexes the returned documents by id.
func scopeResults(scope similarity.Scope, results []store.SearchResult, ref models.IssueRef) (map[string]models.Document, []similarity.Candidate) {
	byID := make(map[string]models.Document, len(results))
	cands := make([]similarity.Candidate, 0, len(results))
	for _, r := range results {
		byID[r.Document.ID] = r.Document
		cands = append(cands, r.Candidate())
	}
	return byID, scope.Filter(cands, ref.Owner, ref.Repo)
}

func (e *Engine) dedupeMatches(d similarity.Decision, byID map[string]models.Document, base string) []footnote.Match {
	closing := make(map[string]bool, len(d.Closing))
	for _, c := range d.Closing {
		closing[c.TargetID] = true
	}
	matches := make([]footnote.Match, 0, len(d.Flagged))
	for _, c := range d.Flagged {
		m := matchFor(c, byID[c.TargetID], base)
		if closing[c.TargetID] {
			m.Severity, m.Relation = footnote.SeverityCaution, "duplicate"
		} else {
			m.Severity, m.Relation = footnote.SeverityWarning, "possible duplicate"
		}
		matches = append(matches, m)
	}
	return matches
}

func matchFor(c similarity.Candidate, doc models.Document, base string) footnote.Match {
	title := doc.Title
	if title == "" {
		title = doc.ID
	}
	return footnote.Match{
		Anchor: footnote.Align(doc.Body(), base),
		Score:  c.Score,
		Title:  title,
		URL:    doc.URL,
	}
}

func documentsFor(cands []similarity.Candidate, byID map[string]models.Document) []models.Document {
	out := make([]models.Document, 0, len(cands))
	for _, c := range cands {
		out = append(out, byID[c.TargetID])
	}
	return out
}

func (e *Engine) count(ctx context.Context, c otelmetric.Int64Counter, outcome string) {
	if c != nil {
		c.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
