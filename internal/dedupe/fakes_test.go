package dedupe

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/internal/store"
	"github.com/mohammad-safakhou/issuesense/models"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const marker = "<!-- issuesense: updated 2024-05-01T12:00:00Z -->"

type issueWrite struct {
	ref models.IssueRef
	upd models.IssueUpdate
}

type fakeClient struct {
	issues         map[models.IssueRef]models.Issue
	comments       map[int64]models.Comment
	issueWrites    []issueWrite
	commentWrites  map[int64]string
	created        []string
	deleted        []int64
	getIssueCalls  int
	updateIssueErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		issues:        map[models.IssueRef]models.Issue{},
		comments:      map[int64]models.Comment{},
		commentWrites: map[int64]string{},
	}
}

func (c *fakeClient) GetIssue(_ context.Context, ref models.IssueRef) (models.Issue, error) {
	c.getIssueCalls++
	is, ok := c.issues[ref]
	if !ok {
		return models.Issue{}, fmt.Errorf("issue %s not found", ref)
	}
	return is, nil
}

func (c *fakeClient) UpdateIssue(_ context.Context, ref models.IssueRef, upd models.IssueUpdate) error {
	if c.updateIssueErr != nil {
		return c.updateIssueErr
	}
	c.issueWrites = append(c.issueWrites, issueWrite{ref: ref, upd: upd})
	is := c.issues[ref]
	is.Body = upd.Body
	if upd.State != "" {
		is.State, is.StateReason = upd.State, upd.StateReason
	}
	c.issues[ref] = is
	return nil
}

func (c *fakeClient) GetComment(_ context.Context, ref models.CommentRef) (models.Comment, error) {
	cm, ok := c.comments[ref.ID]
	if !ok {
		return models.Comment{}, fmt.Errorf("comment %d not found", ref.ID)
	}
	return cm, nil
}

func (c *fakeClient) UpdateComment(_ context.Context, ref models.CommentRef, body string) error {
	c.commentWrites[ref.ID] = body
	return nil
}

func (c *fakeClient) CreateComment(_ context.Context, ref models.IssueRef, body string) (models.Comment, error) {
	c.created = append(c.created, body)
	return models.Comment{Body: body}, nil
}

func (c *fakeClient) DeleteComment(_ context.Context, ref models.CommentRef) error {
	c.deleted = append(c.deleted, ref.ID)
	return nil
}

type fakeSearcher struct {
	results []store.SearchResult
	docs    map[string]models.Document
	queries []store.SearchQuery
}

func (s *fakeSearcher) Search(_ context.Context, q store.SearchQuery) ([]store.SearchResult, error) {
	s.queries = append(s.queries, q)
	var out []store.SearchResult
	for _, r := range s.results {
		if r.Document.ID == q.ExcludeID || r.Score <= q.Threshold {
			continue
		}
		if q.Owner != "" && !strings.EqualFold(r.Document.Owner, q.Owner) {
			continue
		}
		if q.Repo != "" && !strings.EqualFold(r.Document.Repo, q.Repo) {
			continue
		}
		out = append(out, r)
	}
	if q.TopK > 0 && len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (s *fakeSearcher) Get(_ context.Context, id string) (models.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("get %s: %w", id, models.ErrDocumentNotFound)
	}
	return d, nil
}

type fakeEmbedder struct{ texts []string }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	return []float32{0.5, 0.5}, nil
}

func testConfig() Config {
	return Config{
		Thresholds:            similarity.DefaultThresholds(),
		Scope:                 similarity.ScopeOrg,
		TopK:                  5,
		MatchWeights:          similarity.MatchWeights,
		AnnotateWeights:       similarity.AnnotateWeights,
		FootnoteMinSimilarity: 0.6,
		CheckOnOpen:           true,
	}
}

func newTestEngine(t *testing.T, cfg Config, c *fakeClient, s *fakeSearcher, emb *fakeEmbedder) *Engine {
	t.Helper()
	e, err := New(log.New(io.Discard, "", 0), c, s, emb, cfg, noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(t, err)
	e.now = func() time.Time { return fixedNow }
	return e
}

func storedIssue(id, owner, repo, title, body string) models.Document {
	vec := pgvector.NewVector([]float32{0.1, 0.2})
	return models.Document{
		ID:              id,
		Kind:            models.KindIssue,
		Owner:           owner,
		Repo:            repo,
		Title:           title,
		URL:             "https://github.com/" + owner + "/" + repo + "/issues/" + id[len("issue:"):],
		Markdown:        &body,
		Embedding:       &vec,
		EmbeddingStatus: models.EmbeddingReady,
	}
}

func eventFor(doc models.Document, ref models.IssueRef, action, body string) models.Event {
	return models.Event{
		Action:     action,
		Document:   doc,
		Issue:      ref,
		Body:       body,
		SenderKind: models.AuthorHuman,
	}
}
