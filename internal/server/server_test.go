package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/issuesense/internal/dedupe"
	"github.com/mohammad-safakhou/issuesense/internal/queue"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
	"github.com/mohammad-safakhou/issuesense/models"
)

var secret = []byte("hook-secret")

type fakeIngest struct {
	ingested []models.Document
	deleted  []string
	err      error
}

func (f *fakeIngest) Ingest(_ context.Context, doc models.Document) (models.Document, error) {
	if f.err != nil {
		return models.Document{}, f.err
	}
	f.ingested = append(f.ingested, doc)
	doc.EmbeddingStatus = models.EmbeddingPending
	return doc, nil
}

func (f *fakeIngest) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeDedupe struct {
	calls   []string
	seen    []models.Event
	outcome dedupe.Outcome
	err     error
}

func (f *fakeDedupe) record(name string, ev models.Event) {
	f.calls = append(f.calls, name)
	f.seen = append(f.seen, ev)
}

func (f *fakeDedupe) HandleIssueOpened(_ context.Context, ev models.Event) (dedupe.Outcome, error) {
	f.record("opened", ev)
	return f.outcome, f.err
}

func (f *fakeDedupe) HandleIssueEdited(_ context.Context, ev models.Event) (dedupe.Outcome, error) {
	f.record("edited", ev)
	return f.outcome, f.err
}

func (f *fakeDedupe) HandleCommentCreated(_ context.Context, ev models.Event) error {
	f.record("comment", ev)
	return f.err
}

type fakeDrainer struct {
	limits []int
	res    queue.Result
}

func (f *fakeDrainer) ProcessQueue(_ context.Context, maxPerRun int, _ time.Time) (queue.Result, error) {
	f.limits = append(f.limits, maxPerRun)
	return f.res, nil
}

type harness struct {
	srv    *Server
	ingest *fakeIngest
	dedupe *fakeDedupe
	drain  *fakeDrainer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ingest: &fakeIngest{}, dedupe: &fakeDedupe{}, drain: &fakeDrainer{}}
	h.srv = New(log.New(io.Discard, "", 0), h.ingest, h.dedupe, h.drain, Options{
		WebhookSecret: secret,
		BotLogin:      "issuesense-bot",
		JWTSecret:     []byte("jwt"),
		MaxPerRun:     50,
		Registry:      prometheus.NewRegistry(),
	})
	return h
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (h *harness) deliver(event, payload string) *httptest.ResponseRecorder {
	body := []byte(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", sign(body))
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

const repoJSON = `"repository": {"name": "app", "private": false, "owner": {"login": "acme"}}`

func issuePayload(action string) string {
	return `{"action": "` + action + `",
  "issue": {"id": 1001, "number": 7, "title": "Crash on start", "body": "It crashes.", "state": "open",
    "user": {"id": 42, "login": "octo", "type": "User"},
    "created_at": "2024-05-01T10:00:00Z", "updated_at": "2024-05-01T11:00:00Z"},
  ` + repoJSON + `,
  "sender": {"login": "octo", "type": "User"}}`
}

func commentPayload(action string) string {
	return `{"action": "` + action + `",
  "issue": {"id": 1001, "number": 7, "title": "Crash on start"},
  "comment": {"id": 555, "body": "/annotate", "user": {"id": 42, "login": "octo", "type": "User"},
    "created_at": "2024-05-01T12:00:00Z"},
  ` + repoJSON + `,
  "sender": {"login": "octo", "type": "User"}}`
}

func TestWebhookRoutesIssueEvents(t *testing.T) {
	h := newHarness(t)
	h.dedupe.outcome = dedupe.OutcomeClosed

	rec := h.deliver("issues", issuePayload("opened"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "issue:1001", resp.Document)
	assert.Equal(t, dedupe.OutcomeClosed.String(), resp.Outcome)

	rec = h.deliver("issues", issuePayload("edited"))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"opened", "edited"}, h.dedupe.calls)
	require.Len(t, h.ingest.ingested, 2)
	// the engine sees the document as stored, not as delivered
	assert.Equal(t, models.EmbeddingPending, h.dedupe.seen[0].Document.EmbeddingStatus)
}

func TestWebhookClosedOnlyIngests(t *testing.T) {
	h := newHarness(t)
	rec := h.deliver("issues", issuePayload("closed"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.ingest.ingested, 1)
	assert.Empty(t, h.dedupe.calls)
}

func TestWebhookComments(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.deliver("issue_comment", commentPayload("created")).Code)
	require.Equal(t, http.StatusOK, h.deliver("issue_comment", commentPayload("edited")).Code)
	require.Equal(t, http.StatusOK, h.deliver("issue_comment", commentPayload("deleted")).Code)

	assert.Equal(t, []string{"comment"}, h.dedupe.calls)
	assert.Len(t, h.ingest.ingested, 2)
	assert.Equal(t, []string{"comment:555"}, h.ingest.deleted)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(issuePayload("opened"))))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=00")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid signature"}`, rec.Body.String())
	assert.Empty(t, h.ingest.ingested)
}

func TestWebhookIgnoresUnsupported(t *testing.T) {
	h := newHarness(t)
	rec := h.deliver("issues", issuePayload("labeled"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = h.deliver("push", `{"ref": "refs/heads/main"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, h.ingest.ingested)
}

func TestWebhookSurfacesFailures(t *testing.T) {
	h := newHarness(t)
	h.ingest.err = errors.New("db down")
	rec := h.deliver("issues", issuePayload("opened"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
	assert.Empty(t, h.dedupe.calls)
}

func TestDrainEndpoint(t *testing.T) {
	h := newHarness(t)
	h.drain.res = queue.Result{Processed: 3, StoppedEarly: true}
	token, err := runtime.SignJWT("ops", []byte("jwt"), time.Minute, runtime.ScopeQueueDrain)
	require.NoError(t, err)

	call := func(target, tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := call("/api/queue/drain", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":3,"stopped_early":true}`, rec.Body.String())

	require.Equal(t, http.StatusOK, call("/api/queue/drain?limit=5", token).Code)
	assert.Equal(t, []int{50, 5}, h.drain.limits)

	assert.Equal(t, http.StatusBadRequest, call("/api/queue/drain?limit=-1", token).Code)
	assert.Equal(t, http.StatusUnauthorized, call("/api/queue/drain", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
