package dedupe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/internal/store"
	"github.com/mohammad-safakhou/issuesense/models"
)

const (
	issueBody   = "Startup fails. Clearing the cache did not help."
	relatedBody = "Try clearing the cache first."
	relatedURL  = "https://github.com/acme/app/issues/5#issuecomment-77"
)

var annotateRef = models.IssueRef{Owner: "acme", Repo: "app", Number: 2}

func annotateFixture(t *testing.T) (*Engine, *fakeClient, *fakeSearcher, *fakeEmbedder) {
	t.Helper()
	client := newFakeClient()
	client.issues[annotateRef] = models.Issue{ID: 2, Ref: annotateRef, Body: issueBody, State: models.IssueStateOpen}
	client.comments[77] = models.Comment{Ref: models.CommentRef{Owner: "acme", Repo: "app", ID: 77}, Body: relatedBody}

	related := models.Document{ID: "comment:77", Kind: models.KindComment, Owner: "acme", Repo: "app", Title: "Crash on start", URL: relatedURL, Markdown: ptr(relatedBody)}
	command := models.Document{ID: "comment:900", Kind: models.KindComment, Owner: "acme", Repo: "app"}
	search := &fakeSearcher{
		results: []store.SearchResult{{Document: command, Score: 0.9}, {Document: related, Score: 0.7}},
		docs:    map[string]models.Document{"issue:2": storedIssue("issue:2", "acme", "app", "Startup fails", issueBody)},
	}
	emb := &fakeEmbedder{}
	return newTestEngine(t, testConfig(), client, search, emb), client, search, emb
}

func commandEvent(body string) models.Event {
	return models.Event{
		Action:     models.ActionCreated,
		Document:   models.Document{ID: "comment:900", Kind: models.KindComment, Owner: "acme", Repo: "app"},
		Issue:      annotateRef,
		Comment:    &models.CommentRef{Owner: "acme", Repo: "app", ID: 900},
		Body:       body,
		SenderKind: models.AuthorHuman,
	}
}

func TestParseAnnotateCommand(t *testing.T) {
	cases := []struct {
		body    string
		ok      bool
		wantErr bool
		want    AnnotateCommand
	}{
		{body: "/annotate", ok: true},
		{body: "\n  /annotate repo\nplease", ok: true, want: AnnotateCommand{Scope: similarity.ScopeRepo}},
		{body: "/annotate " + relatedURL + " GLOBAL", ok: true, want: AnnotateCommand{CommentURL: relatedURL, Scope: similarity.ScopeGlobal}},
		{body: "/annotate sideways", ok: true, wantErr: true},
		{body: "/annotate org repo", ok: true, wantErr: true},
		{body: "please /annotate", ok: false},
		{body: "/annotated", ok: false},
		{body: "", ok: false},
	}
	for _, tc := range cases {
		cmd, ok, err := ParseAnnotateCommand(tc.body)
		assert.Equal(t, tc.ok, ok, tc.body)
		if tc.wantErr {
			assert.Error(t, err, tc.body)
			continue
		}
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, cmd, tc.body)
	}
}

func TestAnnotateIssueBody(t *testing.T) {
	e, client, search, emb := annotateFixture(t)

	err := e.HandleCommentCreated(context.Background(), commandEvent("/annotate repo"))
	require.NoError(t, err)

	require.Len(t, client.issueWrites, 1)
	upd := client.issueWrites[0].upd
	assert.Empty(t, upd.State)
	assert.Equal(t, issueBody+"[^01^]\n\n[^01^]: ℹ 70% similar - [Crash on start]("+relatedURL+")\n\n"+marker, upd.Body)
	assert.NotContains(t, upd.Body, "comment:900")
	assert.Equal(t, []int64{900}, client.deleted)
	assert.Empty(t, emb.texts, "stored embedding reused")

	require.Len(t, search.queries, 1)
	q := search.queries[0]
	assert.Equal(t, "issue:2", q.ExcludeID)
	assert.Equal(t, 0.65, q.Threshold)
	assert.Equal(t, similarity.AnnotateWeights, q.Weights)
	assert.Equal(t, annotateKinds, q.Kinds)
}

func TestAnnotateIsIdempotent(t *testing.T) {
	e, client, _, _ := annotateFixture(t)
	ctx := context.Background()
	require.NoError(t, e.HandleCommentCreated(ctx, commandEvent("/annotate")))
	require.NoError(t, e.HandleCommentCreated(ctx, commandEvent("/annotate")))
	assert.Len(t, client.issueWrites, 1)
}

func TestAnnotateComment(t *testing.T) {
	e, client, search, emb := annotateFixture(t)
	search.results = []store.SearchResult{{Document: storedIssue("issue:2", "acme", "app", "Startup fails", issueBody), Score: 0.8}}

	err := e.HandleCommentCreated(context.Background(), commandEvent("/annotate "+relatedURL+" global"))
	require.NoError(t, err)

	assert.Empty(t, client.issueWrites)
	assert.Equal(t, relatedBody+"[^01^]\n\n[^01^]: ℹ 80% similar - [Startup fails](https://github.com/acme/app/issues/2)\n\n"+marker, client.commentWrites[77])
	assert.Equal(t, []string{relatedBody}, emb.texts, "unknown comment is embedded from its body")
	assert.Equal(t, "comment:77", search.queries[0].ExcludeID)
}

func TestAnnotateRejections(t *testing.T) {
	e, client, _, _ := annotateFixture(t)
	ctx := context.Background()

	err := e.HandleCommentCreated(ctx, commandEvent("/annotate sideways"))
	assert.ErrorIs(t, err, similarity.ErrInvalidScope)

	err = e.HandleCommentCreated(ctx, commandEvent("/annotate https://github.com/other/repo/issues/1#issuecomment-3"))
	assert.Error(t, err)

	require.NoError(t, e.HandleCommentCreated(ctx, commandEvent("thanks, looks good")))

	bot := commandEvent("/annotate")
	bot.SenderKind = models.AuthorBot
	require.NoError(t, e.HandleCommentCreated(ctx, bot))

	private := commandEvent("/annotate")
	private.Document.Private = true
	require.NoError(t, e.HandleCommentCreated(ctx, private))

	assert.Empty(t, client.issueWrites)
	assert.Empty(t, client.commentWrites)
	assert.Empty(t, client.deleted)
}

func TestDedupePassKeepsAnnotations(t *testing.T) {
	e, client, search, _ := annotateFixture(t)
	ctx := context.Background()
	require.NoError(t, e.HandleCommentCreated(ctx, commandEvent("/annotate")))
	annotated := client.issues[annotateRef].Body
	require.Contains(t, annotated, "[^01^]: ℹ 70% similar")

	search.results = nil
	stored := storedIssue("issue:2", "acme", "app", "Startup fails", issueBody)
	outcome, err := e.DecideAndApplyDedupe(ctx, stored, annotateRef)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, outcome)

	body := client.issues[annotateRef].Body
	assert.Contains(t, body, issueBody+"[^01^]")
	assert.Contains(t, body, "[^01^]: ℹ 70% similar - [Crash on start]("+relatedURL+")")
}
