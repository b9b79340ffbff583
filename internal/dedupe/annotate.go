package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/issuesense/internal/embedding"
	"github.com/mohammad-safakhou/issuesense/internal/footnote"
	"github.com/mohammad-safakhou/issuesense/internal/github"
	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/internal/store"
	"github.com/mohammad-safakhou/issuesense/internal/textutil"
	"github.com/mohammad-safakhou/issuesense/models"
)

const annotateCommand = "/annotate"

var annotateKinds = []models.DocumentKind{models.KindIssue, models.KindComment, models.KindPullRequest}

// AnnotateCommand is a parsed "/annotate [<comment-url>] [global|org|repo]".
type AnnotateCommand struct {
	// CommentURL targets a comment; empty targets the issue body.
	CommentURL string
	// Scope overrides the configured scope when set.
	Scope similarity.Scope
}

// ParseAnnotateCommand reads the command from the first non-blank line of a
// comment. ok is false when the comment is not a command; err is set for a
// command with bad arguments.
func ParseAnnotateCommand(body string) (cmd AnnotateCommand, ok bool, err error) {
	var fields []string
	for line := range strings.Lines(body) {
		if fields = strings.Fields(line); len(fields) > 0 {
			break
		}
	}
	if len(fields) == 0 || fields[0] != annotateCommand {
		return AnnotateCommand{}, false, nil
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "https://") || strings.HasPrefix(f, "http://") {
			if cmd.CommentURL != "" {
				return cmd, true, fmt.Errorf("annotate: more than one comment url")
			}
			cmd.CommentURL = f
			continue
		}
		scope, err := similarity.ParseScope(f)
		if err != nil {
			return cmd, true, fmt.Errorf("annotate: %w", err)
		}
		if cmd.Scope != "" {
			return cmd, true, fmt.Errorf("annotate: more than one scope")
		}
		cmd.Scope = scope
	}
	return cmd, true, nil
}

type annotateTarget struct {
	id    string
	owner string
	repo  string
	body  string
	write func(ctx context.Context, body string) error
}

// Annotate footnotes related discussion into the target of cmd and removes
// the command comment once the target has been written.
func (e *Engine) Annotate(ctx context.Context, ev models.Event, cmd AnnotateCommand) error {
	ctx, span := e.tracer.Start(ctx, "dedupe.annotate")
	defer span.End()

	if ev.Document.Private {
		e.logger.Printf("skip annotate on %s: private repository", ev.Issue)
		return nil
	}
	scope := cmd.Scope
	if scope == "" {
		scope = e.cfg.Scope
	}
	target, err := e.annotateTarget(ctx, ev, cmd)
	if err != nil {
		return err
	}

	base := footnote.RemoveAnnotations(textutil.StripPluginUpdateComments(target.body).Cleaned)
	doc, err := e.search.Get(ctx, target.id)
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		doc = models.Document{ID: target.id, Markdown: &base}
	case err != nil:
		return fmt.Errorf("annotate %s: %w", target.id, err)
	}
	query, err := e.queryEmbedding(ctx, doc, "", base)
	if errors.Is(err, errPrivate) || errors.Is(err, embedding.ErrNoSource) {
		e.logger.Printf("skip annotate on %s: %v", target.id, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("annotate %s: %w", target.id, err)
	}

	from := models.IssueRef{Owner: target.owner, Repo: target.repo}
	results, err := e.search.Search(ctx, withScope(store.SearchQuery{
		Embedding: query,
		ExcludeID: target.id,
		Threshold: e.cfg.Thresholds.Annotate,
		TopK:      e.cfg.TopK,
		Kinds:     annotateKinds,
		Weights:   e.cfg.AnnotateWeights,
	}, scope, from))
	if err != nil {
		return fmt.Errorf("annotate %s: search: %w", target.id, err)
	}
	byID, cands := scopeResults(scope, results, from)

	matches := make([]footnote.Match, 0, len(cands))
	for _, c := range cands {
		if c.TargetID == ev.Document.ID {
			continue
		}
		m := matchFor(c, byID[c.TargetID], base)
		m.Severity, m.Relation = footnote.SeverityInfo, "similar"
		matches = append(matches, m)
	}

	updated := base
	if len(matches) > 0 {
		updated = footnote.Place(base, matches, footnote.Options{MinSimilarity: e.cfg.FootnoteMinSimilarity})
		updated = textutil.AppendPluginUpdateComment(updated, textutil.UpdateMarker(e.now()))
	}
	if !sameBody(updated, target.body) {
		if err := target.write(ctx, updated); err != nil {
			return fmt.Errorf("annotate %s: %w", target.id, err)
		}
		e.count(ctx, e.writeCounter, "annotated")
	}
	e.logger.Printf("annotated %s with %d footnotes", target.id, len(matches))

	if ev.Comment != nil {
		if err := e.client.DeleteComment(ctx, *ev.Comment); err != nil {
			e.logger.Printf("warn: delete annotate command %s: %v", ev.Comment, err)
		}
	}
	return nil
}

func (e *Engine) annotateTarget(ctx context.Context, ev models.Event, cmd AnnotateCommand) (annotateTarget, error) {
	if cmd.CommentURL != "" {
		ref, err := github.ParseCommentURL(cmd.CommentURL)
		if err != nil {
			return annotateTarget{}, fmt.Errorf("annotate: %w", err)
		}
		if !strings.EqualFold(ref.Owner, ev.Issue.Owner) || !strings.EqualFold(ref.Repo, ev.Issue.Repo) {
			return annotateTarget{}, fmt.Errorf("annotate: comment %s is outside %s/%s", cmd.CommentURL, ev.Issue.Owner, ev.Issue.Repo)
		}
		cm, err := e.client.GetComment(ctx, ref)
		if err != nil {
			return annotateTarget{}, fmt.Errorf("annotate: %w", err)
		}
		return annotateTarget{
			id:    models.DocumentID(models.KindComment, ref.ID),
			owner: ref.Owner,
			repo:  ref.Repo,
			body:  cm.Body,
			write: func(ctx context.Context, body string) error {
				return e.client.UpdateComment(ctx, ref, body)
			},
		}, nil
	}
	issue, err := e.client.GetIssue(ctx, ev.Issue)
	if err != nil {
		return annotateTarget{}, fmt.Errorf("annotate: %w", err)
	}
	return annotateTarget{
		id:    models.DocumentID(models.KindIssue, issue.ID),
		owner: ev.Issue.Owner,
		repo:  ev.Issue.Repo,
		body:  issue.Body,
		write: func(ctx context.Context, body string) error {
			return e.client.UpdateIssue(ctx, ev.Issue, models.IssueUpdate{Body: body})
		},
	}, nil
}
