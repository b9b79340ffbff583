package dedupe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mohammad-safakhou/issuesense/internal/embedding"
	"github.com/mohammad-safakhou/issuesense/internal/similarity"
	"github.com/mohammad-safakhou/issuesense/internal/store"
	"github.com/mohammad-safakhou/issuesense/models"
)

const defaultMaxSuggestions = 3

// Suggestion is a past assignee and the similar issue they completed.
type Suggestion struct {
	Login string
	Issue models.Document
}

// RecommendContributors looks for completed, assigned issues similar to the
// opened one and posts a comment naming their assignees. The author is never
// suggested, and with requested users configured only they are.
func (e *Engine) RecommendContributors(ctx context.Context, ev models.Event) ([]Suggestion, error) {
	ctx, span := e.tracer.Start(ctx, "dedupe.recommend")
	defer span.End()

	rc := e.cfg.Recommend
	doc := ev.Document
	query, err := e.queryEmbedding(ctx, doc, doc.Title, stripBotAnnotations(ev.Body))
	if errors.Is(err, errPrivate) || errors.Is(err, embedding.ErrNoSource) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recommend %s: %w", ev.Issue, err)
	}

	limit := rc.MaxSuggestions
	if limit <= 0 {
		limit = defaultMaxSuggestions
	}
	results, err := e.search.Search(ctx, withScope(store.SearchQuery{
		Embedding:         query,
		ExcludeID:         doc.ID,
		Threshold:         e.cfg.Thresholds.EffectiveJobMatching(rc.AlwaysRecommend, rc.RequestedUsers),
		TopK:              max(e.cfg.TopK, limit) * 2,
		Kinds:             []models.DocumentKind{models.KindIssue},
		Weights:           e.cfg.AnnotateWeights,
		CompletedAssigned: true,
	}, e.cfg.Scope, ev.Issue))
	if err != nil {
		return nil, fmt.Errorf("recommend %s: search: %w", ev.Issue, err)
	}
	byID, cands := scopeResults(e.cfg.Scope, results, ev.Issue)
	suggestions := pickContributors(cands, byID, doc.AuthorLogin, rc.RequestedUsers, limit)
	if len(suggestions) == 0 {
		return nil, nil
	}
	if _, err := e.client.CreateComment(ctx, ev.Issue, renderSuggestions(suggestions)); err != nil {
		return suggestions, fmt.Errorf("recommend %s: %w", ev.Issue, err)
	}
	e.logger.Printf("%s: suggested %d contributors", ev.Issue, len(suggestions))
	return suggestions, nil
}

// pickContributors walks candidates best first and collects distinct
// assignees.
func pickContributors(cands []similarity.Candidate, byID map[string]models.Document, author string, requested []string, limit int) []Suggestion {
	seen := make(map[string]bool)
	var out []Suggestion
	for _, c := range cands {
		doc := byID[c.TargetID]
		for _, login := range doc.Assignees {
			key := strings.ToLower(login)
			if seen[key] || strings.EqualFold(login, author) {
				continue
			}
			if len(requested) > 0 && !slices.ContainsFunc(requested, func(r string) bool { return strings.EqualFold(r, login) }) {
				continue
			}
			seen[key] = true
			out = append(out, Suggestion{Login: login, Issue: doc})
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func renderSuggestions(s []Suggestion) string {
	var b strings.Builder
	b.WriteString("Contributors who resolved similar issues:\n")
	for _, sg := range s {
		title := sg.Issue.Title
		if title == "" {
			title = sg.Issue.ID
		}
		fmt.Fprintf(&b, "\n- @%s: [%s](%s)", sg.Login, linkEscaper.Replace(title), sg.Issue.URL)
	}
	return b.String()
}
