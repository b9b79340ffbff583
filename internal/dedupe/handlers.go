package dedupe

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/issuesense/models"
)

// HandleIssueEdited re-runs dedupe after a human edit. Edits the bot caused
// itself and edits by bots are ignored.
func (e *Engine) HandleIssueEdited(ctx context.Context, ev models.Event) (Outcome, error) {
	if ev.Document.Kind != models.KindIssue {
		return OutcomeNone, nil
	}
	if ev.SenderKind == models.AuthorBot || ev.Document.AuthorKind == models.AuthorBot {
		return OutcomeNone, nil
	}
	if ev.PreviousBody != nil && IsSelfTriggeredEdit(*ev.PreviousBody, ev.Body) {
		e.logger.Printf("%s: ignoring self-triggered edit", ev.Issue)
		return OutcomeNone, nil
	}
	return e.DecideAndApplyDedupe(ctx, ev.Document, ev.Issue)
}

// HandleIssueOpened recommends contributors once and, when enabled, runs
// dedupe on the new issue.
func (e *Engine) HandleIssueOpened(ctx context.Context, ev models.Event) (Outcome, error) {
	if ev.Document.Kind != models.KindIssue || ev.SenderKind == models.AuthorBot {
		return OutcomeNone, nil
	}
	var errs []error
	if e.cfg.Recommend.Enabled {
		if _, err := e.RecommendContributors(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	outcome := OutcomeNone
	if e.cfg.CheckOnOpen {
		var err error
		outcome, err = e.DecideAndApplyDedupe(ctx, ev.Document, ev.Issue)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return outcome, errors.Join(errs...)
}

// HandleCommentCreated runs the annotate command when the comment carries
// one. Other comments are left alone.
func (e *Engine) HandleCommentCreated(ctx context.Context, ev models.Event) error {
	if !ev.IsComment() || ev.SenderKind == models.AuthorBot {
		return nil
	}
	cmd, ok, err := ParseAnnotateCommand(ev.Body)
	if !ok {
		return nil
	}
	if err != nil {
		return fmt.Errorf("annotate command on %s: %w", ev.Issue, err)
	}
	return e.Annotate(ctx, ev, cmd)
}
