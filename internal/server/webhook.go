package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/issuesense/internal/dedupe"
	"github.com/mohammad-safakhou/issuesense/internal/github"
	"github.com/mohammad-safakhou/issuesense/models"
)

type webhookResponse struct {
	Action   string `json:"action,omitempty"`
	Document string `json:"document,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Ignored  bool   `json:"ignored,omitempty"`
}

// webhook handles one GitHub delivery synchronously: the document is stored
// first, then the event is routed to the dedupe engine.
func (s *Server) webhook(c echo.Context) error {
	ev, err := github.ReadWebhook(c.Request(), s.opts.WebhookSecret, s.opts.BotLogin)
	switch {
	case errors.Is(err, github.ErrUnsupportedEvent):
		return c.JSON(http.StatusAccepted, webhookResponse{Ignored: true})
	case errors.Is(err, github.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.opts.RequestTimeout)
	defer cancel()
	outcome, err := s.route(ctx, ev)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, webhookResponse{
		Action:   ev.Action,
		Document: ev.Document.ID,
		Outcome:  outcome.String(),
	})
}

func (s *Server) route(ctx context.Context, ev models.Event) (dedupe.Outcome, error) {
	if ev.Action == models.ActionDeleted {
		if err := s.ingest.Delete(ctx, ev.Document.ID); err != nil {
			return dedupe.OutcomeNone, fmt.Errorf("delete %s: %w", ev.Document.ID, err)
		}
		return dedupe.OutcomeNone, nil
	}

	doc, err := s.ingest.Ingest(ctx, ev.Document)
	if err != nil {
		return dedupe.OutcomeNone, fmt.Errorf("ingest %s: %w", ev.Document.ID, err)
	}
	ev.Document = doc

	switch {
	case ev.IsComment():
		if ev.Action != models.ActionCreated {
			return dedupe.OutcomeNone, nil
		}
		return dedupe.OutcomeNone, s.dedupe.HandleCommentCreated(ctx, ev)
	case ev.Action == models.ActionOpened:
		return s.dedupe.HandleIssueOpened(ctx, ev)
	case ev.Action == models.ActionEdited:
		return s.dedupe.HandleIssueEdited(ctx, ev)
	}
	return dedupe.OutcomeNone, nil
}
