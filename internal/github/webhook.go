package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/mohammad-safakhou/issuesense/internal/textutil"
	"github.com/mohammad-safakhou/issuesense/models"
)

var (
	// ErrUnsupportedEvent marks deliveries the bot ignores.
	ErrUnsupportedEvent = errors.New("github: unsupported event")
	// ErrInvalidSignature rejects deliveries whose HMAC does not verify.
	ErrInvalidSignature = errors.New("github: invalid webhook signature")
)

// ReadWebhook validates the delivery signature and normalises the payload.
// An empty secret skips signature validation.
func ReadWebhook(r *http.Request, secret []byte, botLogin string) (models.Event, error) {
	payload, err := gh.ValidatePayload(r, secret)
	if err != nil {
		return models.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ParseEvent(gh.WebHookType(r), payload, botLogin)
}

// ParseEvent turns a raw webhook payload into an Event. Event types and
// actions other than issue, pull request and issue comment changes yield
// ErrUnsupportedEvent.
func ParseEvent(eventType string, payload []byte, botLogin string) (models.Event, error) {
	raw, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("parse %s payload: %w", eventType, err)
	}
	switch ev := raw.(type) {
	case *gh.IssuesEvent:
		return issueEvent(ev, botLogin)
	case *gh.IssueCommentEvent:
		return commentEvent(ev, botLogin)
	case *gh.PullRequestEvent:
		return pullRequestEvent(ev, botLogin)
	default:
		return models.Event{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

func supportedAction(action string) bool {
	switch action {
	case models.ActionOpened, models.ActionEdited, models.ActionCreated, models.ActionDeleted, models.ActionClosed:
		return true
	}
	return false
}

func issueEvent(ev *gh.IssuesEvent, botLogin string) (models.Event, error) {
	action := ev.GetAction()
	if !supportedAction(action) || ev.Issue == nil {
		return models.Event{}, fmt.Errorf("%w: issues.%s", ErrUnsupportedEvent, action)
	}
	issue := ev.GetIssue()
	repo := ev.GetRepo()
	ref := models.IssueRef{Owner: repo.GetOwner().GetLogin(), Repo: repo.GetName(), Number: issue.GetNumber()}
	kind := models.KindIssue
	if issue.IsPullRequest() {
		kind = models.KindPullRequest
	}
	doc := baseDocument(kind, issue.GetID(), repo, issue.GetUser(), botLogin)
	doc.Number = issue.GetNumber()
	doc.Title = issue.GetTitle()
	doc.URL = issue.GetHTMLURL()
	doc.State = issue.GetState()
	doc.StateReason = issue.GetStateReason()
	doc.Assignees = logins(issue.Assignees)
	doc.CreatedAt = issue.GetCreatedAt().Time
	doc.ModifiedAt = modified(issue.GetUpdatedAt().Time, doc.CreatedAt)
	setBody(&doc, issue.GetBody())

	return models.Event{
		Action:       action,
		Document:     doc,
		Issue:        ref,
		Body:         issue.GetBody(),
		PreviousBody: previousBody(ev.GetChanges()),
		SenderLogin:  ev.GetSender().GetLogin(),
		SenderKind:   ResolveAuthorKind(ev.GetSender(), botLogin),
	}, nil
}

func commentEvent(ev *gh.IssueCommentEvent, botLogin string) (models.Event, error) {
	action := ev.GetAction()
	if !supportedAction(action) || ev.Comment == nil {
		return models.Event{}, fmt.Errorf("%w: issue_comment.%s", ErrUnsupportedEvent, action)
	}
	cm := ev.GetComment()
	repo := ev.GetRepo()
	ref := models.IssueRef{Owner: repo.GetOwner().GetLogin(), Repo: repo.GetName(), Number: ev.GetIssue().GetNumber()}
	doc := baseDocument(models.KindComment, cm.GetID(), repo, cm.GetUser(), botLogin)
	doc.Number = ref.Number
	doc.Title = ev.GetIssue().GetTitle()
	doc.URL = cm.GetHTMLURL()
	doc.CreatedAt = cm.GetCreatedAt().Time
	doc.ModifiedAt = modified(cm.GetUpdatedAt().Time, doc.CreatedAt)
	setBody(&doc, cm.GetBody())

	return models.Event{
		Action:       action,
		Document:     doc,
		Issue:        ref,
		Comment:      &models.CommentRef{Owner: ref.Owner, Repo: ref.Repo, ID: cm.GetID()},
		Body:         cm.GetBody(),
		PreviousBody: previousBody(ev.GetChanges()),
		SenderLogin:  ev.GetSender().GetLogin(),
		SenderKind:   ResolveAuthorKind(ev.GetSender(), botLogin),
	}, nil
}

func pullRequestEvent(ev *gh.PullRequestEvent, botLogin string) (models.Event, error) {
	action := ev.GetAction()
	if !supportedAction(action) || ev.PullRequest == nil {
		return models.Event{}, fmt.Errorf("%w: pull_request.%s", ErrUnsupportedEvent, action)
	}
	pr := ev.GetPullRequest()
	repo := ev.GetRepo()
	ref := models.IssueRef{Owner: repo.GetOwner().GetLogin(), Repo: repo.GetName(), Number: pr.GetNumber()}
	doc := baseDocument(models.KindPullRequest, pr.GetID(), repo, pr.GetUser(), botLogin)
	doc.Number = pr.GetNumber()
	doc.Title = pr.GetTitle()
	doc.URL = pr.GetHTMLURL()
	doc.State = pr.GetState()
	doc.Assignees = logins(pr.Assignees)
	doc.CreatedAt = pr.GetCreatedAt().Time
	doc.ModifiedAt = modified(pr.GetUpdatedAt().Time, doc.CreatedAt)
	setBody(&doc, pr.GetBody())

	return models.Event{
		Action:       action,
		Document:     doc,
		Issue:        ref,
		Body:         pr.GetBody(),
		PreviousBody: previousBody(ev.GetChanges()),
		SenderLogin:  ev.GetSender().GetLogin(),
		SenderKind:   ResolveAuthorKind(ev.GetSender(), botLogin),
	}, nil
}

func baseDocument(kind models.DocumentKind, id int64, repo *gh.Repository, author *gh.User, botLogin string) models.Document {
	authorKind := ResolveAuthorKind(author, botLogin)
	authorID := author.GetID()
	if authorKind != models.AuthorHuman || authorID == 0 {
		authorID = models.UnknownAuthorID
	}
	return models.Document{
		ID:          models.DocumentID(kind, id),
		Kind:        kind,
		Owner:       repo.GetOwner().GetLogin(),
		Repo:        repo.GetName(),
		AuthorID:    authorID,
		AuthorLogin: author.GetLogin(),
		AuthorKind:  authorKind,
		Private:     repo.GetPrivate(),
	}
}

// setBody stores the markdown unless the repository is private.
func setBody(doc *models.Document, body string) {
	if doc.Private {
		return
	}
	doc.ContentHash = textutil.ContentHash(body)
	doc.Markdown = &body
}

// ResolveAuthorKind classifies a GitHub account once, at ingestion.
func ResolveAuthorKind(u *gh.User, botLogin string) models.AuthorKind {
	if u == nil || u.GetLogin() == "" {
		return models.AuthorUnknown
	}
	login := u.GetLogin()
	if strings.EqualFold(u.GetType(), "Bot") || strings.HasSuffix(login, "[bot]") ||
		(botLogin != "" && strings.EqualFold(login, botLogin)) {
		return models.AuthorBot
	}
	if strings.EqualFold(u.GetType(), "User") {
		return models.AuthorHuman
	}
	return models.AuthorUnknown
}

func previousBody(changes *gh.EditChange) *string {
	if changes == nil || changes.Body == nil || changes.Body.From == nil {
		return nil
	}
	from := *changes.Body.From
	return &from
}

func logins(users []*gh.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if l := u.GetLogin(); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func modified(updated, created time.Time) time.Time {
	if updated.IsZero() {
		return created
	}
	return updated
}
