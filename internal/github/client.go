// Package github adapts the GitHub REST API and webhook payloads to the
// bot's models.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/mohammad-safakhou/issuesense/models"
)

// ErrNotFound is returned when GitHub answers 404.
var ErrNotFound = errors.New("github: not found")

type Options struct {
	// Token is a personal or installation token. Ignored when Tokens is set.
	Token string
	// Tokens supplies installation tokens on demand.
	Tokens     *AppTokenSource
	BaseURL    string
	HTTPClient *http.Client
}

// Client reads and writes issues and comments.
type Client struct {
	gh *gh.Client
}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Tokens != nil {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		wrapped := *httpClient
		wrapped.Transport = &tokenTransport{src: opts.Tokens, base: base}
		httpClient = &wrapped
	}
	client := gh.NewClient(httpClient)
	if opts.Tokens == nil && opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		u, err := parseBaseURL(opts.BaseURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}
	return &Client{gh: client}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse github base url: %w", err)
	}
	return u, nil
}

func (c *Client) GetIssue(ctx context.Context, ref models.IssueRef) (models.Issue, error) {
	issue, _, err := c.gh.Issues.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return models.Issue{}, wrap("get issue "+ref.String(), err)
	}
	return models.Issue{
		ID:          issue.GetID(),
		Ref:         ref,
		Title:       issue.GetTitle(),
		Body:        issue.GetBody(),
		State:       issue.GetState(),
		StateReason: issue.GetStateReason(),
		AuthorID:    issue.GetUser().GetID(),
		AuthorLogin: issue.GetUser().GetLogin(),
		URL:         issue.GetHTMLURL(),
	}, nil
}

// UpdateIssue writes the body and, when set, the state and state reason in
// one request.
func (c *Client) UpdateIssue(ctx context.Context, ref models.IssueRef, upd models.IssueUpdate) error {
	req := &gh.IssueRequest{Body: gh.String(upd.Body)}
	if upd.State != "" {
		req.State = gh.String(upd.State)
	}
	if upd.StateReason != "" {
		req.StateReason = gh.String(upd.StateReason)
	}
	if _, _, err := c.gh.Issues.Edit(ctx, ref.Owner, ref.Repo, ref.Number, req); err != nil {
		return wrap("update issue "+ref.String(), err)
	}
	return nil
}

func (c *Client) GetComment(ctx context.Context, ref models.CommentRef) (models.Comment, error) {
	cm, _, err := c.gh.Issues.GetComment(ctx, ref.Owner, ref.Repo, ref.ID)
	if err != nil {
		return models.Comment{}, wrap("get "+ref.String(), err)
	}
	return toComment(ref.Owner, ref.Repo, cm), nil
}

func (c *Client) UpdateComment(ctx context.Context, ref models.CommentRef, body string) error {
	if _, _, err := c.gh.Issues.EditComment(ctx, ref.Owner, ref.Repo, ref.ID, &gh.IssueComment{Body: gh.String(body)}); err != nil {
		return wrap("update "+ref.String(), err)
	}
	return nil
}

func (c *Client) CreateComment(ctx context.Context, ref models.IssueRef, body string) (models.Comment, error) {
	cm, _, err := c.gh.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number, &gh.IssueComment{Body: gh.String(body)})
	if err != nil {
		return models.Comment{}, wrap("create comment on "+ref.String(), err)
	}
	return toComment(ref.Owner, ref.Repo, cm), nil
}

func (c *Client) DeleteComment(ctx context.Context, ref models.CommentRef) error {
	if _, err := c.gh.Issues.DeleteComment(ctx, ref.Owner, ref.Repo, ref.ID); err != nil {
		return wrap("delete "+ref.String(), err)
	}
	return nil
}

func toComment(owner, repo string, cm *gh.IssueComment) models.Comment {
	return models.Comment{
		Ref:         models.CommentRef{Owner: owner, Repo: repo, ID: cm.GetID()},
		Body:        cm.GetBody(),
		AuthorLogin: cm.GetUser().GetLogin(),
		URL:         cm.GetHTMLURL(),
	}
}

func wrap(op string, err error) error {
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
