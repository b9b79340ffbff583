package models

import (
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
)

// ErrDocumentNotFound is returned when a document is not stored.
var ErrDocumentNotFound = errors.New("document not found")

// UnknownAuthorID marks documents whose author is not a known human.
const UnknownAuthorID int64 = -1

type DocumentKind string

const (
	KindIssue             DocumentKind = "issue"
	KindComment           DocumentKind = "comment"
	KindReviewComment     DocumentKind = "review_comment"
	KindPullRequest       DocumentKind = "pull_request"
	KindPullRequestReview DocumentKind = "pull_request_review"
)

// Valid reports whether k is one of the known document kinds.
func (k DocumentKind) Valid() bool {
	switch k {
	case KindIssue, KindComment, KindReviewComment, KindPullRequest, KindPullRequestReview:
		return true
	}
	return false
}

type EmbeddingStatus string

const (
	EmbeddingReady   EmbeddingStatus = "ready"
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

// AuthorKind is resolved once when an event is ingested.
type AuthorKind int

const (
	AuthorUnknown AuthorKind = iota
	AuthorHuman
	AuthorBot
)

func (a AuthorKind) String() string {
	switch a {
	case AuthorHuman:
		return "human"
	case AuthorBot:
		return "bot"
	default:
		return "unknown"
	}
}

// ParseAuthorKind maps the stored string form back to the enum.
func ParseAuthorKind(s string) AuthorKind {
	switch s {
	case "human":
		return AuthorHuman
	case "bot":
		return AuthorBot
	default:
		return AuthorUnknown
	}
}

// Document is a stored issue, comment, pull request or review.
type Document struct {
	ID              string           `json:"id"`
	Kind            DocumentKind     `json:"kind"`
	Owner           string           `json:"owner"`
	Repo            string           `json:"repo"`
	Number          int              `json:"number"`
	Title           string           `json:"title"`
	URL             string           `json:"url"`
	Markdown        *string          `json:"markdown"` // nil when private or filtered
	AuthorID        int64            `json:"author_id"`
	AuthorLogin     string           `json:"author_login"`
	AuthorKind      AuthorKind       `json:"author_kind"`
	State           string           `json:"state"`
	StateReason     string           `json:"state_reason"`
	Assignees       []string         `json:"assignees"`
	Private         bool             `json:"private"`
	ContentHash     string           `json:"content_hash"`
	Embedding       *pgvector.Vector `json:"-"` // nil until embedded
	EmbeddingStatus EmbeddingStatus  `json:"embedding_status"`
	CreatedAt       time.Time        `json:"created_at"`
	ModifiedAt      time.Time        `json:"modified_at"`
	DeletedAt       *time.Time       `json:"deleted_at"`
}

// Deleted reports whether the document was soft deleted.
func (d Document) Deleted() bool { return d.DeletedAt != nil }

// HasEmbedding reports whether a non-empty vector is attached.
func (d Document) HasEmbedding() bool {
	return d.Embedding != nil && len(d.Embedding.Slice()) > 0
}

// Body returns the markdown or an empty string when it was withheld.
func (d Document) Body() string {
	if d.Markdown == nil {
		return ""
	}
	return *d.Markdown
}
