package models

import "fmt"

// DocumentID derives the stable document id for a GitHub object.
func DocumentID(kind DocumentKind, githubID int64) string {
	return fmt.Sprintf("%s:%d", kind, githubID)
}

// IssueRef addresses an issue or pull request on GitHub.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r IssueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// CommentRef addresses an issue comment.
type CommentRef struct {
	Owner string
	Repo  string
	ID    int64
}

func (r CommentRef) String() string {
	return fmt.Sprintf("%s/%s comment %d", r.Owner, r.Repo, r.ID)
}

// Issue is the live state of an issue as read from GitHub.
type Issue struct {
	ID          int64
	Ref         IssueRef
	Title       string
	Body        string
	State       string
	StateReason string
	AuthorID    int64
	AuthorLogin string
	URL         string
}

// IssueUpdate carries the fields to write back. Empty State leaves it untouched.
type IssueUpdate struct {
	Body        string
	State       string
	StateReason string
}

type Comment struct {
	Ref         CommentRef
	Body        string
	AuthorLogin string
	URL         string
}

const (
	IssueStateOpen   = "open"
	IssueStateClosed = "closed"

	StateReasonCompleted  = "completed"
	StateReasonNotPlanned = "not_planned"
)
