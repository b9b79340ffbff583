package models

// Webhook actions the bot reacts to.
const (
	ActionOpened  = "opened"
	ActionEdited  = "edited"
	ActionCreated = "created"
	ActionDeleted = "deleted"
	ActionClosed  = "closed"
)

// Event is a webhook delivery normalised into the document it concerns.
type Event struct {
	Action   string
	Document Document
	// Issue is the issue itself or, for comments, the parent issue.
	Issue   IssueRef
	Comment *CommentRef
	// Body is the payload text. Document.Markdown may withhold it.
	Body string
	// PreviousBody is set on edits that changed the body.
	PreviousBody *string
	SenderLogin  string
	SenderKind   AuthorKind
}

// IsComment reports whether the event concerns an issue comment.
func (e Event) IsComment() bool { return e.Comment != nil }
