package github

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/issuesense/models"
)

var commentFragment = regexp.MustCompile(`^issuecomment-(\d+)$`)

// ParseCommentURL reads a comment permalink such as
// https://github.com/o/r/issues/5#issuecomment-123.
func ParseCommentURL(raw string) (models.CommentRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return models.CommentRef{}, fmt.Errorf("parse comment url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	m := commentFragment.FindStringSubmatch(u.Fragment)
	if len(parts) < 4 || m == nil || (parts[2] != "issues" && parts[2] != "pull") {
		return models.CommentRef{}, fmt.Errorf("not a comment url: %q", raw)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return models.CommentRef{}, fmt.Errorf("comment id in %q: %w", raw, err)
	}
	return models.CommentRef{Owner: parts[0], Repo: parts[1], ID: id}, nil
}
