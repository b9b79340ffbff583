package similarity

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrInvalidScope     = errors.New("invalid scope")
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// Candidate is one scored neighbour returned by a similarity search.
type Candidate struct {
	TargetID string
	Score    float64
	Owner    string
	Repo     string
}

// Thresholds gate the four actions driven by similarity scores.
type Thresholds struct {
	// Warning attaches a possible-duplicate footnote.
	Warning float64
	// Match closes the issue as a duplicate.
	Match float64
	// Annotate gates the on-demand annotate command.
	Annotate float64
	// JobMatching gates contributor recommendation.
	JobMatching float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:     0.75,
		Match:       0.95,
		Annotate:    0.65,
		JobMatching: 0.75,
	}
}

// Validate rejects thresholds outside [0,1].
func (t Thresholds) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"warning", t.Warning},
		{"match", t.Match},
		{"annotate", t.Annotate},
		{"job_matching", t.JobMatching},
	}
	for _, c := range checks {
		if c.value < 0 || c.value > 1 {
			return fmt.Errorf("%w: %s=%v must be within [0,1]", ErrInvalidThreshold, c.name, c.value)
		}
	}
	return nil
}

// EffectiveJobMatching drops the job matching threshold to zero when every
// candidate should be considered.
func (t Thresholds) EffectiveJobMatching(alwaysRecommend bool, requestedUsers []string) float64 {
	if alwaysRecommend || len(requestedUsers) > 0 {
		return 0
	}
	return t.JobMatching
}

type Action int

const (
	ActionNone Action = iota
	ActionWarn
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// Decision is the outcome of applying Thresholds to a candidate set.
type Decision struct {
	Action Action
	// Flagged holds every candidate that earns a footnote, best first.
	Flagged []Candidate
	// Closing holds the candidates that cleared the match threshold.
	Closing []Candidate
}

// Decide picks the dedupe action. Closing wins whenever any candidate clears
// Match, regardless of the warning threshold.
func (t Thresholds) Decide(cands []Candidate) Decision {
	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(a, b Candidate) int { return cmp.Compare(b.Score, a.Score) })

	floor := min(t.Warning, t.Match)
	var d Decision
	for _, c := range sorted {
		if c.Score >= t.Match {
			d.Closing = append(d.Closing, c)
		}
		if c.Score >= floor {
			d.Flagged = append(d.Flagged, c)
		}
	}
	switch {
	case len(d.Closing) > 0:
		d.Action = ActionClose
	case len(d.Flagged) > 0:
		d.Action = ActionWarn
	}
	return d
}

// Scope restricts which repositories candidates may come from.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeOrg    Scope = "org"
	ScopeRepo   Scope = "repo"
)

func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeGlobal, ScopeOrg, ScopeRepo:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// Allows reports whether c is visible from owner/repo under s.
func (s Scope) Allows(c Candidate, owner, repo string) bool {
	switch s {
	case ScopeRepo:
		return strings.EqualFold(c.Owner, owner) && strings.EqualFold(c.Repo, repo)
	case ScopeOrg:
		return strings.EqualFold(c.Owner, owner)
	default:
		return true
	}
}

// Bounds returns the owner and repo a search from owner/repo is limited to
// under s. An empty value means unrestricted.
func (s Scope) Bounds(owner, repo string) (string, string) {
	switch s {
	case ScopeRepo:
		return owner, repo
	case ScopeOrg:
		return owner, ""
	default:
		return "", ""
	}
}

// Filter keeps the candidates allowed under s.
func (s Scope) Filter(cands []Candidate, owner, repo string) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if s.Allows(c, owner, repo) {
			out = append(out, c)
		}
	}
	return out
}
