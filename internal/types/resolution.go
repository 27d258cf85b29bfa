// Package types defines core data structures for the reef finding tracker.
package types

// ResolutionStatus is a user-facing resolution outcome for a finding.
//
// Servers expose exactly one vocabulary of two statuses at a time: older
// self-hosted releases use {WontFix, FalsePositive}, newer ones use
// {Accept, FalsePositive}. Accept and WontFix are the same semantic outcome
// under different server generations.
type ResolutionStatus string

const (
	StatusAccept        ResolutionStatus = "ACCEPT"
	StatusWontFix       ResolutionStatus = "WONT_FIX"
	StatusFalsePositive ResolutionStatus = "FALSE_POSITIVE"
)

// Title returns the display label for the status.
func (s ResolutionStatus) Title() string {
	switch s {
	case StatusAccept:
		return "Accept"
	case StatusWontFix:
		return "Won't Fix"
	case StatusFalsePositive:
		return "False Positive"
	}
	return string(s)
}

// Description returns the longer explanation shown next to the title in pickers.
func (s ResolutionStatus) Description() string {
	switch s {
	case StatusAccept:
		return "The finding is valid but will not be fixed now. It represents accepted technical debt."
	case StatusWontFix:
		return "The finding is valid but does not need fixing. It represents accepted technical debt."
	case StatusFalsePositive:
		return "The finding is raised unexpectedly on code that should not trigger it."
	}
	return ""
}

// Transition is a status-change action with its wire code as understood by
// the server's transition endpoint. One-to-one with ResolutionStatus except
// Reopen, which has no resolution counterpart.
type Transition string

const (
	TransitionAccept        Transition = "accept"
	TransitionWontFix       Transition = "wontfix"
	TransitionFalsePositive Transition = "falsepositive"
	TransitionReopen        Transition = "reopen"
)

// Transition maps a resolution status to the wire transition applying it.
func (s ResolutionStatus) Transition() Transition {
	switch s {
	case StatusAccept:
		return TransitionAccept
	case StatusWontFix:
		return TransitionWontFix
	case StatusFalsePositive:
		return TransitionFalsePositive
	}
	return ""
}

// CurrentVocabulary is the resolution set exposed by self-hosted servers 10.4+.
// LegacyVocabulary is the set exposed by 10.2 and 10.3.
//
// Order matters: it is the order statuses are presented to the user.
var (
	CurrentVocabulary = []ResolutionStatus{StatusAccept, StatusFalsePositive}
	LegacyVocabulary  = []ResolutionStatus{StatusWontFix, StatusFalsePositive}
)

// TransitionCodes returns the wire codes for every status in a vocabulary.
func TransitionCodes(vocabulary []ResolutionStatus) []string {
	codes := make([]string, 0, len(vocabulary))
	for _, s := range vocabulary {
		codes = append(codes, string(s.Transition()))
	}
	return codes
}

// PermissionResult answers "may the user resolve this finding, and how".
// Permitted is true exactly when AllowedStatuses is non-empty; Reason is set
// only when not permitted.
type PermissionResult struct {
	Permitted       bool               `json:"permitted"`
	Reason          string             `json:"reason,omitempty"`
	AllowedStatuses []ResolutionStatus `json:"allowed_statuses"`
}
