// Package workflow implements the task lifecycle: submission with
// duplicate suppression, the two approval gates, the background edit and
// commit run, and push or rollback of the result.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"vocalcommit/pkg/editor"
	"vocalcommit/pkg/gitops"
	"vocalcommit/pkg/planner"
)

// Status is a task lifecycle state.
type Status string

// Task lifecycle states.
const (
	StatusPendingDevApproval Status = "pending_dev_approval"
	StatusActive             Status = "active"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusRejected           Status = "rejected"
	StatusApproved           Status = "approved"
	StatusRolledBack         Status = "rolled_back"
)

// ValidTransitions defines the allowed state machine edges. States with no
// entry are terminal.
var ValidTransitions = map[Status][]Status{
	StatusPendingDevApproval: {StatusActive, StatusRejected},
	StatusActive:             {StatusCompleted, StatusFailed},
	StatusCompleted:          {StatusApproved, StatusRolledBack},
	StatusFailed:             {},
	StatusRejected:           {},
	StatusApproved:           {},
	StatusRolledBack:         {},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return len(ValidTransitions[s]) == 0
}

// Task is one natural-language change request moving through the
// lifecycle.
type Task struct {
	ID         string        `json:"task_id"`
	Transcript string        `json:"transcript"`
	DedupKey   string        `json:"-"`
	Plan       *planner.Plan `json:"plan,omitempty"`
	Status     Status        `json:"status"`
	// Message is the human-readable explanation of the current state.
	Message string `json:"message,omitempty"`

	ModifiedFiles []string             `json:"modified_files,omitempty"`
	FailedFiles   []editor.FileFailure `json:"failed_files,omitempty"`
	Commit        *gitops.CommitRecord `json:"commit,omitempty"`

	AwaitingPushApproval bool   `json:"awaiting_push_approval"`
	Pushed               bool   `json:"pushed"`
	PushedHash           string `json:"pushed_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// busy marks a push or rollback in flight; the two repo operations
	// must exclude each other.
	busy bool
}

// clone returns a caller-safe copy.
func (t *Task) clone() *Task {
	c := *t
	c.ModifiedFiles = append([]string(nil), t.ModifiedFiles...)
	c.FailedFiles = append([]editor.FileFailure(nil), t.FailedFiles...)
	if t.Plan != nil {
		p := *t.Plan
		c.Plan = &p
	}
	if t.Commit != nil {
		cc := *t.Commit
		c.Commit = &cc
	}
	return &c
}

// dedupKeyLen is the hex prefix length of the transcript hash used for
// duplicate detection.
const dedupKeyLen = 16

// DedupKey derives the duplicate-suppression key from a transcript:
// case-folded, whitespace-collapsed, then hashed so trivially rephrased
// spacing does not defeat detection.
func DedupKey(transcript string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(transcript)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:dedupKeyLen]
}
