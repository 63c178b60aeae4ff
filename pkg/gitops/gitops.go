// Package gitops adapts the working tree's git repository for the commit
// pipeline: marker-tagged local commits, gated pushes, and guarded
// rollbacks, all via git subprocess invocations.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CommitMarker tags every commit this system creates. Rollback and revert
// refuse to touch a HEAD commit that lacks it.
const CommitMarker = "[vocalcommit]"

// ErrForeignCommit is returned when a rollback or revert targets a commit
// that was not created by this system.
var ErrForeignCommit = errors.New("head commit was not created by this system, manual rollback required")

// ErrNoChanges is returned when a commit is requested but the working tree
// is clean.
var ErrNoChanges = errors.New("no changes to commit")

// WorkingStatus is the parsed `git status --porcelain` view of the tree.
type WorkingStatus struct {
	Branch     string   `json:"branch"`
	HasChanges bool     `json:"has_changes"`
	Staged     []string `json:"staged,omitempty"`
	Modified   []string `json:"modified,omitempty"`
	Untracked  []string `json:"untracked,omitempty"`
}

// CommitRecord describes one commit in the repository.
type CommitRecord struct {
	Hash      string   `json:"hash"`
	ShortHash string   `json:"short_hash"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Author    string   `json:"author,omitempty"`
	Files     []string `json:"files,omitempty"`
	// Ours reports whether the commit carries the marker.
	Ours bool `json:"ours"`
}

// RiskAssessment is the model's judgement of a change, embedded in the
// commit message for the reviewer.
type RiskAssessment struct {
	Risk       string  `json:"risk"`
	Confidence float64 `json:"confidence"`
	Impact     string  `json:"impact"`
}

// Repo is the version control surface the workflow depends on.
type Repo interface {
	Status(ctx context.Context) (*WorkingStatus, error)
	CommitLocal(ctx context.Context, description, taskID string, files []string, risk *RiskAssessment) (*CommitRecord, error)
	PushCommitted(ctx context.Context) (string, error)
	Rollback(ctx context.Context, hard bool) (*CommitRecord, error)
	History(ctx context.Context, limit int) ([]CommitRecord, error)
	LastCommit(ctx context.Context) (*CommitRecord, error)
}

// parseStatus converts porcelain output into a WorkingStatus. The branch
// field is filled by the caller.
func parseStatus(out string) *WorkingStatus {
	st := &WorkingStatus{}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		path := strings.TrimSpace(line[3:])

		if code == "??" {
			st.Untracked = append(st.Untracked, path)
			continue
		}
		switch code[0] {
		case 'M', 'A', 'D', 'R', 'C':
			st.Staged = append(st.Staged, path)
		}
		switch code[1] {
		case 'M', 'D':
			st.Modified = append(st.Modified, path)
		}
	}
	st.HasChanges = len(st.Staged)+len(st.Modified)+len(st.Untracked) > 0
	return st
}

const commitMessageFileLimit = 10

// buildCommitMessage renders the marker-tagged commit message: the task
// description, provenance lines, the model's risk assessment when
// available, and the touched files (capped).
func buildCommitMessage(description, taskID string, files []string, risk *RiskAssessment, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n\n", CommitMarker, description)
	fmt.Fprintf(&sb, "Task ID: %s\n", taskID)
	fmt.Fprintf(&sb, "Timestamp: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Modified files: %d\n", len(files))
	if risk != nil {
		fmt.Fprintf(&sb, "AI Risk Assessment: %s\n", risk.Risk)
		fmt.Fprintf(&sb, "AI Confidence: %.2f\n", risk.Confidence)
		fmt.Fprintf(&sb, "Estimated Impact: %s\n", risk.Impact)
	}
	sb.WriteString("\nFiles modified:\n")
	for i, f := range files {
		if i == commitMessageFileLimit {
			fmt.Fprintf(&sb, "... and %d more files\n", len(files)-commitMessageFileLimit)
			break
		}
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	sb.WriteString("\n[Status: Awaiting approval to push to remote]")
	return sb.String()
}

// parseHistory parses `git log --pretty=format:%H|%s|%ci|%an` output.
func parseHistory(out string) []CommitRecord {
	var commits []CommitRecord
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, CommitRecord{
			Hash:      parts[0],
			ShortHash: shortHash(parts[0]),
			Message:   parts[1],
			Timestamp: parts[2],
			Author:    parts[3],
			Ours:      strings.Contains(parts[1], CommitMarker),
		})
	}
	return commits
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
