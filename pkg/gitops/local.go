package gitops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vocalcommit/pkg/logx"
)

// LocalRepo operates on a git working tree without ever touching a remote.
type LocalRepo struct {
	git    *runner
	logger *logx.Logger
	now    func() time.Time
}

// NewLocalRepo creates a local adapter for the repository at dir.
func NewLocalRepo(dir string, timeout time.Duration) *LocalRepo {
	logger := logx.NewLogger("gitops")
	return &LocalRepo{
		git:    newRunner(dir, timeout, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Status reports the current branch and pending changes.
func (r *LocalRepo) Status(ctx context.Context) (*WorkingStatus, error) {
	out, err := r.git.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("not a git repository or git unavailable: %w", err)
	}
	st := parseStatus(out)

	branch, err := r.git.run(ctx, "branch", "--show-current")
	if err != nil {
		branch = "unknown"
	}
	st.Branch = branch
	return st, nil
}

// CommitLocal stages the given files and commits them with the marker
// message. It never pushes. Files that fail to stage are skipped; the
// commit proceeds with the rest.
func (r *LocalRepo) CommitLocal(ctx context.Context, description, taskID string, files []string, risk *RiskAssessment) (*CommitRecord, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files provided to commit")
	}

	var staged []string
	for _, f := range files {
		if _, err := r.git.run(ctx, "add", "--", f); err != nil {
			r.logger.Warn("Failed to stage %s: %v", f, err)
			continue
		}
		staged = append(staged, f)
	}
	if len(staged) == 0 {
		return nil, fmt.Errorf("none of %d files could be staged", len(files))
	}

	st, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	if len(st.Staged) == 0 {
		return nil, ErrNoChanges
	}

	now := r.now()
	message := buildCommitMessage(description, taskID, staged, risk, now)
	if _, err := r.git.run(ctx, "commit", "-m", message); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	hash, err := r.git.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		hash = "unknown"
	}

	r.logger.Info("Committed %d files locally for task %s: %s", len(staged), taskID, shortHash(hash))
	return &CommitRecord{
		Hash:      hash,
		ShortHash: shortHash(hash),
		Message:   message,
		Timestamp: now.Format("2006-01-02 15:04:05"),
		Files:     staged,
		Ours:      true,
	}, nil
}

// PushCommitted pushes HEAD to origin. Only called after push approval.
func (r *LocalRepo) PushCommitted(ctx context.Context) (string, error) {
	if _, err := r.git.run(ctx, "push", "origin", "HEAD"); err != nil {
		return "", fmt.Errorf("push failed, changes remain committed locally: %w", err)
	}
	hash, err := r.git.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		hash = "unknown"
	}
	r.logger.Info("Pushed to remote: %s", shortHash(hash))
	return shortHash(hash), nil
}

// LastCommit describes HEAD, including the files it touched.
func (r *LocalRepo) LastCommit(ctx context.Context) (*CommitRecord, error) {
	hash, err := r.git.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	message, err := r.git.run(ctx, "log", "-1", "--pretty=format:%s")
	if err != nil {
		message = "unknown"
	}
	timestamp, err := r.git.run(ctx, "log", "-1", "--pretty=format:%ci")
	if err != nil {
		timestamp = "unknown"
	}

	var files []string
	if out, err := r.git.run(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "HEAD"); err == nil && out != "" {
		files = strings.Split(out, "\n")
	}

	return &CommitRecord{
		Hash:      hash,
		ShortHash: shortHash(hash),
		Message:   message,
		Timestamp: timestamp,
		Files:     files,
		Ours:      strings.Contains(message, CommitMarker),
	}, nil
}

// Rollback undoes the HEAD commit. A soft rollback keeps the changes
// unstaged in the working tree; a hard rollback additionally restores the
// commit's files to their previous state. HEAD must carry the marker or
// nothing is touched.
func (r *LocalRepo) Rollback(ctx context.Context, hard bool) (*CommitRecord, error) {
	last, err := r.LastCommit(ctx)
	if err != nil {
		return nil, err
	}
	if !last.Ours {
		return nil, ErrForeignCommit
	}

	if _, err := r.git.run(ctx, "reset", "--soft", "HEAD~1"); err != nil {
		return nil, fmt.Errorf("rollback of %s failed: %w", last.ShortHash, err)
	}

	if hard {
		// Discard only the files the commit touched, never the whole tree.
		for _, f := range last.Files {
			if _, err := r.git.run(ctx, "checkout", "HEAD", "--", f); err != nil {
				r.logger.Warn("Failed to discard changes for %s: %v", f, err)
			}
		}
	}

	r.logger.Info("Rolled back commit %s (hard=%v)", last.ShortHash, hard)
	return last, nil
}

// History returns the most recent commits, newest first.
func (r *LocalRepo) History(ctx context.Context, limit int) ([]CommitRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := r.git.run(ctx, "log", "-"+strconv.Itoa(limit), "--pretty=format:%H|%s|%ci|%an")
	if err != nil {
		return nil, fmt.Errorf("failed to read commit history: %w", err)
	}
	return parseHistory(out), nil
}
