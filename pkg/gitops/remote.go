package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vocalcommit/pkg/config"
	"vocalcommit/pkg/logx"
)

// SyncAction reports what SyncRemote did.
type SyncAction string

// Sync outcomes.
const (
	SyncCloned SyncAction = "cloned"
	SyncPulled SyncAction = "pulled"
)

// RemoteRepo extends LocalRepo with remote operations on the todo UI
// repository: initial clone, pull-before-commit, and forward reverts.
type RemoteRepo struct {
	*LocalRepo

	dir      string
	repoURL  string
	token    string
	branch   string
	fallback string
	remote   *runner
}

// NewRemoteRepo creates a remote-capable adapter for dir. Remote calls use
// the longer remote timeout; local ones keep the command timeout.
func NewRemoteRepo(dir string, cfg config.GitConfig) *RemoteRepo {
	local := NewLocalRepo(dir, cfg.CommandTimeout.Std())
	return &RemoteRepo{
		LocalRepo: local,
		dir:       dir,
		repoURL:   cfg.RepoURL,
		token:     cfg.Token,
		branch:    cfg.TargetBranch,
		fallback:  cfg.FallbackBranch,
		remote:    newRunner(dir, cfg.RemoteTimeout.Std(), logx.NewLogger("gitops")),
	}
}

// authURL embeds the access token into an https remote URL. Without a
// token the URL is used as-is.
func authURL(repoURL, token string) string {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	return "https://" + token + "@" + strings.TrimPrefix(repoURL, "https://")
}

// SyncRemote brings the local tree up to date: clone when the directory is
// missing, pull otherwise. Pulls try the target branch first and fall back
// to the secondary branch, since older repositories still use master.
func (r *RemoteRepo) SyncRemote(ctx context.Context) (SyncAction, error) {
	if _, err := os.Stat(filepath.Join(r.dir, ".git")); err == nil {
		if _, err := r.remote.run(ctx, "config", "pull.rebase", "false"); err != nil {
			r.logger.Warn("Failed to set pull strategy: %v", err)
		}
		if _, err := r.remote.run(ctx, "pull", "origin", r.branch, "--no-edit"); err != nil {
			r.logger.Debug("Pull of %s failed, trying %s", r.branch, r.fallback)
			if _, err := r.remote.run(ctx, "pull", "origin", r.fallback, "--no-edit"); err != nil {
				return "", fmt.Errorf("failed to pull latest changes: %w", err)
			}
		}
		r.logger.Info("Pulled latest changes into %s", r.dir)
		return SyncPulled, nil
	}

	if r.repoURL == "" {
		return "", fmt.Errorf("no repository at %s and no repo_url configured to clone from", r.dir)
	}
	if err := os.MkdirAll(filepath.Dir(r.dir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create clone parent directory: %w", err)
	}

	parent := newRunner(filepath.Dir(r.dir), r.remote.timeout, r.logger)
	if _, err := parent.run(ctx, "clone", authURL(r.repoURL, r.token), r.dir); err != nil {
		return "", fmt.Errorf("failed to clone repository: %w", err)
	}
	r.logger.Info("Cloned %s into %s", r.repoURL, r.dir)
	return SyncCloned, nil
}

// PushCommitted pushes HEAD with the remote timeout.
func (r *RemoteRepo) PushCommitted(ctx context.Context) (string, error) {
	if _, err := r.remote.run(ctx, "push", "origin", "HEAD"); err != nil {
		return "", fmt.Errorf("push failed, changes remain committed locally: %w", err)
	}
	hash, err := r.git.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		hash = "unknown"
	}
	r.logger.Info("Pushed to remote: %s", shortHash(hash))
	return shortHash(hash), nil
}

// Revert creates a forward revert commit undoing HEAD and pushes it. Used
// after a bad change already reached the remote, where a rollback would
// rewrite published history. HEAD must carry the marker.
func (r *RemoteRepo) Revert(ctx context.Context) (*CommitRecord, error) {
	last, err := r.LastCommit(ctx)
	if err != nil {
		return nil, err
	}
	if !last.Ours {
		return nil, ErrForeignCommit
	}

	if _, err := r.git.run(ctx, "revert", "--no-edit", "HEAD"); err != nil {
		return nil, fmt.Errorf("failed to revert commit %s: %w", last.ShortHash, err)
	}
	if _, err := r.remote.run(ctx, "push", "origin", "HEAD"); err != nil {
		return nil, fmt.Errorf("revert of %s committed locally but push failed: %w", last.ShortHash, err)
	}

	r.logger.Info("Reverted and pushed commit %s", last.ShortHash)
	return last, nil
}
