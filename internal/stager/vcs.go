package stager

import (
	"context"
	"errors"
	"fmt"
	"os"

	"botcloud/internal/models"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// stageVCS updates an existing checkout of the same remote in place, or
// clones from scratch when the directory is missing, not a repository, or
// points at a different remote.
func (s *Stager) stageVCS(ctx context.Context, identity, dir, url string) error {
	if repo, err := git.PlainOpen(dir); err == nil && originURL(repo) == url {
		s.publish(identity, models.SeveritySystem, "Updating existing repository at %s...", dir)
		if err := syncCheckout(ctx, repo); err != nil {
			return fmt.Errorf("%w: pull %s: %v", ErrSourceUnavailable, url, err)
		}
		s.publish(identity, models.SeveritySuccess, "Repository ready.")
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dir, err)
	}

	s.publish(identity, models.SeveritySystem, "Cloning repository: %s into %s...", url, dir)
	if _, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url}); err != nil {
		// a failed clone leaves no artifact behind
		os.RemoveAll(dir)
		return fmt.Errorf("%w: clone %s: %v", ErrSourceUnavailable, url, err)
	}
	s.publish(identity, models.SeveritySuccess, "Repository ready.")
	return nil
}

// syncCheckout fetches origin and hard-resets the current branch onto its
// remote-tracking ref. Local edits to tracked files, such as a lockfile
// rewritten by the install step, are discarded.
func syncCheckout(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: git.DefaultRemoteName, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	head, err := repo.Head()
	if err != nil {
		return err
	}
	if !head.Name().IsBranch() {
		return fmt.Errorf("HEAD is detached at %s", head.Hash())
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, head.Name().Short()), true)
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: remoteRef.Hash()})
}

func originURL(repo *git.Repository) string {
	remote, err := repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
