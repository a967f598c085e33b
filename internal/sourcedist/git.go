package sourcedist

import (
	"context"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// acquireGit clones (or, if already cloned under this shard, fetches)
// a git source and checks out the requested revision, resolving it to a
// concrete commit SHA — grounded on google-oss-rebuild's
// tools/ctl/command/getgradlegav Handler, which does the same
// PlainClone+Worktree+Checkout sequence for a one-shot checkout. It returns
// the worktree's billy.Filesystem rather than a bare path, so a subdirectory
// source lookup goes through the same abstraction go-git itself uses
// internally instead of a second, disk-specific code path.
func acquireGit(ctx context.Context, dist SourceDist, destDir string) (resolvedSHA string, tree billy.Filesystem, err error) {
	repo, err := openOrClone(ctx, dist.URL, destDir)
	if err != nil {
		return "", nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", nil, errors.Wrap(err, "opening git worktree")
	}

	checkoutOpts, err := resolveCheckout(repo, dist.Revision)
	if err != nil {
		return "", nil, err
	}

	if err := wt.Checkout(checkoutOpts); err != nil {
		return "", nil, errors.Wrapf(err, "checking out %s", dist.Revision)
	}

	head, err := repo.Head()
	if err != nil {
		return "", nil, errors.Wrap(err, "reading checked-out HEAD")
	}

	return head.Hash().String(), wt.Filesystem, nil
}

// gitSubdirectory resolves a project subdirectory within a checked-out tree
// through its billy.Filesystem, confirming it exists before the build
// context is handed a path into it.
func gitSubdirectory(tree billy.Filesystem, subdirectory string) (string, error) {
	if subdirectory == "" {
		return tree.Root(), nil
	}

	info, err := tree.Stat(subdirectory)
	if err != nil {
		return "", errors.Wrapf(err, "subdirectory %q", subdirectory)
	}

	if !info.IsDir() {
		return "", errors.Errorf("subdirectory %q is not a directory", subdirectory)
	}

	return tree.Join(tree.Root(), subdirectory), nil
}

func openOrClone(ctx context.Context, url, destDir string) (*git.Repository, error) {
	if _, err := os.Stat(destDir); err == nil {
		repo, err := git.PlainOpen(destDir)
		if err == nil {
			if err := fetchAll(ctx, repo); err != nil {
				return nil, err
			}

			return repo, nil
		}
	}

	repo, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, errors.Wrapf(err, "cloning %s", url)
	}

	return repo, nil
}

func fetchAll(ctx context.Context, repo *git.Repository) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return errors.Wrap(err, "fetching updates")
	}

	return nil
}

// resolveCheckout builds CheckoutOptions for a revision that may be a full
// commit SHA, a short SHA, a branch, or a tag — go-git's ResolveRevision
// handles all four uniformly.
func resolveCheckout(repo *git.Repository, revision string) (*git.CheckoutOptions, error) {
	if revision == "" {
		return &git.CheckoutOptions{}, nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving revision %q", revision)
	}

	return &git.CheckoutOptions{Hash: *hash}, nil
}
