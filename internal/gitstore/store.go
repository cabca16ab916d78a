// Package gitstore owns the version-controlled asset storage: one
// local git working copy per asset group, mirrored 1:1 to a project on
// the remote git host. Remote existence is eventually consistent with
// local existence; the tasks layer reconciles asynchronously.
package gitstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	httpauth "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/pkg/errors"
)

const originRemote = "origin"

type Store struct {
	root    string
	backend Backend
	token   string
	locks   sync.Map
}

// NewStore returns a store rooted at root, reconciling remotes through
// backend. token authenticates pushes to the remote host.
func NewStore(root string, backend Backend, token string) *Store {
	return &Store{root: root, backend: backend, token: token}
}

// PathFor returns the absolute path of an asset group's working copy.
func (s *Store) PathFor(id uuid.UUID) string {
	return filepath.Join(s.root, id.String())
}

// lock serializes repository mutations per asset group; concurrent
// pushes to one group would otherwise race to non-fast-forward.
func (s *Store) lock(id uuid.UUID) func() {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// EnsureRepository opens the group's working copy, initializing it on
// first use.
func (s *Store) EnsureRepository(id uuid.UUID) (*git.Repository, error) {
	path := s.PathFor(id)

	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, errors.Wrapf(err, "failed to open repository %v", path)
	}

	if err = os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create repository directory %v", path)
	}

	repo, err = git.PlainInit(path, false)
	return repo, errors.Wrapf(err, "failed to init repository %v", path)
}

// CommitAll stages everything in the working copy and commits,
// returning the new commit hash.
func (s *Store) CommitAll(id uuid.UUID, message string) (string, error) {
	defer s.lock(id)()

	repo, err := s.EnsureRepository(id)
	if err != nil {
		return "", err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	if err = wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", errors.Wrap(err, "failed to stage files")
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "houston",
			Email: "houston@localhost",
			When:  time.Now().UTC(),
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to commit")
	}

	return hash.String(), nil
}

// EnsureRemote guarantees a remote project exists for the asset group
// and that the local repository's origin points at it. Idempotent;
// safe under at-least-once delivery from a retrying caller.
func (s *Store) EnsureRemote(ctx context.Context, id uuid.UUID, majorType, description string, tags []string) error {
	defer s.lock(id)()

	project, err := s.backend.GetProject(ctx, id.String())
	if err != nil {
		return err
	}
	if project == nil {
		if project, err = s.backend.EnsureProject(
			ctx, id.String(), majorType, description, tags,
		); err != nil {
			return err
		}
	}

	repo, err := s.EnsureRepository(id)
	if err != nil {
		return err
	}

	if _, err = repo.Remote(originRemote); err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrRemoteNotFound) {
		return err
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: originRemote,
		URLs: []string{project.HTTPURLToRepo},
	})
	return errors.Wrap(err, "failed to create origin remote")
}

// Push uploads the local default branch, ensuring the remote exists
// first. A push of unchanged content is a no-op.
func (s *Store) Push(ctx context.Context, id uuid.UUID, majorType, description string) error {
	repo, err := git.PlainOpen(s.PathFor(id))
	if err != nil {
		return errors.Wrapf(err, "no repository for asset group %v", id)
	}

	if _, err = repo.Remote(originRemote); errors.Is(err, git.ErrRemoteNotFound) {
		if err = s.EnsureRemote(ctx, id, majorType, description, nil); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	defer s.lock(id)()

	log.Debug("pushing to authorized url", "asset_group", id)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: originRemote,
		Auth: &httpauth.BasicAuth{
			Username: "oauth2",
			Password: s.token,
		},
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fault.NewTransient("git push", err)
	}

	log.Debug("pushed", "asset_group", id)
	return nil
}

// DeleteRemote removes the remote project; missing is not an error.
func (s *Store) DeleteRemote(ctx context.Context, id uuid.UUID) error {
	return s.backend.DeleteProjectByName(ctx, id.String())
}

// DeleteLocal removes the local working copy.
func (s *Store) DeleteLocal(id uuid.UUID) error {
	defer s.lock(id)()
	return os.RemoveAll(s.PathFor(id))
}
