package gitstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	projects map[string]*Project
	ensures  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{projects: map[string]*Project{}}
}

func (f *fakeBackend) GetProject(_ context.Context, name string) (*Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[name], nil
}

func (f *fakeBackend) EnsureProject(_ context.Context, name, majorType, description string, tags []string) (*Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	if p, ok := f.projects[name]; ok {
		return p, nil
	}
	p := &Project{
		ID:            len(f.projects) + 1,
		Name:          name,
		Description:   description,
		HTTPURLToRepo: "http://gitlab.test/houston/" + name + ".git",
	}
	f.projects[name] = p
	return p, nil
}

func (f *fakeBackend) DeleteProjectByName(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, name)
	return nil
}

func TestEnsureRepositoryIdempotent(t *testing.T) {
	store := NewStore(t.TempDir(), newFakeBackend(), "")
	id := uuid.New()

	first, err := store.EnsureRepository(id)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.EnsureRepository(id)
	require.NoError(t, err)
	require.NotNil(t, second)
}

func TestCommitAllReturnsHash(t *testing.T) {
	store := NewStore(t.TempDir(), newFakeBackend(), "")
	id := uuid.New()

	_, err := store.EnsureRepository(id)
	require.NoError(t, err)

	path := filepath.Join(store.PathFor(id), "zebra.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpg-bytes"), 0o644))

	hash, err := store.CommitAll(id, "initial import")
	require.NoError(t, err)
	require.Len(t, hash, 40)
}

func TestEnsureRemoteIdempotent(t *testing.T) {
	backend := newFakeBackend()
	store := NewStore(t.TempDir(), backend, "")
	id := uuid.New()

	ctx := context.Background()
	require.NoError(t, store.EnsureRemote(ctx, id, "filesystem", "test group", nil))
	require.NoError(t, store.EnsureRemote(ctx, id, "filesystem", "test group", nil))

	// exactly one remote project, origin configured exactly once
	require.Len(t, backend.projects, 1)

	repo, err := store.EnsureRepository(id)
	require.NoError(t, err)

	remote, err := repo.Remote("origin")
	require.NoError(t, err)
	require.Equal(t,
		backend.projects[id.String()].HTTPURLToRepo,
		remote.Config().URLs[0])
}

func TestPushWithoutRepositoryFails(t *testing.T) {
	store := NewStore(t.TempDir(), newFakeBackend(), "")
	require.Error(t, store.Push(context.Background(), uuid.New(), "filesystem", ""))
}

func TestDeleteLocal(t *testing.T) {
	store := NewStore(t.TempDir(), newFakeBackend(), "")
	id := uuid.New()

	_, err := store.EnsureRepository(id)
	require.NoError(t, err)
	require.NoError(t, store.DeleteLocal(id))

	_, err = os.Stat(store.PathFor(id))
	require.True(t, os.IsNotExist(err))
}
