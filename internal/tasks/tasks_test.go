package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/detection"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/houston-cloud/houston/internal/gitstore"
	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/internal/retry"
	"github.com/houston-cloud/houston/internal/sage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%v?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AssetGroup{},
		&models.Asset{},
		&models.AssetGroupSighting{},
		&models.Annotation{},
	))
	return db
}

// failingBackend never recovers; every call is a transient fault.
type failingBackend struct {
	calls int64
}

func (f *failingBackend) GetProject(context.Context, string) (*gitstore.Project, error) {
	atomic.AddInt64(&f.calls, 1)
	return nil, fault.NewTransient("git host request", errors.New("connection refused"))
}

func (f *failingBackend) EnsureProject(context.Context, string, string, string, []string) (*gitstore.Project, error) {
	atomic.AddInt64(&f.calls, 1)
	return nil, fault.NewTransient("git host request", errors.New("connection refused"))
}

func (f *failingBackend) DeleteProjectByName(context.Context, string) error {
	atomic.AddInt64(&f.calls, 1)
	return fault.NewTransient("git host request", errors.New("connection refused"))
}

type fakeSage struct {
	calls int64
}

func (f *fakeSage) DetectRequest(context.Context, *sage.DetectionRequest) (*sage.Response, error) {
	atomic.AddInt64(&f.calls, 1)
	return &sage.Response{Success: true}, nil
}

func newQueue(db *gorm.DB, store *gitstore.Store, dispatcher *detection.Dispatcher) *Queue {
	return New(Config{
		PoolSize:        2,
		DB:              db,
		Store:           store,
		Dispatcher:      dispatcher,
		RepoPolicy:      retry.Policy{Attempts: 10, Delay: time.Millisecond},
		DetectionPolicy: retry.Policy{Attempts: 10, Delay: time.Millisecond},
	})
}

func TestEnsureRemoteRetryBound(t *testing.T) {
	db := openTestDB(t)
	group := &models.AssetGroup{ID: uuid.New(), MajorType: models.MajorTypeTest}
	require.NoError(t, db.Create(group).Error)

	backend := &failingBackend{}
	store := gitstore.NewStore(t.TempDir(), backend, "")

	q := newQueue(db, store, nil)
	q.EnsureRemote(group.ID, nil)
	q.Wait()

	// ten attempts per reference policy, then terminal failure; the
	// first backend call per attempt is the GetProject probe
	require.Equal(t, int64(10), atomic.LoadInt64(&backend.calls))
}

func TestEnsureRemoteMissingGroupNoRetry(t *testing.T) {
	db := openTestDB(t)
	backend := &failingBackend{}
	store := gitstore.NewStore(t.TempDir(), backend, "")

	q := newQueue(db, store, nil)
	q.EnsureRemote(uuid.New(), nil)
	q.Wait()

	require.Zero(t, atomic.LoadInt64(&backend.calls))
}

func TestDeleteRemoteBestEffortSwallows(t *testing.T) {
	db := openTestDB(t)
	backend := &failingBackend{}
	store := gitstore.NewStore(t.TempDir(), backend, "")

	q := newQueue(db, store, nil)
	q.DeleteRemote(uuid.New(), true)
	q.Wait()

	require.Equal(t, int64(10), atomic.LoadInt64(&backend.calls))
}

func TestSageDetectionSubmits(t *testing.T) {
	db := openTestDB(t)

	group := &models.AssetGroup{ID: uuid.New(), MajorType: models.MajorTypeFilesystem}
	require.NoError(t, db.Create(group).Error)

	sighting := &models.AssetGroupSighting{
		ID:           uuid.New(),
		AssetGroupID: group.ID,
		Stage:        models.StageCuration,
	}
	jobID, err := sighting.AddJob("seals_v2")
	require.NoError(t, err)
	require.NoError(t, db.Create(sighting).Error)

	client := &fakeSage{}
	dispatcher := detection.NewDispatcher(
		db, client,
		detection.NewCatalog(detection.Model{Name: "seals_v2", Endpoint: "/api/engine/detect/seals_v2/"}),
		"http://houston.test", event.New())

	q := newQueue(db, nil, dispatcher)
	q.SageDetection(sighting.ID, jobID)
	q.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&client.calls))
}
