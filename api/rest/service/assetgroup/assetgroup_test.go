package assetgroup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
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
	"github.com/houston-cloud/houston/internal/tasks"
	"github.com/houston-cloud/houston/internal/tus"
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

type fakeSage struct {
	calls int64
}

func (f *fakeSage) DetectRequest(context.Context, *sage.DetectionRequest) (*sage.Response, error) {
	atomic.AddInt64(&f.calls, 1)
	return &sage.Response{Success: true}, nil
}

type fakeBackend struct{}

func (fakeBackend) GetProject(context.Context, string) (*gitstore.Project, error) {
	return &gitstore.Project{HTTPURLToRepo: "http://git.test/repo.git"}, nil
}

func (fakeBackend) EnsureProject(context.Context, string, string, string, []string) (*gitstore.Project, error) {
	return &gitstore.Project{HTTPURLToRepo: "http://git.test/repo.git"}, nil
}

func (fakeBackend) DeleteProjectByName(context.Context, string) error {
	return nil
}

type fixture struct {
	db      *gorm.DB
	service AssetGroup
	queue   *tasks.Queue
	client  *fakeSage
	staging *tus.Store
	tusRoot string
	store   *gitstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := openTestDB(t)
	client := &fakeSage{}
	dispatcher := detection.NewDispatcher(
		db, client,
		detection.NewCatalog(
			detection.Model{Name: "seals_v2", Endpoint: "/api/engine/detect/seals_v2/"},
		),
		"http://houston.test", event.New())

	tusRoot := t.TempDir()
	staging := tus.NewStore(tusRoot, nil)
	store := gitstore.NewStore(t.TempDir(), fakeBackend{}, "")

	queue := tasks.New(tasks.Config{
		PoolSize:        2,
		DB:              db,
		Store:           store,
		Dispatcher:      dispatcher,
		RepoPolicy:      retry.Policy{Attempts: 1, Delay: time.Millisecond},
		DetectionPolicy: retry.Policy{Attempts: 1, Delay: time.Millisecond},
	})

	svc := &assetGroupService{
		ctx:        context.Background(),
		db:         db,
		queue:      queue,
		staging:    staging,
		store:      store,
		dispatcher: dispatcher,
		bus:        event.New(),
	}

	return &fixture{
		db:      db,
		service: svc,
		queue:   queue,
		client:  client,
		staging: staging,
		tusRoot: tusRoot,
		store:   store,
	}
}

func (f *fixture) stageTransaction(t *testing.T, files ...string) string {
	t.Helper()
	transactionID := uuid.NewString()
	dir := filepath.Join(f.tusRoot, transactionID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("media"), 0o644))
	}
	return transactionID
}

func validRequest(transactionID string) *CreateRequest {
	return &CreateRequest{
		Description:   "maui dolphins",
		TransactionID: transactionID,
		Sightings: []*SightingDeclaration{
			{
				StartTime:  "2021-06-15T08:30:00Z",
				LocationID: "reef-7",
				Encounters: []*EncounterDeclaration{{}},
			},
		},
	}
}

func TestCreateMaterializesAssets(t *testing.T) {
	f := newFixture(t)
	transactionID := f.stageTransaction(t, "b.jpg", "a.jpg")

	group, err := f.service.Create(validRequest(transactionID))
	require.NoError(t, err)
	f.queue.Wait()

	require.NotEmpty(t, group.CommitHash)
	require.Len(t, group.Assets, 2)
	require.Equal(t, "a.jpg", group.Assets[0].Path)
	require.Equal(t, "image/jpeg", group.Assets[0].MimeType)
	require.Len(t, group.Sightings, 1)
	require.Equal(t, models.StageCuration, group.Sightings[0].Stage)

	// files are in the working copy, staging is purged
	_, err = os.Stat(filepath.Join(f.store.PathFor(group.ID), "a.jpg"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.tusRoot, transactionID))
	require.True(t, os.IsNotExist(err))
}

func TestCreateDispatchesDetection(t *testing.T) {
	f := newFixture(t)
	req := validRequest(f.stageTransaction(t, "a.jpg"))
	req.DetectionModels = []string{"seals_v2"}

	group, err := f.service.Create(req)
	require.NoError(t, err)
	f.queue.Wait()

	require.Equal(t, models.StageDetection, group.Sightings[0].Stage)
	require.Equal(t, int64(1), atomic.LoadInt64(&f.client.calls))
}

func TestCreateNoneModelSkipsDetection(t *testing.T) {
	f := newFixture(t)
	req := validRequest(f.stageTransaction(t, "a.jpg"))
	req.DetectionModels = []string{detection.ModelNone}

	group, err := f.service.Create(req)
	require.NoError(t, err)
	f.queue.Wait()

	require.Equal(t, models.StageCuration, group.Sightings[0].Stage)
	require.Zero(t, atomic.LoadInt64(&f.client.calls))
}

func TestCreateUnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Create(validRequest("no-such-transaction"))
	v, ok := fault.IsValidation(err)
	require.True(t, ok)
	require.Contains(t, v.Fields, "transactionId")
}

func TestCreateUnknownModel(t *testing.T) {
	f := newFixture(t)
	req := validRequest(f.stageTransaction(t, "a.jpg"))
	req.DetectionModels = []string{"krakens_v9"}

	_, err := f.service.Create(req)
	v, ok := fault.IsValidation(err)
	require.True(t, ok)
	require.Contains(t, v.Fields, "speciesDetectionModel")
}

func TestCreateUnknownAssetReference(t *testing.T) {
	f := newFixture(t)
	req := validRequest(f.stageTransaction(t, "a.jpg"))
	req.Sightings[0].AssetReferences = []string{"missing.jpg"}

	_, err := f.service.Create(req)
	v, ok := fault.IsValidation(err)
	require.True(t, ok)
	require.Contains(t, v.Fields, "assetReferences")
}

func TestCreateRequiresSightings(t *testing.T) {
	f := newFixture(t)
	req := validRequest(f.stageTransaction(t, "a.jpg"))
	req.Sightings = nil

	_, err := f.service.Create(req)
	v, ok := fault.IsValidation(err)
	require.True(t, ok)
	require.Contains(t, v.Fields, "sightings")
}

func TestCreateRequiresEncounters(t *testing.T) {
	f := newFixture(t)
	req := validRequest(f.stageTransaction(t, "a.jpg"))
	req.Sightings[0].Encounters = nil

	_, err := f.service.Create(req)
	v, ok := fault.IsValidation(err)
	require.True(t, ok)
	require.Contains(t, v.Fields, "encounters")
}

func TestGetPreloadsChildren(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.Create(validRequest(f.stageTransaction(t, "a.jpg")))
	require.NoError(t, err)
	f.queue.Wait()

	got, err := f.service.Get(created.ID)
	require.NoError(t, err)
	require.Len(t, got.Assets, 1)
	require.Len(t, got.Sightings, 1)

	_, err = f.service.Get(uuid.New())
	require.True(t, fault.IsNotFound(err))
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.Create(validRequest(f.stageTransaction(t, "a.jpg")))
	require.NoError(t, err)
	f.queue.Wait()

	require.NoError(t, f.service.Delete(created.ID))
	f.queue.Wait()

	_, err = f.service.Get(created.ID)
	require.True(t, fault.IsNotFound(err))

	var count int64
	require.NoError(t, f.db.Model(&models.Asset{}).
		Where("asset_group_id = ?", created.ID).Count(&count).Error)
	require.Zero(t, count)
	require.NoError(t, f.db.Model(&models.AssetGroupSighting{}).
		Where("asset_group_id = ?", created.ID).Count(&count).Error)
	require.Zero(t, count)

	_, err = os.Stat(f.store.PathFor(created.ID))
	require.True(t, os.IsNotExist(err))

	require.True(t, fault.IsNotFound(f.service.Delete(created.ID)))
}
