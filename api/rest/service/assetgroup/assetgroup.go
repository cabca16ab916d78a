package assetgroup

import (
	"context"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/detection"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/houston-cloud/houston/internal/gitstore"
	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/internal/tasks"
	"github.com/houston-cloud/houston/internal/tus"
	"github.com/houston-cloud/houston/pkg/db"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// AssetGroup covers the bulk-upload ingestion surface: creation from a
// staged tus transaction, lookup, and cascading deletion.
type AssetGroup interface {
	WithDatabase(*gorm.DB) AssetGroup
	WithQueue(*tasks.Queue) AssetGroup
	WithStaging(*tus.Store) AssetGroup
	WithStore(*gitstore.Store) AssetGroup
	WithDispatcher(*detection.Dispatcher) AssetGroup
	WithBus(event.Bus) AssetGroup
	Create(*CreateRequest) (*models.AssetGroup, error)
	Get(uuid.UUID) (*models.AssetGroup, error)
	List() ([]*models.AssetGroup, error)
	Delete(uuid.UUID) error
}

type assetGroupService struct {
	ctx        context.Context
	db         *gorm.DB
	queue      *tasks.Queue
	staging    *tus.Store
	store      *gitstore.Store
	dispatcher *detection.Dispatcher
	bus        event.Bus
}

var (
	defaultStaging *tus.Store
	defaultStore   *gitstore.Store
)

// SetDefaults installs the process-wide staging and git stores at
// startup.
func SetDefaults(staging *tus.Store, store *gitstore.Store) {
	defaultStaging = staging
	defaultStore = store
}

func Service(ctx context.Context) AssetGroup {
	return &assetGroupService{
		ctx:        ctx,
		db:         db.Connection(),
		queue:      tasks.Default(),
		staging:    defaultStaging,
		store:      defaultStore,
		dispatcher: detection.Default(),
		bus:        event.Default(),
	}
}

func (s *assetGroupService) WithDatabase(conn *gorm.DB) AssetGroup {
	s.db = conn
	return s
}

func (s *assetGroupService) WithQueue(q *tasks.Queue) AssetGroup {
	s.queue = q
	return s
}

func (s *assetGroupService) WithStaging(staging *tus.Store) AssetGroup {
	s.staging = staging
	return s
}

func (s *assetGroupService) WithStore(store *gitstore.Store) AssetGroup {
	s.store = store
	return s
}

func (s *assetGroupService) WithDispatcher(d *detection.Dispatcher) AssetGroup {
	s.dispatcher = d
	return s
}

func (s *assetGroupService) WithBus(b event.Bus) AssetGroup {
	s.bus = b
	return s
}

// CreateRequest is the bulk creation payload. The detection models
// apply to every declared sighting; "None" skips detection entirely.
type CreateRequest struct {
	Description     string                 `json:"description,omitempty"`
	UploadType      string                 `json:"uploadType,omitempty"`
	DetectionModels []string               `json:"speciesDetectionModel,omitempty"`
	TransactionID   string                 `json:"transactionId"`
	Sightings       []*SightingDeclaration `json:"sightings"`
	OwnerID         uuid.UUID              `json:"-"`
	SubmitterID     uuid.UUID              `json:"-"`
}

// SightingDeclaration declares one pending sighting at creation time.
type SightingDeclaration struct {
	StartTime       string                  `json:"startTime"`
	LocationID      string                  `json:"locationId"`
	AssetReferences []string                `json:"assetReferences,omitempty"`
	Encounters      []*EncounterDeclaration `json:"encounters"`
}

// EncounterDeclaration declares one encounter within a pending sighting.
type EncounterDeclaration struct {
	AllowEmpty bool `json:"allowEmpty,omitempty"`
}

func (s *assetGroupService) validate(req *CreateRequest) error {
	if req.TransactionID == "" {
		return fault.NewFieldValidation("transactionId", "transactionId is required")
	}
	if len(req.Sightings) == 0 {
		return fault.NewFieldValidation("sightings", "at least one sighting is required")
	}

	for i, decl := range req.Sightings {
		if len(decl.Encounters) == 0 {
			return fault.NewFieldValidation(
				"encounters", "sighting %v declares no encounters", i)
		}
		if decl.StartTime != "" {
			if _, err := time.Parse(time.RFC3339, decl.StartTime); err != nil {
				return fault.NewFieldValidation(
					"startTime", "startTime %v is not RFC3339", decl.StartTime)
			}
		}
	}

	catalog := s.dispatcher.Catalog()
	for _, name := range req.DetectionModels {
		if name == detection.ModelNone {
			continue
		}
		if _, ok := catalog.Get(name); !ok {
			return fault.NewFieldValidation(
				"speciesDetectionModel", "unknown detection model %v", name)
		}
	}

	return nil
}

// Create materializes the staged transaction into a fresh git working
// copy, records the group with its assets and pending sightings, and
// enqueues remote reconciliation plus any requested detection jobs.
func (s *assetGroupService) Create(req *CreateRequest) (*models.AssetGroup, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	staged, err := s.staging.ListFiles(req.TransactionID)
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, fault.NewFieldValidation(
			"transactionId", "transaction %v has no accepted files", req.TransactionID)
	}

	stagedSet := make(map[string]bool, len(staged))
	for _, name := range staged {
		stagedSet[name] = true
	}
	for _, decl := range req.Sightings {
		for _, ref := range decl.AssetReferences {
			if !stagedSet[filepath.Base(ref)] {
				return nil, fault.NewFieldValidation(
					"assetReferences", "file %v not found in transaction %v",
					ref, req.TransactionID)
			}
		}
	}

	group := &models.AssetGroup{
		ID:          uuid.New(),
		MajorType:   models.MajorTypeFilesystem,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		SubmitterID: req.SubmitterID,
	}
	if req.UploadType != "" {
		group.Config = map[string]interface{}{"uploadType": req.UploadType}
	}

	if _, err = s.store.EnsureRepository(group.ID); err != nil {
		return nil, err
	}

	var assets []*models.Asset
	err = s.staging.Materialize(
		req.TransactionID, staged, s.store.PathFor(group.ID),
		func(name string, size int64) {
			assets = append(assets, &models.Asset{
				ID:           uuid.New(),
				AssetGroupID: group.ID,
				Path:         name,
				MimeType:     mime.TypeByExtension(filepath.Ext(name)),
				Size:         size,
			})
		})
	if err != nil {
		if cleanupErr := s.store.DeleteLocal(group.ID); cleanupErr != nil {
			log.Warn("failed to clean up working copy after aborted creation",
				"asset_group", group.ID, "error", cleanupErr)
		}
		return nil, err
	}

	hash, err := s.store.CommitAll(group.ID, "initial commit of "+group.ID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to commit staged assets")
	}
	group.CommitHash = hash

	sightings := make([]*models.AssetGroupSighting, 0, len(req.Sightings))
	for _, decl := range req.Sightings {
		sighting := &models.AssetGroupSighting{
			ID:           uuid.New(),
			AssetGroupID: group.ID,
			Stage:        models.StageCuration,
		}

		cfg := &models.SightingConfig{
			StartTime:       decl.StartTime,
			LocationID:      decl.LocationID,
			AssetReferences: decl.AssetReferences,
			DetectionModels: req.DetectionModels,
		}
		for _, enc := range decl.Encounters {
			cfg.Encounters = append(cfg.Encounters, &models.EncounterConfig{
				GUID:       uuid.New(),
				AllowEmpty: enc.AllowEmpty,
			})
		}
		if err = sighting.SetSightingConfig(cfg); err != nil {
			return nil, err
		}

		sightings = append(sightings, sighting)
	}

	type dispatch struct {
		sightingID uuid.UUID
		jobID      uuid.UUID
	}
	var dispatches []dispatch

	for _, sighting := range sightings {
		for _, name := range req.DetectionModels {
			if name == detection.ModelNone {
				continue
			}
			jobID, err := sighting.AddJob(name)
			if err != nil {
				return nil, err
			}
			dispatches = append(dispatches, dispatch{sighting.ID, jobID})
		}
		sighting.Stage = models.ComputeStage(sighting.Stage, sighting.Jobs)
	}

	err = s.db.WithContext(s.ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		for _, asset := range assets {
			if err := tx.Create(asset).Error; err != nil {
				return err
			}
		}
		for _, sighting := range sightings {
			if err := tx.Create(sighting).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err = s.staging.Purge(req.TransactionID); err != nil {
		log.Warn("failed to purge staged transaction",
			"transaction", req.TransactionID, "error", err)
	}

	s.queue.EnsureRemote(group.ID, nil)
	s.queue.GitPush(group.ID)
	for _, d := range dispatches {
		s.queue.SageDetection(d.sightingID, d.jobID)
	}

	s.bus.Publish(event.Event{
		Type:         event.TypeAssetGroupCreated,
		AssetGroupID: group.ID,
	})

	group.Assets = assets
	group.Sightings = sightings

	log.Info("asset group created",
		"asset_group", group.ID,
		"assets", len(assets),
		"sightings", len(sightings),
		"detection_jobs", len(dispatches))
	return group, nil
}

func (s *assetGroupService) Get(id uuid.UUID) (*models.AssetGroup, error) {
	group := &models.AssetGroup{}

	err := s.db.WithContext(s.ctx).
		Preload("Assets").
		Preload("Sightings").
		First(group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	for _, sighting := range group.Sightings {
		sighting.Stage = sighting.CurrentStage()
	}
	return group, nil
}

func (s *assetGroupService) List() ([]*models.AssetGroup, error) {
	var groups []*models.AssetGroup
	err := s.db.WithContext(s.ctx).Find(&groups).Error
	return groups, err
}

// Delete removes the group with its assets and pending sightings, the
// local working copy, and (best effort) the remote project.
func (s *assetGroupService) Delete(id uuid.UUID) error {
	group := &models.AssetGroup{}
	err := s.db.WithContext(s.ctx).First(group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.ErrNotFound
	}
	if err != nil {
		return err
	}

	err = s.db.WithContext(s.ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.AssetGroupSighting{}, "asset_group_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Asset{}, "asset_group_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(group).Error
	})
	if err != nil {
		return err
	}

	if err = s.store.DeleteLocal(id); err != nil {
		log.Warn("failed to remove local working copy",
			"asset_group", id, "error", err)
	}
	s.queue.DeleteRemote(id, true)

	s.bus.Publish(event.Event{
		Type:         event.TypeAssetGroupDeleted,
		AssetGroupID: id,
	})

	return nil
}
