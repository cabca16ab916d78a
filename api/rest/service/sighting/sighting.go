package sighting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/detection"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/internal/tasks"
	"github.com/houston-cloud/houston/pkg/db"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Sighting operates the asset group sighting state machine:
// curation -> detection -> un_reviewed -> commit, with failed
// reachable from detection and cleared by operator re-dispatch.
type Sighting interface {
	WithDatabase(*gorm.DB) Sighting
	WithQueue(*tasks.Queue) Sighting
	WithDispatcher(*detection.Dispatcher) Sighting
	WithBus(event.Bus) Sighting
	Get(uuid.UUID) (*models.AssetGroupSighting, error)
	Patch(uuid.UUID, *PatchRequest, PatchOptions) (*models.AssetGroupSighting, error)
	Detect(uuid.UUID, []string) (*models.AssetGroupSighting, error)
	SageDetected(uuid.UUID, uuid.UUID, *detection.ResultPayload) error
	Commit(uuid.UUID) (*models.Sighting, error)
	Delete(uuid.UUID) error
}

type sightingService struct {
	ctx        context.Context
	db         *gorm.DB
	queue      *tasks.Queue
	dispatcher *detection.Dispatcher
	bus        event.Bus
}

func Service(ctx context.Context) Sighting {
	return &sightingService{
		ctx:        ctx,
		db:         db.Connection(),
		queue:      tasks.Default(),
		dispatcher: detection.Default(),
		bus:        event.Default(),
	}
}

func (s *sightingService) WithDatabase(conn *gorm.DB) Sighting {
	s.db = conn
	return s
}

func (s *sightingService) WithQueue(q *tasks.Queue) Sighting {
	s.queue = q
	return s
}

func (s *sightingService) WithDispatcher(d *detection.Dispatcher) Sighting {
	s.dispatcher = d
	return s
}

func (s *sightingService) WithBus(b event.Bus) Sighting {
	s.bus = b
	return s
}

func (s *sightingService) load(id uuid.UUID) (*models.AssetGroupSighting, error) {
	sighting := &models.AssetGroupSighting{}

	err := s.db.WithContext(s.ctx).First(sighting, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return sighting, nil
}

// Get returns the sighting with its stage derived from the jobs map,
// never the raw stored column.
func (s *sightingService) Get(id uuid.UUID) (*models.AssetGroupSighting, error) {
	sighting, err := s.load(id)
	if err != nil {
		return nil, err
	}

	sighting.Stage = sighting.CurrentStage()
	return sighting, nil
}

// PatchRequest edits the declared sighting configuration during
// curation.
type PatchRequest struct {
	StartTime         *string                 `json:"startTime,omitempty"`
	LocationID        *string                 `json:"locationId,omitempty"`
	AddEncounters     []*EncounterDeclaration `json:"addEncounters,omitempty"`
	RemoveEncounters  []uuid.UUID             `json:"removeEncounters,omitempty"`
	AttachAnnotations []*AnnotationAttachment `json:"attachAnnotations,omitempty"`
}

// EncounterDeclaration declares one new encounter.
type EncounterDeclaration struct {
	AllowEmpty bool `json:"allowEmpty,omitempty"`
}

// AnnotationAttachment attaches a stored annotation to a declared
// encounter.
type AnnotationAttachment struct {
	EncounterID  uuid.UUID `json:"encounter_guid"`
	AnnotationID uuid.UUID `json:"annotation_guid"`
}

// PatchOptions carry the destructive-cascade confirmations from the
// request headers.
type PatchOptions struct {
	AllowDeleteCascadeSighting bool
}

// Patch applies config edits. Removing the last encounter deletes the
// whole sighting and therefore requires the cascade confirmation; the
// returned sighting is nil in that case.
func (s *sightingService) Patch(id uuid.UUID, req *PatchRequest, opts PatchOptions) (*models.AssetGroupSighting, error) {
	sighting, err := s.load(id)
	if err != nil {
		return nil, err
	}

	cfg, err := sighting.SightingConfig()
	if err != nil {
		return nil, fault.NewValidation("malformed sighting config: %v", err)
	}

	if req.StartTime != nil {
		if _, err = time.Parse(time.RFC3339, *req.StartTime); err != nil {
			return nil, fault.NewFieldValidation(
				"startTime", "startTime %v is not RFC3339", *req.StartTime)
		}
		cfg.StartTime = *req.StartTime
	}

	if req.LocationID != nil {
		cfg.LocationID = *req.LocationID
	}

	for _, decl := range req.AddEncounters {
		cfg.Encounters = append(cfg.Encounters, &models.EncounterConfig{
			GUID:       uuid.New(),
			AllowEmpty: decl.AllowEmpty,
		})
	}

	if len(req.RemoveEncounters) > 0 {
		if cfg.Encounters, err = s.removeEncounters(cfg.Encounters, req.RemoveEncounters); err != nil {
			return nil, err
		}

		if len(cfg.Encounters) == 0 {
			if !opts.AllowDeleteCascadeSighting {
				return nil, fault.NewForbidden(
					"removing the last encounter deletes the sighting; requires x-allow-delete-cascade-sighting")
			}

			log.Info("cascade deleting sighting with no encounters left", "sighting", id)
			return nil, s.Delete(id)
		}
	}

	for _, attachment := range req.AttachAnnotations {
		if err = s.attach(sighting, cfg, attachment); err != nil {
			return nil, err
		}
	}

	if err = sighting.SetSightingConfig(cfg); err != nil {
		return nil, err
	}
	if err = s.db.WithContext(s.ctx).Save(sighting).Error; err != nil {
		return nil, err
	}

	sighting.Stage = sighting.CurrentStage()
	return sighting, nil
}

func (s *sightingService) removeEncounters(encounters []*models.EncounterConfig, remove []uuid.UUID) ([]*models.EncounterConfig, error) {
	for _, id := range remove {
		found := false
		for _, enc := range encounters {
			if enc.GUID == id {
				found = true
				break
			}
		}
		if !found {
			return nil, fault.NewFieldValidation(
				"removeEncounters", "unknown encounter %v", id)
		}
	}

	kept := encounters[:0]
	for _, enc := range encounters {
		removed := false
		for _, id := range remove {
			if enc.GUID == id {
				removed = true
				break
			}
		}
		if !removed {
			kept = append(kept, enc)
		}
	}

	return kept, nil
}

func (s *sightingService) attach(sighting *models.AssetGroupSighting, cfg *models.SightingConfig, attachment *AnnotationAttachment) error {
	var target *models.EncounterConfig
	for _, enc := range cfg.Encounters {
		if enc.GUID == attachment.EncounterID {
			target = enc
			break
		}
	}
	if target == nil {
		return fault.NewFieldValidation(
			"encounter_guid", "unknown encounter %v", attachment.EncounterID)
	}

	// the annotation must exist and sit on an asset of this group
	var count int64
	err := s.db.WithContext(s.ctx).
		Model(&models.Annotation{}).
		Joins("JOIN assets ON assets.id = annotations.asset_id").
		Where("annotations.id = ? AND assets.asset_group_id = ?",
			attachment.AnnotationID, sighting.AssetGroupID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return fault.NewFieldValidation(
			"annotation_guid", "annotation %v does not resolve within asset group %v",
			attachment.AnnotationID, sighting.AssetGroupID)
	}

	for _, existing := range target.Annotations {
		if existing == attachment.AnnotationID {
			return nil
		}
	}
	target.Annotations = append(target.Annotations, attachment.AnnotationID)

	return nil
}

// Detect records one job per requested model and hands them to the
// task queue. Calling it on a failed sighting is the operator's
// re-dispatch: the failed marker is cleared first.
func (s *sightingService) Detect(id uuid.UUID, modelNames []string) (*models.AssetGroupSighting, error) {
	sighting, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if len(modelNames) == 0 {
		return nil, fault.NewFieldValidation(
			"speciesDetectionModel", "no detection model requested")
	}

	catalog := s.dispatcher.Catalog()
	for _, name := range modelNames {
		if name == detection.ModelNone {
			return nil, fault.NewFieldValidation(
				"speciesDetectionModel", "model %v cannot be dispatched", name)
		}
		if _, ok := catalog.Get(name); !ok {
			return nil, fault.NewFieldValidation(
				"speciesDetectionModel", "unknown detection model %v", name)
		}
	}

	if sighting.Stage == models.StageFailed {
		sighting.Stage = models.StageCuration
	}

	jobs := make([]uuid.UUID, 0, len(modelNames))
	for _, name := range modelNames {
		jobID, err := sighting.AddJob(name)
		if err != nil {
			return nil, fault.NewConflict("%v", err)
		}
		jobs = append(jobs, jobID)
	}

	sighting.Stage = models.ComputeStage(sighting.Stage, sighting.Jobs)
	if err = s.db.WithContext(s.ctx).Save(sighting).Error; err != nil {
		return nil, err
	}

	for _, jobID := range jobs {
		s.queue.SageDetection(id, jobID)
	}

	s.bus.Publish(event.Event{
		Type:         event.TypeStageChanged,
		AssetGroupID: sighting.AssetGroupID,
		SightingID:   id,
	})

	return sighting, nil
}

// SageDetected applies a completion callback from sage.
func (s *sightingService) SageDetected(sightingID, jobID uuid.UUID, payload *detection.ResultPayload) error {
	return s.dispatcher.WithDatabase(s.db).OnJobResult(s.ctx, sightingID, jobID, payload)
}

// Commit promotes the curated sighting into the permanent
// Sighting/Encounter graph and deletes the staging row. The whole
// promotion is one transaction; any validation failure aborts it.
func (s *sightingService) Commit(id uuid.UUID) (*models.Sighting, error) {
	sighting, err := s.load(id)
	if err != nil {
		return nil, err
	}

	switch stage := sighting.CurrentStage(); stage {
	case models.StageUnReviewed:
	case models.StageDetection:
		return nil, fault.NewConflict(
			"sighting %v still has active detection jobs", id)
	default:
		return nil, fault.NewConflict(
			"sighting %v is in stage %v, not %v", id, stage, models.StageUnReviewed)
	}

	cfg, err := sighting.SightingConfig()
	if err != nil {
		return nil, fault.NewValidation("malformed sighting config: %v", err)
	}

	if len(cfg.Encounters) == 0 {
		return nil, fault.NewFieldValidation(
			"encounters", "sighting %v declares no encounters", id)
	}

	startTime, err := time.Parse(time.RFC3339, cfg.StartTime)
	if err != nil {
		return nil, fault.NewFieldValidation(
			"startTime", "startTime %v is not RFC3339", cfg.StartTime)
	}

	for _, enc := range cfg.Encounters {
		if len(enc.Annotations) == 0 && !enc.AllowEmpty {
			return nil, fault.NewFieldValidation(
				"encounters", "encounter %v has no annotations and is not allowed to be empty", enc.GUID)
		}

		for _, annotationID := range enc.Annotations {
			var count int64
			err = s.db.WithContext(s.ctx).
				Model(&models.Annotation{}).
				Joins("JOIN assets ON assets.id = annotations.asset_id").
				Where("annotations.id = ? AND assets.asset_group_id = ?",
					annotationID, sighting.AssetGroupID).
				Count(&count).Error
			if err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, fault.NewFieldValidation(
					"annotations", "annotation %v does not resolve within asset group %v",
					annotationID, sighting.AssetGroupID)
			}
		}
	}

	now := time.Now().UTC()
	permanent := &models.Sighting{
		ID:         uuid.New(),
		LocationID: cfg.LocationID,
		StartTime:  startTime,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.db.WithContext(s.ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(permanent).Error; err != nil {
			return err
		}

		for _, enc := range cfg.Encounters {
			encounter := &models.Encounter{
				ID:         enc.GUID,
				SightingID: permanent.ID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(encounter).Error; err != nil {
				return err
			}

			if len(enc.Annotations) > 0 {
				if err := tx.Model(&models.Annotation{}).
					Where("id IN ?", enc.Annotations).
					Update("encounter_id", encounter.ID).Error; err != nil {
					return err
				}
			}
		}

		return tx.Delete(&models.AssetGroupSighting{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.Event{
		Type:         event.TypeSightingCommitted,
		AssetGroupID: sighting.AssetGroupID,
		SightingID:   permanent.ID,
	})

	log.Info("sighting committed",
		"asset_group_sighting", id, "sighting", permanent.ID)
	return permanent, nil
}

// Delete abandons the staging sighting.
func (s *sightingService) Delete(id uuid.UUID) error {
	sighting, err := s.load(id)
	if err != nil {
		return err
	}

	return s.db.WithContext(s.ctx).Delete(sighting).Error
}
