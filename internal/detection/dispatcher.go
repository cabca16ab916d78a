// Package detection orchestrates jobs against the sage detection
// service: payload construction, submission, and idempotent result
// handling feeding the sighting state machine.
package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/houston-cloud/houston/internal/fault"
	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/internal/sage"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ResultPayload is what sage posts back to the callback URL.
type ResultPayload struct {
	JobID      string          `json:"jobid"`
	Status     string          `json:"status"`
	JSONResult json.RawMessage `json:"json_result,omitempty"`
}

// SageResult is the decoded shape of a successful job's json_result.
type SageResult struct {
	Annotations []Proposal `json:"annotations"`
}

// Proposal is one candidate annotation produced by a detection job.
type Proposal struct {
	AssetGUID  uuid.UUID       `json:"asset_guid"`
	IAClass    string          `json:"class"`
	Confidence float64         `json:"score"`
	Bounds     json.RawMessage `json:"bounds,omitempty"`
}

// Succeeded reports whether the payload signals job success.
func (p *ResultPayload) Succeeded() bool {
	switch p.Status {
	case "", "completed", "done", "ok":
		return true
	default:
		return false
	}
}

// Dispatcher submits detection jobs and applies their results.
type Dispatcher struct {
	db        *gorm.DB
	client    sage.Client
	catalog   *Catalog
	publicURL string
	bus       event.Bus
}

// NewDispatcher wires a dispatcher; publicURL is the externally
// reachable base used to build callback URLs.
func NewDispatcher(db *gorm.DB, client sage.Client, catalog *Catalog, publicURL string, bus event.Bus) *Dispatcher {
	return &Dispatcher{
		db:        db,
		client:    client,
		catalog:   catalog,
		publicURL: publicURL,
		bus:       bus,
	}
}

var defaultDispatcher *Dispatcher

// SetDefault installs the process-wide dispatcher at startup.
func SetDefault(d *Dispatcher) {
	defaultDispatcher = d
}

// Default returns the process-wide dispatcher.
func Default() *Dispatcher {
	return defaultDispatcher
}

// Catalog exposes the model catalog for request validation.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// Database exposes the dispatcher's storage handle.
func (d *Dispatcher) Database() *gorm.DB {
	return d.db
}

// WithDatabase returns a copy of the dispatcher bound to conn (tests).
func (d *Dispatcher) WithDatabase(conn *gorm.DB) *Dispatcher {
	clone := *d
	clone.db = conn
	return &clone
}

// CallbackURL builds the URL sage invokes when the job resolves.
func (d *Dispatcher) CallbackURL(sightingID, jobID uuid.UUID) string {
	return fmt.Sprintf("%v/v1/asset_groups/sighting/%v/sage_detected/%v",
		d.publicURL, sightingID, jobID)
}

// SendDetection submits the already-recorded job to sage. It is safe
// under at-least-once delivery: a deleted sighting or an
// already-resolved job is a logged no-op, transient faults bubble up
// to the retrying task layer.
func (d *Dispatcher) SendDetection(ctx context.Context, sightingID, jobID uuid.UUID) error {
	sighting := &models.AssetGroupSighting{}
	err := d.db.WithContext(ctx).First(sighting, "id = ?", sightingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Info("detection dispatch for missing sighting, skipping",
			"sighting", sightingID, "job", jobID)
		return nil
	}
	if err != nil {
		return fault.NewTransient("load sighting", err)
	}

	job, ok := sighting.Jobs[jobID.String()]
	if !ok || !job.Active {
		log.Info("detection dispatch for resolved or unknown job, skipping",
			"sighting", sightingID, "job", jobID)
		return nil
	}

	model, ok := d.catalog.Get(job.Model)
	if !ok {
		return fault.NewFieldValidation(
			"speciesDetectionModel", "unknown detection model %v", job.Model)
	}

	images, err := d.imageList(ctx, sighting)
	if err != nil {
		return err
	}

	if _, err = d.client.DetectRequest(ctx, &sage.DetectionRequest{
		Endpoint:      model.Endpoint,
		JobID:         jobID.String(),
		CallbackURL:   d.CallbackURL(sightingID, jobID),
		ImageUUIDList: images,
		Input:         model.Input,
	}); err != nil {
		return err
	}

	d.bus.Publish(event.Event{
		Type:         event.TypeJobDispatched,
		AssetGroupID: sighting.AssetGroupID,
		SightingID:   sightingID,
		JobID:        jobID,
	})

	log.Debug("detection job sent to sage",
		"sighting", sightingID, "job", jobID, "model", job.Model)
	return nil
}

// imageList resolves the sighting's asset references to asset guids;
// with no references declared, every asset in the group is included.
func (d *Dispatcher) imageList(ctx context.Context, sighting *models.AssetGroupSighting) ([]string, error) {
	cfg, err := sighting.SightingConfig()
	if err != nil {
		return nil, fault.NewValidation("malformed sighting config: %v", err)
	}

	q := d.db.WithContext(ctx).Where("asset_group_id = ?", sighting.AssetGroupID)
	if len(cfg.AssetReferences) > 0 {
		q = q.Where("path IN ?", cfg.AssetReferences)
	}

	var assets []*models.Asset
	if err = q.Find(&assets).Error; err != nil {
		return nil, fault.NewTransient("load assets", err)
	}

	images := make([]string, len(assets))
	for i, asset := range assets {
		images[i] = asset.ID.String()
	}
	return images, nil
}

// OnJobResult applies a completion callback. Late callbacks against a
// committed/deleted sighting and duplicate deliveries for the same job
// are logged no-ops; the stage is re-derived from a full scan of the
// jobs map regardless of arrival order.
func (d *Dispatcher) OnJobResult(ctx context.Context, sightingID, jobID uuid.UUID, payload *ResultPayload) error {
	var (
		resolvedStage models.SightingStage
		assetGroupID  uuid.UUID
		applied       bool
	)

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sighting := &models.AssetGroupSighting{}
		err := tx.First(sighting, "id = ?", sightingID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// the sighting no longer existing is the definitive
			// terminal signal for late callbacks
			log.Info("job result for missing sighting, ignoring",
				"sighting", sightingID, "job", jobID)
			return nil
		}
		if err != nil {
			return fault.NewTransient("load sighting", err)
		}

		jobErr := ""
		if !payload.Succeeded() {
			jobErr = payload.Status
		}

		if !sighting.ResolveJob(jobID, payload.JSONResult, jobErr) {
			log.Info("duplicate or unknown job result, ignoring",
				"sighting", sightingID, "job", jobID)
			return nil
		}

		if jobErr == "" {
			if err = d.storeProposals(tx, sighting, payload.JSONResult); err != nil {
				return err
			}
		} else {
			sighting.Stage = models.StageFailed
		}

		sighting.Stage = models.ComputeStage(sighting.Stage, sighting.Jobs)
		if err = tx.Save(sighting).Error; err != nil {
			return fault.NewTransient("save sighting", err)
		}

		applied = true
		resolvedStage = sighting.Stage
		assetGroupID = sighting.AssetGroupID
		return nil
	})
	if err != nil {
		return err
	}

	if applied {
		d.bus.Publish(event.Event{
			Type:         event.TypeJobResolved,
			AssetGroupID: assetGroupID,
			SightingID:   sightingID,
			JobID:        jobID,
		})
		d.bus.Publish(event.Event{
			Type:         event.TypeStageChanged,
			AssetGroupID: assetGroupID,
			SightingID:   sightingID,
			Payload:      json.RawMessage(fmt.Sprintf("{%q:%q}", "stage", resolvedStage)),
		})
	}

	return nil
}

// storeProposals persists annotation proposals from a successful job
// as unattached annotation rows; curation attaches them later.
func (d *Dispatcher) storeProposals(tx *gorm.DB, sighting *models.AssetGroupSighting, result json.RawMessage) error {
	if len(result) == 0 {
		return nil
	}

	var decoded SageResult
	if err := json.Unmarshal(result, &decoded); err != nil {
		log.Warn("undecodable job result, keeping raw payload only",
			"sighting", sighting.ID, "error", err)
		return nil
	}

	for _, proposal := range decoded.Annotations {
		var count int64
		if err := tx.Model(&models.Asset{}).
			Where("id = ? AND asset_group_id = ?", proposal.AssetGUID, sighting.AssetGroupID).
			Count(&count).Error; err != nil {
			return fault.NewTransient("verify proposal asset", err)
		}
		if count == 0 {
			log.Warn("proposal references asset outside group, dropping",
				"sighting", sighting.ID, "asset", proposal.AssetGUID)
			continue
		}

		annotation := &models.Annotation{
			ID:         uuid.New(),
			AssetID:    proposal.AssetGUID,
			IAClass:    proposal.IAClass,
			Confidence: proposal.Confidence,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		if len(proposal.Bounds) > 0 {
			annotation.Bounds = []byte(proposal.Bounds)
		}
		if err := tx.Create(annotation).Error; err != nil {
			return fault.NewTransient("store proposal", err)
		}
	}

	return nil
}
