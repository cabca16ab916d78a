package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SightingStage string

const (
	StageCuration   SightingStage = "curation"
	StageDetection  SightingStage = "detection"
	StageUnReviewed SightingStage = "un_reviewed"
	StageFailed     SightingStage = "failed"
)

// DetectionJob is one dispatched detection request, embedded in the
// owning sighting's jobs map. A job moves active -> resolved exactly
// once; Result and Error are only populated after resolution.
type DetectionJob struct {
	Model  string          `json:"model"`
	Active bool            `json:"active"`
	Start  time.Time       `json:"start"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// JobMap maps job guid -> detection job record. It is serialized as a
// JSON column on the sighting row rather than a child table; updates
// are structurally additive and idempotent.
type JobMap map[string]*DetectionJob

func (m JobMap) Value() (driver.Value, error) {
	if m == nil {
		m = JobMap{}
	}
	buf, err := json.Marshal(m)
	return string(buf), err
}

func (m *JobMap) Scan(value interface{}) error {
	if value == nil {
		*m = JobMap{}
		return nil
	}

	var buf []byte
	switch v := value.(type) {
	case []byte:
		buf = v
	case string:
		buf = []byte(v)
	default:
		return fmt.Errorf("unsupported jobs column type %T", value)
	}

	if len(buf) == 0 {
		*m = JobMap{}
		return nil
	}

	return json.Unmarshal(buf, m)
}

func (JobMap) GormDataType() string {
	return "json"
}

// AssetGroupSighting is a staging unit for one not-yet-committed
// sighting. It is deleted on successful commit, replaced by a
// permanent Sighting.
type AssetGroupSighting struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"guid"`
	AssetGroupID uuid.UUID      `gorm:"type:uuid;index;not null" json:"asset_group_guid"`
	Stage        SightingStage  `gorm:"type:text;not null;default:'curation'" json:"stage"`
	Config       datatypes.JSON `gorm:"type:json" json:"config,omitempty"`
	Jobs         JobMap         `gorm:"type:json" json:"jobs,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

// SightingConfig is the declared shape of a pending sighting: where
// and when it happened, which uploaded assets belong to it, which
// detection models to run, and the encounters to promote on commit.
type SightingConfig struct {
	StartTime       string             `json:"startTime"`
	LocationID      string             `json:"locationId"`
	AssetReferences []string           `json:"assetReferences,omitempty"`
	DetectionModels []string           `json:"speciesDetectionModel,omitempty"`
	Encounters      []*EncounterConfig `json:"encounters"`
}

// EncounterConfig declares one encounter within a pending sighting.
// AllowEmpty permits committing the encounter without any attached
// annotations.
type EncounterConfig struct {
	GUID        uuid.UUID   `json:"guid"`
	Annotations []uuid.UUID `json:"annotations,omitempty"`
	AllowEmpty  bool        `json:"allowEmpty,omitempty"`
}

// SightingConfig decodes the embedded config column.
func (s *AssetGroupSighting) SightingConfig() (*SightingConfig, error) {
	cfg := &SightingConfig{}
	if len(s.Config) == 0 {
		return cfg, nil
	}
	return cfg, json.Unmarshal(s.Config, cfg)
}

// SetSightingConfig re-encodes the config column.
func (s *AssetGroupSighting) SetSightingConfig(cfg *SightingConfig) error {
	buf, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.Config = datatypes.JSON(buf)
	return nil
}

// CurrentStage derives the effective stage from the jobs map instead
// of trusting the stored column for the detection/un_reviewed split.
// The stored column only decides curation vs failed when no job
// evidence says otherwise.
func (s *AssetGroupSighting) CurrentStage() SightingStage {
	return ComputeStage(s.Stage, s.Jobs)
}

// ComputeStage is a full re-scan of the jobs map: no counter is
// trusted in isolation because jobs can be added concurrently with
// callbacks resolving others.
func ComputeStage(stored SightingStage, jobs JobMap) SightingStage {
	if stored == StageFailed {
		return StageFailed
	}

	active := false
	for _, job := range jobs {
		if job.Active {
			active = true
			break
		}
	}

	switch {
	case active:
		return StageDetection
	case len(jobs) > 0:
		return StageUnReviewed
	default:
		return StageCuration
	}
}

// ActiveJob returns the outstanding job for the given model, if any.
// At most one job per model may be active at a time.
func (s *AssetGroupSighting) ActiveJob(model string) (string, *DetectionJob) {
	for id, job := range s.Jobs {
		if job.Active && job.Model == model {
			return id, job
		}
	}
	return "", nil
}

// AddJob records a newly dispatched job and returns its guid. It
// fails if a job for the same model is still outstanding.
func (s *AssetGroupSighting) AddJob(model string) (uuid.UUID, error) {
	if id, _ := s.ActiveJob(model); id != "" {
		return uuid.Nil, fmt.Errorf("model %v already has outstanding job %v", model, id)
	}

	if s.Jobs == nil {
		s.Jobs = JobMap{}
	}

	id := uuid.New()
	s.Jobs[id.String()] = &DetectionJob{
		Model:  model,
		Active: true,
		Start:  time.Now().UTC(),
	}

	return id, nil
}

// ResolveJob marks a job resolved and stores its result. The second
// delivery for the same job guid is a no-op; resolved is false when
// nothing changed.
func (s *AssetGroupSighting) ResolveJob(jobID uuid.UUID, result json.RawMessage, jobErr string) (resolved bool) {
	job, ok := s.Jobs[jobID.String()]
	if !ok || !job.Active {
		return false
	}

	job.Active = false
	job.Result = result
	job.Error = jobErr
	return true
}
