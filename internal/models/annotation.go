package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Annotation is a bounding box plus class on one asset. Proposals from
// a resolved detection job are persisted unattached; curation attaches
// them to an encounter, and commit carries the attachment over to the
// permanent graph.
type Annotation struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"guid"`
	AssetID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"asset_guid"`
	EncounterID *uuid.UUID     `gorm:"type:uuid;index" json:"encounter_guid,omitempty"`
	IAClass     string         `gorm:"type:text" json:"ia_class"`
	Bounds      datatypes.JSON `gorm:"type:json" json:"bounds,omitempty"`
	Confidence  float64        `json:"confidence"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}
