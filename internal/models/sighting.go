package models

import (
	"time"

	"github.com/google/uuid"
)

// Sighting is the permanent record produced by committing a curated
// asset group sighting.
type Sighting struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"guid"`
	LocationID string       `gorm:"type:text" json:"location_id"`
	StartTime  time.Time    `gorm:"not null" json:"start_time"`
	Encounters []*Encounter `gorm:"foreignKey:SightingID;constraint:OnDelete:CASCADE" json:"encounters,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

// Encounter is one animal observation within a sighting.
type Encounter struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"guid"`
	SightingID  uuid.UUID     `gorm:"type:uuid;index;not null" json:"sighting_guid"`
	Annotations []*Annotation `gorm:"foreignKey:EncounterID" json:"annotations,omitempty"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null" json:"updated_at"`
}
