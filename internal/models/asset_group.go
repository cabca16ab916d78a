package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AssetGroupMajorType string

const (
	MajorTypeFilesystem AssetGroupMajorType = "filesystem"
	MajorTypeArchive    AssetGroupMajorType = "archive"
	MajorTypeService    AssetGroupMajorType = "service"
	MajorTypeTest       AssetGroupMajorType = "test"
	MajorTypeUnknown    AssetGroupMajorType = "unknown"
	MajorTypeError      AssetGroupMajorType = "error"
	MajorTypeReject     AssetGroupMajorType = "reject"
)

// AssetGroup is the durable unit of an uploaded media batch. It is
// backed by exactly one local git working copy, mirrored to a remote
// project asynchronously after creation.
type AssetGroup struct {
	ID          uuid.UUID           `gorm:"type:uuid;primaryKey" json:"guid"`
	MajorType   AssetGroupMajorType `gorm:"type:text;not null;default:'unknown'" json:"major_type"`
	Description string              `gorm:"type:text" json:"description"`
	OwnerID     uuid.UUID           `gorm:"type:uuid;index" json:"owner_guid"`
	SubmitterID uuid.UUID           `gorm:"type:uuid" json:"submitter_guid"`

	// CommitHash is empty until the first successful local commit.
	CommitHash string `gorm:"type:text" json:"commit_hash,omitempty"`

	Config datatypes.JSONMap `gorm:"type:json" json:"config,omitempty"`

	Assets    []*Asset              `gorm:"foreignKey:AssetGroupID;constraint:OnDelete:CASCADE" json:"assets,omitempty"`
	Sightings []*AssetGroupSighting `gorm:"foreignKey:AssetGroupID;constraint:OnDelete:CASCADE" json:"asset_group_sightings,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// Asset is a single media file within an asset group. Path is relative
// to the group's local working copy.
type Asset struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"guid"`
	AssetGroupID uuid.UUID `gorm:"type:uuid;index;not null" json:"asset_group_guid"`
	Path         string    `gorm:"type:text;not null" json:"path"`
	MimeType     string    `gorm:"type:text" json:"mime_type,omitempty"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}
