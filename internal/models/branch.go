package models

import (
	"time"

	"github.com/google/uuid"
)

// Branch - именованная ветка ассета. HeadVersionID меняется только через CAS.
type Branch struct {
	ID             uuid.UUID `db:"id" json:"id"`
	AssetID        string    `db:"asset_id" json:"asset_id"`
	Name           string    `db:"name" json:"name"`
	Protected      bool      `db:"is_protected" json:"protected"`
	IsDefault      bool      `db:"is_default" json:"is_default"`
	HeadVersionID  uuid.UUID `db:"head_version_id" json:"head_version_id"`
	BaseVersionID  uuid.UUID `db:"base_version_id" json:"base_version_id"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	Contributors   StringSet `db:"contributors" json:"contributors"`
	LastActivityAt time.Time `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// VersionTag - именованная метка версии (например, релиз).
type VersionTag struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AssetID   string    `db:"asset_id" json:"asset_id"`
	VersionID uuid.UUID `db:"version_id" json:"version_id"`
	Name      string    `db:"name" json:"name"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	IsRelease bool      `db:"is_release" json:"is_release"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
