package catalog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScaleDefinition maps to the scale_definition table. Each row is one
// published version of a scale; Document holds the raw template JSON exactly
// as submitted, and ContentHash is its SHA-256, so results scored against
// this version can always be traced back to the precise document used.
type ScaleDefinition struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ScaleID      string          `db:"scale_id" json:"scale_id"`
	Abbreviation string          `db:"abbreviation" json:"abbreviation"`
	Name         string          `db:"name" json:"name"`
	Version      string          `db:"version" json:"version"`
	ContentHash  string          `db:"content_hash" json:"content_hash"`
	Document     json.RawMessage `db:"document" json:"document,omitempty"`
	Active       bool            `db:"active" json:"active"`
	PublishedAt  time.Time       `db:"published_at" json:"published_at"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}
