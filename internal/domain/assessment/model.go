package assessment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Assessment maps to the assessment table. One row is one administration of a
// scale to a patient; Status follows the response-set lifecycle
// (created, in_progress, completed, abandoned, expired).
type Assessment struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	ScaleDefinitionID uuid.UUID  `db:"scale_definition_id" json:"scale_definition_id"`
	AdministeredByID  *uuid.UUID `db:"administered_by_id" json:"administered_by_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	PatientAge        *int       `db:"patient_age" json:"patient_age,omitempty"`
	PatientSex        *string    `db:"patient_sex" json:"patient_sex,omitempty"`
	StartedAt         time.Time  `db:"started_at" json:"started_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ExpiresAt         *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// ItemAnswer maps to the assessment_item_answer table. Answers are upserted
// by (assessment_id, item_id); re-answering an item replaces the earlier row.
type ItemAnswer struct {
	ID             uuid.UUID `db:"id" json:"id"`
	AssessmentID   uuid.UUID `db:"assessment_id" json:"assessment_id"`
	ItemID         string    `db:"item_id" json:"item_id"`
	Value          string    `db:"value" json:"value"`
	ResponseTimeMs int       `db:"response_time_ms" json:"response_time_ms"`
	WasSkipped     bool      `db:"was_skipped" json:"was_skipped"`
	RecordedAt     time.Time `db:"recorded_at" json:"recorded_at"`
}

// AssessmentResult maps to the assessment_result table. Results are
// append-only: completing an assessment writes one, rescoring writes another,
// and the newest row is the current result. Result holds the full scoring
// output as JSON; the scalar columns are denormalized for querying.
type AssessmentResult struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AssessmentID  uuid.UUID       `db:"assessment_id" json:"assessment_id"`
	ScaleID       string          `db:"scale_id" json:"scale_id"`
	ScaleVersion  string          `db:"scale_version" json:"scale_version"`
	TemplateHash  string          `db:"template_hash" json:"template_hash"`
	TotalScore    *float64        `db:"total_score" json:"total_score,omitempty"`
	SeverityLevel *string         `db:"severity_level" json:"severity_level,omitempty"`
	Result        json.RawMessage `db:"result" json:"result"`
	ScoredAt      time.Time       `db:"scored_at" json:"scored_at"`
}

// ItemAlert maps to the assessment_item_alert table. Alerts are written when
// a result is stored and remain until acknowledged by a clinician.
type ItemAlert struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AssessmentID     uuid.UUID  `db:"assessment_id" json:"assessment_id"`
	ResultID         uuid.UUID  `db:"result_id" json:"result_id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	ItemID           string     `db:"item_id" json:"item_id"`
	ItemNumber       int        `db:"item_number" json:"item_number"`
	Reason           string     `db:"reason" json:"reason"`
	Score            float64    `db:"score" json:"score"`
	Acknowledged     bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedByID *uuid.UUID `db:"acknowledged_by_id" json:"acknowledged_by_id,omitempty"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
