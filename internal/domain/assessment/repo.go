package assessment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AssessmentRepository interface {
	Create(ctx context.Context, a *Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Assessment, error)
	UpsertAnswer(ctx context.Context, ans *ItemAnswer) error
	GetAnswers(ctx context.Context, assessmentID uuid.UUID) ([]*ItemAnswer, error)
}

type ResultRepository interface {
	Create(ctx context.Context, r *AssessmentResult) error
	LatestByAssessment(ctx context.Context, assessmentID uuid.UUID) (*AssessmentResult, error)
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*AssessmentResult, error)
}

type AlertRepository interface {
	CreateBatch(ctx context.Context, alerts []*ItemAlert) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, unacknowledgedOnly bool, limit, offset int) ([]*ItemAlert, int, error)
	Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID) error
}
