package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinimetrix/clinimetrix/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Assessment Repository ===========

type assessmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

const assessmentCols = `id, patient_id, scale_definition_id, administered_by_id, status,
	patient_age, patient_sex, started_at, completed_at, expires_at, created_at, updated_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.PatientID, &a.ScaleDefinitionID, &a.AdministeredByID, &a.Status,
		&a.PatientAge, &a.PatientSex, &a.StartedAt, &a.CompletedAt, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO assessment (id, patient_id, scale_definition_id, administered_by_id, status,
			patient_age, patient_sex, started_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.PatientID, a.ScaleDefinitionID, a.AdministeredByID, a.Status,
		a.PatientAge, a.PatientSex, a.StartedAt, a.ExpiresAt)
	return err
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return scanAssessment(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+assessmentCols+` FROM assessment WHERE id = $1`, id))
}

func (r *assessmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE assessment SET status = $2, completed_at = COALESCE($3, completed_at), updated_at = NOW()
		WHERE id = $1`, id, status, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s not found", id)
	}
	return nil
}

func (r *assessmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM assessment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+assessmentCols+` FROM assessment WHERE patient_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *assessmentRepoPG) ListStale(ctx context.Context, before time.Time, limit int) ([]*Assessment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+assessmentCols+` FROM assessment
		WHERE status IN ('created', 'in_progress') AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *assessmentRepoPG) UpsertAnswer(ctx context.Context, ans *ItemAnswer) error {
	if ans.ID == uuid.Nil {
		ans.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO assessment_item_answer (id, assessment_id, item_id, value, response_time_ms, was_skipped, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (assessment_id, item_id) DO UPDATE
		SET value = EXCLUDED.value, response_time_ms = EXCLUDED.response_time_ms,
			was_skipped = EXCLUDED.was_skipped, recorded_at = EXCLUDED.recorded_at`,
		ans.ID, ans.AssessmentID, ans.ItemID, ans.Value, ans.ResponseTimeMs, ans.WasSkipped, ans.RecordedAt)
	return err
}

func (r *assessmentRepoPG) GetAnswers(ctx context.Context, assessmentID uuid.UUID) ([]*ItemAnswer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, assessment_id, item_id, value, response_time_ms, was_skipped, recorded_at
		FROM assessment_item_answer WHERE assessment_id = $1 ORDER BY recorded_at`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ItemAnswer
	for rows.Next() {
		var a ItemAnswer
		if err := rows.Scan(&a.ID, &a.AssessmentID, &a.ItemID, &a.Value, &a.ResponseTimeMs, &a.WasSkipped, &a.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

const resultCols = `id, assessment_id, scale_id, scale_version, template_hash,
	total_score, severity_level, result, scored_at`

func scanResult(row pgx.Row) (*AssessmentResult, error) {
	var r AssessmentResult
	err := row.Scan(&r.ID, &r.AssessmentID, &r.ScaleID, &r.ScaleVersion, &r.TemplateHash,
		&r.TotalScore, &r.SeverityLevel, &r.Result, &r.ScoredAt)
	return &r, err
}

func (r *resultRepoPG) Create(ctx context.Context, res *AssessmentResult) error {
	res.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO assessment_result (id, assessment_id, scale_id, scale_version, template_hash,
			total_score, severity_level, result, scored_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.ID, res.AssessmentID, res.ScaleID, res.ScaleVersion, res.TemplateHash,
		res.TotalScore, res.SeverityLevel, res.Result, res.ScoredAt)
	return err
}

func (r *resultRepoPG) LatestByAssessment(ctx context.Context, assessmentID uuid.UUID) (*AssessmentResult, error) {
	return scanResult(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+resultCols+` FROM assessment_result
		WHERE assessment_id = $1 ORDER BY scored_at DESC LIMIT 1`, assessmentID))
}

func (r *resultRepoPG) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*AssessmentResult, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+resultCols+` FROM assessment_result
		WHERE assessment_id = $1 ORDER BY scored_at DESC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AssessmentResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// =========== Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

const alertCols = `id, assessment_id, result_id, patient_id, item_id, item_number,
	reason, score, acknowledged, acknowledged_by_id, acknowledged_at, created_at`

func scanAlert(row pgx.Row) (*ItemAlert, error) {
	var a ItemAlert
	err := row.Scan(&a.ID, &a.AssessmentID, &a.ResultID, &a.PatientID, &a.ItemID, &a.ItemNumber,
		&a.Reason, &a.Score, &a.Acknowledged, &a.AcknowledgedByID, &a.AcknowledgedAt, &a.CreatedAt)
	return &a, err
}

func (r *alertRepoPG) CreateBatch(ctx context.Context, alerts []*ItemAlert) error {
	for _, a := range alerts {
		a.ID = uuid.New()
		_, err := conn(ctx, r.pool).Exec(ctx, `
			INSERT INTO assessment_item_alert (id, assessment_id, result_id, patient_id, item_id, item_number, reason, score)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			a.ID, a.AssessmentID, a.ResultID, a.PatientID, a.ItemID, a.ItemNumber, a.Reason, a.Score)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, unacknowledgedOnly bool, limit, offset int) ([]*ItemAlert, int, error) {
	where := ` WHERE patient_id = $1`
	if unacknowledgedOnly {
		where += ` AND acknowledged = FALSE`
	}
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM assessment_item_alert`+where, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+alertCols+` FROM assessment_item_alert`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ItemAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *alertRepoPG) Acknowledge(ctx context.Context, id uuid.UUID, by uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE assessment_item_alert
		SET acknowledged = TRUE, acknowledged_by_id = $2, acknowledged_at = NOW()
		WHERE id = $1`, id, by)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}
