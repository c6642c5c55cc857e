package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinimetrix/clinimetrix/internal/clinimetrix"
	"github.com/clinimetrix/clinimetrix/internal/domain/catalog"
	"github.com/clinimetrix/clinimetrix/internal/platform/db"
)

// TemplateSource resolves scale definitions and their parsed templates. The
// catalog service satisfies this.
type TemplateSource interface {
	Get(ctx context.Context, id uuid.UUID) (*catalog.ScaleDefinition, error)
	Latest(ctx context.Context, scaleID string) (*catalog.ScaleDefinition, error)
	Template(ctx context.Context, id uuid.UUID) (*clinimetrix.ScaleTemplate, error)
}

type Service struct {
	assessments AssessmentRepository
	results     ResultRepository
	alerts      AlertRepository
	templates   TemplateSource
	engine      *clinimetrix.Engine
	ttl         time.Duration
}

// NewService wires the assessment workflow. ttl bounds how long an unfinished
// assessment stays answerable; zero disables expiry.
func NewService(
	assessments AssessmentRepository,
	results ResultRepository,
	alerts AlertRepository,
	templates TemplateSource,
	engine *clinimetrix.Engine,
	ttl time.Duration,
) *Service {
	return &Service{
		assessments: assessments,
		results:     results,
		alerts:      alerts,
		templates:   templates,
		engine:      engine,
		ttl:         ttl,
	}
}

// StartRequest begins an assessment. Exactly one of ScaleDefinitionID or
// ScaleID must be set; ScaleID resolves to the latest active version.
type StartRequest struct {
	PatientID         uuid.UUID  `json:"patient_id"`
	ScaleDefinitionID *uuid.UUID `json:"scale_definition_id,omitempty"`
	ScaleID           string     `json:"scale_id,omitempty"`
	AdministeredByID  *uuid.UUID `json:"administered_by_id,omitempty"`
	PatientAge        *int       `json:"patient_age,omitempty"`
	PatientSex        *string    `json:"patient_sex,omitempty"`
}

func (s *Service) Start(ctx context.Context, req StartRequest) (*Assessment, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}

	var def *catalog.ScaleDefinition
	var err error
	switch {
	case req.ScaleDefinitionID != nil:
		def, err = s.templates.Get(ctx, *req.ScaleDefinitionID)
	case req.ScaleID != "":
		def, err = s.templates.Latest(ctx, req.ScaleID)
	default:
		return nil, fmt.Errorf("scale_definition_id or scale_id is required")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve scale: %w", err)
	}
	if !def.Active {
		return nil, fmt.Errorf("scale %s version %s is retired", def.ScaleID, def.Version)
	}

	now := time.Now().UTC()
	a := &Assessment{
		PatientID:         req.PatientID,
		ScaleDefinitionID: def.ID,
		AdministeredByID:  req.AdministeredByID,
		Status:            string(clinimetrix.StatusCreated),
		PatientAge:        req.PatientAge,
		PatientSex:        req.PatientSex,
		StartedAt:         now,
	}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		a.ExpiresAt = &exp
	}
	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RecordAnswer stores or replaces one item's answer. The first answer moves
// the assessment from created to in_progress.
func (s *Service) RecordAnswer(ctx context.Context, assessmentID uuid.UUID, ans *ItemAnswer) error {
	a, rs, _, err := s.load(ctx, assessmentID)
	if err != nil {
		return err
	}

	tmpl, err := s.templates.Template(ctx, a.ScaleDefinitionID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}
	if tmpl.ItemByID(ans.ItemID) == nil {
		return fmt.Errorf("unknown item %q for scale %s", ans.ItemID, tmpl.ID)
	}

	if err := rs.Record(ans.ItemID, clinimetrix.ItemResponse{
		Value:          ans.Value,
		ResponseTimeMs: ans.ResponseTimeMs,
		WasSkipped:     ans.WasSkipped,
	}); err != nil {
		return err
	}

	ans.AssessmentID = assessmentID
	ans.RecordedAt = time.Now().UTC()
	if err := s.assessments.UpsertAnswer(ctx, ans); err != nil {
		return err
	}
	if a.Status != string(rs.Status) {
		return s.assessments.UpdateStatus(ctx, assessmentID, string(rs.Status), nil)
	}
	return nil
}

// Complete freezes the assessment, scores it, and stores the result and any
// item alerts. The state transition, the result, and the alerts are written
// atomically when a request-scoped connection is available.
func (s *Service) Complete(ctx context.Context, assessmentID uuid.UUID) (*AssessmentResult, error) {
	a, rs, _, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := rs.Complete(now); err != nil {
		return nil, err
	}

	result, err := s.score(ctx, a, rs)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.assessments.UpdateStatus(ctx, assessmentID, string(clinimetrix.StatusCompleted), &now); err != nil {
			return err
		}
		return s.storeResult(ctx, a, result)
	})
	if err != nil {
		return nil, err
	}
	return s.results.LatestByAssessment(ctx, assessmentID)
}

// Abandon marks an unfinished assessment as given up.
func (s *Service) Abandon(ctx context.Context, assessmentID uuid.UUID) error {
	return s.transition(ctx, assessmentID, func(rs *clinimetrix.ResponseSet) error { return rs.Abandon() })
}

// Expire marks an unfinished assessment as timed out.
func (s *Service) Expire(ctx context.Context, assessmentID uuid.UUID) error {
	return s.transition(ctx, assessmentID, func(rs *clinimetrix.ResponseSet) error { return rs.Expire() })
}

func (s *Service) transition(ctx context.Context, assessmentID uuid.UUID, fn func(*clinimetrix.ResponseSet) error) error {
	_, rs, _, err := s.load(ctx, assessmentID)
	if err != nil {
		return err
	}
	if err := fn(rs); err != nil {
		return err
	}
	return s.assessments.UpdateStatus(ctx, assessmentID, string(rs.Status), nil)
}

// Rescore re-runs scoring on a completed assessment, for example after an
// algorithm fix, and appends a new result. The stored answers and timestamps
// are replayed unchanged, so a rescore against the same template version
// reproduces the original numbers.
func (s *Service) Rescore(ctx context.Context, assessmentID uuid.UUID) (*AssessmentResult, error) {
	a, rs, _, err := s.load(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if rs.Status != clinimetrix.StatusCompleted {
		return nil, &clinimetrix.InvalidStateError{Op: "rescore", Status: rs.Status}
	}

	result, err := s.score(ctx, a, rs)
	if err != nil {
		return nil, err
	}
	if err := s.inTx(ctx, func(ctx context.Context) error {
		return s.storeResult(ctx, a, result)
	}); err != nil {
		return nil, err
	}
	return s.results.LatestByAssessment(ctx, assessmentID)
}

// ExpireStale sweeps past-due unfinished assessments into the expired state.
// It returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	stale, err := s.assessments.ListStale(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, a := range stale {
		if err := s.assessments.UpdateStatus(ctx, a.ID, string(clinimetrix.StatusExpired), nil); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return s.assessments.GetByID(ctx, id)
}

func (s *Service) Answers(ctx context.Context, assessmentID uuid.UUID) ([]*ItemAnswer, error) {
	return s.assessments.GetAnswers(ctx, assessmentID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) Results(ctx context.Context, assessmentID uuid.UUID) ([]*AssessmentResult, error) {
	return s.results.ListByAssessment(ctx, assessmentID)
}

func (s *Service) LatestResult(ctx context.Context, assessmentID uuid.UUID) (*AssessmentResult, error) {
	return s.results.LatestByAssessment(ctx, assessmentID)
}

func (s *Service) AlertsByPatient(ctx context.Context, patientID uuid.UUID, unacknowledgedOnly bool, limit, offset int) ([]*ItemAlert, int, error) {
	return s.alerts.ListByPatient(ctx, patientID, unacknowledgedOnly, limit, offset)
}

func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, by uuid.UUID) error {
	if by == uuid.Nil {
		return fmt.Errorf("acknowledged_by is required")
	}
	return s.alerts.Acknowledge(ctx, alertID, by)
}

// load fetches an assessment, its answers, and reconstructs the in-memory
// response set the engine operates on.
func (s *Service) load(ctx context.Context, assessmentID uuid.UUID) (*Assessment, *clinimetrix.ResponseSet, []*ItemAnswer, error) {
	a, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("assessment not found: %w", err)
	}
	answers, err := s.assessments.GetAnswers(ctx, assessmentID)
	if err != nil {
		return nil, nil, nil, err
	}

	rs := &clinimetrix.ResponseSet{
		Status:    clinimetrix.ResponseSetStatus(a.Status),
		StartedAt: a.StartedAt,
		Items:     make(map[string]clinimetrix.ItemResponse, len(answers)),
	}
	if a.CompletedAt != nil {
		rs.CompletedAt = *a.CompletedAt
	}
	for _, ans := range answers {
		rs.Items[ans.ItemID] = clinimetrix.ItemResponse{
			Value:          ans.Value,
			ResponseTimeMs: ans.ResponseTimeMs,
			WasSkipped:     ans.WasSkipped,
		}
	}
	return a, rs, answers, nil
}

func (s *Service) score(ctx context.Context, a *Assessment, rs *clinimetrix.ResponseSet) (*clinimetrix.ScoringResult, error) {
	tmpl, err := s.templates.Template(ctx, a.ScaleDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	var demo *clinimetrix.Demographics
	if a.PatientAge != nil || a.PatientSex != nil {
		demo = &clinimetrix.Demographics{}
		if a.PatientAge != nil {
			demo.Age = *a.PatientAge
		}
		if a.PatientSex != nil {
			demo.Sex = *a.PatientSex
		}
	}
	return s.engine.Score(tmpl, rs, demo)
}

func (s *Service) storeResult(ctx context.Context, a *Assessment, sr *clinimetrix.ScoringResult) error {
	payload, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	row := &AssessmentResult{
		AssessmentID: a.ID,
		ScaleID:      sr.ScaleID,
		ScaleVersion: sr.ScaleVersion,
		TemplateHash: sr.TemplateHash,
		Result:       payload,
		ScoredAt:     time.Now().UTC(),
	}
	if sr.HasTotal {
		total := sr.TotalScore
		row.TotalScore = &total
	}
	if sr.SeverityLevel != "" {
		level := sr.SeverityLevel
		row.SeverityLevel = &level
	}
	if err := s.results.Create(ctx, row); err != nil {
		return err
	}

	if len(sr.Alerts) == 0 {
		return nil
	}
	alerts := make([]*ItemAlert, 0, len(sr.Alerts))
	for _, al := range sr.Alerts {
		alerts = append(alerts, &ItemAlert{
			AssessmentID: a.ID,
			ResultID:     row.ID,
			PatientID:    a.PatientID,
			ItemID:       al.ItemID,
			ItemNumber:   al.ItemNumber,
			Reason:       al.Reason,
			Score:        al.Score,
		})
	}
	return s.alerts.CreateBatch(ctx, alerts)
}

// inTx runs fn inside a transaction on the request-scoped connection when one
// exists. Callers outside a request (tests, CLI) fall through to plain
// execution.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, txCtx, err := db.WithTx(ctx)
	if err != nil {
		return fn(ctx)
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
