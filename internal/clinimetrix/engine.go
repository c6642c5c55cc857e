package clinimetrix

import "time"

// ScoringResult is the immutable record of one completed assessment. It is
// created exactly once per scoring call and never mutated; rescoring
// produces a new result rather than editing an old one.
type ScoringResult struct {
	ScaleID                 string                     `json:"scale_id"`
	ScaleVersion            string                     `json:"scale_version"`
	TemplateHash            string                     `json:"template_hash"`
	TotalScore              float64                    `json:"total_score"`
	HasTotal                bool                       `json:"has_total"`
	SubscaleScores          map[string]float64         `json:"subscale_scores,omitempty"`
	SeverityLevel           string                     `json:"severity_level,omitempty"`
	Interpretation          *Interpretation            `json:"interpretation,omitempty"`
	SubscaleInterpretations map[string]*Interpretation `json:"subscale_interpretations,omitempty"`
	Validation              ValidationReport           `json:"validation"`
	Validity                ValidityIndicators         `json:"validity"`
	Alerts                  []Alert                    `json:"alerts,omitempty"`
	CompletionTime          time.Duration              `json:"completion_time"`
}

// EngineOptions configures a scoring engine.
type EngineOptions struct {
	// Algorithms is the closed registry of custom scoring functions for
	// scales using the "algorithm" method. May be nil if no such scales are
	// served.
	Algorithms *AlgorithmRegistry
	// ResponseTimeFloorMs overrides the default floor for the validity
	// assessor's inattentive-responding check. Template-level floors take
	// precedence over this value.
	ResponseTimeFloorMs int
}

// Engine scores completed response sets against validated templates. It is a
// pure, stateless computation: no field is mutated after construction, so a
// single Engine may be shared freely across concurrent scoring calls.
type Engine struct {
	algorithms          *AlgorithmRegistry
	responseTimeFloorMs int
}

func NewEngine(opts EngineOptions) *Engine {
	floor := opts.ResponseTimeFloorMs
	if floor <= 0 {
		floor = DefaultResponseTimeFloorMs
	}
	return &Engine{
		algorithms:          opts.Algorithms,
		responseTimeFloorMs: floor,
	}
}

// Score validates, calculates, interprets, and assembles the result for one
// finalized response set. The completion time is derived from the
// timestamps on the set, not from the clock, so identical inputs always
// produce identical results. Errors propagate unchanged; nothing is logged
// or retried here.
func (e *Engine) Score(t *ScaleTemplate, rs *ResponseSet, demo *Demographics) (*ScoringResult, error) {
	if rs.Status != StatusCompleted {
		return nil, &InvalidStateError{Op: "score", Status: rs.Status}
	}

	report := Validate(t, rs)

	calc, err := Calculate(t, rs, e.algorithms)
	if err != nil {
		return nil, err
	}

	result := &ScoringResult{
		ScaleID:        t.ID,
		ScaleVersion:   t.Version,
		TemplateHash:   t.ContentHash,
		TotalScore:     calc.TotalScore,
		HasTotal:       calc.HasTotal,
		SubscaleScores: calc.SubscaleScores,
		Validation:     report,
		Validity:       AssessValidity(t, report, rs, e.responseTimeFloorMs),
		Alerts:         EvaluateAlerts(t, rs),
		CompletionTime: rs.CompletionTime(),
	}

	if calc.HasTotal {
		if interp := Resolve(t, calc.TotalScore, demo); interp != nil {
			result.Interpretation = interp
			result.SeverityLevel = interp.SeverityLevel
		}
	}
	for _, sub := range t.Subscales {
		score, ok := calc.SubscaleScores[sub.ID]
		if !ok {
			continue
		}
		if interp := ResolveSubscale(sub, score); interp != nil {
			if result.SubscaleInterpretations == nil {
				result.SubscaleInterpretations = make(map[string]*Interpretation, len(t.Subscales))
			}
			result.SubscaleInterpretations[sub.ID] = interp
		}
	}

	return result, nil
}
