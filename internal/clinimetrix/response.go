package clinimetrix

import "time"

// ResponseSetStatus is the lifecycle state of an assessment attempt.
type ResponseSetStatus string

const (
	StatusCreated    ResponseSetStatus = "created"
	StatusInProgress ResponseSetStatus = "in_progress"
	StatusCompleted  ResponseSetStatus = "completed"
	StatusAbandoned  ResponseSetStatus = "abandoned"
	StatusExpired    ResponseSetStatus = "expired"
)

// ItemResponse is one item's answer within a response set.
type ItemResponse struct {
	Value          string `json:"value"`
	ResponseTimeMs int    `json:"response_time_ms"`
	WasSkipped     bool   `json:"was_skipped"`
}

// ResponseSet is the ephemeral set of answers for one assessment attempt.
// It is mutated incrementally while in progress and frozen at completion;
// the engine only accepts completed sets.
type ResponseSet struct {
	Status      ResponseSetStatus       `json:"status"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at,omitempty"`
	Items       map[string]ItemResponse `json:"items"`
}

// NewResponseSet begins an assessment attempt at the given start time.
func NewResponseSet(startedAt time.Time) *ResponseSet {
	return &ResponseSet{
		Status:    StatusCreated,
		StartedAt: startedAt,
		Items:     make(map[string]ItemResponse),
	}
}

// Record stores or overwrites one item's answer. The first answer moves the
// set from created to in_progress; answers are rejected once the set is
// finalized in any way.
func (rs *ResponseSet) Record(itemID string, r ItemResponse) error {
	switch rs.Status {
	case StatusCreated:
		rs.Status = StatusInProgress
	case StatusInProgress:
	default:
		return &InvalidStateError{Op: "record an answer on", Status: rs.Status}
	}
	rs.Items[itemID] = r
	return nil
}

// Complete freezes the set at submission time. Only an in-progress set can
// be completed; completing an untouched set would score nothing.
func (rs *ResponseSet) Complete(at time.Time) error {
	if rs.Status != StatusInProgress {
		return &InvalidStateError{Op: "complete", Status: rs.Status}
	}
	rs.Status = StatusCompleted
	rs.CompletedAt = at
	return nil
}

// Abandon marks the attempt as given up by the respondent.
func (rs *ResponseSet) Abandon() error {
	if rs.Status != StatusCreated && rs.Status != StatusInProgress {
		return &InvalidStateError{Op: "abandon", Status: rs.Status}
	}
	rs.Status = StatusAbandoned
	return nil
}

// Expire marks the attempt as timed out before submission.
func (rs *ResponseSet) Expire() error {
	if rs.Status != StatusCreated && rs.Status != StatusInProgress {
		return &InvalidStateError{Op: "expire", Status: rs.Status}
	}
	rs.Status = StatusExpired
	return nil
}

// CompletionTime is the wall-clock duration of the attempt, derived from the
// timestamps recorded on the set rather than from the current time.
func (rs *ResponseSet) CompletionTime() time.Duration {
	if rs.CompletedAt.IsZero() {
		return 0
	}
	return rs.CompletedAt.Sub(rs.StartedAt)
}
