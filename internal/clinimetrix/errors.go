package clinimetrix

import "fmt"

// TemplateValidationError reports a malformed scale template. It is surfaced
// to whoever published the template, never to the end clinician.
type TemplateValidationError struct {
	ScaleID string
	Reason  string
}

func (e *TemplateValidationError) Error() string {
	if e.ScaleID == "" {
		return fmt.Sprintf("invalid scale template: %s", e.Reason)
	}
	return fmt.Sprintf("invalid scale template %s: %s", e.ScaleID, e.Reason)
}

func templateErr(scaleID, format string, args ...interface{}) error {
	return &TemplateValidationError{ScaleID: scaleID, Reason: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an operation attempted against a response set in
// the wrong state, e.g. scoring a set that was never completed.
type InvalidStateError struct {
	Op     string
	Status ResponseSetStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a response set in state %q", e.Op, e.Status)
}

// InsufficientDataError reports a response set with zero answered items.
// Scoring cannot proceed; a spurious 0 would be clinically misleading.
type InsufficientDataError struct {
	ScaleID string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("no answered items for scale %s", e.ScaleID)
}

// UnsupportedScoringMethodError reports an "algorithm" scoring method for
// which no function is registered under the scale id.
type UnsupportedScoringMethodError struct {
	ScaleID string
	Method  ScoringMethod
}

func (e *UnsupportedScoringMethodError) Error() string {
	return fmt.Sprintf("no scoring algorithm registered for scale %s (method %q)", e.ScaleID, e.Method)
}
