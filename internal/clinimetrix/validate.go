package clinimetrix

import "sort"

// ValidationReport describes how a response set conforms to its template.
// Incompleteness is data, not an error: partial results must remain visible
// to clinicians, so the report is surfaced alongside the scoring result and
// feeds the validity assessment.
type ValidationReport struct {
	IsComplete    bool     `json:"is_complete"`
	AnsweredCount int      `json:"answered_count"`
	MissingItems  []string `json:"missing_items,omitempty"`
	InvalidItems  []string `json:"invalid_items,omitempty"`
}

// Validate checks a response set against a template for completeness and
// type conformance. An item is missing when absent or explicitly skipped;
// invalid when its value matches no defined option for that item (per-item
// option overrides honored). Item lists are ordered by item number so the
// report is deterministic.
func Validate(t *ScaleTemplate, rs *ResponseSet) ValidationReport {
	report := ValidationReport{}
	for i := range t.Items {
		item := &t.Items[i]
		resp, ok := rs.Items[item.ID]
		if !ok || resp.WasSkipped {
			report.MissingItems = append(report.MissingItems, item.ID)
			continue
		}
		if _, ok := t.OptionScore(item, resp.Value); !ok {
			report.InvalidItems = append(report.InvalidItems, item.ID)
			continue
		}
		report.AnsweredCount++
	}
	report.IsComplete = report.AnsweredCount == t.TotalItems

	byNumber := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool {
			return t.ItemByID(ids[i]).Number < t.ItemByID(ids[j]).Number
		})
	}
	byNumber(report.MissingItems)
	byNumber(report.InvalidItems)
	return report
}
