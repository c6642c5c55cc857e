package clinimetrix

import "sort"

// DefaultResponseTimeFloorMs is the floor below which a median per-item
// response time suggests inattentive responding, used when neither the
// template nor the engine configuration declares one.
const DefaultResponseTimeFloorMs = 300

// Weights for the composite validity score. Fixed and documented so the
// indicator is deterministic and auditable: completeness dominates, with the
// response-time signal as a secondary penalty.
const (
	completenessWeight = 0.7
	responseTimeWeight = 0.3
)

// ValidityIndicators is the composite trustworthiness signal attached to
// every scoring result. It never blocks scoring; clinicians use it to judge
// how much weight to give the numbers.
type ValidityIndicators struct {
	OverallValidityScore float64 `json:"overall_validity_score"`
	CompletenessRatio    float64 `json:"completeness_ratio"`
	ResponseTimeFlag     bool    `json:"response_time_flag"`
	MedianResponseTimeMs int     `json:"median_response_time_ms"`
}

// AssessValidity combines completeness and response-time signals.
// overallValidityScore = 0.7 x completenessRatio + 0.3 x (1 - timePenalty),
// where timePenalty is 1 when the median per-item response time is below the
// floor and 0 otherwise.
func AssessValidity(t *ScaleTemplate, report ValidationReport, rs *ResponseSet, floorMs int) ValidityIndicators {
	ind := ValidityIndicators{}
	if t.TotalItems > 0 {
		ind.CompletenessRatio = float64(report.AnsweredCount) / float64(t.TotalItems)
	}

	floor := floorMs
	if t.ResponseTimeFloorMs > 0 {
		floor = t.ResponseTimeFloorMs
	}
	if floor <= 0 {
		floor = DefaultResponseTimeFloorMs
	}

	times := make([]int, 0, len(rs.Items))
	for i := range t.Items {
		resp, ok := rs.Items[t.Items[i].ID]
		if !ok || resp.WasSkipped {
			continue
		}
		times = append(times, resp.ResponseTimeMs)
	}
	if len(times) > 0 {
		ind.MedianResponseTimeMs = median(times)
		ind.ResponseTimeFlag = ind.MedianResponseTimeMs < floor
	}

	penalty := 0.0
	if ind.ResponseTimeFlag {
		penalty = 1.0
	}
	ind.OverallValidityScore = completenessWeight*ind.CompletenessRatio + responseTimeWeight*(1-penalty)
	return ind
}

func median(values []int) int {
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
