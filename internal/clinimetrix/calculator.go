package clinimetrix

import "math"

// CalcResult is the calculator's output. HasTotal is false only for the
// subscales method when the template declines an overall total.
type CalcResult struct {
	TotalScore     float64            `json:"total_score"`
	HasTotal       bool               `json:"has_total"`
	SubscaleScores map[string]float64 `json:"subscale_scores,omitempty"`
	AnsweredCount  int                `json:"answered_count"`
}

// AlgorithmFunc is a custom scoring function for scales whose method is
// "algorithm". Implementations must be pure: same inputs, same output, no
// I/O. The closed registry replaces the dynamic method-by-name dispatch some
// scale ecosystems use, so every supported algorithm is statically known.
type AlgorithmFunc func(t *ScaleTemplate, rs *ResponseSet) (*CalcResult, error)

// AlgorithmRegistry maps scale ids to their custom scoring functions. It is
// populated at startup and read-only afterwards.
type AlgorithmRegistry struct {
	fns map[string]AlgorithmFunc
}

func NewAlgorithmRegistry() *AlgorithmRegistry {
	return &AlgorithmRegistry{fns: make(map[string]AlgorithmFunc)}
}

// Register binds a scoring function to a scale id. Later registrations for
// the same id win, which lets tests override a stock algorithm.
func (r *AlgorithmRegistry) Register(scaleID string, fn AlgorithmFunc) {
	r.fns[scaleID] = fn
}

func (r *AlgorithmRegistry) lookup(scaleID string) (AlgorithmFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.fns[scaleID]
	return fn, ok
}

// Calculate computes the aggregate score(s) per the template's declared
// scoring method. A set with zero answered items is an error rather than a
// spurious zero score.
func Calculate(t *ScaleTemplate, rs *ResponseSet, algorithms *AlgorithmRegistry) (*CalcResult, error) {
	if t.ScoringMethod == MethodAlgorithm {
		fn, ok := algorithms.lookup(t.ID)
		if !ok {
			return nil, &UnsupportedScoringMethodError{ScaleID: t.ID, Method: t.ScoringMethod}
		}
		return fn(t, rs)
	}

	answered := answeredCount(t, rs)
	if answered == 0 {
		return nil, &InsufficientDataError{ScaleID: t.ID}
	}

	switch t.ScoringMethod {
	case MethodSum, MethodWeightedSum:
		weighted := t.ScoringMethod == MethodWeightedSum
		total := sumItems(t, rs, t.Items, weighted)
		if t.ProRateSkipped && answered < t.TotalItems {
			total = roundTo(total*float64(t.TotalItems)/float64(answered), t.Precision)
		}
		return &CalcResult{TotalScore: total, HasTotal: true, AnsweredCount: answered}, nil

	case MethodAverage:
		total := roundTo(sumItems(t, rs, t.Items, false)/float64(answered), t.Precision)
		return &CalcResult{TotalScore: total, HasTotal: true, AnsweredCount: answered}, nil

	case MethodSubscales:
		result := &CalcResult{
			SubscaleScores: make(map[string]float64, len(t.Subscales)),
			AnsweredCount:  answered,
		}
		var overall float64
		for _, sub := range t.Subscales {
			score := subscaleSum(t, rs, sub)
			result.SubscaleScores[sub.ID] = score
			overall += score
		}
		if t.SubscaleTotal {
			result.TotalScore = overall
			result.HasTotal = true
		}
		return result, nil
	}

	// Unreachable for templates that passed LoadTemplate.
	return nil, &UnsupportedScoringMethodError{ScaleID: t.ID, Method: t.ScoringMethod}
}

// EffectiveScore returns an item's contribution before weighting: the chosen
// option's score, inverted against the item's maximum when reverse-scored.
// The second return is false for skipped, absent, or invalid answers, which
// contribute nothing.
func EffectiveScore(t *ScaleTemplate, item *Item, rs *ResponseSet) (float64, bool) {
	resp, ok := rs.Items[item.ID]
	if !ok || resp.WasSkipped {
		return 0, false
	}
	score, ok := t.OptionScore(item, resp.Value)
	if !ok {
		return 0, false
	}
	if item.ReverseScored {
		score = t.MaxOptionScore(item) - score
	}
	return score, true
}

func answeredCount(t *ScaleTemplate, rs *ResponseSet) int {
	n := 0
	for i := range t.Items {
		if _, ok := EffectiveScore(t, &t.Items[i], rs); ok {
			n++
		}
	}
	return n
}

func sumItems(t *ScaleTemplate, rs *ResponseSet, items []Item, weighted bool) float64 {
	var total float64
	for i := range items {
		item := &items[i]
		score, ok := EffectiveScore(t, item, rs)
		if !ok {
			continue
		}
		if weighted {
			score *= item.Weight
		}
		total += score
	}
	return total
}

func subscaleSum(t *ScaleTemplate, rs *ResponseSet, sub Subscale) float64 {
	var total float64
	answered := 0
	for _, n := range sub.ItemNumbers {
		item := t.ItemByNumber(n)
		score, ok := EffectiveScore(t, item, rs)
		if !ok {
			continue
		}
		total += score
		answered++
	}
	if t.ProRateSkipped && answered > 0 && answered < len(sub.ItemNumbers) {
		total = roundTo(total*float64(len(sub.ItemNumbers))/float64(answered), t.Precision)
	}
	return total
}

func roundTo(x float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(x*factor) / factor
}
