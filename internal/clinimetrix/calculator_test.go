package clinimetrix

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCalculate_Sum(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, nil))
	rs := answerAll(t, tmpl, "2")

	calc, err := Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !calc.HasTotal || calc.TotalScore != 18 {
		t.Errorf("TotalScore = %v (has=%v), want 18", calc.TotalScore, calc.HasTotal)
	}
	if calc.AnsweredCount != 9 {
		t.Errorf("AnsweredCount = %d, want 9", calc.AnsweredCount)
	}
}

func TestCalculate_ReverseScoring(t *testing.T) {
	// Item 1 reverse-scored with options 0-3: an answer scored 0 contributes
	// 3, and an answer scored 3 contributes 0.
	withReverse := func(answer string) float64 {
		items := make([]map[string]interface{}, 0, 9)
		for n := 1; n <= 9; n++ {
			item := map[string]interface{}{"id": fmt.Sprintf("item-%d", n), "number": n, "text": "q"}
			if n == 1 {
				item["reverse_scored"] = true
			}
			items = append(items, item)
		}
		tmpl := mustLoad(t, phq9Doc(t, map[string]interface{}{"items": items}))

		start := time.Now()
		rs := NewResponseSet(start)
		_ = rs.Record("item-1", ItemResponse{Value: answer, ResponseTimeMs: 1000})
		_ = rs.Complete(start.Add(time.Minute))

		calc, err := Calculate(tmpl, rs, nil)
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		return calc.TotalScore
	}

	if got := withReverse("0"); got != 3 {
		t.Errorf("reverse-scored answer 0 contributed %v, want 3", got)
	}
	if got := withReverse("3"); got != 0 {
		t.Errorf("reverse-scored answer 3 contributed %v, want 0", got)
	}
}

func TestCalculate_SkippedContributeZeroByDefault(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, nil))
	start := time.Now()
	rs := NewResponseSet(start)
	for n := 1; n <= 5; n++ {
		_ = rs.Record(fmt.Sprintf("item-%d", n), ItemResponse{Value: "2", ResponseTimeMs: 1000})
	}
	_ = rs.Complete(start.Add(time.Minute))

	calc, err := Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if calc.TotalScore != 10 {
		t.Errorf("TotalScore = %v, want 10 (skipped items score 0)", calc.TotalScore)
	}
}

func TestCalculate_ProRatedSum(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, map[string]interface{}{"pro_rate_skipped": true}))
	start := time.Now()
	rs := NewResponseSet(start)
	// 6 of 9 answered at 2 each: 12 x 9/6 = 18.
	for n := 1; n <= 6; n++ {
		_ = rs.Record(fmt.Sprintf("item-%d", n), ItemResponse{Value: "2", ResponseTimeMs: 1000})
	}
	_ = rs.Complete(start.Add(time.Minute))

	calc, err := Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if calc.TotalScore != 18 {
		t.Errorf("pro-rated TotalScore = %v, want 18", calc.TotalScore)
	}

	// 7 of 9 answered at 1 each: 7 x 9/7 = 9.0 exactly; rounding to 2
	// decimals must not disturb it.
	rs = NewResponseSet(start)
	for n := 1; n <= 7; n++ {
		_ = rs.Record(fmt.Sprintf("item-%d", n), ItemResponse{Value: "1", ResponseTimeMs: 1000})
	}
	_ = rs.Complete(start.Add(time.Minute))
	calc, err = Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if calc.TotalScore != 9 {
		t.Errorf("pro-rated TotalScore = %v, want 9", calc.TotalScore)
	}
}

func TestCalculate_WeightedSum(t *testing.T) {
	items := make([]map[string]interface{}, 0, 9)
	for n := 1; n <= 9; n++ {
		item := map[string]interface{}{"id": fmt.Sprintf("item-%d", n), "number": n, "text": "q"}
		if n == 1 {
			item["weight"] = 2.5
		}
		items = append(items, item)
	}
	tmpl := mustLoad(t, phq9Doc(t, map[string]interface{}{
		"scoring_method": "weighted_sum",
		"items":          items,
	}))
	rs := answerAll(t, tmpl, "2")

	calc, err := Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// Item 1: 2 x 2.5 = 5; items 2-9: 2 each = 16.
	if calc.TotalScore != 21 {
		t.Errorf("weighted TotalScore = %v, want 21", calc.TotalScore)
	}
}

func TestCalculate_Average(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, map[string]interface{}{
		"scoring_method": "average",
		"score_range":    map[string]float64{"min": 0, "max": 3},
		"interpretation_rules": []map[string]interface{}{
			{"min_score": 0, "max_score": 1, "severity_level": "low", "label": "Low"},
			{"min_score": 2, "max_score": 3, "severity_level": "high", "label": "High"},
		},
	}))
	start := time.Now()
	rs := NewResponseSet(start)
	_ = rs.Record("item-1", ItemResponse{Value: "1", ResponseTimeMs: 1000})
	_ = rs.Record("item-2", ItemResponse{Value: "2", ResponseTimeMs: 1000})
	_ = rs.Record("item-3", ItemResponse{Value: "2", ResponseTimeMs: 1000})
	_ = rs.Complete(start.Add(time.Minute))

	calc, err := Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if calc.TotalScore != 1.67 {
		t.Errorf("average TotalScore = %v, want 1.67", calc.TotalScore)
	}
}

func subscaleDoc(t *testing.T, subscaleTotal bool) *ScaleTemplate {
	t.Helper()
	return mustLoad(t, phq9Doc(t, map[string]interface{}{
		"scoring_method": "subscales",
		"subscale_total": subscaleTotal,
		"subscales": []map[string]interface{}{
			{"id": "somatic", "name": "Somatic", "item_numbers": []int{1, 2, 3, 4}, "score_range": map[string]float64{"min": 0, "max": 12}},
			{"id": "cognitive", "name": "Cognitive", "item_numbers": []int{5, 6, 7, 8, 9}, "score_range": map[string]float64{"min": 0, "max": 15}},
		},
	}))
}

func TestCalculate_Subscales(t *testing.T) {
	tmpl := subscaleDoc(t, true)
	start := time.Now()
	rs := NewResponseSet(start)
	// Somatic items answer 3 each (12); cognitive items answer 1 each (5).
	for n := 1; n <= 4; n++ {
		_ = rs.Record(fmt.Sprintf("item-%d", n), ItemResponse{Value: "3", ResponseTimeMs: 1000})
	}
	for n := 5; n <= 9; n++ {
		_ = rs.Record(fmt.Sprintf("item-%d", n), ItemResponse{Value: "1", ResponseTimeMs: 1000})
	}
	_ = rs.Complete(start.Add(time.Minute))

	calc, err := Calculate(tmpl, rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if calc.SubscaleScores["somatic"] != 12 {
		t.Errorf("somatic = %v, want 12", calc.SubscaleScores["somatic"])
	}
	if calc.SubscaleScores["cognitive"] != 5 {
		t.Errorf("cognitive = %v, want 5", calc.SubscaleScores["cognitive"])
	}
	if !calc.HasTotal || calc.TotalScore != 17 {
		t.Errorf("overall total = %v (has=%v), want 17 = sum of subscales", calc.TotalScore, calc.HasTotal)
	}

	// Without subscale_total the overall score is omitted.
	calc, err = Calculate(subscaleDoc(t, false), rs, nil)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if calc.HasTotal {
		t.Error("overall total should be omitted when subscale_total is false")
	}
}

func TestCalculate_AlgorithmRegistry(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, map[string]interface{}{"scoring_method": "algorithm"}))
	rs := answerAll(t, tmpl, "1")

	// Unregistered scale id fails.
	_, err := Calculate(tmpl, rs, NewAlgorithmRegistry())
	var usme *UnsupportedScoringMethodError
	if !errors.As(err, &usme) {
		t.Fatalf("expected *UnsupportedScoringMethodError, got %v", err)
	}

	// Nil registry behaves the same.
	if _, err := Calculate(tmpl, rs, nil); !errors.As(err, &usme) {
		t.Fatalf("nil registry: expected *UnsupportedScoringMethodError, got %v", err)
	}

	reg := NewAlgorithmRegistry()
	reg.Register("phq-9", func(t *ScaleTemplate, rs *ResponseSet) (*CalcResult, error) {
		return &CalcResult{TotalScore: 42, HasTotal: true, AnsweredCount: len(rs.Items)}, nil
	})
	calc, err := Calculate(tmpl, rs, reg)
	if err != nil {
		t.Fatalf("Calculate with registered algorithm: %v", err)
	}
	if calc.TotalScore != 42 {
		t.Errorf("TotalScore = %v, want 42", calc.TotalScore)
	}
}

func TestCalculate_InsufficientData(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, nil))
	start := time.Now()
	rs := NewResponseSet(start)
	_ = rs.Record("item-1", ItemResponse{WasSkipped: true})
	_ = rs.Complete(start.Add(time.Minute))

	_, err := Calculate(tmpl, rs, nil)
	var ide *InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("expected *InsufficientDataError, got %v", err)
	}
}
