package clinimetrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// phq9Doc builds a PHQ-9-like template document: 9 items scored 0-3, sum
// method, range 0-27, five severity bands, item 9 alerting on any nonzero
// answer. Overrides are applied on top of the base map before marshaling.
func phq9Doc(t *testing.T, overrides map[string]interface{}) []byte {
	t.Helper()
	items := make([]map[string]interface{}, 0, 9)
	for n := 1; n <= 9; n++ {
		item := map[string]interface{}{
			"id":     fmt.Sprintf("item-%d", n),
			"number": n,
			"text":   fmt.Sprintf("Question %d", n),
		}
		if n == 9 {
			item["alert_trigger"] = true
			item["alert_condition"] = "score > 0"
		}
		items = append(items, item)
	}
	doc := map[string]interface{}{
		"id":             "phq-9",
		"abbreviation":   "PHQ-9",
		"name":           "Patient Health Questionnaire-9",
		"version":        "1.0",
		"scoring_method": "sum",
		"score_range":    map[string]float64{"min": 0, "max": 27},
		"items":          items,
		"response_options": []map[string]interface{}{
			{"value": "0", "label": "Not at all", "score": 0},
			{"value": "1", "label": "Several days", "score": 1},
			{"value": "2", "label": "More than half the days", "score": 2},
			{"value": "3", "label": "Nearly every day", "score": 3},
		},
		"interpretation_rules": []map[string]interface{}{
			{"min_score": 0, "max_score": 4, "severity_level": "minimal", "label": "Minimal depression"},
			{"min_score": 5, "max_score": 9, "severity_level": "mild", "label": "Mild depression"},
			{"min_score": 10, "max_score": 14, "severity_level": "moderate", "label": "Moderate depression"},
			{"min_score": 15, "max_score": 19, "severity_level": "moderately_severe", "label": "Moderately severe depression"},
			{"min_score": 20, "max_score": 27, "severity_level": "severe", "label": "Severe depression"},
		},
	}
	for k, v := range overrides {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal template doc: %v", err)
	}
	return raw
}

func mustLoad(t *testing.T, raw []byte) *ScaleTemplate {
	t.Helper()
	tmpl, err := LoadTemplate(raw)
	if err != nil {
		t.Fatalf("LoadTemplate: %v", err)
	}
	return tmpl
}

func TestLoadTemplate_Valid(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, nil))

	if tmpl.ID != "phq-9" || tmpl.Abbreviation != "PHQ-9" || tmpl.Version != "1.0" {
		t.Errorf("unexpected identity: %+v", tmpl)
	}
	if tmpl.TotalItems != 9 || len(tmpl.Items) != 9 {
		t.Errorf("expected 9 items, got %d/%d", tmpl.TotalItems, len(tmpl.Items))
	}
	if tmpl.ScoringMethod != MethodSum {
		t.Errorf("expected sum method, got %q", tmpl.ScoringMethod)
	}
	if tmpl.Precision != DefaultPrecision {
		t.Errorf("expected default precision %d, got %d", DefaultPrecision, tmpl.Precision)
	}
	if tmpl.ContentHash == "" || len(tmpl.ContentHash) != 64 {
		t.Errorf("expected sha256 content hash, got %q", tmpl.ContentHash)
	}

	item9 := tmpl.ItemByNumber(9)
	if item9 == nil || !item9.AlertTrigger || item9.AlertCondition == nil {
		t.Fatalf("item 9 should carry a parsed alert condition")
	}
	if got := item9.AlertCondition.String(); got != "score > 0" {
		t.Errorf("alert condition = %q, want %q", got, "score > 0")
	}
}

func TestLoadTemplate_ContentHashIsStable(t *testing.T) {
	raw := phq9Doc(t, nil)
	a := mustLoad(t, raw)
	b := mustLoad(t, raw)
	if a.ContentHash != b.ContentHash {
		t.Errorf("same document hashed differently: %s vs %s", a.ContentHash, b.ContentHash)
	}
	c := mustLoad(t, phq9Doc(t, map[string]interface{}{"version": "2.0"}))
	if a.ContentHash == c.ContentHash {
		t.Error("different documents produced the same hash")
	}
}

func TestLoadTemplate_Rejects(t *testing.T) {
	nineItems := func(mutate func(items []map[string]interface{})) []map[string]interface{} {
		items := make([]map[string]interface{}, 0, 9)
		for n := 1; n <= 9; n++ {
			items = append(items, map[string]interface{}{
				"id": fmt.Sprintf("item-%d", n), "number": n, "text": "q",
			})
		}
		if mutate != nil {
			mutate(items)
		}
		return items
	}

	tests := []struct {
		name      string
		overrides map[string]interface{}
		wantMsg   string
	}{
		{
			name:      "missing id",
			overrides: map[string]interface{}{"id": ""},
			wantMsg:   "id is required",
		},
		{
			name:      "unknown scoring method",
			overrides: map[string]interface{}{"scoring_method": "median"},
			wantMsg:   "unknown scoring method",
		},
		{
			name: "duplicate item numbers",
			overrides: map[string]interface{}{"items": nineItems(func(items []map[string]interface{}) {
				items[1]["number"] = 1
			})},
			wantMsg: "duplicate item number",
		},
		{
			name: "non-contiguous item numbers",
			overrides: map[string]interface{}{"items": nineItems(func(items []map[string]interface{}) {
				items[8]["number"] = 11
			})},
			wantMsg: "contiguous",
		},
		{
			name:      "subscales method without subscales",
			overrides: map[string]interface{}{"scoring_method": "subscales"},
			wantMsg:   "no subscales are defined",
		},
		{
			name: "subscale references missing item",
			overrides: map[string]interface{}{"subscales": []map[string]interface{}{
				{"id": "a", "name": "A", "item_numbers": []int{1, 42}, "score_range": map[string]float64{"min": 0, "max": 6}},
			}},
			wantMsg: "does not exist",
		},
		{
			name: "interpretation gap",
			overrides: map[string]interface{}{"interpretation_rules": []map[string]interface{}{
				{"min_score": 0, "max_score": 4, "severity_level": "minimal", "label": "Minimal"},
				{"min_score": 6, "max_score": 27, "severity_level": "severe", "label": "Severe"},
			}},
			wantMsg: "covered by 0 bands",
		},
		{
			name: "interpretation overlap",
			overrides: map[string]interface{}{"interpretation_rules": []map[string]interface{}{
				{"min_score": 0, "max_score": 10, "severity_level": "minimal", "label": "Minimal"},
				{"min_score": 10, "max_score": 27, "severity_level": "severe", "label": "Severe"},
			}},
			wantMsg: "overlap",
		},
		{
			name: "interpretation does not span range",
			overrides: map[string]interface{}{"interpretation_rules": []map[string]interface{}{
				{"min_score": 0, "max_score": 20, "severity_level": "minimal", "label": "Minimal"},
			}},
			wantMsg: "range maximum",
		},
		{
			name: "non-numeric option score",
			overrides: map[string]interface{}{"response_options": []map[string]interface{}{
				{"value": "0", "label": "Not at all", "score": "none"},
			}},
			wantMsg: "non-numeric score",
		},
		{
			name: "alert trigger without condition",
			overrides: map[string]interface{}{"items": nineItems(func(items []map[string]interface{}) {
				items[0]["alert_trigger"] = true
			})},
			wantMsg: "no alert_condition",
		},
		{
			name: "bad alert condition",
			overrides: map[string]interface{}{"items": nineItems(func(items []map[string]interface{}) {
				items[0]["alert_trigger"] = true
				items[0]["alert_condition"] = "answer > 0"
			})},
			wantMsg: "must compare against",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTemplate(phq9Doc(t, tt.overrides))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var tve *TemplateValidationError
			if !errors.As(err, &tve) {
				t.Fatalf("expected *TemplateValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadTemplate_PerItemOptionOverride(t *testing.T) {
	raw := phq9Doc(t, map[string]interface{}{"items": func() []map[string]interface{} {
		items := make([]map[string]interface{}, 0, 9)
		for n := 1; n <= 9; n++ {
			item := map[string]interface{}{"id": fmt.Sprintf("item-%d", n), "number": n, "text": "q"}
			if n == 5 {
				item["options"] = []map[string]interface{}{
					{"value": "yes", "label": "Yes", "score": 1},
					{"value": "no", "label": "No", "score": 0},
				}
			}
			items = append(items, item)
		}
		return items
	}()})
	tmpl := mustLoad(t, raw)

	item5 := tmpl.ItemByNumber(5)
	if score, ok := tmpl.OptionScore(item5, "yes"); !ok || score != 1 {
		t.Errorf("item 5 override option: got (%v, %v)", score, ok)
	}
	if _, ok := tmpl.OptionScore(item5, "2"); ok {
		t.Error("item 5 should not accept the global options")
	}
	if score, ok := tmpl.OptionScore(tmpl.ItemByNumber(1), "2"); !ok || score != 2 {
		t.Errorf("item 1 global option: got (%v, %v)", score, ok)
	}
}

func TestLoadTemplate_SubscaleRulesCoverage(t *testing.T) {
	overrides := map[string]interface{}{
		"scoring_method": "subscales",
		"subscales": []map[string]interface{}{
			{
				"id": "somatic", "name": "Somatic", "item_numbers": []int{1, 2, 3},
				"score_range": map[string]float64{"min": 0, "max": 9},
				"rules": []map[string]interface{}{
					{"min_score": 0, "max_score": 4, "severity_level": "low", "label": "Low"},
					{"min_score": 5, "max_score": 9, "severity_level": "high", "label": "High"},
				},
			},
		},
		"interpretation_rules": []map[string]interface{}{},
	}
	tmpl := mustLoad(t, phq9Doc(t, overrides))
	if len(tmpl.Subscales) != 1 || len(tmpl.Subscales[0].Rules) != 2 {
		t.Fatalf("subscale rules not preserved: %+v", tmpl.Subscales)
	}

	// Broken subscale coverage must be rejected.
	overrides["subscales"].([]map[string]interface{})[0]["rules"] = []map[string]interface{}{
		{"min_score": 0, "max_score": 3, "severity_level": "low", "label": "Low"},
	}
	if _, err := LoadTemplate(phq9Doc(t, overrides)); err == nil {
		t.Error("expected subscale rule coverage error")
	}
}
