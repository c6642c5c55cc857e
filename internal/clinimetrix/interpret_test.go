package clinimetrix

import "testing"

func TestResolve_Bands(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, nil))
	tests := []struct {
		score float64
		want  string
	}{
		{0, "minimal"},
		{4, "minimal"},
		{5, "mild"},
		{9, "mild"},
		{10, "moderate"},
		{14, "moderate"},
		{15, "moderately_severe"},
		{19, "moderately_severe"},
		{20, "severe"},
		{27, "severe"},
	}
	for _, tt := range tests {
		interp := Resolve(tmpl, tt.score, nil)
		if interp == nil {
			t.Fatalf("Resolve(%v) = nil", tt.score)
		}
		if interp.SeverityLevel != tt.want {
			t.Errorf("Resolve(%v) = %q, want %q", tt.score, interp.SeverityLevel, tt.want)
		}
		if interp.Clamped {
			t.Errorf("Resolve(%v) unexpectedly clamped", tt.score)
		}
	}
}

func TestResolve_CoverageInvariant(t *testing.T) {
	// Every integer score in the declared range resolves to exactly one band.
	tmpl := mustLoad(t, phq9Doc(t, nil))
	for score := tmpl.ScoreRange.Min; score <= tmpl.ScoreRange.Max; score++ {
		interp := Resolve(tmpl, score, nil)
		if interp == nil || interp.SeverityLevel == "" {
			t.Errorf("score %v did not resolve", score)
		}
	}
}

func TestResolve_Clamping(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, nil))

	high := Resolve(tmpl, 105, nil)
	if high.SeverityLevel != "severe" || !high.Clamped {
		t.Errorf("score above range: got %q clamped=%v, want severe clamped", high.SeverityLevel, high.Clamped)
	}

	low := Resolve(tmpl, -3, nil)
	if low.SeverityLevel != "minimal" || !low.Clamped {
		t.Errorf("score below range: got %q clamped=%v, want minimal clamped", low.SeverityLevel, low.Clamped)
	}
}

func TestResolve_FractionalGapFallsToLowerBand(t *testing.T) {
	// 4.5 sits between the minimal [0,4] and mild [5,9] bands; the severity
	// actually attained is the lower one.
	tmpl := mustLoad(t, phq9Doc(t, nil))
	interp := Resolve(tmpl, 4.5, nil)
	if interp.SeverityLevel != "minimal" || interp.Clamped {
		t.Errorf("Resolve(4.5) = %q clamped=%v, want minimal unclamped", interp.SeverityLevel, interp.Clamped)
	}
}

func TestResolve_NormedRules(t *testing.T) {
	tmpl := mustLoad(t, phq9Doc(t, map[string]interface{}{
		"normed_rules": []map[string]interface{}{
			{
				"min_age": 65,
				"rules": []map[string]interface{}{
					{"min_score": 0, "max_score": 9, "severity_level": "minimal", "label": "Minimal (65+)"},
					{"min_score": 10, "max_score": 27, "severity_level": "elevated", "label": "Elevated (65+)"},
				},
			},
		},
	}))

	// Default rules apply without demographics.
	if got := Resolve(tmpl, 7, nil).SeverityLevel; got != "mild" {
		t.Errorf("no demographics: got %q, want mild", got)
	}
	// A 70-year-old gets the age-normed cutoffs.
	if got := Resolve(tmpl, 7, &Demographics{Age: 70}).SeverityLevel; got != "minimal" {
		t.Errorf("age 70: got %q, want minimal", got)
	}
	// A 40-year-old falls through to the default rules.
	if got := Resolve(tmpl, 7, &Demographics{Age: 40}).SeverityLevel; got != "mild" {
		t.Errorf("age 40: got %q, want mild", got)
	}
}

func TestResolveSubscale(t *testing.T) {
	sub := Subscale{
		ID: "somatic", ItemNumbers: []int{1, 2, 3},
		ScoreRange: ScoreRange{Min: 0, Max: 9},
		Rules: []InterpretationRule{
			{MinScore: 0, MaxScore: 4, SeverityLevel: "low", Label: "Low"},
			{MinScore: 5, MaxScore: 9, SeverityLevel: "high", Label: "High"},
		},
	}
	if got := ResolveSubscale(sub, 6).SeverityLevel; got != "high" {
		t.Errorf("ResolveSubscale(6) = %q, want high", got)
	}
	if ResolveSubscale(Subscale{ID: "plain"}, 6) != nil {
		t.Error("subscale without rules should not resolve")
	}
}
