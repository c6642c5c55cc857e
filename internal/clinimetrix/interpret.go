package clinimetrix

// Interpretation is the severity band a computed score landed in. Clamped is
// set when the score fell outside the declared range and was resolved to the
// nearest boundary band.
type Interpretation struct {
	SeverityLevel   string   `json:"severity_level"`
	Label           string   `json:"label"`
	Color           string   `json:"color,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Clamped         bool     `json:"clamped,omitempty"`
}

// Demographics optionally adjusts interpretation for scales with age- or
// sex-normed cutoffs. When absent the template's default rules apply.
type Demographics struct {
	Age int    `json:"age"`
	Sex string `json:"sex,omitempty"`
}

// Resolve maps a computed score onto exactly one interpretation band.
// Template validation guarantees the bands are contiguous and cover the
// declared range, so resolution never fails for an in-range score; an
// out-of-range score (possible with weighted or averaged methods) is clamped
// to the boundary band and annotated.
func Resolve(t *ScaleTemplate, score float64, demo *Demographics) *Interpretation {
	rules := t.rulesFor(demo)
	if len(rules) == 0 {
		return nil
	}
	return resolveIn(rules, score)
}

// ResolveSubscale resolves a single subscale's score against its own rules,
// when the template defines them.
func ResolveSubscale(sub Subscale, score float64) *Interpretation {
	if len(sub.Rules) == 0 {
		return nil
	}
	return resolveIn(sub.Rules, score)
}

// rulesFor selects the normed rule set matching the demographics, falling
// back to the default rules. First match wins; rule sets are checked in
// template order.
func (t *ScaleTemplate) rulesFor(demo *Demographics) []InterpretationRule {
	if demo == nil {
		return t.Rules
	}
	for _, ns := range t.NormedRules {
		if demo.Age < ns.MinAge {
			continue
		}
		if ns.MaxAge > 0 && demo.Age > ns.MaxAge {
			continue
		}
		if ns.Sex != "" && ns.Sex != demo.Sex {
			continue
		}
		return ns.Rules
	}
	return t.Rules
}

func resolveIn(rules []InterpretationRule, score float64) *Interpretation {
	first, last := rules[0], rules[0]
	for _, r := range rules {
		if r.MinScore < first.MinScore {
			first = r
		}
		if r.MaxScore > last.MaxScore {
			last = r
		}
		if score >= r.MinScore && score <= r.MaxScore {
			return fromRule(r, false)
		}
	}
	if score < first.MinScore {
		return fromRule(first, true)
	}
	if score > last.MaxScore {
		return fromRule(last, true)
	}
	// Fractional score in an integer gap between adjacent bands: resolve to
	// the band below it, which is the severity already attained.
	var below *InterpretationRule
	for i := range rules {
		r := &rules[i]
		if r.MaxScore < score && (below == nil || r.MaxScore > below.MaxScore) {
			below = r
		}
	}
	if below != nil {
		return fromRule(*below, false)
	}
	return fromRule(first, false)
}

func fromRule(r InterpretationRule, clamped bool) *Interpretation {
	return &Interpretation{
		SeverityLevel:   r.SeverityLevel,
		Label:           r.Label,
		Color:           r.Color,
		Recommendations: r.Recommendations,
		Clamped:         clamped,
	}
}
