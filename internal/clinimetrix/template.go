package clinimetrix

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ScoringMethod declares how a scale's aggregate score is computed.
type ScoringMethod string

const (
	MethodSum         ScoringMethod = "sum"
	MethodWeightedSum ScoringMethod = "weighted_sum"
	MethodAverage     ScoringMethod = "average"
	MethodSubscales   ScoringMethod = "subscales"
	MethodAlgorithm   ScoringMethod = "algorithm"
)

// ScoreRange is the declared inclusive bounds of a computed score.
type ScoreRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ResponseOption is a selectable answer carrying a numeric score.
type ResponseOption struct {
	Value string  `json:"value"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Item is a single question within a scale. Options is the per-item override
// set; when nil the template-level options apply.
type Item struct {
	ID             string           `json:"id"`
	Number         int              `json:"number"`
	Text           string           `json:"text"`
	ReverseScored  bool             `json:"reverse_scored"`
	Weight         float64          `json:"weight"`
	AlertTrigger   bool             `json:"alert_trigger"`
	AlertCondition *Condition       `json:"-"`
	Options        []ResponseOption `json:"options,omitempty"`
}

// InterpretationRule maps an inclusive score range to a severity band.
type InterpretationRule struct {
	MinScore        float64  `json:"min_score"`
	MaxScore        float64  `json:"max_score"`
	SeverityLevel   string   `json:"severity_level"`
	Label           string   `json:"label"`
	Color           string   `json:"color,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// NormedRuleSet is an alternative set of interpretation rules applied when
// the assessment context matches the demographic selector. Zero MaxAge means
// no upper bound; empty Sex matches any.
type NormedRuleSet struct {
	MinAge int                  `json:"min_age"`
	MaxAge int                  `json:"max_age"`
	Sex    string               `json:"sex,omitempty"`
	Rules  []InterpretationRule `json:"rules"`
}

// Subscale is a named subset of items scored independently. Rules, when
// present, enable subscale-level interpretation.
type Subscale struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	ItemNumbers []int                `json:"item_numbers"`
	ScoreRange  ScoreRange           `json:"score_range"`
	Rules       []InterpretationRule `json:"rules,omitempty"`
}

// ScaleTemplate is an immutable, validated scale definition. Templates are
// content-addressed: ContentHash is the SHA-256 of the raw document, so a
// historical result can always be re-checked against the exact version that
// produced it. No field is mutated after LoadTemplate returns.
type ScaleTemplate struct {
	ID                  string
	Abbreviation        string
	Name                string
	Version             string
	ContentHash         string
	TotalItems          int
	ScoringMethod       ScoringMethod
	ScoreRange          ScoreRange
	ProRateSkipped      bool
	Precision           int
	SubscaleTotal       bool
	ResponseTimeFloorMs int
	Items               []Item
	Options             []ResponseOption
	Subscales           []Subscale
	Rules               []InterpretationRule
	NormedRules         []NormedRuleSet

	itemsByID map[string]*Item
}

// rawTemplate is the on-the-wire template document. Alert conditions arrive
// as strings and option scores as raw JSON so that non-numeric scores are
// rejected with a per-option diagnostic rather than silently coerced.
type rawTemplate struct {
	ID                  string          `json:"id"`
	Abbreviation        string          `json:"abbreviation"`
	Name                string          `json:"name"`
	Version             string          `json:"version"`
	TotalItems          int             `json:"total_items"`
	ScoringMethod       string          `json:"scoring_method"`
	ScoreRange          ScoreRange      `json:"score_range"`
	ProRateSkipped      bool            `json:"pro_rate_skipped"`
	Precision           *int            `json:"precision,omitempty"`
	SubscaleTotal       bool            `json:"subscale_total"`
	ResponseTimeFloorMs int             `json:"response_time_floor_ms"`
	Items               []rawItem       `json:"items"`
	Options             []rawOption     `json:"response_options"`
	Subscales           []Subscale      `json:"subscales,omitempty"`
	Rules               []InterpretationRule `json:"interpretation_rules"`
	NormedRules         []NormedRuleSet `json:"normed_rules,omitempty"`
}

type rawItem struct {
	ID             string      `json:"id"`
	Number         int         `json:"number"`
	Text           string      `json:"text"`
	ReverseScored  bool        `json:"reverse_scored"`
	Weight         *float64    `json:"weight,omitempty"`
	AlertTrigger   bool        `json:"alert_trigger"`
	AlertCondition *string     `json:"alert_condition,omitempty"`
	Options        []rawOption `json:"options,omitempty"`
}

type rawOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	// Score is decoded lazily so a non-numeric value is reported against
	// the owning option instead of aborting the whole document parse.
	Score json.RawMessage `json:"score"`
}

// DefaultPrecision is the rounding precision for pro-rated and averaged
// scores when the template does not declare one.
const DefaultPrecision = 2

var validMethods = map[ScoringMethod]bool{
	MethodSum: true, MethodWeightedSum: true, MethodAverage: true,
	MethodSubscales: true, MethodAlgorithm: true,
}

// LoadTemplate parses and validates a raw template document. It is a pure
// function with no side effects; a template that loads successfully is safe
// to score against. All structural violations return *TemplateValidationError.
func LoadTemplate(raw []byte) (*ScaleTemplate, error) {
	var doc rawTemplate
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, templateErr("", "malformed document: %v", err)
	}
	if doc.ID == "" {
		return nil, templateErr("", "id is required")
	}
	if doc.Abbreviation == "" {
		return nil, templateErr(doc.ID, "abbreviation is required")
	}
	if doc.Version == "" {
		return nil, templateErr(doc.ID, "version is required")
	}

	method := ScoringMethod(doc.ScoringMethod)
	if !validMethods[method] {
		return nil, templateErr(doc.ID, "unknown scoring method %q", doc.ScoringMethod)
	}
	if len(doc.Items) == 0 {
		return nil, templateErr(doc.ID, "at least one item is required")
	}
	if doc.TotalItems != 0 && doc.TotalItems != len(doc.Items) {
		return nil, templateErr(doc.ID, "total_items is %d but %d items are defined", doc.TotalItems, len(doc.Items))
	}
	if doc.ScoreRange.Max < doc.ScoreRange.Min {
		return nil, templateErr(doc.ID, "score_range max %v is below min %v", doc.ScoreRange.Max, doc.ScoreRange.Min)
	}

	globalOpts, err := convertOptions(doc.ID, doc.Options)
	if err != nil {
		return nil, err
	}

	t := &ScaleTemplate{
		ID:                  doc.ID,
		Abbreviation:        doc.Abbreviation,
		Name:                doc.Name,
		Version:             doc.Version,
		TotalItems:          len(doc.Items),
		ScoringMethod:       method,
		ScoreRange:          doc.ScoreRange,
		ProRateSkipped:      doc.ProRateSkipped,
		Precision:           DefaultPrecision,
		SubscaleTotal:       doc.SubscaleTotal,
		ResponseTimeFloorMs: doc.ResponseTimeFloorMs,
		Options:             globalOpts,
		Subscales:           doc.Subscales,
		Rules:               doc.Rules,
		NormedRules:         doc.NormedRules,
		itemsByID:           make(map[string]*Item, len(doc.Items)),
	}
	if doc.Precision != nil {
		if *doc.Precision < 0 {
			return nil, templateErr(doc.ID, "precision must not be negative")
		}
		t.Precision = *doc.Precision
	}

	if err := t.loadItems(doc.Items); err != nil {
		return nil, err
	}
	if err := t.validateSubscales(); err != nil {
		return nil, err
	}
	if err := t.validateRules(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	t.ContentHash = hex.EncodeToString(sum[:])
	return t, nil
}

func (t *ScaleTemplate) loadItems(items []rawItem) error {
	t.Items = make([]Item, 0, len(items))
	seenNumbers := make(map[int]bool, len(items))
	for _, ri := range items {
		if ri.ID == "" {
			return templateErr(t.ID, "item %d has no id", ri.Number)
		}
		if seenNumbers[ri.Number] {
			return templateErr(t.ID, "duplicate item number %d", ri.Number)
		}
		seenNumbers[ri.Number] = true

		item := Item{
			ID:            ri.ID,
			Number:        ri.Number,
			Text:          ri.Text,
			ReverseScored: ri.ReverseScored,
			Weight:        1,
			AlertTrigger:  ri.AlertTrigger,
		}
		if ri.Weight != nil {
			item.Weight = *ri.Weight
		}
		if len(ri.Options) > 0 {
			opts, err := convertOptions(t.ID, ri.Options)
			if err != nil {
				return err
			}
			item.Options = opts
		} else if len(t.Options) == 0 {
			return templateErr(t.ID, "item %q has no response options and no global set is defined", ri.ID)
		}
		if ri.AlertTrigger {
			if ri.AlertCondition == nil || *ri.AlertCondition == "" {
				return templateErr(t.ID, "item %q has alert_trigger but no alert_condition", ri.ID)
			}
			cond, err := ParseCondition(*ri.AlertCondition)
			if err != nil {
				return templateErr(t.ID, "item %q: %v", ri.ID, err)
			}
			item.AlertCondition = cond
		}
		if _, dup := t.itemsByID[item.ID]; dup {
			return templateErr(t.ID, "duplicate item id %q", item.ID)
		}
		t.Items = append(t.Items, item)
	}

	// Item numbers must be contiguous starting at 1.
	for n := 1; n <= len(items); n++ {
		if !seenNumbers[n] {
			return templateErr(t.ID, "item numbers must be contiguous from 1; missing %d", n)
		}
	}

	sort.Slice(t.Items, func(i, j int) bool { return t.Items[i].Number < t.Items[j].Number })
	for i := range t.Items {
		t.itemsByID[t.Items[i].ID] = &t.Items[i]
	}
	return nil
}

func (t *ScaleTemplate) validateSubscales() error {
	if t.ScoringMethod == MethodSubscales && len(t.Subscales) == 0 {
		return templateErr(t.ID, "scoring method is subscales but no subscales are defined")
	}
	seen := make(map[string]bool, len(t.Subscales))
	for _, sub := range t.Subscales {
		if sub.ID == "" {
			return templateErr(t.ID, "subscale %q has no id", sub.Name)
		}
		if seen[sub.ID] {
			return templateErr(t.ID, "duplicate subscale id %q", sub.ID)
		}
		seen[sub.ID] = true
		if len(sub.ItemNumbers) == 0 {
			return templateErr(t.ID, "subscale %q has no items", sub.ID)
		}
		for _, n := range sub.ItemNumbers {
			if n < 1 || n > len(t.Items) {
				return templateErr(t.ID, "subscale %q references item %d which does not exist", sub.ID, n)
			}
		}
		if len(sub.Rules) > 0 {
			if err := checkRuleCoverage(t.ID, "subscale "+sub.ID, sub.Rules, sub.ScoreRange); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *ScaleTemplate) validateRules() error {
	// A subscales-only template with no overall total needs no top-level rules.
	if len(t.Rules) == 0 {
		if t.ScoringMethod == MethodSubscales && !t.SubscaleTotal {
			return nil
		}
		return templateErr(t.ID, "interpretation_rules are required")
	}
	if err := checkRuleCoverage(t.ID, "template", t.Rules, t.ScoreRange); err != nil {
		return err
	}
	for _, ns := range t.NormedRules {
		if err := checkRuleCoverage(t.ID, "normed rule set", ns.Rules, t.ScoreRange); err != nil {
			return err
		}
	}
	return nil
}

// checkRuleCoverage enforces the band invariant: rules ordered by min_score,
// with neither overlaps nor gaps, and together spanning the full score range.
func checkRuleCoverage(scaleID, scope string, rules []InterpretationRule, rng ScoreRange) error {
	if len(rules) == 0 {
		return templateErr(scaleID, "%s has no interpretation rules", scope)
	}
	sorted := make([]InterpretationRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })

	for i, r := range sorted {
		if r.MaxScore < r.MinScore {
			return templateErr(scaleID, "%s: band %q has max %v below min %v", scope, r.Label, r.MaxScore, r.MinScore)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if r.MinScore <= prev.MaxScore {
			return templateErr(scaleID, "%s: bands %q and %q overlap", scope, prev.Label, r.Label)
		}
	}
	if sorted[0].MinScore > rng.Min {
		return templateErr(scaleID, "%s: bands do not cover the range minimum %v", scope, rng.Min)
	}
	if sorted[len(sorted)-1].MaxScore < rng.Max {
		return templateErr(scaleID, "%s: bands do not cover the range maximum %v", scope, rng.Max)
	}
	// Gap check on the integer lattice: every whole score in range must land
	// in exactly one band. Fractional scores between adjacent integer bands
	// resolve to the lower band (see Resolve).
	for s := rng.Min; s <= rng.Max; s++ {
		count := 0
		for _, r := range sorted {
			if s >= r.MinScore && s <= r.MaxScore {
				count++
			}
		}
		if count != 1 {
			return templateErr(scaleID, "%s: score %v is covered by %d bands, want exactly 1", scope, s, count)
		}
	}
	return nil
}

func convertOptions(scaleID string, raw []rawOption) ([]ResponseOption, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]ResponseOption, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, ro := range raw {
		if ro.Value == "" {
			return nil, templateErr(scaleID, "response option with empty value")
		}
		if seen[ro.Value] {
			return nil, templateErr(scaleID, "duplicate response option value %q", ro.Value)
		}
		seen[ro.Value] = true
		var score float64
		if err := json.Unmarshal(ro.Score, &score); err != nil {
			return nil, templateErr(scaleID, "response option %q has non-numeric score %s", ro.Value, string(ro.Score))
		}
		out = append(out, ResponseOption{Value: ro.Value, Label: ro.Label, Score: score})
	}
	return out, nil
}

// ItemByID returns the item with the given id, or nil.
func (t *ScaleTemplate) ItemByID(id string) *Item {
	return t.itemsByID[id]
}

// ItemByNumber returns the item with the given 1-based number, or nil.
func (t *ScaleTemplate) ItemByNumber(n int) *Item {
	if n < 1 || n > len(t.Items) {
		return nil
	}
	return &t.Items[n-1]
}

// OptionsFor returns the response options in effect for an item: the item's
// own override set when present, otherwise the template-level set.
func (t *ScaleTemplate) OptionsFor(item *Item) []ResponseOption {
	if len(item.Options) > 0 {
		return item.Options
	}
	return t.Options
}

// OptionScore looks up the score for a response value on an item.
func (t *ScaleTemplate) OptionScore(item *Item, value string) (float64, bool) {
	for _, opt := range t.OptionsFor(item) {
		if opt.Value == value {
			return opt.Score, true
		}
	}
	return 0, false
}

// MaxOptionScore returns the highest option score for an item. Reverse-scored
// items contribute MaxOptionScore - score.
func (t *ScaleTemplate) MaxOptionScore(item *Item) float64 {
	opts := t.OptionsFor(item)
	if len(opts) == 0 {
		return 0
	}
	max := opts[0].Score
	for _, opt := range opts[1:] {
		if opt.Score > max {
			max = opt.Score
		}
	}
	return max
}
