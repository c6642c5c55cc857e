package clinimetrix

// Alert is a clinically significant single-item finding, independent of the
// aggregate score. The canonical example is a suicidality screening item
// flagging any nonzero answer.
type Alert struct {
	ItemID     string  `json:"item_id"`
	ItemNumber int     `json:"item_number"`
	Reason     string  `json:"reason"`
	Score      float64 `json:"score"`
}

// EvaluateAlerts checks every alert-trigger item's condition against the
// respondent's actual answer. It runs regardless of completeness, but a
// skipped or unanswered item never triggers: absence is not a positive
// finding. Alerts are returned in item-number order.
func EvaluateAlerts(t *ScaleTemplate, rs *ResponseSet) []Alert {
	var alerts []Alert
	for i := range t.Items {
		item := &t.Items[i]
		if !item.AlertTrigger || item.AlertCondition == nil {
			continue
		}
		score, ok := EffectiveScore(t, item, rs)
		if !ok {
			continue
		}
		if item.AlertCondition.Eval(score) {
			alerts = append(alerts, Alert{
				ItemID:     item.ID,
				ItemNumber: item.Number,
				Reason:     item.AlertCondition.String(),
				Score:      score,
			})
		}
	}
	return alerts
}
