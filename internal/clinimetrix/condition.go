package clinimetrix

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareOp is a comparison operator in an alert condition.
type CompareOp string

const (
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
	OpEQ  CompareOp = "=="
	OpNE  CompareOp = "!="
)

// Condition is an alert condition parsed from a template expression such as
// "score > 0". The language is deliberately closed: a single comparison of
// the item's effective score against a numeric literal. Conditions are parsed
// once at template load, never evaluated as code.
type Condition struct {
	Op      CompareOp
	Operand float64
}

// ParseCondition parses a declarative alert expression. The accepted grammar
// is: "score" <op> <number>, with optional whitespace. Operators longer
// first so ">=" is not read as ">" followed by "=".
func ParseCondition(expr string) (*Condition, error) {
	s := strings.TrimSpace(expr)
	if !strings.HasPrefix(s, "score") {
		return nil, fmt.Errorf("condition %q must compare against \"score\"", expr)
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "score"))

	var op CompareOp
	for _, candidate := range []CompareOp{OpGTE, OpLTE, OpEQ, OpNE, OpGT, OpLT} {
		if strings.HasPrefix(s, string(candidate)) {
			op = candidate
			s = strings.TrimSpace(strings.TrimPrefix(s, string(candidate)))
			break
		}
	}
	if op == "" {
		// "=" is a common author shorthand for "==".
		if strings.HasPrefix(s, "=") {
			op = OpEQ
			s = strings.TrimSpace(strings.TrimPrefix(s, "="))
		} else {
			return nil, fmt.Errorf("condition %q has no comparison operator", expr)
		}
	}

	operand, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("condition %q has non-numeric operand %q", expr, s)
	}
	return &Condition{Op: op, Operand: operand}, nil
}

// Eval evaluates the condition against an item's effective score.
func (c *Condition) Eval(score float64) bool {
	switch c.Op {
	case OpGT:
		return score > c.Operand
	case OpGTE:
		return score >= c.Operand
	case OpLT:
		return score < c.Operand
	case OpLTE:
		return score <= c.Operand
	case OpEQ:
		return score == c.Operand
	case OpNE:
		return score != c.Operand
	}
	return false
}

// String renders the condition in canonical form, e.g. "score > 0".
func (c *Condition) String() string {
	return fmt.Sprintf("score %s %s", c.Op, strconv.FormatFloat(c.Operand, 'f', -1, 64))
}
