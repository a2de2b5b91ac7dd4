package rules

import (
	"fmt"

	"minicrm/internal/models"
)

// Validate checks that a rule set can be compiled into a meaningful filter.
// Unknown operators are allowed; they compile to MatchAll.
func Validate(rules []models.Rule) error {
	for i, rule := range rules {
		if !rule.Field.IsKnown() {
			return fmt.Errorf("rule %d: unknown field %q", i+1, rule.Field)
		}
		if rule.Logic != "" && rule.Logic != models.LogicAnd && rule.Logic != models.LogicOr {
			return fmt.Errorf("rule %d: logic must be AND or OR", i+1)
		}
		if rule.Value == nil {
			return fmt.Errorf("rule %d: value is required", i+1)
		}

		switch {
		case rule.Operator == models.OpContains || rule.Operator == models.OpNotContains:
			if !rule.Field.IsText() {
				return fmt.Errorf("rule %d: %s applies to text fields only", i+1, rule.Operator)
			}
		case rule.Operator == models.OpOlderThan:
			if days, ok := toNumber(rule.Value); !ok || days < 0 {
				return fmt.Errorf("rule %d: older_than expects a non-negative number of days", i+1)
			}
			if !rule.Field.IsDate() {
				return fmt.Errorf("rule %d: older_than applies to date fields only", i+1)
			}
		case rule.Field.IsDate() && rule.Operator.IsKnown():
			if _, ok := toTime(rule.Value); !ok {
				return fmt.Errorf("rule %d: %q is not a valid date", i+1, valueText(rule.Value))
			}
		}
	}
	return nil
}

// UnknownOperators lists operators that will compile to a no-op condition
func UnknownOperators(rules []models.Rule) []models.RuleOperator {
	var unknown []models.RuleOperator
	for _, rule := range rules {
		if !rule.Operator.IsKnown() {
			unknown = append(unknown, rule.Operator)
		}
	}
	return unknown
}
