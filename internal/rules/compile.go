package rules

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"minicrm/internal/models"
)

const day = 24 * time.Hour

// Compile turns an ordered rule sequence into a predicate, resolving
// older_than rules against the current time.
func Compile(rules []models.Rule) Predicate {
	return CompileAt(rules, time.Now())
}

// CompileAt is Compile with an explicit reference time.
//
// Rules are scanned left to right into AND groups. A rule whose Logic is OR
// closes the group it ends and the next rule opens a new one. Groups with more
// than one member are wrapped in And; a single resulting group is returned as
// is, otherwise the groups are combined with Or.
func CompileAt(rules []models.Rule, now time.Time) Predicate {
	if len(rules) == 0 {
		return MatchAll{}
	}

	conditions := make([]Predicate, len(rules))
	for i, rule := range rules {
		conditions[i] = compileRule(rule, now)
	}

	var groups []Predicate
	current := []Predicate{conditions[0]}
	for i := 1; i < len(rules); i++ {
		if rules[i-1].Logic == models.LogicOr {
			groups = append(groups, closeGroup(current))
			current = []Predicate{conditions[i]}
			continue
		}
		current = append(current, conditions[i])
	}
	groups = append(groups, closeGroup(current))

	if len(groups) == 1 {
		return groups[0]
	}
	return Or(groups)
}

func closeGroup(group []Predicate) Predicate {
	if len(group) == 1 {
		return group[0]
	}
	return And(group)
}

func compileRule(rule models.Rule, now time.Time) Predicate {
	switch rule.Operator {
	case models.OpGreater, models.OpLess, models.OpGreaterEqual, models.OpLessEqual,
		models.OpEqual, models.OpNotEqual:
		return Condition{Field: rule.Field, Operator: rule.Operator, Value: coerceValue(rule.Field, rule.Value)}
	case models.OpContains, models.OpNotContains:
		return Condition{Field: rule.Field, Operator: rule.Operator, Value: rule.Value}
	case models.OpOlderThan:
		days, ok := toNumber(rule.Value)
		if !ok {
			return Condition{Field: rule.Field, Operator: models.OpLess, Value: rule.Value}
		}
		cutoff := now.Add(-time.Duration(days * float64(day)))
		return Condition{Field: rule.Field, Operator: models.OpLess, Value: cutoff}
	default:
		return MatchAll{}
	}
}

// coerceValue converts a raw rule value: date fields become timestamps,
// numeric-looking strings become numbers, anything else is kept as is.
func coerceValue(field models.RuleField, value interface{}) interface{} {
	if field.IsDate() {
		if t, ok := toTime(value); ok {
			return t
		}
		return value
	}
	if n, ok := toNumber(value); ok {
		return n
	}
	return value
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	// Numbers are epoch milliseconds
	if ms, ok := toNumber(value); ok {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}
