// Package rules compiles segment rules into audience predicates that can be
// evaluated in memory or rendered as a SQL filter over the customers table.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"minicrm/internal/models"
)

// Predicate is a compiled audience filter over customer records
type Predicate interface {
	Matches(c *models.Customer) bool
}

// MatchAll matches every customer. It is the result of an empty rule set and
// the condition contributed by a rule with an unknown operator.
type MatchAll struct{}

// Matches always returns true
func (MatchAll) Matches(*models.Customer) bool { return true }

// And matches when every term matches
type And []Predicate

// Matches evaluates the conjunction
func (a And) Matches(c *models.Customer) bool {
	for _, p := range a {
		if !p.Matches(c) {
			return false
		}
	}
	return true
}

// Or matches when any term matches
type Or []Predicate

// Matches evaluates the disjunction
func (o Or) Matches(c *models.Customer) bool {
	for _, p := range o {
		if p.Matches(c) {
			return true
		}
	}
	return false
}

// Condition compares one customer field against a coerced value.
// older_than rules compile to OpLess against the computed cutoff.
type Condition struct {
	Field    models.RuleField
	Operator models.RuleOperator
	Value    interface{}
}

// Matches evaluates the condition against a customer
func (c Condition) Matches(cust *models.Customer) bool {
	if cust == nil {
		return false
	}

	switch c.Operator {
	case models.OpContains:
		text, ok := fieldText(cust, c.Field)
		return ok && containsFold(text, valueText(c.Value))
	case models.OpNotContains:
		text, ok := fieldText(cust, c.Field)
		return !ok || !containsFold(text, valueText(c.Value))
	}

	cmp, ok := compareField(cust, c.Field, c.Value)
	if !ok {
		// Missing fields and mismatched types only satisfy "!="
		return c.Operator == models.OpNotEqual
	}

	switch c.Operator {
	case models.OpGreater:
		return cmp > 0
	case models.OpLess:
		return cmp < 0
	case models.OpGreaterEqual:
		return cmp >= 0
	case models.OpLessEqual:
		return cmp <= 0
	case models.OpEqual:
		return cmp == 0
	case models.OpNotEqual:
		return cmp != 0
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// compareField returns -1, 0 or 1 comparing the customer's field to value.
// ok is false when the field is absent or the value has the wrong type.
func compareField(cust *models.Customer, field models.RuleField, value interface{}) (int, bool) {
	switch field {
	case models.FieldTotalSpent:
		v, ok := value.(float64)
		if !ok {
			return 0, false
		}
		return compareFloat(cust.TotalSpent.InexactFloat64(), v), true
	case models.FieldTotalOrders:
		v, ok := value.(float64)
		if !ok {
			return 0, false
		}
		return compareFloat(float64(cust.TotalOrders), v), true
	case models.FieldCity:
		if cust.City == nil {
			return 0, false
		}
		return strings.Compare(*cust.City, valueText(value)), true
	case models.FieldLastOrderDate:
		v, ok := value.(time.Time)
		if !ok || cust.LastOrderDate == nil {
			return 0, false
		}
		return cust.LastOrderDate.Compare(v), true
	case models.FieldRegistrationDate:
		v, ok := value.(time.Time)
		if !ok {
			return 0, false
		}
		return cust.RegistrationDate.Compare(v), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// fieldText returns the text searched by substring operators. Only text
// fields are searchable; other fields report ok=false.
func fieldText(cust *models.Customer, field models.RuleField) (string, bool) {
	if field != models.FieldCity || cust.City == nil {
		return "", false
	}
	return *cust.City, true
}

// valueText formats a rule value the way text columns see it
func valueText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case nil:
		return ""
	}
	return fmt.Sprint(value)
}
