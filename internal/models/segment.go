package models

import "time"

// RuleField is a customer attribute a segment rule can filter on
type RuleField string

const (
	FieldTotalSpent       RuleField = "total_spent"
	FieldLastOrderDate    RuleField = "last_order_date"
	FieldTotalOrders      RuleField = "total_orders"
	FieldCity             RuleField = "city"
	FieldRegistrationDate RuleField = "registration_date"
)

// IsDate reports whether values for this field are timestamps
func (f RuleField) IsDate() bool {
	return f == FieldLastOrderDate || f == FieldRegistrationDate
}

// IsText reports whether the field holds free text that substring operators
// can search
func (f RuleField) IsText() bool {
	return f == FieldCity
}

// IsKnown reports whether the field is one of the filterable customer attributes
func (f RuleField) IsKnown() bool {
	switch f {
	case FieldTotalSpent, FieldLastOrderDate, FieldTotalOrders, FieldCity, FieldRegistrationDate:
		return true
	}
	return false
}

// RuleOperator represents a comparison applied by a rule
type RuleOperator string

const (
	OpGreater      RuleOperator = ">"
	OpLess         RuleOperator = "<"
	OpGreaterEqual RuleOperator = ">="
	OpLessEqual    RuleOperator = "<="
	OpEqual        RuleOperator = "="
	OpNotEqual     RuleOperator = "!="
	OpContains     RuleOperator = "contains"
	OpNotContains  RuleOperator = "not_contains"
	OpOlderThan    RuleOperator = "older_than"
)

// IsKnown reports whether the operator is supported by the rule compiler
func (o RuleOperator) IsKnown() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual,
		OpContains, OpNotContains, OpOlderThan:
		return true
	}
	return false
}

// RuleLogic joins a rule to the one that follows it
type RuleLogic string

const (
	LogicAnd RuleLogic = "AND"
	LogicOr  RuleLogic = "OR"
)

// Rule is a single segment condition.
// Logic on rule i decides how rule i+1 combines with the group ending at rule i.
type Rule struct {
	ID       string       `json:"id"`
	Field    RuleField    `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    interface{}  `json:"value"`
	Logic    RuleLogic    `json:"logic,omitempty"`
}

// Segment is an immutable, named audience definition.
// AudienceSize is computed at save time and is not kept in sync with later customer changes.
type Segment struct {
	ID           int64     `json:"-" db:"id"`
	SegmentID    string    `json:"segment_id" db:"segment_id"`
	Name         string    `json:"name" db:"name"`
	Description  *string   `json:"description,omitempty" db:"description"`
	Rules        []Rule    `json:"rules" db:"rules"`
	AudienceSize int       `json:"audience_size" db:"audience_size"`
	CreatedBy    *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
