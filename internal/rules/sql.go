package rules

import (
	"fmt"
	"strings"
	"time"

	"minicrm/internal/models"
)

type columnKind int

const (
	kindNumber columnKind = iota
	kindText
	kindTime
)

// columns whitelists the customer columns rules may reference
var columns = map[models.RuleField]columnKind{
	models.FieldTotalSpent:       kindNumber,
	models.FieldTotalOrders:      kindNumber,
	models.FieldCity:             kindText,
	models.FieldLastOrderDate:    kindTime,
	models.FieldRegistrationDate: kindTime,
}

var comparators = map[models.RuleOperator]string{
	models.OpGreater:      ">",
	models.OpLess:         "<",
	models.OpGreaterEqual: ">=",
	models.OpLessEqual:    "<=",
	models.OpEqual:        "=",
	models.OpNotEqual:     "IS DISTINCT FROM",
}

// Where renders a predicate as a SQL boolean expression over the customers
// table. Placeholders are numbered from argOffset+1.
func Where(p Predicate, argOffset int) (string, []interface{}) {
	b := &sqlBuilder{offset: argOffset}
	return b.render(p), b.args
}

type sqlBuilder struct {
	offset int
	args   []interface{}
}

func (b *sqlBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", b.offset+len(b.args))
}

func (b *sqlBuilder) render(p Predicate) string {
	switch v := p.(type) {
	case nil, MatchAll, *MatchAll:
		return "TRUE"
	case And:
		return b.join(v, " AND ", "TRUE")
	case Or:
		return b.join(v, " OR ", "FALSE")
	case Condition:
		return b.condition(v)
	case *Condition:
		return b.condition(*v)
	}
	return "FALSE"
}

func (b *sqlBuilder) join(terms []Predicate, sep, empty string) string {
	if len(terms) == 0 {
		return empty
	}
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = b.render(term)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (b *sqlBuilder) condition(c Condition) string {
	kind, ok := columns[c.Field]
	if !ok {
		return "FALSE"
	}
	col := string(c.Field)

	switch c.Operator {
	case models.OpContains:
		if kind != kindText {
			return "FALSE"
		}
		return fmt.Sprintf("(%s IS NOT NULL AND %s ILIKE %s)", col, col, b.bind(likePattern(c.Value)))
	case models.OpNotContains:
		if kind != kindText {
			return "TRUE"
		}
		return fmt.Sprintf("(%s IS NULL OR %s NOT ILIKE %s)", col, col, b.bind(likePattern(c.Value)))
	}

	op, ok := comparators[c.Operator]
	if !ok {
		return "TRUE"
	}

	arg, ok := columnValue(kind, c.Value)
	if !ok {
		if c.Operator == models.OpNotEqual {
			return "TRUE"
		}
		return "FALSE"
	}
	return fmt.Sprintf("%s %s %s", col, op, b.bind(arg))
}

// columnValue adapts a coerced rule value to the column type so the query never
// asks Postgres to cast an incompatible literal.
func columnValue(kind columnKind, value interface{}) (interface{}, bool) {
	switch kind {
	case kindNumber:
		v, ok := value.(float64)
		return v, ok
	case kindTime:
		v, ok := value.(time.Time)
		return v, ok
	case kindText:
		return valueText(value), true
	}
	return nil, false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(value interface{}) string {
	return "%" + likeEscaper.Replace(valueText(value)) + "%"
}
