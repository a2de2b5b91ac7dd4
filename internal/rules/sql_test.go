package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"minicrm/internal/models"
)

func TestWhere_MatchAll(t *testing.T) {
	clause, args := Where(MatchAll{}, 0)

	assert.Equal(t, "TRUE", clause)
	assert.Empty(t, args)
}

func TestWhere_GroupedRules(t *testing.T) {
	rules := []models.Rule{
		rule(models.FieldTotalSpent, models.OpGreater, "5000", models.LogicAnd),
		rule(models.FieldTotalOrders, models.OpGreater, 3, models.LogicOr),
		rule(models.FieldCity, models.OpContains, "50%_off", ""),
	}

	clause, args := Where(CompileAt(rules, refTime), 2)

	assert.Equal(t, "((total_spent > $3 AND total_orders > $4) OR (city IS NOT NULL AND city ILIKE $5))", clause)
	assert.Equal(t, []interface{}{float64(5000), float64(3), `%50\%\_off%`}, args)
}

func TestWhere_NotEqualAndMismatch(t *testing.T) {
	clause, args := Where(And{
		Condition{models.FieldCity, models.OpNotEqual, "Pune"},
		Condition{models.FieldTotalSpent, models.OpGreater, "lots"},
		Condition{models.FieldTotalSpent, models.OpNotEqual, "lots"},
		Condition{"age", models.OpGreater, float64(1)},
	}, 0)

	assert.Equal(t, "(city IS DISTINCT FROM $1 AND FALSE AND TRUE AND FALSE)", clause)
	assert.Equal(t, []interface{}{"Pune"}, args)
}

func TestWhere_OlderThanBindsCutoff(t *testing.T) {
	clause, args := Where(CompileAt([]models.Rule{rule(models.FieldLastOrderDate, models.OpOlderThan, 7, "")}, refTime), 0)

	assert.Equal(t, "last_order_date < $1", clause)
	assert.Equal(t, []interface{}{refTime.AddDate(0, 0, -7)}, args)
}

func TestWhere_NotContains(t *testing.T) {
	clause, args := Where(Condition{models.FieldCity, models.OpNotContains, "Pune"}, 1)

	assert.Equal(t, "(city IS NULL OR city NOT ILIKE $2)", clause)
	assert.Equal(t, []interface{}{"%Pune%"}, args)
}
