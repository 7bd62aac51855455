package stepflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCondition(t *testing.T) {
	data := map[string]any{
		"amount":   float64(1500),
		"currency": "EUR",
		"count":    3,
		"approved": true,
		"customer": map[string]any{
			"tier":    "gold",
			"country": "DE",
		},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq number", Condition{Field: "amount", Operator: OpEq, Value: 1500}, true},
		{"eq number mismatch", Condition{Field: "amount", Operator: OpEq, Value: 1501}, false},
		{"eq int against float", Condition{Field: "count", Operator: OpEq, Value: float64(3)}, true},
		{"eq string", Condition{Field: "currency", Operator: OpEq, Value: "EUR"}, true},
		{"eq bool", Condition{Field: "approved", Operator: OpEq, Value: true}, true},
		{"ne", Condition{Field: "currency", Operator: OpNe, Value: "USD"}, true},
		{"gt", Condition{Field: "amount", Operator: OpGt, Value: 1000}, true},
		{"gt equal is false", Condition{Field: "amount", Operator: OpGt, Value: 1500}, false},
		{"gte equal", Condition{Field: "amount", Operator: OpGte, Value: 1500}, true},
		{"lt", Condition{Field: "count", Operator: OpLt, Value: 10}, true},
		{"lte", Condition{Field: "count", Operator: OpLte, Value: 3}, true},
		{"numeric string coerces", Condition{Field: "amount", Operator: OpGt, Value: "999"}, true},
		{"gt non-numeric is false", Condition{Field: "currency", Operator: OpGt, Value: 10}, false},
		{"contains", Condition{Field: "currency", Operator: OpContains, Value: "EU"}, true},
		{"contains number coerced", Condition{Field: "amount", Operator: OpContains, Value: "500"}, true},
		{"in", Condition{Field: "currency", Operator: OpIn, Value: []any{"USD", "EUR"}}, true},
		{"in miss", Condition{Field: "currency", Operator: OpIn, Value: []any{"USD", "GBP"}}, false},
		{"in non-slice is false", Condition{Field: "currency", Operator: OpIn, Value: "EUR"}, false},
		{"not_in", Condition{Field: "currency", Operator: OpNotIn, Value: []any{"USD", "GBP"}}, true},
		{"not_in member", Condition{Field: "currency", Operator: OpNotIn, Value: []any{"EUR"}}, false},
		{"not_in non-slice is false", Condition{Field: "currency", Operator: OpNotIn, Value: "USD"}, false},
		{"dot path", Condition{Field: "customer.tier", Operator: OpEq, Value: "gold"}, true},
		{"dot path miss", Condition{Field: "customer.segment", Operator: OpEq, Value: "gold"}, false},
		{"missing field", Condition{Field: "ghost", Operator: OpEq, Value: "x"}, false},
		{"missing field ne", Condition{Field: "ghost", Operator: OpNe, Value: "x"}, true},
		{"unknown operator", Condition{Field: "amount", Operator: ConditionOperator("xor"), Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(tt.cond, data))
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	data := map[string]any{"amount": 200, "currency": "EUR"}

	both := []Condition{
		{Field: "amount", Operator: OpGt, Value: 100},
		{Field: "currency", Operator: OpEq, Value: "EUR"},
	}
	assert.True(t, EvaluateAll(both, data))

	oneFails := []Condition{
		{Field: "amount", Operator: OpGt, Value: 100},
		{Field: "currency", Operator: OpEq, Value: "USD"},
	}
	assert.False(t, EvaluateAll(oneFails, data))

	assert.True(t, EvaluateAll(nil, data), "empty condition set always passes")
}
