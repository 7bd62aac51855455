package stepflow

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EvaluateCondition applies a single branching predicate to the execution
// data. It is a pure function and never fails: unresolvable fields,
// non-coercible operands and unknown operators all evaluate to false.
func EvaluateCondition(cond Condition, data map[string]any) bool {
	fieldValue, _ := lookupPath(data, cond.Field)

	switch cond.Operator {
	case OpEq:
		return looseEqual(fieldValue, cond.Value)
	case OpNe:
		return !looseEqual(fieldValue, cond.Value)
	case OpGt:
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a > b })
	case OpGte:
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a >= b })
	case OpLt:
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a < b })
	case OpLte:
		return compareNumeric(fieldValue, cond.Value, func(a, b float64) bool { return a <= b })
	case OpContains:
		return strings.Contains(coerceString(fieldValue), coerceString(cond.Value))
	case OpIn:
		return memberOf(fieldValue, cond.Value)
	case OpNotIn:
		if !isSlice(cond.Value) {
			return false
		}

		return !memberOf(fieldValue, cond.Value)
	default:
		return false
	}
}

// EvaluateAll reports whether every condition in the set passes.
func EvaluateAll(conds []Condition, data map[string]any) bool {
	for _, cond := range conds {
		if !EvaluateCondition(cond, data) {
			return false
		}
	}

	return true
}

// looseEqual compares numerically when both sides coerce to numbers,
// otherwise by string representation. JSON decoding turns every number
// into float64, so a typed literal in a definition still matches.
func looseEqual(a, b any) bool {
	fa, aok := coerceFloat(a)
	fb, bok := coerceFloat(b)
	if aok && bok {
		return fa == fb
	}

	return coerceString(a) == coerceString(b)
}

func compareNumeric(a, b any, cmp func(a, b float64) bool) bool {
	fa, aok := coerceFloat(a)
	fb, bok := coerceFloat(b)
	if !aok || !bok {
		return false
	}

	return cmp(fa, fb)
}

func memberOf(value, set any) bool {
	if !isSlice(set) {
		return false
	}

	rv := reflect.ValueOf(set)
	for i := 0; i < rv.Len(); i++ {
		if looseEqual(value, rv.Index(i).Interface()) {
			return true
		}
	}

	return false
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}

	kind := reflect.TypeOf(v).Kind()

	return kind == reflect.Slice || kind == reflect.Array
}

func coerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)

		return f, err == nil
	case bool:
		if val {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
