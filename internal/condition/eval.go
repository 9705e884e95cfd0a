package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	flow_errors "eventflow/pkg/errors"
)

// Evaluate runs a validated condition tree against an event payload and
// coerces the raw result to a boolean via Truthy.
func Evaluate(raw json.RawMessage, payload json.RawMessage) (bool, error) {
	if err := Validate(raw); err != nil {
		return false, err
	}

	var node interface{}
	if err := json.Unmarshal(raw, &node); err != nil {
		return false, fmt.Errorf("%w: %v", flow_errors.ErrInvalidCondition, err)
	}

	var data map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return false, fmt.Errorf("%w: payload is not a JSON object: %v", flow_errors.ErrEvalError, err)
		}
	}

	result, err := eval(node, data)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

// Truthy coerces a raw result to a boolean: non-empty strings,
// non-zero finite numbers, objects and non-empty arrays are truthy.
func Truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val) && !math.IsInf(val, 0)
	case string:
		return val != ""
	case []interface{}:
		// empty arrays are falsy so that missing/missing_some compose
		// with !, and, if
		return len(val) > 0
	default:
		// objects
		return true
	}
}

func eval(node interface{}, data map[string]interface{}) (interface{}, error) {
	switch n := node.(type) {
	case map[string]interface{}:
		for op, operand := range n {
			return apply(op, operands(operand), data)
		}
		return nil, nil
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, item := range n {
			v, err := eval(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return n, nil
	}
}

// operands normalizes a single operand to a one-element list.
func operands(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

func apply(op string, args []interface{}, data map[string]interface{}) (interface{}, error) {
	switch op {
	case "var":
		return applyVar(args, data)
	case "missing":
		return applyMissing(args, data)
	case "missing_some":
		return applyMissingSome(args, data)
	case "if":
		return applyIf(args, data)
	case "and":
		var last interface{} = true
		for _, arg := range args {
			v, err := eval(arg, data)
			if err != nil {
				return nil, err
			}
			if !Truthy(v) {
				return v, nil
			}
			last = v
		}
		return last, nil
	case "or":
		var last interface{}
		for _, arg := range args {
			v, err := eval(arg, data)
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return v, nil
			}
			last = v
		}
		return last, nil
	case "!":
		v, err := evalArg(args, 0, data)
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}

	// remaining operators evaluate all operands first
	vals := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := eval(arg, data)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	switch op {
	case "==":
		return looseEquals(at(vals, 0), at(vals, 1)), nil
	case "!=":
		return !looseEquals(at(vals, 0), at(vals, 1)), nil
	case "===":
		return strictEquals(at(vals, 0), at(vals, 1)), nil
	case "!==":
		return !strictEquals(at(vals, 0), at(vals, 1)), nil
	case ">", ">=", "<", "<=":
		return compare(op, at(vals, 0), at(vals, 1))
	case "in":
		return applyIn(at(vals, 0), at(vals, 1)), nil
	case "+", "-", "*", "/", "%":
		return arithmetic(op, vals)
	case "min", "max":
		return minMax(op, vals)
	case "cat":
		var sb strings.Builder
		for _, v := range vals {
			sb.WriteString(stringify(v))
		}
		return sb.String(), nil
	case "substr":
		return applySubstr(vals)
	case "length":
		return applyLength(at(vals, 0))
	}
	return nil, fmt.Errorf("%w: Operator not allowed: %s", flow_errors.ErrInvalidCondition, op)
}

func evalArg(args []interface{}, i int, data map[string]interface{}) (interface{}, error) {
	if i >= len(args) {
		return nil, nil
	}
	return eval(args[i], data)
}

func at(vals []interface{}, i int) interface{} {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}

// applyVar resolves a dotted path against the payload; missing paths
// yield null (or the optional second operand as default).
func applyVar(args []interface{}, data map[string]interface{}) (interface{}, error) {
	pathVal, err := evalArg(args, 0, data)
	if err != nil {
		return nil, err
	}
	path, ok := pathVal.(string)
	if !ok || path == "" {
		// {"var": ""} returns the whole payload
		if pathVal == nil || (ok && path == "") {
			return mapOrNil(data), nil
		}
		return nil, fmt.Errorf("%w: var path must be a string", flow_errors.ErrEvalError)
	}

	var current interface{} = mapOrNil(data)
	for _, segment := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]interface{}:
			var exists bool
			current, exists = c[segment]
			if !exists {
				current = nil
			}
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(c) {
				current = nil
			} else {
				current = c[idx]
			}
		default:
			current = nil
		}
		if current == nil {
			break
		}
	}

	if current == nil && len(args) > 1 {
		return evalArg(args, 1, data)
	}
	return current, nil
}

func mapOrNil(data map[string]interface{}) interface{} {
	if data == nil {
		return nil
	}
	return data
}

func applyMissing(args []interface{}, data map[string]interface{}) (interface{}, error) {
	missing := []interface{}{}
	for _, arg := range args {
		v, err := eval(arg, data)
		if err != nil {
			return nil, err
		}
		// a nested array operand carries the key list
		if keys, ok := v.([]interface{}); ok {
			for _, k := range keys {
				if isMissing(k, data) {
					missing = append(missing, k)
				}
			}
			continue
		}
		if isMissing(v, data) {
			missing = append(missing, v)
		}
	}
	return missing, nil
}

func applyMissingSome(args []interface{}, data map[string]interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: missing_some expects [min, keys]", flow_errors.ErrEvalError)
	}
	minVal, err := eval(args[0], data)
	if err != nil {
		return nil, err
	}
	need, ok := minVal.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: missing_some minimum must be a number", flow_errors.ErrEvalError)
	}
	keysVal, err := eval(args[1], data)
	if err != nil {
		return nil, err
	}
	keys, ok := keysVal.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing_some keys must be an array", flow_errors.ErrEvalError)
	}

	missing := []interface{}{}
	for _, k := range keys {
		if isMissing(k, data) {
			missing = append(missing, k)
		}
	}
	if float64(len(keys)-len(missing)) >= need {
		return []interface{}{}, nil
	}
	return missing, nil
}

func isMissing(key interface{}, data map[string]interface{}) bool {
	path, ok := key.(string)
	if !ok {
		return true
	}
	v, _ := applyVar([]interface{}{path}, data)
	return v == nil
}

func applyIf(args []interface{}, data map[string]interface{}) (interface{}, error) {
	// [cond, then, cond2, then2, ..., else?]
	i := 0
	for ; i+1 < len(args); i += 2 {
		cond, err := eval(args[i], data)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return eval(args[i+1], data)
		}
	}
	if i < len(args) {
		return eval(args[i], data)
	}
	return nil, nil
}

func applyIn(needle, haystack interface{}) bool {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	case []interface{}:
		for _, item := range h {
			if looseEquals(needle, item) {
				return true
			}
		}
	}
	return false
}

func looseEquals(a, b interface{}) bool {
	if strictEquals(a, b) {
		return true
	}
	// cross-type numeric coercion: numbers, numeric strings, booleans and
	// null compare by numeric value, with null counting as 0
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	return false
}

func strictEquals(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

func compare(op string, a, b interface{}) (interface{}, error) {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case ">":
			return as > bs, nil
		case ">=":
			return as >= bs, nil
		case "<":
			return as < bs, nil
		case "<=":
			return as <= bs, nil
		}
	}

	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if !aok || !bok {
		return nil, fmt.Errorf("%w: cannot compare %v and %v", flow_errors.ErrEvalError, a, b)
	}
	switch op {
	case ">":
		return an > bn, nil
	case ">=":
		return an >= bn, nil
	case "<":
		return an < bn, nil
	case "<=":
		return an <= bn, nil
	}
	return nil, fmt.Errorf("%w: Operator not allowed: %s", flow_errors.ErrInvalidCondition, op)
}

func arithmetic(op string, vals []interface{}) (interface{}, error) {
	nums := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: arithmetic on non-numeric operand %v", flow_errors.ErrEvalError, v)
		}
		nums[i] = n
	}

	switch op {
	case "+":
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum, nil
	case "-":
		if len(nums) == 1 {
			return -nums[0], nil
		}
		if len(nums) >= 2 {
			return nums[0] - nums[1], nil
		}
		return nil, fmt.Errorf("%w: '-' expects at least one operand", flow_errors.ErrEvalError)
	case "*":
		prod := 1.0
		for _, n := range nums {
			prod *= n
		}
		return prod, nil
	case "/":
		if len(nums) < 2 {
			return nil, fmt.Errorf("%w: '/' expects two operands", flow_errors.ErrEvalError)
		}
		if nums[1] == 0 {
			return nil, fmt.Errorf("%w: division by zero", flow_errors.ErrEvalError)
		}
		return nums[0] / nums[1], nil
	case "%":
		if len(nums) < 2 {
			return nil, fmt.Errorf("%w: '%%' expects two operands", flow_errors.ErrEvalError)
		}
		if nums[1] == 0 {
			return nil, fmt.Errorf("%w: division by zero", flow_errors.ErrEvalError)
		}
		return math.Mod(nums[0], nums[1]), nil
	}
	return nil, fmt.Errorf("%w: Operator not allowed: %s", flow_errors.ErrInvalidCondition, op)
}

func minMax(op string, vals []interface{}) (interface{}, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	nums := make([]float64, len(vals))
	for i, v := range vals {
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s on non-numeric operand %v", flow_errors.ErrEvalError, op, v)
		}
		nums[i] = n
	}
	out := nums[0]
	for _, n := range nums[1:] {
		if (op == "min" && n < out) || (op == "max" && n > out) {
			out = n
		}
	}
	return out, nil
}

func applySubstr(vals []interface{}) (interface{}, error) {
	if len(vals) < 2 {
		return nil, fmt.Errorf("%w: substr expects [string, start, length?]", flow_errors.ErrEvalError)
	}
	s, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: substr expects a string", flow_errors.ErrEvalError)
	}
	start, ok := toNumber(vals[1])
	if !ok {
		return nil, fmt.Errorf("%w: substr start must be a number", flow_errors.ErrEvalError)
	}

	runes := []rune(s)
	begin := int(start)
	if begin < 0 {
		begin = len(runes) + begin
		if begin < 0 {
			begin = 0
		}
	}
	if begin > len(runes) {
		begin = len(runes)
	}

	end := len(runes)
	if len(vals) > 2 {
		length, ok := toNumber(vals[2])
		if !ok {
			return nil, fmt.Errorf("%w: substr length must be a number", flow_errors.ErrEvalError)
		}
		if length < 0 {
			end = len(runes) + int(length)
		} else {
			end = begin + int(length)
		}
		if end > len(runes) {
			end = len(runes)
		}
		if end < begin {
			end = begin
		}
	}
	return string(runes[begin:end]), nil
}

func applyLength(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return float64(len([]rune(val))), nil
	case []interface{}:
		return float64(len(val)), nil
	default:
		return nil, fmt.Errorf("%w: length expects a string or array", flow_errors.ErrEvalError)
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case nil:
		return 0, true
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
