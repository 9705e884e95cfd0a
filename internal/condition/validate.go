package condition

import (
	"encoding/json"
	"fmt"

	flow_errors "eventflow/pkg/errors"
)

// Limits enforced before persistence and before evaluation. The
// operator whitelist is the security boundary: no reflection, no
// user-supplied code, no I/O from expressions.
const (
	MaxDepth     = 10
	MaxOperators = 50
)

var allowedOperators = map[string]bool{
	"==": true, "===": true, "!=": true, "!==": true,
	">": true, ">=": true, "<": true, "<=": true,
	"and": true, "or": true, "!": true,
	"var":     true,
	"missing": true, "missing_some": true, "in": true,
	"if": true,
	"+":  true, "-": true, "*": true, "/": true, "%": true,
	"min": true, "max": true,
	"cat": true, "substr": true, "length": true,
}

// Validate checks a condition tree against the whitelist and the
// depth/operator-count limits. The root must be an operator object.
func Validate(raw json.RawMessage) error {
	var node interface{}
	if err := json.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("%w: condition is not valid JSON: %v", flow_errors.ErrInvalidCondition, err)
	}

	root, ok := node.(map[string]interface{})
	if !ok || len(root) != 1 {
		return fmt.Errorf("%w: condition root must be a single-operator object", flow_errors.ErrInvalidCondition)
	}

	count := 0
	if err := walk(node, 1, &count); err != nil {
		return err
	}
	return nil
}

// walk counts operator objects and tracks operator nesting depth;
// operand arrays do not add a level.
func walk(node interface{}, depth int, count *int) error {
	switch n := node.(type) {
	case map[string]interface{}:
		if depth > MaxDepth {
			return fmt.Errorf("%w: maximum nesting depth of %d exceeded", flow_errors.ErrInvalidCondition, MaxDepth)
		}
		if len(n) != 1 {
			return fmt.Errorf("%w: operator object must have exactly one key", flow_errors.ErrInvalidCondition)
		}
		for op, operand := range n {
			if !allowedOperators[op] {
				return fmt.Errorf("%w: Operator not allowed: %s", flow_errors.ErrInvalidCondition, op)
			}
			*count++
			if *count > MaxOperators {
				return fmt.Errorf("%w: maximum operator count of %d exceeded", flow_errors.ErrInvalidCondition, MaxOperators)
			}
			if err := walk(operand, depth+1, count); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range n {
			if err := walk(item, depth, count); err != nil {
				return err
			}
		}
	case string, float64, bool, nil:
		// scalars are leaves
	default:
		return fmt.Errorf("%w: unsupported node type %T", flow_errors.ErrInvalidCondition, n)
	}
	return nil
}
