package condition

import (
	"encoding/json"
	"testing"

	flow_errors "eventflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEval(t *testing.T, cond, payload string) bool {
	t.Helper()
	result, err := Evaluate(json.RawMessage(cond), json.RawMessage(payload))
	require.NoError(t, err)
	return result
}

func TestEvaluate_EqualityAgainstPayload(t *testing.T) {
	cond := `{"==": [{"var": "status"}, "paid"]}`
	assert.True(t, mustEval(t, cond, `{"status": "paid"}`))
	assert.False(t, mustEval(t, cond, `{"status": "open"}`))
	assert.False(t, mustEval(t, cond, `{}`))
}

func TestEvaluate_DottedVarPath(t *testing.T) {
	cond := `{">": [{"var": "order.total"}, 100]}`
	assert.True(t, mustEval(t, cond, `{"order": {"total": 250}}`))
	assert.False(t, mustEval(t, cond, `{"order": {"total": 10}}`))
}

func TestEvaluate_MissingPathYieldsNull(t *testing.T) {
	cond := `{"==": [{"var": "a.b.c"}, null]}`
	assert.True(t, mustEval(t, cond, `{"a": {"b": {}}}`))
	assert.True(t, mustEval(t, cond, `{"unrelated": 1}`))
}

func TestEvaluate_VarDefault(t *testing.T) {
	cond := `{"==": [{"var": ["tier", "standard"]}, "standard"]}`
	assert.True(t, mustEval(t, cond, `{}`))
	assert.False(t, mustEval(t, cond, `{"tier": "gold"}`))
}

func TestEvaluate_LooseVsStrictEquality(t *testing.T) {
	assert.True(t, mustEval(t, `{"==": [{"var": "n"}, "1"]}`, `{"n": 1}`))
	assert.False(t, mustEval(t, `{"===": [{"var": "n"}, "1"]}`, `{"n": 1}`))
	assert.True(t, mustEval(t, `{"!==": [{"var": "n"}, "1"]}`, `{"n": 1}`))
}

func TestEvaluate_BooleanOperators(t *testing.T) {
	cond := `{"and": [{"==": [{"var": "a"}, 1]}, {"or": [{"var": "b"}, {"var": "c"}]}]}`
	assert.True(t, mustEval(t, cond, `{"a": 1, "c": true}`))
	assert.False(t, mustEval(t, cond, `{"a": 1}`))
	assert.False(t, mustEval(t, cond, `{"a": 2, "b": true}`))

	assert.True(t, mustEval(t, `{"!": [{"var": "missing"}]}`, `{}`))
}

func TestEvaluate_Truthiness(t *testing.T) {
	assert.True(t, mustEval(t, `{"var": "s"}`, `{"s": "non-empty"}`))
	assert.False(t, mustEval(t, `{"var": "s"}`, `{"s": ""}`))
	assert.True(t, mustEval(t, `{"var": "n"}`, `{"n": 0.5}`))
	assert.False(t, mustEval(t, `{"var": "n"}`, `{"n": 0}`))
	assert.True(t, mustEval(t, `{"var": "o"}`, `{"o": {}}`))
	assert.False(t, mustEval(t, `{"var": "x"}`, `{}`))
}

func TestEvaluate_InOperator(t *testing.T) {
	assert.True(t, mustEval(t, `{"in": [{"var": "state"}, ["open", "paid"]]}`, `{"state": "paid"}`))
	assert.False(t, mustEval(t, `{"in": [{"var": "state"}, ["open", "paid"]]}`, `{"state": "void"}`))
	assert.True(t, mustEval(t, `{"in": ["err", {"var": "msg"}]}`, `{"msg": "io error"}`))
}

func TestEvaluate_MissingOperators(t *testing.T) {
	assert.True(t, mustEval(t, `{"!": [{"missing": ["a", "b"]}]}`, `{"a": 1, "b": 2}`))
	assert.False(t, mustEval(t, `{"!": [{"missing": ["a", "b"]}]}`, `{"a": 1}`))

	// two of three present satisfies the minimum
	cond := `{"!": [{"missing_some": [2, ["a", "b", "c"]]}]}`
	assert.True(t, mustEval(t, cond, `{"a": 1, "b": 2}`))
	assert.False(t, mustEval(t, cond, `{"a": 1}`))
}

func TestEvaluate_IfOperator(t *testing.T) {
	cond := `{"if": [{">": [{"var": "total"}, 100]}, "big", "small"]}`
	result, err := Evaluate(json.RawMessage(`{"==": [`+cond+`, "big"]}`), json.RawMessage(`{"total": 500}`))
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	assert.True(t, mustEval(t, `{"==": [{"+": [1, 2, 3]}, 6]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"-": [10, 4]}, 6]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"*": [2, 3]}, 6]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"/": [12, 2]}, 6]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"%": [13, 7]}, 6]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"min": [8, 6, 7]}, 6]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"max": [1, 6, 2]}, 6]}`, `{}`))
}

func TestEvaluate_ArithmeticOnNonNumericFails(t *testing.T) {
	_, err := Evaluate(json.RawMessage(`{"+": [{"var": "name"}, 1]}`), json.RawMessage(`{"name": "alice"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, flow_errors.ErrEvalError)
}

func TestEvaluate_DivisionByZeroFails(t *testing.T) {
	_, err := Evaluate(json.RawMessage(`{"/": [1, 0]}`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, flow_errors.ErrEvalError)
}

func TestEvaluate_StringOperators(t *testing.T) {
	assert.True(t, mustEval(t, `{"==": [{"cat": ["or", "der"]}, "order"]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"substr": ["order.created", 0, 5]}, "order"]}`, `{}`))
	assert.True(t, mustEval(t, `{"==": [{"length": [{"var": "sku"}]}, 3]}`, `{"sku": "abc"}`))
	assert.True(t, mustEval(t, `{"==": [{"length": [{"var": "items"}]}, 2]}`, `{"items": [1, 2]}`))
}

func TestEvaluate_InvalidConditionRaises(t *testing.T) {
	_, err := Evaluate(json.RawMessage(`{"exec": ["rm"]}`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, flow_errors.ErrInvalidCondition)

	_, err = Evaluate(json.RawMessage(`"paid"`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, flow_errors.ErrInvalidCondition)
}

func TestEvaluate_ArrayIndexVar(t *testing.T) {
	assert.True(t, mustEval(t, `{"==": [{"var": "items.1"}, "b"]}`, `{"items": ["a", "b"]}`))
	assert.True(t, mustEval(t, `{"==": [{"var": "items.9"}, null]}`, `{"items": ["a"]}`))
}
