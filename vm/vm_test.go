package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipe/builtins"
	"ipe/bytecode"
	"ipe/compiler"
	"ipe/parser"
	"ipe/rar"
	"ipe/value"
	"ipe/vm"
)

func compilePredicate(t *testing.T, src string) *bytecode.CompiledPredicate {
	t.Helper()
	preds, errs := parser.Parse(src)
	require.Empty(t, errs)
	require.Len(t, preds, 1)
	cp, err := compiler.Compile(preds[0])
	require.NoError(t, err)
	return cp
}

func TestVM_SimpleAllow(t *testing.T) {
	cp := compilePredicate(t, `
predicate P1:
  ""
  triggers when true == true
  requires true
`)
	registry := builtins.NewDefaultRegistry()
	ctx := &rar.EvaluationContext{}

	triggered, err := vm.EvaluateTriggers(cp, ctx, registry)
	require.NoError(t, err)
	assert.True(t, triggered)

	verdict, err := vm.EvaluateRequires(cp, ctx, registry)
	require.NoError(t, err)
	assert.True(t, verdict)
}

func TestVM_RequireOwner(t *testing.T) {
	cp := compilePredicate(t, `
predicate RequireOwner:
  "owners may act"
  triggers when resource.type == "Doc"
  requires request.principal.id == resource.owner
`)
	registry := builtins.NewDefaultRegistry()

	owns := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc", Attributes: map[string]value.Value{"owner": value.String("u1")}},
		Request:  rar.Request{Principal: rar.Principal{ID: "u1"}},
	}
	triggered, err := vm.EvaluateTriggers(cp, owns, registry)
	require.NoError(t, err)
	assert.True(t, triggered)
	verdict, err := vm.EvaluateRequires(cp, owns, registry)
	require.NoError(t, err)
	assert.True(t, verdict)

	notOwner := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc", Attributes: map[string]value.Value{"owner": value.String("u1")}},
		Request:  rar.Request{Principal: rar.Principal{ID: "u2"}},
	}
	verdict, err = vm.EvaluateRequires(cp, notOwner, registry)
	require.NoError(t, err)
	assert.False(t, verdict)

	otherType := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Image"},
	}
	triggered, err = vm.EvaluateTriggers(cp, otherType, registry)
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestVM_MembershipDeny(t *testing.T) {
	cp := compilePredicate(t, `
predicate BlockProd:
  "no prod on Friday"
  triggers when request.environment in ["prod", "staging"]
  denies with reason "frozen window"
`)
	registry := builtins.NewDefaultRegistry()
	ctx := &rar.EvaluationContext{
		Request: rar.Request{Attributes: map[string]value.Value{"environment": value.String("prod")}},
	}
	triggered, err := vm.EvaluateTriggers(cp, ctx, registry)
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, "frozen window", cp.DenyReason)
	assert.Empty(t, cp.Requires)
}

func TestVM_IntFloatCoercion(t *testing.T) {
	cp := compilePredicate(t, `
predicate Coerce:
  ""
  triggers when true == true
  requires request.threshold < 5.5
`)
	registry := builtins.NewDefaultRegistry()
	ctx := &rar.EvaluationContext{
		Request: rar.Request{Attributes: map[string]value.Value{"threshold": value.Int(5)}},
	}
	verdict, err := vm.EvaluateRequires(cp, ctx, registry)
	require.NoError(t, err)
	assert.True(t, verdict)
}

func TestVM_MissingAttributeIsRuntimeError(t *testing.T) {
	cp := compilePredicate(t, `
predicate NeedsField:
  ""
  triggers when true == true
  requires resource.unknown_field == "x"
`)
	registry := builtins.NewDefaultRegistry()
	ctx := &rar.EvaluationContext{}
	_, err := vm.EvaluateRequires(cp, ctx, registry)
	require.Error(t, err)
	var missing *rar.MissingAttributeError
	assert.ErrorAs(t, err, &missing)
}

func TestVM_StackOverflow(t *testing.T) {
	// A hand-assembled program pushes one constant more than MaxStackDepth
	// (1024); the last push must fail with StackOverflowError.
	constants := &bytecode.ConstantPool{}
	idx := int(constants.Index(value.Bool(true)))
	var code bytecode.Instructions
	for i := 0; i <= vm.MaxStackDepth; i++ {
		code = append(code, bytecode.Make(bytecode.OpLoadConst, idx)...)
	}
	code = append(code, bytecode.Make(bytecode.OpReturn, 0, 0)...)
	cp := &bytecode.CompiledPredicate{Triggers: code, Constants: constants, Fields: bytecode.NewFieldMap()}
	_, err := vm.EvaluateTriggers(cp, &rar.EvaluationContext{}, builtins.NewDefaultRegistry())
	var overflow *vm.StackOverflowError
	assert.ErrorAs(t, err, &overflow)
	assert.Equal(t, 1024, vm.MaxStackDepth)
}

func TestVM_TypeMismatchOnComparison(t *testing.T) {
	cp := compilePredicate(t, `
predicate Mismatch:
  ""
  triggers when true == true
  requires request.a == request.b
`)
	registry := builtins.NewDefaultRegistry()
	ctx := &rar.EvaluationContext{
		Request: rar.Request{Attributes: map[string]value.Value{
			"a": value.String("x"),
			"b": value.Int(1),
		}},
	}
	_, err := vm.EvaluateRequires(cp, ctx, registry)
	require.Error(t, err)
	var mismatch *value.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
