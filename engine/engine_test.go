package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipe/builtins"
	"ipe/bytecode"
	"ipe/engine"
	"ipe/rar"
	"ipe/store"
	"ipe/tiering"
	"ipe/value"
)

type stubNativeCompiler struct{ calls int }

func (s *stubNativeCompiler) CompileBaseline(cp *bytecode.CompiledPredicate) (tiering.NativeArtifact, error) {
	s.calls++
	return "artifact", nil
}

func (s *stubNativeCompiler) CompileOptimized(cp *bytecode.CompiledPredicate) (tiering.NativeArtifact, error) {
	s.calls++
	return nil, errors.New("not reached in this test")
}

func newEngine(t *testing.T, sources ...string) (*engine.Engine, *store.Store) {
	t.Helper()
	s := store.New()
	for _, src := range sources {
		require.NoError(t, s.SubmitUpdate(store.AddPredicate(src)))
	}
	return engine.New(s, builtins.NewDefaultRegistry()), s
}

const ownerOnly = `
predicate RequireOwner:
  "owners may act"
  triggers when resource.type == "Doc"
  requires request.principal.id == resource.owner
`

const blockProdFriday = `
predicate BlockProdFriday:
  "no prod deploys on Friday"
  triggers when resource.type == "Deployment" and request.environment == "prod"
  denies with reason "frozen window"
`

func TestEngine_AllowWhenRequirementsMet(t *testing.T) {
	e, _ := newEngine(t, ownerOnly)
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc", Attributes: map[string]value.Value{"owner": value.String("u1")}},
		Request:  rar.Request{Principal: rar.Principal{ID: "u1"}},
	}
	decision := e.Evaluate(ctx)
	assert.Equal(t, engine.Allow, decision.Kind)
	assert.Equal(t, []string{"RequireOwner"}, decision.Matched)
}

func TestEngine_DenyWhenRequirementsFail(t *testing.T) {
	e, _ := newEngine(t, ownerOnly)
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc", Attributes: map[string]value.Value{"owner": value.String("u1")}},
		Request:  rar.Request{Principal: rar.Principal{ID: "u2"}},
	}
	decision := e.Evaluate(ctx)
	assert.Equal(t, engine.Deny, decision.Kind)
}

func TestEngine_DefaultDenyForUnknownResourceType(t *testing.T) {
	e, _ := newEngine(t, ownerOnly)
	ctx := &rar.EvaluationContext{Resource: rar.Resource{TypeID: "Image"}}
	decision := e.Evaluate(ctx)
	assert.Equal(t, engine.Deny, decision.Kind)
	assert.Contains(t, decision.Reason, "default-deny")
}

func TestEngine_DenyOverridesAllow(t *testing.T) {
	e, _ := newEngine(t, ownerOnly, blockProdFriday)
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Deployment"},
		Request:  rar.Request{Attributes: map[string]value.Value{"environment": value.String("prod")}},
	}
	decision := e.Evaluate(ctx)
	assert.Equal(t, engine.Deny, decision.Kind)
	assert.Equal(t, "frozen window", decision.Reason)
	assert.Equal(t, []string{"BlockProdFriday"}, decision.Matched)
}

func TestEngine_EvaluateSubsetRestrictsCandidates(t *testing.T) {
	e, _ := newEngine(t, ownerOnly)
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc", Attributes: map[string]value.Value{"owner": value.String("u1")}},
		Request:  rar.Request{Principal: rar.Principal{ID: "u1"}},
	}
	decision := e.EvaluateSubset(ctx, []string{"SomeOtherPredicate"})
	assert.Equal(t, engine.Deny, decision.Kind)
}

func TestEngine_DenyWithMissingAttributeReasonOnRequiresError(t *testing.T) {
	e, _ := newEngine(t, ownerOnly)
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc"}, // no "owner" attribute
		Request:  rar.Request{Principal: rar.Principal{ID: "u1"}},
	}
	decision := e.Evaluate(ctx)
	assert.Equal(t, engine.Deny, decision.Kind)
	assert.Contains(t, decision.Reason, "default-deny")
	assert.Contains(t, decision.Reason, "MissingAttribute")
}

func TestEngine_RecordsEvalAndPromotesViaNativeCompiler(t *testing.T) {
	e, s := newEngine(t, ownerOnly)
	comp := &stubNativeCompiler{}
	promoting := e.WithNativeCompiler(comp)

	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: "Doc", Attributes: map[string]value.Value{"owner": value.String("u1")}},
		Request:  rar.Request{Principal: rar.Principal{ID: "u1"}},
	}
	for i := 0; i < 100; i++ {
		promoting.Evaluate(ctx)
	}

	entry := s.Current().Entries[0]
	require.NotNil(t, entry.Counters)
	assert.Equal(t, uint64(100), entry.Counters.EvalCount())
	assert.Equal(t, tiering.BaselineNative, entry.Counters.Tier())
	assert.Equal(t, 1, comp.calls)
}

func TestEngine_WithStoreSwapsBackingStore(t *testing.T) {
	e, _ := newEngine(t, ownerOnly)
	other := store.New()
	swapped := e.WithStore(other)

	ctx := &rar.EvaluationContext{Resource: rar.Resource{TypeID: "Doc"}}
	decision := swapped.Evaluate(ctx)
	assert.Equal(t, engine.Deny, decision.Kind)
	assert.Contains(t, decision.Reason, "default-deny")
}
