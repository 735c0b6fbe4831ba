package parser

import (
	"testing"

	"ipe/ast"
	"ipe/value"
)

func TestParseSimpleAllowPredicate(t *testing.T) {
	src := `predicate P1: "" triggers when true requires true`
	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(preds) != 1 {
		t.Fatalf("got %d predicates, want 1", len(preds))
	}
	if preds[0].Name != "P1" {
		t.Errorf("Name = %q, want P1", preds[0].Name)
	}
	if _, ok := preds[0].Requirements.(*ast.Requires); !ok {
		t.Errorf("Requirements = %T, want *ast.Requires", preds[0].Requirements)
	}
}

func TestParseResourceTypeGate(t *testing.T) {
	src := `predicate RequireOwner:
  "owners may act"
  triggers when resource.type == "Doc"
  requires request.principal.id == resource.owner`

	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(preds) != 1 {
		t.Fatalf("got %d predicates, want 1", len(preds))
	}

	pred := preds[0]
	if len(pred.Triggers) != 1 {
		t.Fatalf("got %d triggers, want 1", len(pred.Triggers))
	}
	bin, ok := pred.Triggers[0].(*ast.Binary)
	if !ok {
		t.Fatalf("trigger = %T, want *ast.Binary", pred.Triggers[0])
	}
	if bin.Op != ast.Eq {
		t.Errorf("Op = %v, want Eq", bin.Op)
	}
	path, ok := bin.Left.(*ast.Path)
	if !ok || len(path.Segments) != 2 || path.Segments[0] != "resource" || path.Segments[1] != "type" {
		t.Errorf("Left = %+v, want resource.type", bin.Left)
	}
}

func TestParseDeniesWithReason(t *testing.T) {
	src := `predicate BlockProd:
  "no prod on Friday"
  triggers when environment in ["prod", "staging"]
  denies with reason "frozen window"`

	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	pred := preds[0]

	in, ok := pred.Triggers[0].(*ast.In)
	if !ok {
		t.Fatalf("trigger = %T, want *ast.In", pred.Triggers[0])
	}
	if len(in.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(in.Items))
	}

	denies, ok := pred.Requirements.(*ast.Denies)
	if !ok {
		t.Fatalf("Requirements = %T, want *ast.Denies", pred.Requirements)
	}
	if denies.Reason == nil || *denies.Reason != "frozen window" {
		t.Errorf("Reason = %v, want 'frozen window'", denies.Reason)
	}
}

func TestParseChainedAndIsRightLeaning(t *testing.T) {
	src := `predicate Chain:
  ""
  triggers when true
  requires resource.type == "Deployment" and environment == "production" and approvals.count >= 2`

	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	requires, ok := preds[0].Requirements.(*ast.Requires)
	if !ok {
		t.Fatalf("Requirements = %T, want *ast.Requires", preds[0].Requirements)
	}
	if len(requires.Conditions) != 1 {
		t.Fatalf("got %d conditions, want 1 (one and-chain)", len(requires.Conditions))
	}
	outer, ok := requires.Conditions[0].(*ast.Logical)
	if !ok || outer.Op != ast.And || len(outer.Operands) != 2 {
		t.Fatalf("condition = %+v, want And with 2 operands", requires.Conditions[0])
	}
	if inner, ok := outer.Operands[1].(*ast.Logical); !ok || inner.Op != ast.And || len(inner.Operands) != 2 {
		t.Errorf("right operand = %+v, want nested And with 2 operands", outer.Operands[1])
	}
}

func TestParseMetadataBlock(t *testing.T) {
	src := `predicate WithMeta:
  ""
  triggers when true
  requires true
  metadata {
    owner: "team-access",
    ticket: "ACC-123"
  }`

	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if preds[0].Metadata["owner"] != "team-access" || preds[0].Metadata["ticket"] != "ACC-123" {
		t.Errorf("Metadata = %v", preds[0].Metadata)
	}
}

func TestParseMissingRequirementsIsRecoverableError(t *testing.T) {
	src := `predicate Bad:
  ""
  triggers when true

predicate Good:
  ""
  triggers when true
  requires true`

	preds, errs := Parse(src)
	if len(errs) == 0 {
		t.Fatalf("expected an error for the malformed first predicate")
	}
	if len(preds) != 1 || preds[0].Name != "Good" {
		t.Fatalf("expected the well-formed predicate to still parse, got %+v", preds)
	}
}

func TestParsePolicyKeywordAlias(t *testing.T) {
	src := `policy P: "" triggers when true requires true`
	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(preds) != 1 {
		t.Fatalf("got %d predicates, want 1", len(preds))
	}
}

func TestParseCallExpression(t *testing.T) {
	src := `predicate C: "" triggers when in_array(resource.tag, approved_tags) requires true`
	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	call, ok := preds[0].Triggers[0].(*ast.Call)
	if !ok {
		t.Fatalf("trigger = %T, want *ast.Call", preds[0].Triggers[0])
	}
	if call.Name != "in_array" || len(call.Args) != 2 {
		t.Errorf("call = %+v", call)
	}
}

func TestParseGroupedCondition(t *testing.T) {
	src := `predicate G: "" triggers when (resource.type == "A" or resource.type == "B") requires true`
	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	logical, ok := preds[0].Triggers[0].(*ast.Logical)
	if !ok {
		t.Fatalf("trigger = %T, want *ast.Logical", preds[0].Triggers[0])
	}
	if logical.Op != ast.Or || len(logical.Operands) != 2 {
		t.Errorf("logical = %+v", logical)
	}
}

func TestParseNotPrecedesAnd(t *testing.T) {
	src := `predicate N: "" triggers when not resource.locked and resource.type == "Doc" requires true`
	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	and, ok := preds[0].Triggers[0].(*ast.Logical)
	if !ok || and.Op != ast.And {
		t.Fatalf("trigger = %+v, want top-level And", preds[0].Triggers[0])
	}
	not, ok := and.Operands[0].(*ast.Logical)
	if !ok || not.Op != ast.Not {
		t.Errorf("first operand = %+v, want Not", and.Operands[0])
	}
}

func TestParseIntLiteral(t *testing.T) {
	src := `predicate L: "" triggers when approvals.count == 2 requires true`
	preds, errs := Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	bin := preds[0].Triggers[0].(*ast.Binary)
	lit := bin.Right.(*ast.Literal)
	if lit.Value.Kind() != value.KindInt || lit.Value.AsInt() != 2 {
		t.Errorf("literal = %v", lit.Value)
	}
}
