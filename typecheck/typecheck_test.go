package typecheck

import (
	"testing"

	"ipe/ast"
	"ipe/parser"
	"ipe/value"
)

func intLit(i int64) value.Value { return value.Int(i) }

func mustParse(t *testing.T, src string) *ast.Predicate {
	t.Helper()
	preds, errs := parser.Parse(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(preds) != 1 {
		t.Fatalf("got %d predicates, want 1", len(preds))
	}
	return preds[0]
}

func TestCheckIntFloatCoercion(t *testing.T) {
	pred := &ast.Predicate{
		Triggers: []ast.Expression{&ast.Literal{Value: value.Bool(true)}},
		Requirements: &ast.Requires{Conditions: []ast.Expression{
			&ast.Binary{Left: &ast.Literal{Value: intLit(2)}, Op: ast.Gte, Right: &ast.Literal{Value: value.Float(1.5)}},
		}},
	}
	c := New()
	if errs := c.CheckPredicate(pred); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestCheckLogicalRejectsNonBool(t *testing.T) {
	pred := &ast.Predicate{
		Triggers: []ast.Expression{&ast.Literal{Value: intLit(5)}},
		Requirements: &ast.Requires{Conditions: []ast.Expression{
			&ast.Logical{Op: ast.And, Operands: []ast.Expression{
				&ast.Literal{Value: intLit(1)},
				&ast.Literal{Value: intLit(2)},
			}},
		}},
	}
	c := New()
	errs := c.CheckPredicate(pred)
	if len(errs) == 0 {
		t.Fatalf("expected a TypeMismatch error")
	}
}

func TestCheckInMembershipWithPathProbeIsCompatible(t *testing.T) {
	pred := mustParse(t, `predicate P: "" triggers when environment in ["prod", "staging"] requires true`)
	c := New()
	if errs := c.CheckPredicate(pred); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
