// Package typecheck assigns a static type to every node of a parsed
// predicate's expression trees and enforces the DSL's operand-compatibility
// rules ahead of compilation.
package typecheck

import (
	"fmt"

	"ipe/ast"
	"ipe/builtins"
	"ipe/value"
)

// Type is the static type assigned to an expression node. Path nodes are
// left untyped until evaluation (the checker only constrains the operands
// they participate in); Unknown marks that case.
type Type int

const (
	Unknown Type = iota
	TInt
	TFloat
	TBool
	TString
	TArray
)

func (t Type) String() string {
	switch t {
	case TInt:
		return "Int"
	case TFloat:
		return "Float"
	case TBool:
		return "Bool"
	case TString:
		return "String"
	case TArray:
		return "Array"
	default:
		return "Unknown"
	}
}

func typeOfValue(v value.Value) Type {
	switch v.Kind() {
	case value.KindInt:
		return TInt
	case value.KindFloat:
		return TFloat
	case value.KindBool:
		return TBool
	case value.KindString:
		return TString
	case value.KindArray:
		return TArray
	default:
		return Unknown
	}
}

// TypeMismatchError reports two expression types that cannot be compared or
// combined, per spec's operand-compatibility rules.
type TypeMismatchError struct {
	Got      Type
	Expected Type
	Line     int
	Column   int
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("TypeMismatch at %d:%d: got %s, expected %s", e.Line, e.Column, e.Got, e.Expected)
}

// UnknownFunctionError reports a Call naming a function the checker doesn't
// recognize (the compiler re-validates against the live builtin registry;
// the checker only rejects names that can never resolve).
type UnknownFunctionError struct {
	Name   string
	Line   int
	Column int
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("UnknownFunction %q at %d:%d", e.Name, e.Line, e.Column)
}

// UnsupportedLiteralError reports a literal of a type the value model has no
// variant for (structurally unreachable via the parser today, but kept as a
// defensive check since the AST type permits arbitrary value.Value).
type UnsupportedLiteralError struct {
	Line   int
	Column int
}

func (e *UnsupportedLiteralError) Error() string {
	return fmt.Sprintf("UnsupportedLiteralForField at %d:%d", e.Line, e.Column)
}

// Checker walks an AST, assigning a Type to every node it visits.
type Checker struct {
	types map[ast.Expression]Type
}

// New constructs an empty Checker.
func New() *Checker {
	return &Checker{types: make(map[ast.Expression]Type)}
}

// TypeOf returns the type assigned to expr by a prior Check call, or Unknown
// if expr was never visited.
func (c *Checker) TypeOf(expr ast.Expression) Type {
	return c.types[expr]
}

// CheckPredicate type-checks every expression tree reachable from pred:
// its triggers and its requirements' conditions/where-clauses.
func (c *Checker) CheckPredicate(pred *ast.Predicate) []error {
	var errs []error

	for _, trig := range pred.Triggers {
		if _, err := c.check(trig); err != nil {
			errs = append(errs, err)
		}
	}

	switch req := pred.Requirements.(type) {
	case *ast.Requires:
		for _, cond := range req.Conditions {
			if _, err := c.check(cond); err != nil {
				errs = append(errs, err)
			}
		}
		for _, cond := range req.Where {
			if _, err := c.check(cond); err != nil {
				errs = append(errs, err)
			}
		}
	case *ast.Denies:
		// No conditions to check; the reason is carried as plain metadata.
	}

	return errs
}

func (c *Checker) check(expr ast.Expression) (Type, error) {
	switch node := expr.(type) {
	case *ast.Literal:
		t := typeOfValue(node.Value)
		c.types[node] = t
		return t, nil

	case *ast.Path:
		c.types[node] = Unknown
		return Unknown, nil

	case *ast.Binary:
		left, err := c.check(node.Left)
		if err != nil {
			return Unknown, err
		}
		right, err := c.check(node.Right)
		if err != nil {
			return Unknown, err
		}
		if !comparable(left, right) {
			return Unknown, &TypeMismatchError{Got: right, Expected: left, Line: node.Line, Column: node.Column}
		}
		c.types[node] = TBool
		return TBool, nil

	case *ast.Logical:
		for _, operand := range node.Operands {
			operandType, err := c.check(operand)
			if err != nil {
				return Unknown, err
			}
			if operandType != TBool && operandType != Unknown {
				return Unknown, &TypeMismatchError{Got: operandType, Expected: TBool, Line: node.Line, Column: node.Column}
			}
		}
		c.types[node] = TBool
		return TBool, nil

	case *ast.In:
		probeType, err := c.check(node.Expr)
		if err != nil {
			return Unknown, err
		}
		for _, item := range node.Items {
			itemType, err := c.check(item)
			if err != nil {
				return Unknown, err
			}
			if !comparable(probeType, itemType) {
				return Unknown, &TypeMismatchError{Got: itemType, Expected: probeType, Line: node.Line, Column: node.Column}
			}
		}
		c.types[node] = TBool
		return TBool, nil

	case *ast.Aggregate:
		if _, err := c.check(node.Expr); err != nil {
			return Unknown, err
		}
		var t Type
		switch node.Func {
		case ast.Count:
			t = TInt
		default:
			t = TFloat
		}
		c.types[node] = t
		return t, nil

	case *ast.Call:
		if _, err := builtins.Lookup(node.Name); err != nil {
			return Unknown, &UnknownFunctionError{Name: node.Name, Line: node.Line, Column: node.Column}
		}
		for _, arg := range node.Args {
			if _, err := c.check(arg); err != nil {
				return Unknown, err
			}
		}
		c.types[node] = Unknown
		return Unknown, nil
	}

	return Unknown, nil
}

// comparable implements the checker's operand-compatibility rule: a type is
// compatible with itself, Int unifies with Float, and an untyped Path
// (Unknown) is compatible with anything (resolved dynamically at
// evaluation time).
func comparable(a, b Type) bool {
	if a == Unknown || b == Unknown {
		return true
	}
	if a == b {
		return true
	}
	numeric := func(t Type) bool { return t == TInt || t == TFloat }
	return numeric(a) && numeric(b)
}
