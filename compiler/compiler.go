// Package compiler lowers a validated predicate AST into a
// bytecode.CompiledPredicate: field-offset allocation, constant-pool
// deduplication, and the expression/requirements lowering rules of spec
// §4.3. The compiler itself performs no type checking;
// typecheck.Checker.CheckPredicate is a separate pass that Compile does not
// invoke.
package compiler

import (
	"fmt"

	"ipe/ast"
	"ipe/builtins"
	"ipe/bytecode"
	"ipe/value"
)

// DefaultBytecodeCeiling bounds the encoded size of a single program
// (Triggers or Requires), matching spec §5's "default 64 KiB" ceiling.
const DefaultBytecodeCeiling = 64 * 1024

// UnsupportedValueTypeError reports a literal whose value.Kind the
// compiler has no lowering for.
type UnsupportedValueTypeError struct {
	Kind value.Kind
}

func (e *UnsupportedValueTypeError) Error() string {
	return fmt.Sprintf("UnsupportedValueType: %s", e.Kind)
}

// BytecodeTooLargeError reports a program exceeding the compiler's ceiling.
type BytecodeTooLargeError struct {
	Size    int
	Ceiling int
}

func (e *BytecodeTooLargeError) Error() string {
	return fmt.Sprintf("BytecodeTooLarge: %d bytes exceeds ceiling %d", e.Size, e.Ceiling)
}

// NotImplementedError reports a node the compiler recognizes but cannot
// lower standalone, per spec §4.3's Aggregate note (lowered only when the
// builtin registry maps the aggregate function to a Call).
type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("NotImplemented: %s", e.Feature)
}

// Compiler holds the mutable state shared across a single predicate's
// Triggers and Requires lowering: the constant pool and field map are
// shared, the instruction buffer is swapped between the two programs.
type Compiler struct {
	constants *bytecode.ConstantPool
	fields    *bytecode.FieldMap
	ceiling   int
	code      bytecode.Instructions
}

// New constructs a Compiler with the default bytecode ceiling.
func New() *Compiler {
	return &Compiler{
		constants: &bytecode.ConstantPool{},
		fields:    bytecode.NewFieldMap(),
		ceiling:   DefaultBytecodeCeiling,
	}
}

// Compile lowers pred into a CompiledPredicate and validates every
// structural invariant (spec §3's jump/constant/field bounds and the
// terminal-Return rule) before returning it.
func Compile(pred *ast.Predicate) (*bytecode.CompiledPredicate, error) {
	c := New()

	triggers, err := c.compileTriggers(pred.Triggers)
	if err != nil {
		return nil, err
	}

	requires, denyReason, err := c.compileRequirements(pred.Requirements)
	if err != nil {
		return nil, err
	}

	cp := &bytecode.CompiledPredicate{
		Name:       pred.Name,
		Triggers:   triggers,
		Requires:   requires,
		Constants:  c.constants,
		Fields:     c.fields,
		DenyReason: denyReason,
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return cp, nil
}

// compileTriggers lowers the AND-joined trigger conditions into their own
// mini-program returning Bool (spec §4.3's "Triggers lowering").
func (c *Compiler) compileTriggers(conditions []ast.Expression) (bytecode.Instructions, error) {
	c.code = bytecode.Instructions{}
	if err := c.lowerConjunction(conditions); err != nil {
		return nil, err
	}
	c.emitReturnPop()
	return c.finish()
}

// compileRequirements lowers pred's Requirements clause: Requires ends with
// Return(pop) over the AND of its conditions and where-clauses; Denies
// emits no instructions at all (no Return(false) either): it yields an
// empty Requires program plus its reason, which the engine reads as a deny
// vote.
func (c *Compiler) compileRequirements(reqs ast.Requirements) (bytecode.Instructions, string, error) {
	c.code = bytecode.Instructions{}

	switch r := reqs.(type) {
	case *ast.Requires:
		conds := make([]ast.Expression, 0, len(r.Conditions)+len(r.Where))
		conds = append(conds, r.Conditions...)
		conds = append(conds, r.Where...)
		if err := c.lowerConjunction(conds); err != nil {
			return nil, "", err
		}
		c.emitReturnPop()
		ins, err := c.finish()
		return ins, "", err

	case *ast.Denies:
		// A Denies clause carries no Requires program at all: the deny
		// verdict and its reason live on the CompiledPredicate as plain
		// metadata (DenyReason), not as bytecode the VM executes.
		reason := ""
		if r.Reason != nil {
			reason = *r.Reason
		}
		return bytecode.Instructions{}, reason, nil

	default:
		return nil, "", fmt.Errorf("compiler: predicate has neither Requires nor Denies")
	}
}

func (c *Compiler) finish() (bytecode.Instructions, error) {
	if len(c.code) > c.ceiling {
		return nil, &BytecodeTooLargeError{Size: len(c.code), Ceiling: c.ceiling}
	}
	return c.code, nil
}

// lowerConjunction lowers a non-empty list of conditions as their pairwise
// AND, eagerly (see lowerLogical for why short-circuiting is not
// implemented), leaving exactly one Bool on the stack.
func (c *Compiler) lowerConjunction(conditions []ast.Expression) error {
	if len(conditions) == 0 {
		// An empty conjunction is vacuously true (e.g. "requires true" with
		// no further ANDed clauses already parses to one condition, so this
		// only triggers for a Where-less Requires with zero Conditions,
		// which the grammar itself disallows; kept defensive).
		c.emit(bytecode.OpLoadConst, int(c.constants.Index(value.Bool(true))))
		return nil
	}
	if err := c.lowerExpr(conditions[0]); err != nil {
		return err
	}
	for _, cond := range conditions[1:] {
		if err := c.lowerExpr(cond); err != nil {
			return err
		}
		c.emit(bytecode.OpAnd)
	}
	return nil
}

func (c *Compiler) emitReturnPop() {
	c.emit(bytecode.OpReturn, 0, 0)
}

func (c *Compiler) emit(op bytecode.Opcode, operands ...int) {
	c.code = append(c.code, bytecode.Make(op, operands...)...)
}

// lowerExpr lowers a single expression node, leaving its result on the
// stack.
func (c *Compiler) lowerExpr(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.Literal:
		return c.lowerLiteral(e)
	case *ast.Path:
		return c.lowerPath(e)
	case *ast.Binary:
		return c.lowerBinary(e)
	case *ast.Logical:
		return c.lowerLogical(e)
	case *ast.In:
		return c.lowerIn(e)
	case *ast.Aggregate:
		return c.lowerAggregate(e)
	case *ast.Call:
		return c.lowerCall(e)
	default:
		return fmt.Errorf("compiler: unsupported expression node %T", expr)
	}
}

func (c *Compiler) lowerLiteral(lit *ast.Literal) error {
	switch lit.Value.Kind() {
	case value.KindInt, value.KindFloat, value.KindBool, value.KindString, value.KindArray:
		idx := c.constants.Index(lit.Value)
		c.emit(bytecode.OpLoadConst, int(idx))
		return nil
	default:
		return &UnsupportedValueTypeError{Kind: lit.Value.Kind()}
	}
}

func (c *Compiler) lowerPath(path *ast.Path) error {
	off := c.fields.Offset(path.Segments)
	c.emit(bytecode.OpLoadField, int(off))
	return nil
}

func (c *Compiler) lowerBinary(bin *ast.Binary) error {
	if err := c.lowerExpr(bin.Left); err != nil {
		return err
	}
	if err := c.lowerExpr(bin.Right); err != nil {
		return err
	}
	c.emit(bytecode.OpCompare, int(convComparisonOp(bin.Op)))
	return nil
}

func convComparisonOp(op ast.ComparisonOp) bytecode.ComparisonOp {
	switch op {
	case ast.Eq:
		return bytecode.Eq
	case ast.Neq:
		return bytecode.Neq
	case ast.Lt:
		return bytecode.Lt
	case ast.Lte:
		return bytecode.Lte
	case ast.Gt:
		return bytecode.Gt
	case ast.Gte:
		return bytecode.Gte
	default:
		return bytecode.Eq
	}
}

// lowerLogical lowers And/Or/Not. And/Or fold their operands pairwise with
// the binary And/Or instructions. This is the pure-eager strategy spec
// §4.3 explicitly permits in place of short-circuit jumps: the bytecode
// instruction set has no stack-duplication opcode, so a short-circuit
// encoding would need to re-lower the already-evaluated left operand's
// value rather than reuse it. Observable results are identical either way.
func (c *Compiler) lowerLogical(log *ast.Logical) error {
	switch log.Op {
	case ast.Not:
		if len(log.Operands) != 1 {
			return fmt.Errorf("compiler: Not takes exactly 1 operand, got %d", len(log.Operands))
		}
		if err := c.lowerExpr(log.Operands[0]); err != nil {
			return err
		}
		c.emit(bytecode.OpNot)
		return nil

	case ast.And, ast.Or:
		if len(log.Operands) < 2 {
			return fmt.Errorf("compiler: %s takes 2+ operands, got %d", log.Op, len(log.Operands))
		}
		if err := c.lowerExpr(log.Operands[0]); err != nil {
			return err
		}
		op := bytecode.OpAnd
		if log.Op == ast.Or {
			op = bytecode.OpOr
		}
		for _, operand := range log.Operands[1:] {
			if err := c.lowerExpr(operand); err != nil {
				return err
			}
			c.emit(op)
		}
		return nil

	default:
		return fmt.Errorf("compiler: unknown logical operator %s", log.Op)
	}
}

// lowerIn expands `e in [v1, ..., vN]` into the equivalent chained Or of
// `e == v1`, `e == v2`, ..., re-lowering e once per item.
func (c *Compiler) lowerIn(in *ast.In) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("compiler: In requires at least one item")
	}
	for i, item := range in.Items {
		if err := c.lowerExpr(in.Expr); err != nil {
			return err
		}
		if err := c.lowerExpr(item); err != nil {
			return err
		}
		c.emit(bytecode.OpCompare, int(bytecode.Eq))
		if i > 0 {
			c.emit(bytecode.OpOr)
		}
	}
	return nil
}

// aggregateBuiltinNames maps an Aggregate's function to the built-in name
// it lowers to a Call against, per the SPEC_FULL decision to wire
// aggregates through the same host-extensible registry as ordinary Calls.
var aggregateBuiltinNames = map[ast.AggregateFunc]string{
	ast.Count: "count",
	ast.Sum:   "sum",
	ast.Avg:   "avg",
	ast.Min:   "min",
	ast.Max:   "max",
}

func (c *Compiler) lowerAggregate(agg *ast.Aggregate) error {
	name, ok := aggregateBuiltinNames[agg.Func]
	if !ok {
		return &NotImplementedError{Feature: fmt.Sprintf("aggregate %s", agg.Func)}
	}
	id, err := builtins.Lookup(name)
	if err != nil {
		return &UnknownFunctionError{Err: err}
	}
	if err := c.lowerExpr(agg.Expr); err != nil {
		return err
	}
	c.emit(bytecode.OpCall, int(id), 1)
	return nil
}

func (c *Compiler) lowerCall(call *ast.Call) error {
	id, err := builtins.Lookup(call.Name)
	if err != nil {
		return &UnknownFunctionError{Err: err}
	}
	for _, arg := range call.Args {
		if err := c.lowerExpr(arg); err != nil {
			return err
		}
	}
	if len(call.Args) > 255 {
		return fmt.Errorf("compiler: call to %q has more than 255 arguments", call.Name)
	}
	c.emit(bytecode.OpCall, int(id), len(call.Args))
	return nil
}

// UnknownFunctionError adapts builtins.UnknownFunctionError
// into a distinct compiler-facing type, matching spec §4.3's own
// UnknownFunction compile error while keeping the registry's error as the
// wrapped cause.
type UnknownFunctionError struct {
	Err error
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("UnknownFunction: %s", e.Err)
}

func (e *UnknownFunctionError) Unwrap() error { return e.Err }
