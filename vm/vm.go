// Package vm implements the predicate engine's stack interpreter: it
// executes one of a CompiledPredicate's two programs (Triggers or
// Requires) against an EvaluationContext, producing a Bool verdict or a
// runtime error. Execution is deterministic and allocates nothing
// observable outside the call; no clock, random source, or I/O is read.
package vm

import (
	"fmt"

	"ipe/builtins"
	"ipe/bytecode"
	"ipe/rar"
	"ipe/value"
)

// EvaluateTriggers runs cp's Triggers program against ctx.
func EvaluateTriggers(cp *bytecode.CompiledPredicate, ctx *rar.EvaluationContext, registry *builtins.Registry) (bool, error) {
	return run(cp.Triggers, cp, ctx, registry)
}

// EvaluateRequires runs cp's Requires program against ctx. Callers must not
// invoke this for a predicate compiled from a Denies clause (cp.Requires is
// empty in that case); the engine instead uses cp.DenyReason directly.
func EvaluateRequires(cp *bytecode.CompiledPredicate, ctx *rar.EvaluationContext, registry *builtins.Registry) (bool, error) {
	return run(cp.Requires, cp, ctx, registry)
}

// run is the shared fetch-decode-execute loop (spec §4.4). pc starts at 0
// and advances by each instruction's total width; Return exits the loop.
func run(code bytecode.Instructions, cp *bytecode.CompiledPredicate, ctx *rar.EvaluationContext, registry *builtins.Registry) (bool, error) {
	st := newStack()
	pc := 0

	for pc < len(code) {
		op := bytecode.Opcode(code[pc])

		switch op {
		case bytecode.OpLoadField:
			off := bytecode.ReadUint16(code, pc+1)
			path, err := cp.Fields.Path(off)
			if err != nil {
				return false, &InvalidFieldError{Offset: int(off)}
			}
			v, err := ctx.Resolve(path)
			if err != nil {
				return false, err
			}
			if err := st.push(v); err != nil {
				return false, err
			}
			pc += width(op)

		case bytecode.OpLoadConst:
			idx := bytecode.ReadUint16(code, pc+1)
			v, err := cp.Constants.Get(idx)
			if err != nil {
				return false, err
			}
			if err := st.push(v); err != nil {
				return false, err
			}
			pc += width(op)

		case bytecode.OpCompare:
			cmpOp := bytecode.ComparisonOp(code[pc+1])
			b, err := st.pop()
			if err != nil {
				return false, err
			}
			a, err := st.pop()
			if err != nil {
				return false, err
			}
			result, err := compareWith(cmpOp, a, b)
			if err != nil {
				return false, err
			}
			if err := st.push(value.Bool(result)); err != nil {
				return false, err
			}
			pc += width(op)

		case bytecode.OpAnd, bytecode.OpOr:
			b, err := st.pop()
			if err != nil {
				return false, err
			}
			a, err := st.pop()
			if err != nil {
				return false, err
			}
			aBool, err := value.IsTruthy(a)
			if err != nil {
				return false, err
			}
			bBool, err := value.IsTruthy(b)
			if err != nil {
				return false, err
			}
			result := aBool && bBool
			if op == bytecode.OpOr {
				result = aBool || bBool
			}
			if err := st.push(value.Bool(result)); err != nil {
				return false, err
			}
			pc += width(op)

		case bytecode.OpNot:
			a, err := st.pop()
			if err != nil {
				return false, err
			}
			aBool, err := value.IsTruthy(a)
			if err != nil {
				return false, err
			}
			if err := st.push(value.Bool(!aBool)); err != nil {
				return false, err
			}
			pc += width(op)

		case bytecode.OpJump:
			w := width(op)
			delta := int(bytecode.ReadInt16(code, pc+1))
			target := pc + w + delta
			if target < 0 || target > len(code) {
				return false, &InvalidJumpError{Target: target, Size: len(code)}
			}
			pc = target

		case bytecode.OpJumpIfFalse:
			w := width(op)
			delta := int(bytecode.ReadInt16(code, pc+1))
			v, err := st.pop()
			if err != nil {
				return false, err
			}
			truthy, err := value.IsTruthy(v)
			if err != nil {
				return false, err
			}
			if truthy {
				pc += w
				continue
			}
			target := pc + w + delta
			if target < 0 || target > len(code) {
				return false, &InvalidJumpError{Target: target, Size: len(code)}
			}
			pc = target

		case bytecode.OpCall:
			funcID := builtins.FuncID(bytecode.ReadUint16(code, pc+1))
			argc := int(code[pc+3])
			args := make([]value.Value, argc)
			for i := argc - 1; i >= 0; i-- {
				v, err := st.pop()
				if err != nil {
					return false, err
				}
				args[i] = v
			}
			result, err := registry.Call(funcID, args)
			if err != nil {
				return false, err
			}
			if err := st.push(result); err != nil {
				return false, err
			}
			pc += width(op)

		case bytecode.OpReturn:
			hasLiteral := code[pc+1]
			literalVal := code[pc+2]
			if hasLiteral != 0 {
				if st.len() != 0 {
					return false, &InvariantViolationError{Message: "residual stack on literal Return"}
				}
				return literalVal != 0, nil
			}
			v, err := st.pop()
			if err != nil {
				return false, err
			}
			if st.len() != 0 {
				return false, &InvariantViolationError{Message: "residual stack after Return"}
			}
			return value.IsTruthy(v)

		default:
			return false, &InvariantViolationError{Message: fmt.Sprintf("unknown opcode %d at pc %d", op, pc)}
		}
	}

	return false, &InvariantViolationError{Message: "fell off end of program without Return"}
}

func compareWith(op bytecode.ComparisonOp, a, b value.Value) (bool, error) {
	ord, err := value.Compare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case bytecode.Eq:
		return ord == value.Same, nil
	case bytecode.Neq:
		return ord != value.Same, nil
	case bytecode.Lt:
		return ord == value.Less, nil
	case bytecode.Lte:
		return ord != value.Greater, nil
	case bytecode.Gt:
		return ord == value.Greater, nil
	case bytecode.Gte:
		return ord != value.Less, nil
	default:
		return false, fmt.Errorf("vm: unknown comparison op %d", op)
	}
}

// width reports the total byte length (opcode + operands) of an
// instruction, used to advance pc and to compute Jump/JumpIfFalse targets
// relative to the instruction following the jump.
func width(op bytecode.Opcode) int {
	def, err := bytecode.Get(op)
	if err != nil {
		return 1
	}
	w := 1
	for _, x := range def.OperandWidths {
		w += x
	}
	return w
}
