package bytecode

import (
	"fmt"

	"ipe/value"
)

// FieldMap is the compile-time, bidirectional table binding small integer
// offsets to context attribute paths (dotted segment lists). Only LoadField
// consults it at runtime.
type FieldMap struct {
	paths [][]string
}

// NewFieldMap constructs an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{}
}

// Offset returns the offset for path, allocating the next unused offset on
// first occurrence. Subsequent calls with an element-wise-equal path reuse
// the same offset.
func (m *FieldMap) Offset(path []string) uint16 {
	for i, p := range m.paths {
		if pathsEqual(p, path) {
			return uint16(i)
		}
	}
	m.paths = append(m.paths, append([]string(nil), path...))
	return uint16(len(m.paths) - 1)
}

// Path returns the path bound to offset.
func (m *FieldMap) Path(offset uint16) ([]string, error) {
	if int(offset) >= len(m.paths) {
		return nil, fmt.Errorf("bytecode: field offset %d out of range (size %d)", offset, len(m.paths))
	}
	return m.paths[offset], nil
}

// Len reports the number of distinct paths registered.
func (m *FieldMap) Len() int { return len(m.paths) }

func pathsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ConstantPool is the compile-time, deduplicated table of constant Values a
// CompiledPredicate's LoadConst instructions index into.
type ConstantPool struct {
	values []value.Value
}

// Index returns the index of v, appending it (deduplicated by structural
// equality) if it hasn't been seen yet.
func (p *ConstantPool) Index(v value.Value) uint16 {
	for i, existing := range p.values {
		if value.Equal(existing, v) && existing.Kind() == v.Kind() {
			return uint16(i)
		}
	}
	p.values = append(p.values, v)
	return uint16(len(p.values) - 1)
}

// Get returns the constant at idx.
func (p *ConstantPool) Get(idx uint16) (value.Value, error) {
	if int(idx) >= len(p.values) {
		return value.Value{}, fmt.Errorf("bytecode: constant index %d out of range (pool size %d)", idx, len(p.values))
	}
	return p.values[idx], nil
}

// Len reports the number of distinct constants registered.
func (p *ConstantPool) Len() int { return len(p.values) }

// Values exposes the backing slice, read-only by convention.
func (p *ConstantPool) Values() []value.Value { return p.values }

// CompiledPredicate is the immutable artifact the compiler produces: a
// stable name, an instruction stream, a constant pool and a field map. Once
// constructed it is never mutated.
type CompiledPredicate struct {
	Name      string
	Triggers  Instructions
	Requires  Instructions
	Constants *ConstantPool
	Fields    *FieldMap
	// DenyReason is carried as metadata, not bytecode, per the compiler's
	// lowering rule for a bare Denies clause.
	DenyReason string
}

// InvariantViolationError reports a CompiledPredicate that fails one of the
// structural invariants every well-formed program must satisfy.
type InvariantViolationError struct {
	Message string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("InvariantViolation: %s", e.Message)
}

// Validate checks every structural invariant: jump targets stay within
// bounds, LoadConst/LoadField operands stay within their tables' sizes, and
// each non-empty program ends in a Return on every path reachable by a
// linear scan (the compiler never emits unreachable code, so a linear scan
// suffices). An empty Requires, the shape a Denies predicate compiles to,
// is accepted without checks.
func (cp *CompiledPredicate) Validate() error {
	if err := validateProgram(cp.Triggers, cp.Constants, cp.Fields); err != nil {
		return err
	}
	if len(cp.Requires) > 0 {
		if err := validateProgram(cp.Requires, cp.Constants, cp.Fields); err != nil {
			return err
		}
	}
	return nil
}

func validateProgram(ins Instructions, constants *ConstantPool, fields *FieldMap) error {
	offset := 0
	lastOp := Opcode(0)
	sawAny := false
	for offset < len(ins) {
		op := Opcode(ins[offset])
		sawAny = true
		lastOp = op
		if _, err := Get(op); err != nil {
			return &InvariantViolationError{Message: err.Error()}
		}

		switch op {
		case OpLoadConst:
			idx := ReadUint16(ins, offset+1)
			if int(idx) >= constants.Len() {
				return &InvariantViolationError{Message: fmt.Sprintf("LoadConst idx %d exceeds constant pool length %d", idx, constants.Len())}
			}
		case OpLoadField:
			off := ReadUint16(ins, offset+1)
			if int(off) >= fields.Len() {
				return &InvariantViolationError{Message: fmt.Sprintf("LoadField offset %d exceeds field map size %d", off, fields.Len())}
			}
		case OpJump, OpJumpIfFalse:
			delta := int(ReadInt16(ins, offset+1))
			width, _ := instructionWidth(ins, offset)
			target := offset + width + delta
			if target < 0 || target > len(ins) {
				return &InvariantViolationError{Message: fmt.Sprintf("jump target %d out of bounds [0,%d]", target, len(ins))}
			}
		}

		width, err := instructionWidth(ins, offset)
		if err != nil {
			return &InvariantViolationError{Message: err.Error()}
		}
		offset += width
	}

	if sawAny && lastOp != OpReturn {
		return &InvariantViolationError{Message: "last instruction on every control path must be Return"}
	}
	return nil
}
