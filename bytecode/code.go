// Package bytecode defines the predicate engine's instruction set and the
// CompiledPredicate it's packaged into, plus byte-level (de)serialization.
package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Opcode tags a single instruction.
type Opcode byte

const (
	OpLoadField Opcode = iota
	OpLoadConst
	OpCompare
	OpAnd
	OpOr
	OpNot
	OpJump
	OpJumpIfFalse
	OpCall
	OpReturn
)

// ComparisonOp is the operand of a Compare instruction.
type ComparisonOp byte

const (
	Eq ComparisonOp = iota
	Neq
	Lt
	Lte
	Gt
	Gte
)

func (op ComparisonOp) String() string {
	switch op {
	case Eq:
		return "=="
	case Neq:
		return "!="
	case Lt:
		return "<"
	case Lte:
		return "<="
	case Gt:
		return ">"
	case Gte:
		return ">="
	default:
		return "?"
	}
}

// OpCodeDefinition names an opcode and the byte width of each of its
// operands, in encoding order.
type OpCodeDefinition struct {
	Name          string
	OperandWidths []int
}

var definitions = map[Opcode]*OpCodeDefinition{
	OpLoadField:   {"LoadField", []int{2}},
	OpLoadConst:   {"LoadConst", []int{2}},
	OpCompare:     {"Compare", []int{1}},
	OpAnd:         {"And", []int{}},
	OpOr:          {"Or", []int{}},
	OpNot:         {"Not", []int{}},
	OpJump:        {"Jump", []int{2}},
	OpJumpIfFalse: {"JumpIfFalse", []int{2}},
	OpCall:        {"Call", []int{2, 1}},
	OpReturn:      {"Return", []int{1, 1}},
}

// Get looks up an opcode's definition.
func Get(op Opcode) (*OpCodeDefinition, error) {
	def, ok := definitions[op]
	if !ok {
		return nil, fmt.Errorf("bytecode: undefined opcode %d", op)
	}
	return def, nil
}

// Instructions is a flat, densely packed instruction stream.
type Instructions []byte

// Make encodes a single instruction (opcode plus big-endian operands) and
// returns its bytes. Operand widths of 1 or 2 bytes are supported, matching
// every instruction in definitions.
func Make(op Opcode, operands ...int) Instructions {
	def, err := Get(op)
	if err != nil {
		return Instructions{}
	}

	instructionLen := 1
	for _, w := range def.OperandWidths {
		instructionLen += w
	}

	instruction := make(Instructions, instructionLen)
	instruction[0] = byte(op)

	offset := 1
	for i, operand := range operands {
		width := def.OperandWidths[i]
		switch width {
		case 2:
			binary.BigEndian.PutUint16(instruction[offset:], uint16(operand))
		case 1:
			instruction[offset] = byte(operand)
		}
		offset += width
	}
	return instruction
}

// ReadUint16 decodes a big-endian u16 operand at offset.
func ReadUint16(ins Instructions, offset int) uint16 {
	return binary.BigEndian.Uint16(ins[offset:])
}

// ReadInt16 decodes a big-endian, two's-complement i16 operand at offset
// (used for Jump/JumpIfFalse deltas).
func ReadInt16(ins Instructions, offset int) int16 {
	return int16(binary.BigEndian.Uint16(ins[offset:]))
}

// instructionWidth returns the total byte length (opcode + operands) of the
// instruction at offset.
func instructionWidth(ins Instructions, offset int) (int, error) {
	def, err := Get(Opcode(ins[offset]))
	if err != nil {
		return 0, err
	}
	width := 1
	for _, w := range def.OperandWidths {
		width += w
	}
	return width, nil
}

// Disassemble renders ins as a human-readable listing, one instruction per
// line, prefixed by its byte offset.
func Disassemble(ins Instructions) string {
	out := ""
	offset := 0
	for offset < len(ins) {
		def, err := Get(Opcode(ins[offset]))
		if err != nil {
			out += fmt.Sprintf("%04d ERROR: %s\n", offset, err)
			offset++
			continue
		}

		operandStrs := ""
		pos := offset + 1
		for _, w := range def.OperandWidths {
			switch w {
			case 2:
				operandStrs += fmt.Sprintf(" %d", ReadUint16(ins, pos))
			case 1:
				operandStrs += fmt.Sprintf(" %d", ins[pos])
			}
			pos += w
		}
		out += fmt.Sprintf("%04d %s%s\n", offset, def.Name, operandStrs)

		width, err := instructionWidth(ins, offset)
		if err != nil {
			break
		}
		offset += width
	}
	return out
}
