// internal/script/stackvm/opcodes.go
package stackvm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Op is a one-byte opcode. Operands follow inline: none, one byte, or a
// big-endian uint16.
type Op byte

const (
	OpNop Op = iota

	// Constants.
	OpLoadConst // u16 constant index
	OpLoadSmallInt0
	OpLoadSmallInt1
	OpLoadSmallInt2
	OpLoadSmallInt3
	OpLoadSmallInt4
	OpLoadSmallInt5
	OpLoadSmallInt6
	OpLoadSmallInt7
	OpLoadMinusOne
	OpLoadInt8 // i8
	OpLoadUndefined
	OpLoadNull
	OpLoadTrue
	OpLoadFalse

	// Variables.
	OpGetLocal // u8 slot
	OpSetLocal // u8 slot; leaves the value
	OpGetLocal0
	OpGetLocal1
	OpSetLocal0
	OpSetLocal1
	OpGetUpvalue   // u8
	OpSetUpvalue   // u8
	OpCloseUpvalue // u8 slot
	OpGetGlobal    // u16 site
	OpSetGlobal    // u16 site
	OpTypeofGlobal // u16 site
	OpDeclareGlobal
	OpThis
	OpCallee

	// Arithmetic.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpExp
	OpNeg
	OpPlus
	OpBitNot
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpUShr
	OpInc
	OpDec

	// Comparison and tests.
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe
	OpStrictEq
	OpStrictNe
	OpInstanceOf
	OpIn
	OpNot
	OpTypeof

	// Control.
	OpJump             // u16 target
	OpJumpIfTrue       // u16 target; pops
	OpJumpIfFalse      // u16 target; pops
	OpJumpIfTrueKeep   // u16 target; pops only when not taken
	OpJumpIfFalseKeep  // u16 target; pops only when not taken
	OpJumpIfNonNullish // u16 target; pops only when not taken

	// Stack shuffles.
	OpPop
	OpDup
	OpDup2
	OpSwap
	OpRot3
	OpRot4

	// Objects.
	OpNewObject
	OpNewArray       // u16 element count
	OpDefineField    // u16 site
	OpGetProperty    // u16 site
	OpSetProperty    // u16 site
	OpGetIndex
	OpSetIndex
	OpDeleteProperty // u16 site
	OpDeleteIndex
	OpGetPrototype
	OpSetPrototype

	// Functions.
	OpClosure // u16 prototype index
	OpCall    // u8 argument count
	OpNew     // u8 argument count
	OpReturn

	// Exceptions.
	OpTryStart // u16 catch target
	OpTryEnd
	OpThrow

	opCount
)

// LoadZero and LoadOne name the first two small-integer loads.
const (
	OpLoadZero = OpLoadSmallInt0
	OpLoadOne  = OpLoadSmallInt1
)

var opNames = [opCount]string{
	OpNop: "Nop", OpLoadConst: "LoadConst",
	OpLoadSmallInt0: "LoadSmallInt0", OpLoadSmallInt1: "LoadSmallInt1", OpLoadSmallInt2: "LoadSmallInt2",
	OpLoadSmallInt3: "LoadSmallInt3", OpLoadSmallInt4: "LoadSmallInt4", OpLoadSmallInt5: "LoadSmallInt5",
	OpLoadSmallInt6: "LoadSmallInt6", OpLoadSmallInt7: "LoadSmallInt7",
	OpLoadMinusOne: "LoadMinusOne", OpLoadInt8: "LoadInt8", OpLoadUndefined: "LoadUndefined",
	OpLoadNull: "LoadNull", OpLoadTrue: "LoadTrue", OpLoadFalse: "LoadFalse",
	OpGetLocal: "GetLocal", OpSetLocal: "SetLocal", OpGetLocal0: "GetLocal0", OpGetLocal1: "GetLocal1",
	OpSetLocal0: "SetLocal0", OpSetLocal1: "SetLocal1", OpGetUpvalue: "GetUpvalue", OpSetUpvalue: "SetUpvalue",
	OpCloseUpvalue: "CloseUpvalue", OpGetGlobal: "GetGlobal", OpSetGlobal: "SetGlobal",
	OpTypeofGlobal: "TypeofGlobal", OpDeclareGlobal: "DeclareGlobal", OpThis: "This", OpCallee: "Callee",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod", OpExp: "Exp", OpNeg: "Neg",
	OpPlus: "Plus", OpBitNot: "BitNot", OpBitAnd: "BitAnd", OpBitOr: "BitOr", OpBitXor: "BitXor",
	OpShl: "Shl", OpShr: "Shr", OpUShr: "UShr", OpInc: "Inc", OpDec: "Dec",
	OpLt: "Lt", OpLe: "Le", OpGt: "Gt", OpGe: "Ge", OpEq: "Eq", OpNe: "Ne", OpStrictEq: "StrictEq",
	OpStrictNe: "StrictNe", OpInstanceOf: "InstanceOf", OpIn: "In", OpNot: "Not", OpTypeof: "Typeof",
	OpJump: "Jump", OpJumpIfTrue: "JumpIfTrue", OpJumpIfFalse: "JumpIfFalse",
	OpJumpIfTrueKeep: "JumpIfTrueKeep", OpJumpIfFalseKeep: "JumpIfFalseKeep",
	OpJumpIfNonNullish: "JumpIfNonNullish",
	OpPop: "Pop", OpDup: "Dup", OpDup2: "Dup2", OpSwap: "Swap", OpRot3: "Rot3", OpRot4: "Rot4",
	OpNewObject: "NewObject", OpNewArray: "NewArray", OpDefineField: "DefineField",
	OpGetProperty: "GetProperty", OpSetProperty: "SetProperty", OpGetIndex: "GetIndex",
	OpSetIndex: "SetIndex", OpDeleteProperty: "DeleteProperty", OpDeleteIndex: "DeleteIndex",
	OpGetPrototype: "GetPrototype", OpSetPrototype: "SetPrototype",
	OpClosure: "Closure", OpCall: "Call", OpNew: "New", OpReturn: "Return",
	OpTryStart: "TryStart", OpTryEnd: "TryEnd", OpThrow: "Throw",
}

func (op Op) String() string {
	if op < opCount && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", byte(op))
}

// OperandWidth is the number of operand bytes following op.
func (op Op) OperandWidth() int {
	switch op {
	case OpLoadConst, OpGetGlobal, OpSetGlobal, OpTypeofGlobal, OpDeclareGlobal,
		OpJump, OpJumpIfTrue, OpJumpIfFalse, OpJumpIfTrueKeep, OpJumpIfFalseKeep, OpJumpIfNonNullish,
		OpNewArray, OpDefineField, OpGetProperty, OpSetProperty, OpDeleteProperty,
		OpClosure, OpTryStart:
		return 2
	case OpLoadInt8, OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCloseUpvalue, OpCall, OpNew:
		return 1
	}
	return 0
}

// Disassemble renders code one instruction per line.
func Disassemble(code []byte) string {
	var b strings.Builder
	for pc := 0; pc < len(code); {
		op := Op(code[pc])
		fmt.Fprintf(&b, "%04d %s", pc, op)
		switch w := op.OperandWidth(); {
		case pc+1+w > len(code):
			b.WriteString(" <truncated>\n")
			return b.String()
		case w == 2:
			fmt.Fprintf(&b, " %d", binary.BigEndian.Uint16(code[pc+1:]))
		case op == OpLoadInt8:
			fmt.Fprintf(&b, " %d", int8(code[pc+1]))
		case w == 1:
			fmt.Fprintf(&b, " %d", code[pc+1])
		}
		b.WriteByte('\n')
		pc += 1 + op.OperandWidth()
	}
	return b.String()
}

// Ops lists the opcodes of code in order, without operands.
func Ops(code []byte) []Op {
	var ops []Op
	for pc := 0; pc < len(code); pc += 1 + Op(code[pc]).OperandWidth() {
		ops = append(ops, Op(code[pc]))
	}
	return ops
}
