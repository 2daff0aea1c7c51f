// internal/script/regvm/opcodes.go
package regvm

import (
	"fmt"
	"strings"
)

// Op is a register VM opcode.
type Op uint8

// Operand forms: A, B and C are registers of the current frame unless
// noted. Bx is the unsigned 16-bit field formed from B and C, sBx the
// signed one.
const (
	OpNop Op = iota

	OpLoadK     // A = K[Bx]
	OpLoadInt   // A = sBx
	OpLoadUndef // A = undefined
	OpLoadNull
	OpLoadTrue
	OpLoadFalse
	OpMove // A = B

	OpGetUpval     // A = upvalue[B]
	OpSetUpval     // upvalue[B] = A
	OpCloseUpval   // close the upvalue over register A
	OpGetGlobal    // A = global[site Bx]
	OpSetGlobal    // global[site Bx] = A
	OpTypeofGlobal // A = typeof global[site Bx], no ReferenceError
	OpDeclareGlobal
	OpThis   // A = this
	OpCallee // A = running function

	OpAdd // A = B + C
	OpSub
	OpMul
	OpDiv
	OpMod
	OpExp
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpUShr
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

	OpNeg // A = -B
	OpPlus
	OpNot
	OpBitNot
	OpTypeof
	OpInc
	OpDec

	OpJmp           // ip = Bx
	OpJmpIf         // if A: ip = Bx
	OpJmpIfNot      // if !A: ip = Bx
	OpJmpIfNotNullish

	OpNewObject   // A = {}
	OpNewArray    // A = [B .. B+C)
	OpArrayPush   // A.push(B)
	OpGetField    // A = B.name; site in the following OpExtra
	OpSetField    // A.name = B; site in the following OpExtra
	OpDefineField // A.name = B on a fresh literal
	OpDeleteField // A = delete B.name
	OpGetIndex    // A = B[C]
	OpSetIndex    // A[B] = C
	OpDeleteIndex // A = delete B[C]
	OpGetProto    // A = B.__proto__
	OpSetProto    // A.__proto__ = B
	OpExtra       // Bx operand of the preceding instruction

	OpClosure // A = closure(protos[Bx])
	OpCall    // A = A(A+2 .. A+2+B) with receiver A+1
	OpNew     // A = new A(A+2 .. A+2+B)
	OpReturn  // return A

	OpTryStart // on throw: A = exception, ip = Bx
	OpTryEnd
	OpThrow // throw A

	opCount
)

var opNames = [opCount]string{
	OpNop: "Nop", OpLoadK: "LoadK", OpLoadInt: "LoadInt", OpLoadUndef: "LoadUndef",
	OpLoadNull: "LoadNull", OpLoadTrue: "LoadTrue", OpLoadFalse: "LoadFalse", OpMove: "Move",
	OpGetUpval: "GetUpval", OpSetUpval: "SetUpval", OpCloseUpval: "CloseUpval",
	OpGetGlobal: "GetGlobal", OpSetGlobal: "SetGlobal", OpTypeofGlobal: "TypeofGlobal",
	OpDeclareGlobal: "DeclareGlobal", OpThis: "This", OpCallee: "Callee",
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod", OpExp: "Exp",
	OpBitAnd: "BitAnd", OpBitOr: "BitOr", OpBitXor: "BitXor", OpShl: "Shl", OpShr: "Shr", OpUShr: "UShr",
	OpLt: "Lt", OpLe: "Le", OpGt: "Gt", OpGe: "Ge", OpEq: "Eq", OpNe: "Ne",
	OpStrictEq: "StrictEq", OpStrictNe: "StrictNe", OpInstanceOf: "InstanceOf", OpIn: "In",
	OpNeg: "Neg", OpPlus: "Plus", OpNot: "Not", OpBitNot: "BitNot", OpTypeof: "Typeof",
	OpInc: "Inc", OpDec: "Dec",
	OpJmp: "Jmp", OpJmpIf: "JmpIf", OpJmpIfNot: "JmpIfNot", OpJmpIfNotNullish: "JmpIfNotNullish",
	OpNewObject: "NewObject", OpNewArray: "NewArray", OpArrayPush: "ArrayPush",
	OpGetField: "GetField", OpSetField: "SetField", OpDefineField: "DefineField", OpDeleteField: "DeleteField",
	OpGetIndex: "GetIndex", OpSetIndex: "SetIndex", OpDeleteIndex: "DeleteIndex",
	OpGetProto: "GetProto", OpSetProto: "SetProto", OpExtra: "Extra",
	OpClosure: "Closure", OpCall: "Call", OpNew: "New", OpReturn: "Return",
	OpTryStart: "TryStart", OpTryEnd: "TryEnd", OpThrow: "Throw",
}

func (o Op) String() string {
	if o < opCount && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Instr is one fixed-width instruction: opcode, A, B, C from the high
// byte down.
type Instr uint32

// ABC encodes a three-register instruction.
func ABC(op Op, a, b, c int) Instr {
	return Instr(op)<<24 | Instr(uint8(a))<<16 | Instr(uint8(b))<<8 | Instr(uint8(c))
}

// ABx encodes an instruction with an unsigned 16-bit operand.
func ABx(op Op, a, bx int) Instr {
	return Instr(op)<<24 | Instr(uint8(a))<<16 | Instr(uint16(bx))
}

// AsBx encodes an instruction with a signed 16-bit operand.
func AsBx(op Op, a, sbx int) Instr {
	return Instr(op)<<24 | Instr(uint8(a))<<16 | Instr(uint16(int16(sbx)))
}

func (i Instr) Op() Op   { return Op(i >> 24) }
func (i Instr) A() int   { return int(uint8(i >> 16)) }
func (i Instr) B() int   { return int(uint8(i >> 8)) }
func (i Instr) C() int   { return int(uint8(i)) }
func (i Instr) Bx() int  { return int(uint16(i)) }
func (i Instr) SBx() int { return int(int16(uint16(i))) }

func (i Instr) String() string {
	switch i.Op() {
	case OpLoadInt:
		return fmt.Sprintf("%-14s r%d %d", i.Op(), i.A(), i.SBx())
	case OpLoadK, OpGetGlobal, OpSetGlobal, OpTypeofGlobal, OpClosure, OpTryStart,
		OpJmpIf, OpJmpIfNot, OpJmpIfNotNullish:
		return fmt.Sprintf("%-14s r%d %d", i.Op(), i.A(), i.Bx())
	case OpJmp, OpExtra, OpDeclareGlobal:
		return fmt.Sprintf("%-14s %d", i.Op(), i.Bx())
	}
	return fmt.Sprintf("%-14s r%d r%d r%d", i.Op(), i.A(), i.B(), i.C())
}

// Disassemble renders code one instruction per line.
func Disassemble(code []Instr) string {
	var b strings.Builder
	for pc, in := range code {
		fmt.Fprintf(&b, "%04d  %s\n", pc, in)
	}
	return b.String()
}
