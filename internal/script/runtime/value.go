// internal/script/runtime/value.go
package runtime

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	}
	return "invalid"
}

type (
	ObjectID   uint32
	ArrayID    uint32
	FunctionID uint32
)

// Value is a tagged script value. Strings are atoms in the owning realm's
// pool; objects, arrays and functions are handles into its arenas.
type Value struct {
	kind Kind
	ref  uint32
	num  float64
}

var (
	Undefined = Value{}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBool, ref: 1}
	False     = Value{kind: KindBool}
	NaN       = Value{kind: KindNumber, num: math.NaN()}
)

func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func ObjectValue(id ObjectID) Value     { return Value{kind: KindObject, ref: uint32(id)} }
func ArrayValue(id ArrayID) Value       { return Value{kind: KindArray, ref: uint32(id)} }
func FunctionValue(id FunctionID) Value { return Value{kind: KindFunction, ref: uint32(id)} }

func (v Value) Kind() Kind          { return v.kind }
func (v Value) IsUndefined() bool   { return v.kind == KindUndefined }
func (v Value) IsNullish() bool     { return v.kind <= KindNull }
func (v Value) IsNumber() bool      { return v.kind == KindNumber }
func (v Value) IsString() bool      { return v.kind == KindString }
func (v Value) IsFunction() bool    { return v.kind == KindFunction }
func (v Value) Num() float64        { return v.num }
func (v Value) Truthy() bool        { return v.ref != 0 }
func (v Value) Object() ObjectID    { return ObjectID(v.ref) }
func (v Value) Array() ArrayID      { return ArrayID(v.ref) }
func (v Value) Function() FunctionID { return FunctionID(v.ref) }

// IsObjectLike reports whether v is an object, array or function.
func (v Value) IsObjectLike() bool { return v.kind >= KindObject }

// StrictEquals implements ===. Strings compare by atom.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindNumber {
		return a.num == b.num
	}
	return a.ref == b.ref
}

// SameValueZero is === except that NaN equals NaN.
func SameValueZero(a, b Value) bool {
	if a.kind == KindNumber && b.kind == KindNumber && a.num != a.num && b.num != b.num {
		return true
	}
	return StrictEquals(a, b)
}

// TypeOf returns the typeof string.
func TypeOf(v Value) string {
	switch v.kind {
	case KindNull, KindArray, KindObject:
		return "object"
	case KindBool:
		return "boolean"
	}
	return v.kind.String()
}

// FormatNumber renders f the way Number.prototype.toString does in base 10.
func FormatNumber(f float64) string {
	switch {
	case f != f:
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + string(sign) + exp
}

// ParseNumber converts a string the way ToNumber does.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9', c == '.', c == 'e', c == 'E', c == '+', c == '-':
		default:
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToInt32 wraps f to a signed 32-bit integer.
func ToInt32(f float64) int32 { return int32(ToUint32(f)) }

// ToUint32 wraps f to an unsigned 32-bit integer.
func ToUint32(f float64) uint32 {
	if f != f || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	return uint32(f)
}

// ToIntegerOrInfinity truncates f, mapping NaN to 0.
func ToIntegerOrInfinity(f float64) float64 {
	if f != f {
		return 0
	}
	return math.Trunc(f)
}

// arrayIndex parses a canonical array index such as "3".
func arrayIndex(s string) (int, bool) {
	if s == "" || len(s) > 10 || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, n < math.MaxUint32
}
