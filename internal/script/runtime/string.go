// internal/script/runtime/string.go
package runtime

import (
	"slices"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func toUnits(s string) []uint16 {
	if isASCII(s) {
		u := make([]uint16, len(s))
		for i := range len(s) {
			u[i] = uint16(s[i])
		}
		return u
	}
	return utf16.Encode([]rune(s))
}

func fromUnits(u []uint16) string { return string(utf16.Decode(u)) }

func indexUnits(hay, needle []uint16, from int) int {
	for i := max(from, 0); i+len(needle) <= len(hay); i++ {
		if slices.Equal(hay[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func (r *Realm) thisString(this Value, method string) (string, error) {
	if this.kind == KindString {
		return r.GoString(this), nil
	}
	if this.IsNullish() {
		return "", r.ThrowTypeError("String.prototype.%s called on null or undefined", method)
	}
	return r.ToString(this)
}

// stringArg converts an argument, treating undefined as "undefined".
func (r *Realm) stringArg(args []Value, i int) (string, error) {
	return r.ToString(argAt(args, i))
}

type stringMethod func(r *Realm, s string, args []Value) (Value, error)

func (r *Realm) installString() {
	ctor := r.defineCtor("String", 1, r.StringProto, func(r *Realm, _ Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return r.Str(""), nil
		}
		s, err := r.ToString(args[0])
		return r.Str(s), err
	}, nil)
	r.defineMethod(r.funcProps(ctor.Function()), "fromCharCode", 1, func(r *Realm, _ Value, args []Value) (Value, error) {
		u := make([]uint16, len(args))
		for i, a := range args {
			u[i] = uint16(ToUint32(r.ToNumber(a)))
		}
		return r.Str(fromUnits(u)), nil
	})

	methods := map[string]stringMethod{
		"toString": func(r *Realm, s string, _ []Value) (Value, error) { return r.Str(s), nil },
		"valueOf":  func(r *Realm, s string, _ []Value) (Value, error) { return r.Str(s), nil },
		"charAt": func(r *Realm, s string, args []Value) (Value, error) {
			u := toUnits(s)
			i := int(ToIntegerOrInfinity(r.ToNumber(argAt(args, 0))))
			if i < 0 || i >= len(u) {
				return r.Str(""), nil
			}
			return r.Str(fromUnits(u[i : i+1])), nil
		},
		"charCodeAt": func(r *Realm, s string, args []Value) (Value, error) {
			u := toUnits(s)
			i := int(ToIntegerOrInfinity(r.ToNumber(argAt(args, 0))))
			if i < 0 || i >= len(u) {
				return NaN, nil
			}
			return Number(float64(u[i])), nil
		},
		"at": func(r *Realm, s string, args []Value) (Value, error) {
			u := toUnits(s)
			i := int(ToIntegerOrInfinity(r.ToNumber(argAt(args, 0))))
			if i < 0 {
				i += len(u)
			}
			if i < 0 || i >= len(u) {
				return Undefined, nil
			}
			return r.Str(fromUnits(u[i : i+1])), nil
		},
		"indexOf": func(r *Realm, s string, args []Value) (Value, error) {
			needle, err := r.stringArg(args, 0)
			if err != nil {
				return Undefined, err
			}
			u := toUnits(s)
			from := r.relIndex(argAt(args, 1), len(u), 0)
			if argAt(args, 1).IsNumber() && argAt(args, 1).num < 0 {
				from = 0
			}
			return Number(float64(indexUnits(u, toUnits(needle), from))), nil
		},
		"lastIndexOf": func(r *Realm, s string, args []Value) (Value, error) {
			needle, err := r.stringArg(args, 0)
			if err != nil {
				return Undefined, err
			}
			u, n := toUnits(s), toUnits(needle)
			for i := len(u) - len(n); i >= 0; i-- {
				if slices.Equal(u[i:i+len(n)], n) {
					return Number(float64(i)), nil
				}
			}
			return Number(-1), nil
		},
		"includes": func(r *Realm, s string, args []Value) (Value, error) {
			needle, err := r.stringArg(args, 0)
			return Bool(strings.Contains(s, needle)), err
		},
		"startsWith": func(r *Realm, s string, args []Value) (Value, error) {
			needle, err := r.stringArg(args, 0)
			if err != nil {
				return Undefined, err
			}
			u := toUnits(s)
			from := r.relIndex(argAt(args, 1), len(u), 0)
			return Bool(slices.Equal(u[from:min(from+len(toUnits(needle)), len(u))], toUnits(needle))), nil
		},
		"endsWith": func(r *Realm, s string, args []Value) (Value, error) {
			needle, err := r.stringArg(args, 0)
			return Bool(strings.HasSuffix(s, needle)), err
		},
		"slice": func(r *Realm, s string, args []Value) (Value, error) {
			u := toUnits(s)
			start := r.relIndex(argAt(args, 0), len(u), 0)
			end := r.relIndex(argAt(args, 1), len(u), len(u))
			if end < start {
				return r.Str(""), nil
			}
			return r.Str(fromUnits(u[start:end])), nil
		},
		"substring": func(r *Realm, s string, args []Value) (Value, error) {
			u := toUnits(s)
			clamp := func(v Value, def int) int {
				if v.IsUndefined() {
					return def
				}
				f := ToIntegerOrInfinity(r.ToNumber(v))
				return int(min(max(f, 0), float64(len(u))))
			}
			start, end := clamp(argAt(args, 0), 0), clamp(argAt(args, 1), len(u))
			if start > end {
				start, end = end, start
			}
			return r.Str(fromUnits(u[start:end])), nil
		},
		"toUpperCase": func(r *Realm, s string, _ []Value) (Value, error) { return r.Str(cases.Upper(language.Und).String(s)), nil },
		"toLowerCase": func(r *Realm, s string, _ []Value) (Value, error) { return r.Str(cases.Lower(language.Und).String(s)), nil },
		"trim": func(r *Realm, s string, _ []Value) (Value, error) {
			return r.Str(strings.TrimFunc(s, isJSSpace)), nil
		},
		"trimStart": func(r *Realm, s string, _ []Value) (Value, error) {
			return r.Str(strings.TrimLeftFunc(s, isJSSpace)), nil
		},
		"trimEnd": func(r *Realm, s string, _ []Value) (Value, error) {
			return r.Str(strings.TrimRightFunc(s, isJSSpace)), nil
		},
		"split": func(r *Realm, s string, args []Value) (Value, error) {
			limit := maxArrayLength
			if l := argAt(args, 1); !l.IsUndefined() {
				limit = int(ToUint32(r.ToNumber(l)))
			}
			var parts []string
			switch sepV := argAt(args, 0); {
			case sepV.IsUndefined():
				parts = []string{s}
			default:
				sep, err := r.ToString(sepV)
				if err != nil {
					return Undefined, err
				}
				if sep == "" {
					for _, c := range toUnits(s) {
						parts = append(parts, fromUnits([]uint16{c}))
					}
				} else {
					parts = strings.Split(s, sep)
				}
			}
			if len(parts) > limit {
				parts = parts[:limit]
			}
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = r.Str(p)
			}
			return ArrayValue(r.NewArray(out)), nil
		},
		"replace": func(r *Realm, s string, args []Value) (Value, error) {
			return r.replace(s, args, 1)
		},
		"replaceAll": func(r *Realm, s string, args []Value) (Value, error) {
			return r.replace(s, args, -1)
		},
		"repeat": func(r *Realm, s string, args []Value) (Value, error) {
			n := ToIntegerOrInfinity(r.ToNumber(argAt(args, 0)))
			if n < 0 || float64(len(s))*n > maxArrayLength {
				return Undefined, r.ThrowError("RangeError", "Invalid count value: %s", FormatNumber(n))
			}
			return r.Str(strings.Repeat(s, int(n))), nil
		},
		"padStart": func(r *Realm, s string, args []Value) (Value, error) {
			return r.pad(s, args, true)
		},
		"padEnd": func(r *Realm, s string, args []Value) (Value, error) {
			return r.pad(s, args, false)
		},
		"concat": func(r *Realm, s string, args []Value) (Value, error) {
			var b strings.Builder
			b.WriteString(s)
			for _, a := range args {
				part, err := r.ToString(a)
				if err != nil {
					return Undefined, err
				}
				b.WriteString(part)
			}
			return r.Str(b.String()), nil
		},
	}
	for name, m := range methods {
		r.defineMethod(r.StringProto, name, 1, func(r *Realm, this Value, args []Value) (Value, error) {
			s, err := r.thisString(this, name)
			if err != nil {
				return Undefined, err
			}
			return m(r, s, args)
		})
	}
}

// replace substitutes up to n occurrences of a string pattern. The
// replacement may be a function or a template using $& and $$.
func (r *Realm) replace(s string, args []Value, n int) (Value, error) {
	pattern, err := r.stringArg(args, 0)
	if err != nil {
		return Undefined, err
	}
	repl := argAt(args, 1)
	var template string
	if repl.kind != KindFunction {
		if template, err = r.ToString(repl); err != nil {
			return Undefined, err
		}
	}
	var b strings.Builder
	rest, offset := s, 0
	for count := 0; n < 0 || count < n; count++ {
		i := strings.Index(rest, pattern)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		if repl.kind == KindFunction {
			pos := utf16Len(s[:offset+i])
			res, err := r.Call(repl, Undefined, []Value{r.Str(pattern), Number(float64(pos)), r.Str(s)})
			if err != nil {
				return Undefined, err
			}
			out, err := r.ToString(res)
			if err != nil {
				return Undefined, err
			}
			b.WriteString(out)
		} else {
			b.WriteString(strings.NewReplacer("$$", "$", "$&", pattern).Replace(template))
		}
		step := i + len(pattern)
		if pattern == "" {
			if i >= len(rest) {
				rest = ""
				break
			}
			_, size := utf8.DecodeRuneInString(rest[i:])
			b.WriteString(rest[i : i+size])
			step = i + size
		}
		rest, offset = rest[step:], offset+step
	}
	b.WriteString(rest)
	return r.Str(b.String()), nil
}

func (r *Realm) pad(s string, args []Value, start bool) (Value, error) {
	target := int(min(ToIntegerOrInfinity(r.ToNumber(argAt(args, 0))), maxArrayLength))
	filler := " "
	if f := argAt(args, 1); !f.IsUndefined() {
		var err error
		if filler, err = r.ToString(f); err != nil {
			return Undefined, err
		}
	}
	u := toUnits(s)
	if target <= len(u) || filler == "" {
		return r.Str(s), nil
	}
	fu := toUnits(filler)
	fill := make([]uint16, 0, target-len(u))
	for len(fill) < target-len(u) {
		fill = append(fill, fu[:min(len(fu), target-len(u)-len(fill))]...)
	}
	if start {
		return r.Str(fromUnits(append(fill, u...))), nil
	}
	return r.Str(fromUnits(append(u, fill...))), nil
}
