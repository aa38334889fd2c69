package vir

import (
	"fmt"
	"math/big"
	"strings"
)

// Mode is the verification mode of a function, parameter, or declaration.
type Mode int

// Modes.
const (
	Spec Mode = iota
	Proof
	Exec
)

var modes = [...]string{
	Spec:  "spec",
	Proof: "proof",
	Exec:  "exec",
}

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m >= 0 && int(m) < len(modes) {
		return modes[m]
	}
	return fmt.Sprintf("Mode<%d>", m)
}

// ParseMode returns the mode named by s.
func ParseMode(s string) (Mode, error) {
	for i, name := range modes {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("invalid mode: %q", s)
}

// Typ represents the type of an expression.
type Typ interface {
	typ()
	String() string
}

func (*BoolTyp) typ()     {}
func (*IntTyp) typ()      {}
func (*DatatypeTyp) typ() {}
func (*TypParam) typ()    {}
func (*LambdaTyp) typ()   {}
func (*ClosureTyp) typ()  {}

// Common types.
var (
	Bool = &BoolTyp{}
	Int  = &IntTyp{Range: IntRangeInt}
	Nat  = &IntTyp{Range: IntRangeNat}
	Unit = &DatatypeTyp{Name: UnitName}
)

// UnitName is the datatype name of the zero-element tuple.
const UnitName = "tuple%0"

// BoolTyp is the boolean type.
type BoolTyp struct{}

func (*BoolTyp) String() string { return "bool" }

// IntTyp is a mathematical or machine integer type.
type IntTyp struct {
	Range IntRange
}

func (t *IntTyp) String() string { return t.Range.String() }

// DatatypeTyp is an instantiation of a user datatype. The unit type is the
// datatype named UnitName.
type DatatypeTyp struct {
	Name string
	Args []Typ
}

func (t *DatatypeTyp) String() string {
	if t.Name == UnitName {
		return "()"
	} else if len(t.Args) == 0 {
		return t.Name
	}
	return t.Name + "<" + joinTyps(t.Args, ", ") + ">"
}

// TypParam is a reference to a function or datatype type parameter.
type TypParam struct {
	Name string
}

func (t *TypParam) String() string { return t.Name }

// LambdaTyp is the type of a spec function value.
type LambdaTyp struct {
	Params []Typ
	Ret    Typ
}

func (t *LambdaTyp) String() string {
	return "spec_fn(" + joinTyps(t.Params, ", ") + ") -> " + t.Ret.String()
}

// ClosureTyp is the type of an executable closure value.
type ClosureTyp struct {
	Params []Typ
	Ret    Typ
}

func (t *ClosureTyp) String() string {
	return "fn(" + joinTyps(t.Params, ", ") + ") -> " + t.Ret.String()
}

func joinTyps(a []Typ, sep string) string {
	s := make([]string, len(a))
	for i := range a {
		s[i] = a[i].String()
	}
	return strings.Join(s, sep)
}

// IsUnit returns true if t is the unit type.
func IsUnit(t Typ) bool {
	dt, ok := t.(*DatatypeTyp)
	return ok && dt.Name == UnitName
}

// IsBool returns true if t is the boolean type.
func IsBool(t Typ) bool {
	_, ok := t.(*BoolTyp)
	return ok
}

// TypEqual returns true if a and b denote the same type.
func TypEqual(a, b Typ) bool {
	switch a := a.(type) {
	case *BoolTyp:
		_, ok := b.(*BoolTyp)
		return ok
	case *IntTyp:
		b, ok := b.(*IntTyp)
		return ok && a.Range == b.Range
	case *DatatypeTyp:
		b, ok := b.(*DatatypeTyp)
		return ok && a.Name == b.Name && typsEqual(a.Args, b.Args)
	case *TypParam:
		b, ok := b.(*TypParam)
		return ok && a.Name == b.Name
	case *LambdaTyp:
		b, ok := b.(*LambdaTyp)
		return ok && typsEqual(a.Params, b.Params) && TypEqual(a.Ret, b.Ret)
	case *ClosureTyp:
		b, ok := b.(*ClosureTyp)
		return ok && typsEqual(a.Params, b.Params) && TypEqual(a.Ret, b.Ret)
	default:
		return false
	}
}

func typsEqual(a, b []Typ) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !TypEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// SubstTyp replaces type parameters in t using m. Parameters missing from m
// are left in place.
func SubstTyp(t Typ, m map[string]Typ) Typ {
	if len(m) == 0 {
		return t
	}
	switch t := t.(type) {
	case *TypParam:
		if other, ok := m[t.Name]; ok {
			return other
		}
		return t
	case *DatatypeTyp:
		if len(t.Args) == 0 {
			return t
		}
		return &DatatypeTyp{Name: t.Name, Args: SubstTyps(t.Args, m)}
	case *LambdaTyp:
		return &LambdaTyp{Params: SubstTyps(t.Params, m), Ret: SubstTyp(t.Ret, m)}
	case *ClosureTyp:
		return &ClosureTyp{Params: SubstTyps(t.Params, m), Ret: SubstTyp(t.Ret, m)}
	default:
		return t
	}
}

// SubstTyps applies SubstTyp to each element of a.
func SubstTyps(a []Typ, m map[string]Typ) []Typ {
	if a == nil {
		return nil
	}
	other := make([]Typ, len(a))
	for i := range a {
		other[i] = SubstTyp(a[i], m)
	}
	return other
}

// IntRange is the range of values of an integer type.
type IntRange int

// Integer ranges. USize and ISize are 64 bits wide.
const (
	IntRangeInt IntRange = iota
	IntRangeNat
	IntRangeU8
	IntRangeU16
	IntRangeU32
	IntRangeU64
	IntRangeU128
	IntRangeUSize
	IntRangeI8
	IntRangeI16
	IntRangeI32
	IntRangeI64
	IntRangeI128
	IntRangeISize
)

var intRanges = [...]string{
	IntRangeInt:   "int",
	IntRangeNat:   "nat",
	IntRangeU8:    "u8",
	IntRangeU16:   "u16",
	IntRangeU32:   "u32",
	IntRangeU64:   "u64",
	IntRangeU128:  "u128",
	IntRangeUSize: "usize",
	IntRangeI8:    "i8",
	IntRangeI16:   "i16",
	IntRangeI32:   "i32",
	IntRangeI64:   "i64",
	IntRangeI128:  "i128",
	IntRangeISize: "isize",
}

// String returns the source name of the range.
func (r IntRange) String() string {
	if r >= 0 && int(r) < len(intRanges) {
		return intRanges[r]
	}
	return fmt.Sprintf("IntRange<%d>", r)
}

// Bits returns the bit width of a machine integer range, or zero.
func (r IntRange) Bits() int {
	switch r {
	case IntRangeU8, IntRangeI8:
		return 8
	case IntRangeU16, IntRangeI16:
		return 16
	case IntRangeU32, IntRangeI32:
		return 32
	case IntRangeU64, IntRangeI64, IntRangeUSize, IntRangeISize:
		return 64
	case IntRangeU128, IntRangeI128:
		return 128
	default:
		return 0
	}
}

// Signed returns true for signed machine integers.
func (r IntRange) Signed() bool {
	return r >= IntRangeI8 && r <= IntRangeISize
}

// Bounded returns true if the range is finite.
func (r IntRange) Bounded() bool { return r.Bits() > 0 }

// Bounds returns the inclusive bounds of the range. A nil bound is unbounded.
func (r IntRange) Bounds() (lo, hi *big.Int) {
	switch {
	case r == IntRangeInt:
		return nil, nil
	case r == IntRangeNat:
		return big.NewInt(0), nil
	case r.Signed():
		bits := uint(r.Bits() - 1)
		hi = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits), big.NewInt(1))
		lo = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), bits))
		return lo, hi
	default:
		bits := uint(r.Bits())
		return big.NewInt(0), new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits), big.NewInt(1))
	}
}

// ParseIntRange returns the range named by s.
func ParseIntRange(s string) (IntRange, bool) {
	for i, name := range intRanges {
		if name == s {
			return IntRange(i), true
		}
	}
	return 0, false
}
