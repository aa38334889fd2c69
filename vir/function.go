package vir

import (
	"go/token"
)

// Program is a set of datatypes and functions that have passed type and mode
// checking.
type Program struct {
	Datatypes []*Datatype
	Functions []*Function
}

// Function returns the function with the given name, or nil.
func (p *Program) Function(name string) *Function {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Datatype returns the datatype with the given name, or nil.
func (p *Program) Datatype(name string) *Datatype {
	for _, dt := range p.Datatypes {
		if dt.Name == name {
			return dt
		}
	}
	return nil
}

// Function is a spec, proof, or exec function.
type Function struct {
	Name      string
	Span      token.Position
	Mode      Mode
	TypParams []string
	Params    []*Param
	Ret       *Param // nil for unit
	Requires  []Expr
	Ensures   []Expr
	Decreases []Expr
	Mask      *MaskSpec
	Body      Expr // nil for bodyless functions

	// Inline marks spec functions whose calls are replaced by their body.
	Inline bool
}

// Param is a function parameter or named return value.
type Param struct {
	Name    string
	Typ     Typ
	Mode    Mode
	Mutable bool
}

// MaskKind selects how a mask is interpreted.
type MaskKind int

// Mask kinds.
const (
	MaskOpens MaskKind = iota
	MaskOpensExcept
)

// MaskSpec lists the invariants a function may open.
type MaskSpec struct {
	Kind  MaskKind
	Exprs []Expr
}

// Datatype is a user-defined algebraic datatype.
type Datatype struct {
	Name      string
	Span      token.Position
	TypParams []string
	Variants  []*Variant
}

// Variant returns the variant with the given name. An empty name selects the
// only variant of a single-variant datatype.
func (dt *Datatype) Variant(name string) *Variant {
	if name == "" && len(dt.Variants) == 1 {
		return dt.Variants[0]
	}
	for _, v := range dt.Variants {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Variant is one constructor of a datatype.
type Variant struct {
	Name   string
	Fields []*Binder
}

// Field returns the field with the given name, or nil.
func (v *Variant) Field(name string) *Binder {
	for _, f := range v.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// UnitDatatype is the built-in zero-element tuple.
var UnitDatatype = &Datatype{
	Name:     UnitName,
	Variants: []*Variant{{Name: UnitName}},
}
