package vir

import (
	"go/constant"
	"go/token"
)

// Expr represents a node of the mode-checked input tree.
type Expr interface {
	expr()
	Pos() token.Position
	Type() Typ
}

func (*Const) expr()           {}
func (*Var) expr()             {}
func (*VarLoc) expr()          {}
func (*Field) expr()           {}
func (*Ctor) expr()            {}
func (*Unary) expr()           {}
func (*Binary) expr()          {}
func (*Call) expr()            {}
func (*CallLambda) expr()      {}
func (*CallClosure) expr()     {}
func (*ClosureReq) expr()      {}
func (*ClosureEns) expr()      {}
func (*Quant) expr()           {}
func (*Choose) expr()          {}
func (*Lambda) expr()          {}
func (*Closure) expr()         {}
func (*WithTriggers) expr()    {}
func (*Assign) expr()          {}
func (*If) expr()              {}
func (*Loop) expr()            {}
func (*Return) expr()          {}
func (*BreakOrContinue) expr() {}
func (*Block) expr()           {}
func (*AssertAssume) expr()    {}
func (*AssertBy) expr()        {}
func (*OpenInvariant) expr()   {}

// Info holds the source position and type shared by every expression.
type Info struct {
	Span token.Position
	Typ  Typ
}

// Pos returns the source position of the expression.
func (i *Info) Pos() token.Position { return i.Span }

// Type returns the type of the expression.
func (i *Info) Type() Typ { return i.Typ }

// Const is a boolean or integer literal.
type Const struct {
	Info
	Value constant.Value
}

// Var reads a variable.
type Var struct {
	Info
	Name string
}

// VarLoc names a variable as an assignment target.
type VarLoc struct {
	Info
	Name string
}

// Field projects a field of a datatype value. Variant may be empty for
// datatypes with a single variant.
type Field struct {
	Info
	Expr     Expr
	Datatype string
	Variant  string
	Field    string
}

// Ctor constructs a datatype value.
type Ctor struct {
	Info
	Datatype string
	Variant  string
	Fields   []*FieldInit
}

// FieldInit is a named constructor argument.
type FieldInit struct {
	Name string
	Expr Expr
}

// UnaryOp is a unary operator.
type UnaryOp int

// Unary operators.
const (
	Not UnaryOp = iota
	Clip
)

// Unary applies a unary operator. Clip casts Expr into Range, wrapping
// around when Truncate is set.
type Unary struct {
	Info
	Op       UnaryOp
	Expr     Expr
	Range    IntRange
	Truncate bool
}

// BinaryOp is a binary operator.
type BinaryOp int

// Binary operators.
const (
	And BinaryOp = iota
	Or
	Implies
	Eq
	Ne
	Le
	Lt
	Ge
	Gt
	Add
	Sub
	Mul
	EuclideanDiv
	EuclideanMod
)

var binaryOps = [...]string{
	And:          "and",
	Or:           "or",
	Implies:      "implies",
	Eq:           "eq",
	Ne:           "ne",
	Le:           "le",
	Lt:           "lt",
	Ge:           "ge",
	Gt:           "gt",
	Add:          "add",
	Sub:          "sub",
	Mul:          "mul",
	EuclideanDiv: "div",
	EuclideanMod: "mod",
}

// String returns the name of the operator.
func (op BinaryOp) String() string {
	if op >= 0 && int(op) < len(binaryOps) {
		return binaryOps[op]
	}
	return "BinaryOp<?>"
}

// IsShortCircuit returns true for boolean connectives that may skip their
// right operand.
func (op BinaryOp) IsShortCircuit() bool {
	return op == And || op == Or || op == Implies
}

// IsArith returns true for integer arithmetic operators.
func (op BinaryOp) IsArith() bool {
	return op >= Add && op <= EuclideanMod
}

// IsCompare returns true for comparison operators.
func (op BinaryOp) IsCompare() bool {
	return op >= Eq && op <= Gt
}

// ParseBinaryOp returns the operator named s.
func ParseBinaryOp(s string) (BinaryOp, bool) {
	for i, name := range binaryOps {
		if name == s {
			return BinaryOp(i), true
		}
	}
	return 0, false
}

// Binary applies a binary operator. Mode is the mode of the code performing
// arithmetic and decides whether overflow is checked.
type Binary struct {
	Info
	Op   BinaryOp
	LHS  Expr
	RHS  Expr
	Mode Mode
}

// Call calls a named function.
type Call struct {
	Info
	Fun     string
	TypArgs []Typ
	Args    []Expr
}

// CallLambda applies a spec function value.
type CallLambda struct {
	Info
	Fun  Expr
	Args []Expr
}

// CallClosure calls an executable closure value.
type CallClosure struct {
	Info
	Fun  Expr
	Args []Expr
}

// ClosureReq holds when Closure may be called with Args.
type ClosureReq struct {
	Info
	Closure Expr
	Args    []Expr
}

// ClosureEns holds when a call of Closure with Args may return Ret.
type ClosureEns struct {
	Info
	Closure Expr
	Args    []Expr
	Ret     Expr
}

// Binder is a typed variable introduced by a quantifier, lambda, or closure.
type Binder struct {
	Name string
	Typ  Typ
}

// QuantKind is forall or exists.
type QuantKind int

// Quantifier kinds.
const (
	Forall QuantKind = iota
	Exists
)

func (k QuantKind) String() string {
	if k == Exists {
		return "exists"
	}
	return "forall"
}

// Quant is a quantified boolean expression.
type Quant struct {
	Info
	Kind QuantKind
	Vars []*Binder
	Body Expr
}

// Choose picks values for Vars satisfying Cond and evaluates Body.
type Choose struct {
	Info
	Vars []*Binder
	Cond Expr
	Body Expr
}

// Lambda is a spec function value.
type Lambda struct {
	Info
	Params []*Binder
	Body   Expr
}

// Closure is an executable closure with a contract.
type Closure struct {
	Info
	Params   []*Binder
	Ret      *Binder
	Requires []Expr
	Ensures  []Expr
	Body     Expr
}

// WithTriggers attaches user-selected triggers to a quantifier body.
type WithTriggers struct {
	Info
	Triggers [][]Expr
	Body     Expr
}

// Assign stores RHS into LHS. InitNotMut marks the first assignment of an
// immutable variable declared without an initializer.
type Assign struct {
	Info
	LHS        Expr
	RHS        Expr
	InitNotMut bool
}

// If is a conditional. Else may be nil.
type If struct {
	Info
	Cond Expr
	Then Expr
	Else Expr
}

// InvariantKind tells where a loop invariant is known to hold.
type InvariantKind int

// Invariant kinds.
const (
	Invariant InvariantKind = iota
	Ensures
	InvariantEnsures
)

var invariantKinds = [...]string{
	Invariant:        "invariant",
	Ensures:          "ensures",
	InvariantEnsures: "invariant_ensures",
}

func (k InvariantKind) String() string {
	if k >= 0 && int(k) < len(invariantKinds) {
		return invariantKinds[k]
	}
	return "InvariantKind<?>"
}

// ParseInvariantKind returns the kind named s.
func ParseInvariantKind(s string) (InvariantKind, bool) {
	for i, name := range invariantKinds {
		if name == s {
			return InvariantKind(i), true
		}
	}
	return 0, false
}

// LoopInvariant is a loop invariant with its kind.
type LoopInvariant struct {
	Kind InvariantKind
	Expr Expr
}

// Loop is a while loop when Cond is set and an unconditional loop otherwise.
type Loop struct {
	Info
	Label      string
	Cond       Expr
	Body       Expr
	Invariants []*LoopInvariant
}

// Return exits the enclosing function or closure. Expr may be nil.
type Return struct {
	Info
	Expr Expr
}

// BreakOrContinue jumps out of or back to the head of a loop.
type BreakOrContinue struct {
	Info
	Label   string
	IsBreak bool
}

// Block is a statement sequence with an optional trailing value.
type Block struct {
	Info
	Stmts []Stmt
	Expr  Expr
}

// AssertAssume asserts or assumes a boolean expression.
type AssertAssume struct {
	Info
	IsAssume bool
	Expr     Expr
}

// AssertBy proves forall Vars. Require ==> Ensure using Proof.
type AssertBy struct {
	Info
	Vars    []*Binder
	Require Expr
	Ensure  Expr
	Proof   Expr
}

// OpenInvariant opens the invariant Inv, binding its contents to Binder for
// the duration of Body.
type OpenInvariant struct {
	Info
	Inv    Expr
	Binder *Binder
	Body   Expr
}

// Stmt is a statement inside a block.
type Stmt interface {
	stmt()
	Pos() token.Position
}

func (*ExprStmt) stmt() {}
func (*DeclStmt) stmt() {}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	Expr Expr
}

// Pos returns the position of the expression.
func (s *ExprStmt) Pos() token.Position { return s.Expr.Pos() }

// DeclStmt declares a local variable. Init may be nil.
type DeclStmt struct {
	Span    token.Position
	Name    string
	Typ     Typ
	Mode    Mode
	Mutable bool
	Init    Expr
}

// Pos returns the position of the declaration.
func (s *DeclStmt) Pos() token.Position { return s.Span }

// NewBool returns a boolean constant.
func NewBool(span token.Position, v bool) *Const {
	return &Const{Info: Info{Span: span, Typ: Bool}, Value: constant.MakeBool(v)}
}

// NewInt returns an integer constant of type typ.
func NewInt(span token.Position, v int64, typ Typ) *Const {
	return &Const{Info: Info{Span: span, Typ: typ}, Value: constant.MakeInt64(v)}
}
