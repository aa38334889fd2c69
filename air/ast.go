package air

import (
	"go/constant"
	"go/token"
)

// Typ is a solver sort.
type Typ interface {
	typ()
	String() string
}

func (*BoolTyp) typ()  {}
func (*IntTyp) typ()   {}
func (*NamedTyp) typ() {}
func (*ArrayTyp) typ() {}

// Builtin sorts.
var (
	Bool = &BoolTyp{}
	Int  = &IntTyp{}
)

// BoolTyp is the boolean sort.
type BoolTyp struct{}

// IntTyp is the sort of mathematical integers.
type IntTyp struct{}

// NamedTyp is an uninterpreted sort declared with DeclareSort.
type NamedTyp struct {
	Name string
}

// ArrayTyp is the sort of total maps from Params to Ret.
type ArrayTyp struct {
	Params []Typ
	Ret    Typ
}

// Expr is a solver term.
type Expr interface {
	expr()
	String() string
}

func (*Const) expr()  {}
func (*Var) expr()    {}
func (*Apply) expr()  {}
func (*Unary) expr()  {}
func (*Binary) expr() {}
func (*Multi) expr()  {}
func (*IfElse) expr() {}
func (*Quant) expr()  {}
func (*Lambda) expr() {}
func (*Select) expr() {}
func (*Let) expr()    {}

// Const is a boolean or integer literal.
type Const struct {
	Value constant.Value
}

// Var refers to a declared constant, a mutable variable, or a bound name.
type Var struct {
	Name string
}

// Apply applies a declared function.
type Apply struct {
	Fun  string
	Args []Expr
}

// UnaryOp is a unary operator.
type UnaryOp int

// Unary operators.
const (
	Not UnaryOp = iota
)

// Unary applies a unary operator.
type Unary struct {
	Op   UnaryOp
	Expr Expr
}

// BinaryOp is a binary operator.
type BinaryOp int

// Binary operators.
const (
	Implies BinaryOp = iota
	Eq
	Le
	Lt
	Ge
	Gt
	EuclideanDiv
	EuclideanMod
)

// Binary applies a binary operator.
type Binary struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// MultiOp is an n-ary operator.
type MultiOp int

// N-ary operators.
const (
	And MultiOp = iota
	Or
	Add
	Sub
	Mul
)

// Multi applies an n-ary operator.
type Multi struct {
	Op   MultiOp
	Args []Expr
}

// IfElse is an if-then-else term.
type IfElse struct {
	Cond Expr
	Then Expr
	Else Expr
}

// QuantKind is forall or exists.
type QuantKind int

// Quantifier kinds.
const (
	Forall QuantKind = iota
	Exists
)

// Binder is a typed bound variable.
type Binder struct {
	Name string
	Typ  Typ
}

// Trigger is a multi-pattern.
type Trigger []Expr

// Quant is a quantified formula.
type Quant struct {
	Kind     QuantKind
	Binders  []*Binder
	Triggers []Trigger
	Body     Expr
}

// Lambda is an array-valued lambda term.
type Lambda struct {
	Binders []*Binder
	Body    Expr
}

// Select reads an array at Args.
type Select struct {
	Array Expr
	Args  []Expr
}

// LetBinder binds Name to Expr.
type LetBinder struct {
	Name string
	Expr Expr
}

// Let binds names in Body.
type Let struct {
	Binders []*LetBinder
	Body    Expr
}

// Label is a secondary span attached to a diagnostic.
type Label struct {
	Span    token.Position
	Message string
}

// Diagnostic describes a failed assertion.
type Diagnostic struct {
	Message string
	Span    token.Position
	Labels  []Label
}

// WithLabel returns a copy of d with an extra label.
func (d *Diagnostic) WithLabel(span token.Position, msg string) *Diagnostic {
	other := *d
	other.Labels = append(append([]Label(nil), d.Labels...), Label{Span: span, Message: msg})
	return &other
}

// Stmt is a statement of a query's assertion.
type Stmt interface {
	stmt()
	String() string
}

func (*Assume) stmt()  {}
func (*Assert) stmt()  {}
func (*Havoc) stmt()   {}
func (*Assign) stmt()  {}
func (*Block) stmt()   {}
func (*Switch) stmt()  {}
func (*DeadEnd) stmt() {}

// Assume adds Expr to the path condition.
type Assume struct {
	Expr Expr
}

// Assert requires Expr to hold on every path reaching it.
type Assert struct {
	Error *Diagnostic
	Expr  Expr
}

// Havoc gives a mutable variable an arbitrary new value.
type Havoc struct {
	Name string
}

// Assign gives a mutable variable a new value.
type Assign struct {
	Name string
	Expr Expr
}

// Block runs statements in sequence.
type Block struct {
	Stmts []Stmt
}

// Switch runs exactly one of its cases.
type Switch struct {
	Cases []Stmt
}

// DeadEnd checks Stmt's assertions and then discards its paths.
type DeadEnd struct {
	Stmt Stmt
}

// Declaration is a global or query-local declaration.
type Declaration interface {
	decl()
	Name() string
	String() string
}

func (*SortDecl) decl()     {}
func (*DatatypeDecl) decl() {}
func (*ConstDecl) decl()    {}
func (*VarDecl) decl()      {}
func (*FunDecl) decl()      {}
func (*Axiom) decl()        {}

// SortDecl declares an uninterpreted sort.
type SortDecl struct {
	Sort string
}

// DatatypeDecl declares an algebraic datatype. Each variant declares a
// constructor named after the variant, a tester named by TesterName, and one
// accessor per field. Fields may refer to Sort itself.
type DatatypeDecl struct {
	Sort     string
	Variants []*Variant
}

// Variant is a constructor of a datatype.
type Variant struct {
	Name   string
	Fields []*Field
}

// Field is a constructor argument together with its accessor name.
type Field struct {
	Name string
	Typ  Typ
}

// TesterName returns the name of the tester function of a constructor.
func TesterName(ctor string) string { return "is-" + ctor }

// Funs returns the constructor, tester, and accessor declarations of d.
func (d *DatatypeDecl) Funs() []*FunDecl {
	sort := &NamedTyp{Name: d.Sort}
	var a []*FunDecl
	for _, v := range d.Variants {
		params := make([]Typ, len(v.Fields))
		for i, f := range v.Fields {
			params[i] = f.Typ
		}
		a = append(a, &FunDecl{Fun: v.Name, Params: params, Ret: sort})
		a = append(a, &FunDecl{Fun: TesterName(v.Name), Params: []Typ{sort}, Ret: Bool})
		for _, f := range v.Fields {
			a = append(a, &FunDecl{Fun: f.Name, Params: []Typ{sort}, Ret: f.Typ})
		}
	}
	return a
}

// ConstDecl declares an immutable constant.
type ConstDecl struct {
	Const string
	Typ   Typ
}

// VarDecl declares a mutable variable. It may only appear in query locals.
type VarDecl struct {
	Var string
	Typ Typ
}

// FunDecl declares an uninterpreted function.
type FunDecl struct {
	Fun    string
	Params []Typ
	Ret    Typ
}

// Axiom asserts a formula.
type Axiom struct {
	Expr Expr
}

func (d *SortDecl) Name() string     { return d.Sort }
func (d *DatatypeDecl) Name() string { return d.Sort }
func (d *ConstDecl) Name() string    { return d.Const }
func (d *VarDecl) Name() string      { return d.Var }
func (d *FunDecl) Name() string      { return d.Fun }
func (d *Axiom) Name() string        { return "" }

// Query asks whether Assertion holds given the local declarations.
type Query struct {
	Locals    []Declaration
	Assertion Stmt
}

// Command is one step of the solver protocol.
type Command interface {
	command()
	String() string
}

func (*Push) command()       {}
func (*Pop) command()        {}
func (*Global) command()     {}
func (*CheckValid) command() {}

// Push opens a declaration scope.
type Push struct{}

// Pop closes the innermost declaration scope.
type Pop struct{}

// Global declares a sort, constant, function, or axiom in the current scope.
type Global struct {
	Decl Declaration
}

// CheckValid checks a query.
type CheckValid struct {
	Query *Query
}
