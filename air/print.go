package air

import (
	"fmt"
	"go/constant"
	"go/token"
	"strings"
)

// Symbol returns name as an SMT-LIB symbol, quoting it if necessary.
func Symbol(name string) string {
	if name == "" {
		return "||"
	}
	for i, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
			if i == 0 {
				return "|" + name + "|"
			}
		case strings.ContainsRune("~!@$%^&*_-+=<>.?/", ch):
		default:
			return "|" + name + "|"
		}
	}
	return name
}

func (*BoolTyp) String() string    { return "Bool" }
func (*IntTyp) String() string     { return "Int" }
func (t *NamedTyp) String() string { return Symbol(t.Name) }

func (t *ArrayTyp) String() string {
	// Multi-index arrays are written with a tuple of domain sorts as in Z3.
	var buf strings.Builder
	buf.WriteString("(Array")
	for _, p := range t.Params {
		buf.WriteString(" " + p.String())
	}
	buf.WriteString(" " + t.Ret.String() + ")")
	return buf.String()
}

func (e *Const) String() string {
	if e.Value.Kind() == constant.Int && constant.Sign(e.Value) < 0 {
		return fmt.Sprintf("(- %s)", constant.UnaryOp(token.SUB, e.Value, 0).ExactString())
	}
	return e.Value.ExactString()
}

func (e *Var) String() string { return Symbol(e.Name) }

func (e *Apply) String() string {
	if len(e.Args) == 0 {
		return Symbol(e.Fun)
	}
	return "(" + Symbol(e.Fun) + joinExprs(e.Args) + ")"
}

func (e *Unary) String() string { return fmt.Sprintf("(not %s)", e.Expr) }

var binaryOps = [...]string{
	Implies:      "=>",
	Eq:           "=",
	Le:           "<=",
	Lt:           "<",
	Ge:           ">=",
	Gt:           ">",
	EuclideanDiv: "div",
	EuclideanMod: "mod",
}

// String returns the SMT-LIB operator.
func (op BinaryOp) String() string {
	if op >= 0 && int(op) < len(binaryOps) {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

func (e *Binary) String() string { return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS) }

var multiOps = [...]string{
	And: "and",
	Or:  "or",
	Add: "+",
	Sub: "-",
	Mul: "*",
}

// String returns the SMT-LIB operator.
func (op MultiOp) String() string {
	if op >= 0 && int(op) < len(multiOps) {
		return multiOps[op]
	}
	return fmt.Sprintf("MultiOp<%d>", op)
}

func (e *Multi) String() string {
	if len(e.Args) == 0 {
		switch e.Op {
		case And:
			return "true"
		case Or:
			return "false"
		}
	}
	return "(" + e.Op.String() + joinExprs(e.Args) + ")"
}

func (e *IfElse) String() string { return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else) }

func (k QuantKind) String() string {
	if k == Exists {
		return "exists"
	}
	return "forall"
}

func (e *Quant) String() string {
	if len(e.Triggers) == 0 {
		return fmt.Sprintf("(%s %s %s)", e.Kind, formatBinders(e.Binders), e.Body)
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "(%s %s (! %s", e.Kind, formatBinders(e.Binders), e.Body)
	for _, tr := range e.Triggers {
		buf.WriteString(" :pattern (")
		for i, t := range tr {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(t.String())
		}
		buf.WriteString(")")
	}
	buf.WriteString("))")
	return buf.String()
}

func (e *Lambda) String() string { return fmt.Sprintf("(lambda %s %s)", formatBinders(e.Binders), e.Body) }

func (e *Select) String() string { return "(select " + e.Array.String() + joinExprs(e.Args) + ")" }

func (e *Let) String() string {
	var buf strings.Builder
	buf.WriteString("(let (")
	for i, b := range e.Binders {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "(%s %s)", Symbol(b.Name), b.Expr)
	}
	fmt.Fprintf(&buf, ") %s)", e.Body)
	return buf.String()
}

func formatBinders(a []*Binder) string {
	var buf strings.Builder
	buf.WriteString("(")
	for i, b := range a {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "(%s %s)", Symbol(b.Name), b.Typ)
	}
	buf.WriteString(")")
	return buf.String()
}

func joinExprs(a []Expr) string {
	var buf strings.Builder
	for _, e := range a {
		buf.WriteString(" " + e.String())
	}
	return buf.String()
}

func (s *Assume) String() string { return fmt.Sprintf("(assume %s)", s.Expr) }
func (s *Assert) String() string { return fmt.Sprintf("(assert %s)", s.Expr) }
func (s *Havoc) String() string  { return fmt.Sprintf("(havoc %s)", Symbol(s.Name)) }
func (s *Assign) String() string { return fmt.Sprintf("(assign %s %s)", Symbol(s.Name), s.Expr) }

func (s *Block) String() string {
	var buf strings.Builder
	buf.WriteString("(block")
	for _, stmt := range s.Stmts {
		buf.WriteString(" " + stmt.String())
	}
	buf.WriteString(")")
	return buf.String()
}

func (s *Switch) String() string {
	var buf strings.Builder
	buf.WriteString("(switch")
	for _, stmt := range s.Cases {
		buf.WriteString(" " + stmt.String())
	}
	buf.WriteString(")")
	return buf.String()
}

func (s *DeadEnd) String() string { return fmt.Sprintf("(dead-end %s)", s.Stmt) }

func (d *SortDecl) String() string { return fmt.Sprintf("(declare-sort %s 0)", Symbol(d.Sort)) }

func (d *DatatypeDecl) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "(declare-datatypes ((%s 0)) ((", Symbol(d.Sort))
	for i, v := range d.Variants {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString("(" + Symbol(v.Name))
		for _, f := range v.Fields {
			fmt.Fprintf(&buf, " (%s %s)", Symbol(f.Name), f.Typ)
		}
		buf.WriteString(")")
	}
	buf.WriteString(")))")
	return buf.String()
}

func (d *ConstDecl) String() string {
	return fmt.Sprintf("(declare-const %s %s)", Symbol(d.Const), d.Typ)
}

func (d *VarDecl) String() string { return fmt.Sprintf("(declare-var %s %s)", Symbol(d.Var), d.Typ) }

func (d *FunDecl) String() string {
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("(declare-fun %s (%s) %s)", Symbol(d.Fun), strings.Join(params, " "), d.Ret)
}

func (d *Axiom) String() string { return fmt.Sprintf("(axiom %s)", d.Expr) }

func (*Push) String() string { return "(push)" }
func (*Pop) String() string  { return "(pop)" }

func (c *Global) String() string { return c.Decl.String() }

func (c *CheckValid) String() string {
	var buf strings.Builder
	buf.WriteString("(check-valid")
	for _, d := range c.Query.Locals {
		buf.WriteString(" " + d.String())
	}
	fmt.Fprintf(&buf, " %s)", c.Query.Assertion)
	return buf.String()
}

// Helpers for building terms. They fold boolean constants so generated
// conditions stay small.

// BoolConst returns a boolean literal.
func BoolConst(v bool) Expr { return &Const{Value: constant.MakeBool(v)} }

// IntConst returns an integer literal.
func IntConst(v int64) Expr { return &Const{Value: constant.MakeInt64(v)} }

// IsTrue returns true if e is the literal true.
func IsTrue(e Expr) bool { return isBool(e, true) }

// IsFalse returns true if e is the literal false.
func IsFalse(e Expr) bool { return isBool(e, false) }

func isBool(e Expr, v bool) bool {
	c, ok := e.(*Const)
	return ok && c.Value.Kind() == constant.Bool && constant.BoolVal(c.Value) == v
}

// NewNot returns the negation of e.
func NewNot(e Expr) Expr {
	switch {
	case IsTrue(e):
		return BoolConst(false)
	case IsFalse(e):
		return BoolConst(true)
	}
	if u, ok := e.(*Unary); ok && u.Op == Not {
		return u.Expr
	}
	return &Unary{Op: Not, Expr: e}
}

// NewAnd returns the conjunction of a, dropping true operands.
func NewAnd(a ...Expr) Expr {
	var args []Expr
	for _, e := range a {
		if IsFalse(e) {
			return e
		} else if !IsTrue(e) {
			args = append(args, e)
		}
	}
	switch len(args) {
	case 0:
		return BoolConst(true)
	case 1:
		return args[0]
	}
	return &Multi{Op: And, Args: args}
}

// NewOr returns the disjunction of a, dropping false operands.
func NewOr(a ...Expr) Expr {
	var args []Expr
	for _, e := range a {
		if IsTrue(e) {
			return e
		} else if !IsFalse(e) {
			args = append(args, e)
		}
	}
	switch len(args) {
	case 0:
		return BoolConst(false)
	case 1:
		return args[0]
	}
	return &Multi{Op: Or, Args: args}
}

// NewImplies returns lhs => rhs.
func NewImplies(lhs, rhs Expr) Expr {
	switch {
	case IsTrue(lhs):
		return rhs
	case IsFalse(lhs), IsTrue(rhs):
		return BoolConst(true)
	}
	return &Binary{Op: Implies, LHS: lhs, RHS: rhs}
}

// NewEq returns lhs = rhs.
func NewEq(lhs, rhs Expr) Expr { return &Binary{Op: Eq, LHS: lhs, RHS: rhs} }
