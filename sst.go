package vcgen

import (
	"fmt"
	"go/constant"
	"go/token"
	"strings"

	"github.com/benbjohnson/vcgen/vir"
)

// BoundLocal marks an identifier bound by an expression-level binder.
const BoundLocal = -1

// TempName is the surface name shared by all temporaries.
const TempName = "tmp%"

// UniqueIdent is a variable name paired with a disambiguation counter.
type UniqueIdent struct {
	Name  string
	Local int
}

// IsBound returns true if the identifier belongs to a let/quantifier binder.
func (id UniqueIdent) IsBound() bool { return id.Local == BoundLocal }

// String returns the identifier as it appears in the lowered output.
func (id UniqueIdent) String() string {
	switch {
	case id.Local == BoundLocal:
		return id.Name
	case id.Name == TempName:
		return fmt.Sprintf("tmp%%%d", id.Local)
	default:
		return fmt.Sprintf("%s~%d", id.Name, id.Local)
	}
}

// BoundIdent returns the expression-level identifier for name.
func BoundIdent(name string) UniqueIdent {
	return UniqueIdent{Name: name, Local: BoundLocal}
}

// LocalDecl is a statement-level variable of a lowered function.
type LocalDecl struct {
	Ident   UniqueIdent
	Typ     vir.Typ
	Mutable bool
}

// Exp represents a pure expression. Exps are never modified after
// construction and may be shared between parents.
type Exp interface {
	exp()
	Pos() token.Position
	Type() vir.Typ
	String() string
}

func (*ConstExp) exp()        {}
func (*VarExp) exp()          {}
func (*VarLocExp) exp()       {}
func (*UnaryExp) exp()        {}
func (*HasTypeExp) exp()      {}
func (*FieldExp) exp()        {}
func (*BinaryExp) exp()       {}
func (*IfExp) exp()           {}
func (*CtorExp) exp()         {}
func (*CallExp) exp()         {}
func (*CallLambdaExp) exp()   {}
func (*ClosureReqExp) exp()   {}
func (*ClosureEnsExp) exp()   {}
func (*BindExp) exp()         {}
func (*WithTriggersExp) exp() {}

// ExpInfo holds the position and type shared by every Exp.
type ExpInfo struct {
	Span token.Position
	Typ  vir.Typ
}

// Pos returns the source position of the expression.
func (i *ExpInfo) Pos() token.Position { return i.Span }

// Type returns the type of the expression.
func (i *ExpInfo) Type() vir.Typ { return i.Typ }

// ConstExp is a boolean or integer constant.
type ConstExp struct {
	ExpInfo
	Value constant.Value
}

func (e *ConstExp) String() string { return e.Value.ExactString() }

// VarExp reads a variable.
type VarExp struct {
	ExpInfo
	Ident UniqueIdent
}

func (e *VarExp) String() string { return e.Ident.String() }

// VarLocExp is a variable used as an assignment destination.
type VarLocExp struct {
	ExpInfo
	Ident UniqueIdent
}

func (e *VarLocExp) String() string { return e.Ident.String() }

// UnaryOp is a unary operator on Exps.
type UnaryOp int

// Unary operators. MustBeFinalized wraps expressions that the finalizer
// still has to rewrite and never survives finalization.
const (
	OpNot UnaryOp = iota
	OpClip
	OpMustBeFinalized
)

// UnaryExp applies a unary operator.
type UnaryExp struct {
	ExpInfo
	Op       UnaryOp
	Exp      Exp
	Range    vir.IntRange // OpClip
	Truncate bool         // OpClip
}

func (e *UnaryExp) String() string {
	switch e.Op {
	case OpNot:
		return fmt.Sprintf("(not %s)", e.Exp)
	case OpClip:
		if e.Truncate {
			return fmt.Sprintf("(truncate %s %s)", e.Range, e.Exp)
		}
		return fmt.Sprintf("(clip %s %s)", e.Range, e.Exp)
	case OpMustBeFinalized:
		return fmt.Sprintf("(final %s)", e.Exp)
	default:
		return fmt.Sprintf("(unary<%d> %s)", e.Op, e.Exp)
	}
}

// HasTypeExp is true when Exp is a value of type Of. Only integer ranges
// carry information.
type HasTypeExp struct {
	ExpInfo
	Exp Exp
	Of  vir.Typ
}

func (e *HasTypeExp) String() string { return fmt.Sprintf("(has_type %s %s)", e.Exp, e.Of) }

// FieldExp projects a field of a datatype value.
type FieldExp struct {
	ExpInfo
	Exp      Exp
	Datatype string
	Variant  string
	Field    string
}

func (e *FieldExp) String() string { return fmt.Sprintf("(field %s %s)", e.Exp, e.Field) }

// BinaryExp applies a binary operator.
type BinaryExp struct {
	ExpInfo
	Op  vir.BinaryOp
	LHS Exp
	RHS Exp
}

func (e *BinaryExp) String() string { return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS) }

// IfExp is a pure conditional.
type IfExp struct {
	ExpInfo
	Cond Exp
	Then Exp
	Else Exp
}

func (e *IfExp) String() string { return fmt.Sprintf("(if %s %s %s)", e.Cond, e.Then, e.Else) }

// CtorField is a named constructor argument.
type CtorField struct {
	Name string
	Exp  Exp
}

// CtorExp constructs a datatype value.
type CtorExp struct {
	ExpInfo
	Datatype string
	Variant  string
	Fields   []*CtorField
}

func (e *CtorExp) String() string {
	if e.Datatype == vir.UnitName {
		return "()"
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "(%s", e.Variant)
	for _, f := range e.Fields {
		fmt.Fprintf(&buf, " %s", f.Exp)
	}
	buf.WriteString(")")
	return buf.String()
}

// CallExp calls a spec function.
type CallExp struct {
	ExpInfo
	Fun     string
	TypArgs []vir.Typ
	Args    []Exp
}

func (e *CallExp) String() string { return "(" + funName(e.Fun, e.TypArgs) + joinExps(e.Args, true) + ")" }

// CallLambdaExp applies a spec function value.
type CallLambdaExp struct {
	ExpInfo
	Fun  Exp
	Args []Exp
}

func (e *CallLambdaExp) String() string { return fmt.Sprintf("(apply %s%s)", e.Fun, joinExps(e.Args, true)) }

// ClosureReqExp holds when Closure may be called with Args.
type ClosureReqExp struct {
	ExpInfo
	Closure Exp
	Args    []Exp
}

func (e *ClosureReqExp) String() string {
	return fmt.Sprintf("(closure_req %s%s)", e.Closure, joinExps(e.Args, true))
}

// ClosureEnsExp holds when a call of Closure with Args may return Ret.
type ClosureEnsExp struct {
	ExpInfo
	Closure Exp
	Args    []Exp
	Ret     Exp
}

func (e *ClosureEnsExp) String() string {
	return fmt.Sprintf("(closure_ens %s%s %s)", e.Closure, joinExps(e.Args, true), e.Ret)
}

// BindExp evaluates Body under a binder.
type BindExp struct {
	ExpInfo
	Bnd  Bnd
	Body Exp
}

func (e *BindExp) String() string {
	switch bnd := e.Bnd.(type) {
	case *LetBnd:
		var buf strings.Builder
		buf.WriteString("(let (")
		for i, b := range bnd.Binders {
			if i > 0 {
				buf.WriteString(" ")
			}
			fmt.Fprintf(&buf, "(%s %s)", b.Ident, b.Exp)
		}
		fmt.Fprintf(&buf, ") %s)", e.Body)
		return buf.String()
	case *QuantBnd:
		return fmt.Sprintf("(%s %s%s %s)", bnd.Kind, formatVars(bnd.Vars), formatTriggers(bnd.Triggers), e.Body)
	case *ChooseBnd:
		return fmt.Sprintf("(choose %s%s %s %s)", formatVars(bnd.Vars), formatTriggers(bnd.Triggers), bnd.Cond, e.Body)
	case *LambdaBnd:
		return fmt.Sprintf("(lambda %s%s %s)", formatVars(bnd.Vars), formatTriggers(bnd.Triggers), e.Body)
	default:
		return fmt.Sprintf("(bind<%T> %s)", bnd, e.Body)
	}
}

// WithTriggersExp carries user-selected triggers for the enclosing binder.
type WithTriggersExp struct {
	ExpInfo
	Triggers []Trigger
	Body     Exp
}

func (e *WithTriggersExp) String() string {
	return fmt.Sprintf("(with_triggers%s %s)", formatTriggers(e.Triggers), e.Body)
}

// Bnd is a binder attached to a BindExp.
type Bnd interface {
	bnd()
}

func (*LetBnd) bnd()    {}
func (*QuantBnd) bnd()  {}
func (*ChooseBnd) bnd() {}
func (*LambdaBnd) bnd() {}

// Trigger is a set of terms that together instantiate a quantifier.
type Trigger []Exp

// LetBinder binds Ident to the value of Exp.
type LetBinder struct {
	Ident UniqueIdent
	Exp   Exp
}

// VarBinder is a typed bound variable.
type VarBinder struct {
	Ident UniqueIdent
	Typ   vir.Typ
}

// LetBnd binds each identifier to a value.
type LetBnd struct {
	Binders []*LetBinder
}

// QuantBnd is a forall or exists binder.
type QuantBnd struct {
	Kind     vir.QuantKind
	Vars     []*VarBinder
	Triggers []Trigger
}

// ChooseBnd picks values of Vars satisfying Cond.
type ChooseBnd struct {
	Vars     []*VarBinder
	Triggers []Trigger
	Cond     Exp
}

// LambdaBnd binds the parameters of a spec function value.
type LambdaBnd struct {
	Vars     []*VarBinder
	Triggers []Trigger
}

func formatVars(vars []*VarBinder) string {
	var buf strings.Builder
	buf.WriteString("(")
	for i, v := range vars {
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "(%s %s)", v.Ident, v.Typ)
	}
	buf.WriteString(")")
	return buf.String()
}

func formatTriggers(triggers []Trigger) string {
	var buf strings.Builder
	for _, tr := range triggers {
		buf.WriteString(" [")
		for i, e := range tr {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(e.String())
		}
		buf.WriteString("]")
	}
	return buf.String()
}

func joinExps(a []Exp, leadingSpace bool) string {
	var buf strings.Builder
	for i, e := range a {
		if i > 0 || leadingSpace {
			buf.WriteString(" ")
		}
		buf.WriteString(e.String())
	}
	return buf.String()
}

func funName(name string, typArgs []vir.Typ) string {
	if len(typArgs) == 0 {
		return name
	}
	s := make([]string, len(typArgs))
	for i, t := range typArgs {
		s[i] = t.String()
	}
	return name + "<" + strings.Join(s, ", ") + ">"
}

// Constructors used throughout lowering.

func boolExp(span token.Position, v bool) Exp {
	return &ConstExp{ExpInfo: ExpInfo{Span: span, Typ: vir.Bool}, Value: constant.MakeBool(v)}
}

func unitExp(span token.Position) Exp {
	return &CtorExp{ExpInfo: ExpInfo{Span: span, Typ: vir.Unit}, Datatype: vir.UnitName, Variant: vir.UnitName}
}

func varExp(span token.Position, typ vir.Typ, id UniqueIdent) Exp {
	return &VarExp{ExpInfo: ExpInfo{Span: span, Typ: typ}, Ident: id}
}

func varLocExp(span token.Position, typ vir.Typ, id UniqueIdent) Exp {
	return &VarLocExp{ExpInfo: ExpInfo{Span: span, Typ: typ}, Ident: id}
}

func notExp(e Exp) Exp {
	return &UnaryExp{ExpInfo: ExpInfo{Span: e.Pos(), Typ: vir.Bool}, Op: OpNot, Exp: e}
}

func binaryExp(span token.Position, op vir.BinaryOp, typ vir.Typ, lhs, rhs Exp) Exp {
	return &BinaryExp{ExpInfo: ExpInfo{Span: span, Typ: typ}, Op: op, LHS: lhs, RHS: rhs}
}

func hasTypeExp(e Exp, typ vir.Typ) Exp {
	return &HasTypeExp{ExpInfo: ExpInfo{Span: e.Pos(), Typ: vir.Bool}, Exp: e, Of: typ}
}

func mustBeFinalized(e Exp) Exp {
	return &UnaryExp{ExpInfo: ExpInfo{Span: e.Pos(), Typ: e.Type()}, Op: OpMustBeFinalized, Exp: e}
}

// IsBoolConst returns true if e is the boolean constant v.
func IsBoolConst(e Exp, v bool) bool {
	c, ok := e.(*ConstExp)
	return ok && c.Value.Kind() == constant.Bool && constant.BoolVal(c.Value) == v
}

// isSmallExp returns true for expressions cheap enough to duplicate.
func isSmallExp(e Exp) bool {
	switch e := e.(type) {
	case *ConstExp, *VarExp, *VarLocExp:
		return true
	case *CtorExp:
		return e.Datatype == vir.UnitName
	case *UnaryExp:
		return isSmallExp(e.Exp)
	default:
		return false
	}
}
