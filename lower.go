package vcgen

import (
	"fmt"
	"go/constant"
	"go/token"

	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
)

// ReturnValue is the result of lowering an expression: a value, the unit
// value of a statement, or nothing because control never reaches the end of
// the expression.
type ReturnValue interface {
	returnValue()
}

func (*ValueReturn) returnValue()  {}
func (*ImplicitUnit) returnValue() {}
func (*NeverReturn) returnValue()  {}

// ValueReturn is a pure expression holding the result.
type ValueReturn struct {
	Exp Exp
}

// ImplicitUnit is the unit result of an expression evaluated for its
// effects.
type ImplicitUnit struct {
	Span token.Position
}

// NeverReturn is the result of an expression that diverges.
type NeverReturn struct{}

// Never is shared by every diverging expression.
var Never ReturnValue = &NeverReturn{}

func isNever(rv ReturnValue) bool {
	_, ok := rv.(*NeverReturn)
	return ok
}

// lower translates expr into a statement sequence and the result of the
// expression. Statements must be executed before the result is read.
func (s *State) lower(expr vir.Expr) ([]Stm, ReturnValue, error) {
	switch e := expr.(type) {
	case *vir.Const:
		return nil, &ValueReturn{Exp: &ConstExp{ExpInfo: ExpInfo{Span: e.Span, Typ: e.Typ}, Value: e.Value}}, nil
	case *vir.Var:
		ident := s.Lookup(e.Name)
		return nil, &ValueReturn{Exp: mustBeFinalized(varExp(e.Span, e.Typ, ident))}, nil
	case *vir.VarLoc:
		return nil, &ValueReturn{Exp: varLocExp(e.Span, e.Typ, s.Lookup(e.Name))}, nil
	case *vir.Field:
		return s.lowerField(e)
	case *vir.Ctor:
		return s.lowerCtor(e)
	case *vir.Unary:
		return s.lowerUnary(e)
	case *vir.Binary:
		return s.lowerBinary(e)
	case *vir.Call:
		return s.lowerCall(e)
	case *vir.CallLambda:
		return s.lowerCallLambda(e)
	case *vir.CallClosure:
		return s.lowerCallClosure(e)
	case *vir.ClosureReq:
		return s.lowerClosurePred(e.Span, e.Closure, e.Args, nil)
	case *vir.ClosureEns:
		return s.lowerClosurePred(e.Span, e.Closure, e.Args, e.Ret)
	case *vir.Quant:
		return s.lowerQuant(e)
	case *vir.Choose:
		return s.lowerChoose(e)
	case *vir.Lambda:
		return s.lowerLambda(e)
	case *vir.WithTriggers:
		return s.lowerWithTriggers(e)
	case *vir.Closure:
		return s.lowerClosure(e)
	case *vir.Assign:
		return s.lowerAssign(e)
	case *vir.If:
		return s.lowerIf(e)
	case *vir.Loop:
		return s.lowerLoop(e)
	case *vir.BreakOrContinue:
		return []Stm{&BreakStm{StmInfo: StmInfo{Span: e.Span}, Label: e.Label, IsBreak: e.IsBreak}}, &ImplicitUnit{Span: e.Span}, nil
	case *vir.Return:
		return s.lowerReturn(e)
	case *vir.Block:
		return s.lowerBlock(e)
	case *vir.AssertAssume:
		return s.lowerAssertAssume(e)
	case *vir.AssertBy:
		return s.lowerAssertBy(e)
	case *vir.OpenInvariant:
		return s.lowerOpenInvariant(e)
	default:
		panic(fmt.Sprintf("invalid expression type: %T", expr))
	}
}

// lowerValue lowers expr and converts an implicit unit into the unit value.
// The returned expression is nil if expr diverges.
func (s *State) lowerValue(expr vir.Expr) ([]Stm, Exp, error) {
	stms, rv, err := s.lower(expr)
	if err != nil {
		return nil, nil, err
	}
	switch rv := rv.(type) {
	case *ValueReturn:
		return stms, rv.Exp, nil
	case *ImplicitUnit:
		return stms, unitExp(rv.Span), nil
	default:
		return stms, nil, nil
	}
}

// lowerPure lowers an expression that must not produce statements, such as
// a requires clause or a quantifier body. Recommendations are not checked.
func (s *State) lowerPure(expr vir.Expr) (Exp, error) {
	s.disableRecommends++
	stms, exp, err := s.lowerValue(expr)
	s.disableRecommends--
	if err != nil {
		return nil, err
	} else if len(stms) > 0 || exp == nil {
		return nil, errorf(expr.Pos(), "expected pure mathematical expression")
	}
	return exp, nil
}

func (s *State) lowerPures(exprs []vir.Expr) ([]Exp, error) {
	a := make([]Exp, 0, len(exprs))
	for _, expr := range exprs {
		exp, err := s.lowerPure(expr)
		if err != nil {
			return nil, err
		}
		a = append(a, exp)
	}
	return a, nil
}

// lowerExps lowers operands left to right. When an operand needs statements,
// the values of earlier operands are copied into temporaries so they are read
// before those statements run. The exps are nil if an operand diverges.
func (s *State) lowerExps(exprs []vir.Expr) ([]Stm, []Exp, error) {
	var stms []Stm
	exps := make([]Exp, 0, len(exprs))
	for _, expr := range exprs {
		other, exp, err := s.lowerValue(expr)
		if err != nil {
			return nil, nil, err
		}
		if len(other) > 0 {
			for i, prev := range exps {
				if _, ok := prev.(*ConstExp); ok {
					continue
				}
				tmp := s.NextTemp(prev.Pos(), prev.Type())
				stms = append(stms, initStm(prev.Pos(), varLocExp(prev.Pos(), prev.Type(), tmp), prev))
				exps[i] = varExp(prev.Pos(), prev.Type(), tmp)
			}
		}
		stms = append(stms, other...)
		if exp == nil {
			return stms, nil, nil
		}
		exps = append(exps, exp)
	}
	return stms, exps, nil
}

func (s *State) variantName(datatype, variant string) string {
	if variant != "" || s.ctx == nil {
		return variant
	}
	dt := s.ctx.Datatype(datatype)
	assert(dt != nil, "unknown datatype %s", datatype)
	v := dt.Variant("")
	assert(v != nil, "datatype %s has more than one variant", datatype)
	return v.Name
}

func (s *State) lowerField(e *vir.Field) ([]Stm, ReturnValue, error) {
	stms, exp, err := s.lowerValue(e.Expr)
	if err != nil || exp == nil {
		return stms, Never, err
	}
	return stms, &ValueReturn{Exp: &FieldExp{
		ExpInfo:  ExpInfo{Span: e.Span, Typ: e.Typ},
		Exp:      exp,
		Datatype: e.Datatype,
		Variant:  s.variantName(e.Datatype, e.Variant),
		Field:    e.Field,
	}}, nil
}

func (s *State) lowerCtor(e *vir.Ctor) ([]Stm, ReturnValue, error) {
	exprs := make([]vir.Expr, len(e.Fields))
	for i, f := range e.Fields {
		exprs[i] = f.Expr
	}
	stms, exps, err := s.lowerExps(exprs)
	if err != nil || exps == nil {
		return stms, Never, err
	}
	fields := make([]*CtorField, len(exps))
	for i, exp := range exps {
		fields[i] = &CtorField{Name: e.Fields[i].Name, Exp: exp}
	}
	return stms, &ValueReturn{Exp: &CtorExp{
		ExpInfo:  ExpInfo{Span: e.Span, Typ: e.Typ},
		Datatype: e.Datatype,
		Variant:  s.variantName(e.Datatype, e.Variant),
		Fields:   fields,
	}}, nil
}

func (s *State) lowerUnary(e *vir.Unary) ([]Stm, ReturnValue, error) {
	stms, exp, err := s.lowerValue(e.Expr)
	if err != nil || exp == nil {
		return stms, Never, err
	}
	switch e.Op {
	case vir.Not:
		return stms, &ValueReturn{Exp: notExp(exp)}, nil
	case vir.Clip:
		target := &vir.IntTyp{Range: e.Range}
		if !e.Truncate && s.recommends() {
			stms = append(stms, assertStm(hasTypeExp(exp, target), &air.Diagnostic{
				Message: "recommendation not met: value may be out of range of the target type",
				Span:    e.Span,
			}))
		}
		return stms, &ValueReturn{Exp: &UnaryExp{
			ExpInfo:  ExpInfo{Span: e.Span, Typ: target},
			Op:       OpClip,
			Exp:      exp,
			Range:    e.Range,
			Truncate: e.Truncate,
		}}, nil
	default:
		panic(fmt.Sprintf("invalid unary operator: %d", e.Op))
	}
}

func (s *State) lowerBinary(e *vir.Binary) ([]Stm, ReturnValue, error) {
	if e.Op.IsShortCircuit() {
		return s.lowerShortCircuit(e)
	}

	stms, exps, err := s.lowerExps([]vir.Expr{e.LHS, e.RHS})
	if err != nil || exps == nil {
		return stms, Never, err
	}
	lhs, rhs := exps[0], exps[1]

	// Ne is expressed as the negation of Eq downstream.
	exp := binaryExp(e.Span, e.Op, e.Typ, lhs, rhs)
	stms = append(stms, s.arithChecks(e, exp, rhs)...)
	return stms, &ValueReturn{Exp: exp}, nil
}

// arithChecks returns the overflow and division checks for a binary
// operation, if any apply in the current mode.
func (s *State) arithChecks(e *vir.Binary, exp, rhs Exp) []Stm {
	if !e.Op.IsArith() {
		return nil
	}
	rec := s.recommends()
	switch {
	case s.viewAsSpec && !rec:
		return nil
	case e.Mode == vir.Spec && !rec:
		return nil
	case e.Mode != vir.Spec && rec:
		return nil
	}

	prefix := ""
	if rec {
		prefix = "recommendation not met: "
	}

	switch e.Op {
	case vir.Add, vir.Sub, vir.Mul:
		typ, ok := e.Typ.(*vir.IntTyp)
		if !ok || typ.Range == vir.IntRangeInt {
			return nil
		}
		return []Stm{assertStm(hasTypeExp(exp, typ), &air.Diagnostic{
			Message: prefix + "possible arithmetic underflow/overflow",
			Span:    e.Span,
		})}
	case vir.EuclideanDiv, vir.EuclideanMod:
		zero := &ConstExp{ExpInfo: ExpInfo{Span: rhs.Pos(), Typ: rhs.Type()}, Value: constant.MakeInt64(0)}
		return []Stm{assertStm(binaryExp(e.Span, vir.Ne, vir.Bool, rhs, zero), &air.Diagnostic{
			Message: prefix + "possible division by zero",
			Span:    e.Span,
		})}
	}
	return nil
}

// lowerShortCircuit lowers and, or, and implies. If the right operand needs
// statements, it is only evaluated on the path where it decides the result.
func (s *State) lowerShortCircuit(e *vir.Binary) ([]Stm, ReturnValue, error) {
	stms, lhs, err := s.lowerValue(e.LHS)
	if err != nil || lhs == nil {
		return stms, Never, err
	}
	rstms, rrv, err := s.lower(e.RHS)
	if err != nil {
		return nil, nil, err
	}
	if rv, ok := rrv.(*ValueReturn); ok && len(rstms) == 0 {
		return stms, &ValueReturn{Exp: binaryExp(e.Span, e.Op, vir.Bool, lhs, rv.Exp)}, nil
	}

	var other []Stm
	var rv ReturnValue
	switch e.Op {
	case vir.And:
		other, rv = s.ifMerge(e.Span, vir.Bool, lhs, rstms, rrv, nil, &ValueReturn{Exp: boolExp(e.Span, false)})
	case vir.Or:
		other, rv = s.ifMerge(e.Span, vir.Bool, lhs, nil, &ValueReturn{Exp: boolExp(e.Span, true)}, rstms, rrv)
	default:
		other, rv = s.ifMerge(e.Span, vir.Bool, lhs, rstms, rrv, nil, &ValueReturn{Exp: boolExp(e.Span, true)})
	}
	return append(stms, other...), rv, nil
}

// ifMerge combines the branches of a conditional.
func (s *State) ifMerge(span token.Position, typ vir.Typ, cond Exp, thenStms []Stm, thenRV ReturnValue, elseStms []Stm, elseRV ReturnValue) ([]Stm, ReturnValue) {
	ifStm := func(thenStms, elseStms []Stm) Stm {
		stm := &IfStm{StmInfo: StmInfo{Span: span}, Cond: cond, Then: blockStm(span, thenStms)}
		if len(elseStms) > 0 {
			stm.Else = blockStm(span, elseStms)
		}
		return stm
	}

	_, thenUnit := thenRV.(*ImplicitUnit)
	_, elseUnit := elseRV.(*ImplicitUnit)
	switch {
	case isNever(thenRV) && isNever(elseRV):
		return []Stm{ifStm(thenStms, elseStms)}, Never
	case isNever(thenRV):
		return []Stm{ifStm(thenStms, elseStms)}, elseRV
	case isNever(elseRV):
		return []Stm{ifStm(thenStms, elseStms)}, thenRV
	case thenUnit || elseUnit:
		assert(vir.IsUnit(typ), "implicit unit branch of conditional with type %s", typ)
		return []Stm{ifStm(thenStms, elseStms)}, &ImplicitUnit{Span: span}
	}

	thenExp, elseExp := thenRV.(*ValueReturn).Exp, elseRV.(*ValueReturn).Exp
	if len(thenStms) == 0 && len(elseStms) == 0 {
		return nil, &ValueReturn{Exp: &IfExp{ExpInfo: ExpInfo{Span: span, Typ: typ}, Cond: cond, Then: thenExp, Else: elseExp}}
	}

	tmp := s.NextTemp(span, typ)
	thenStms = append(thenStms, initStm(span, varLocExp(span, typ, tmp), thenExp))
	elseStms = append(elseStms, initStm(span, varLocExp(span, typ, tmp), elseExp))
	return []Stm{ifStm(thenStms, elseStms)}, &ValueReturn{Exp: varExp(span, typ, tmp)}
}

func (s *State) lowerIf(e *vir.If) ([]Stm, ReturnValue, error) {
	stms, cond, err := s.lowerValue(e.Cond)
	if err != nil || cond == nil {
		return stms, Never, err
	}
	thenStms, thenRV, err := s.lower(e.Then)
	if err != nil {
		return nil, nil, err
	}
	var elseStms []Stm
	var elseRV ReturnValue = &ImplicitUnit{Span: e.Span}
	if e.Else != nil {
		if elseStms, elseRV, err = s.lower(e.Else); err != nil {
			return nil, nil, err
		}
	}
	other, rv := s.ifMerge(e.Span, e.Typ, cond, thenStms, thenRV, elseStms, elseRV)
	return append(stms, other...), rv, nil
}

// isExpressible returns true if a call to fn can be a pure expression.
func (s *State) isExpressible(fn *vir.Function) bool {
	return fn.Mode == vir.Spec && (!s.recommends() || len(fn.Requires) == 0)
}

func (s *State) callee(name string) *vir.Function {
	fn := s.ctx.Function(name)
	assert(fn != nil, "call of unknown function %s", name)
	return fn
}

func (s *State) lowerCall(e *vir.Call) ([]Stm, ReturnValue, error) {
	callee := s.callee(e.Fun)
	if !s.isExpressible(callee) {
		return s.lowerCallStm(e, callee, nil)
	}
	stms, args, err := s.lowerExps(e.Args)
	if err != nil || args == nil {
		return stms, Never, err
	}
	return stms, &ValueReturn{Exp: &CallExp{
		ExpInfo: ExpInfo{Span: e.Span, Typ: e.Typ},
		Fun:     e.Fun,
		TypArgs: e.TypArgs,
		Args:    args,
	}}, nil
}

// lowerCallStm lowers a call that must be sequenced as a statement. If
// dest is set, it is called once the arguments are lowered and the result
// is written to the returned destination.
func (s *State) lowerCallStm(e *vir.Call, callee *vir.Function, dest func() *Dest) ([]Stm, ReturnValue, error) {
	stms, args, err := s.lowerExps(e.Args)
	if err != nil || args == nil {
		return stms, Never, err
	}
	for i, arg := range args {
		if isSmallExp(arg) {
			continue
		}
		tmp := s.NextTemp(arg.Pos(), arg.Type())
		stms = append(stms, initStm(arg.Pos(), varLocExp(arg.Pos(), arg.Type(), tmp), arg))
		args[i] = varExp(arg.Pos(), arg.Type(), tmp)
	}

	call := func(split bool, d *Dest) Stm {
		return &CallStm{
			StmInfo: StmInfo{Span: e.Span},
			Fun:     e.Fun,
			Mode:    callee.Mode,
			TypArgs: e.TypArgs,
			Args:    args,
			Split:   split,
			Dest:    d,
		}
	}
	if s.split && len(callee.Requires) > 0 {
		stms = append(stms, call(true, nil))
	}

	// A spec call is only sequenced to check its recommendations. The value
	// is still the pure call.
	if callee.Mode == vir.Spec {
		stms = append(stms, call(false, nil))
		exp := &CallExp{ExpInfo: ExpInfo{Span: e.Span, Typ: e.Typ}, Fun: e.Fun, TypArgs: e.TypArgs, Args: args}
		if dest != nil {
			d := dest()
			return append(stms, &AssignStm{StmInfo: StmInfo{Span: e.Span}, Dest: d, Exp: exp}), &ImplicitUnit{Span: e.Span}, nil
		}
		return stms, &ValueReturn{Exp: exp}, nil
	}

	switch {
	case dest != nil:
		return append(stms, call(false, dest())), &ImplicitUnit{Span: e.Span}, nil
	case vir.IsUnit(e.Typ):
		return append(stms, call(false, nil)), &ImplicitUnit{Span: e.Span}, nil
	default:
		tmp := s.NextTemp(e.Span, e.Typ)
		d := &Dest{Exp: varLocExp(e.Span, e.Typ, tmp), IsInit: true}
		return append(stms, call(false, d)), &ValueReturn{Exp: varExp(e.Span, e.Typ, tmp)}, nil
	}
}

func (s *State) lowerCallLambda(e *vir.CallLambda) ([]Stm, ReturnValue, error) {
	stms, exps, err := s.lowerExps(append([]vir.Expr{e.Fun}, e.Args...))
	if err != nil || exps == nil {
		return stms, Never, err
	}
	return stms, &ValueReturn{Exp: &CallLambdaExp{
		ExpInfo: ExpInfo{Span: e.Span, Typ: e.Typ},
		Fun:     exps[0],
		Args:    exps[1:],
	}}, nil
}

// lowerCallClosure calls a closure value through its opaque contract.
func (s *State) lowerCallClosure(e *vir.CallClosure) ([]Stm, ReturnValue, error) {
	stms, exps, err := s.lowerExps(append([]vir.Expr{e.Fun}, e.Args...))
	if err != nil || exps == nil {
		return stms, Never, err
	}
	call := &ClosureCallStm{StmInfo: StmInfo{Span: e.Span}, Closure: exps[0], Args: exps[1:]}
	if vir.IsUnit(e.Typ) {
		return append(stms, call), &ImplicitUnit{Span: e.Span}, nil
	}
	tmp := s.NextTemp(e.Span, e.Typ)
	call.Dest = &Dest{Exp: varLocExp(e.Span, e.Typ, tmp), IsInit: true}
	return append(stms, call), &ValueReturn{Exp: varExp(e.Span, e.Typ, tmp)}, nil
}

// lowerClosurePred lowers closure_req, or closure_ens when ret is non-nil.
func (s *State) lowerClosurePred(span token.Position, c vir.Expr, args []vir.Expr, ret vir.Expr) ([]Stm, ReturnValue, error) {
	es := append([]vir.Expr{c}, args...)
	if ret != nil {
		es = append(es, ret)
	}
	stms, exps, err := s.lowerExps(es)
	if err != nil || exps == nil {
		return stms, Never, err
	}
	info := ExpInfo{Span: span, Typ: vir.Bool}
	if ret == nil {
		return stms, &ValueReturn{Exp: &ClosureReqExp{ExpInfo: info, Closure: exps[0], Args: exps[1:]}}, nil
	}
	n := len(exps) - 1
	return stms, &ValueReturn{Exp: &ClosureEnsExp{ExpInfo: info, Closure: exps[0], Args: exps[1:n], Ret: exps[n]}}, nil
}

// declareBinders declares expression-level binders in the current scope.
func (s *State) declareBinders(binders []*vir.Binder) []*VarBinder {
	vars := make([]*VarBinder, len(binders))
	for i, b := range binders {
		vars[i] = &VarBinder{Ident: s.DeclareExpressionVar(b.Name), Typ: b.Typ}
	}
	return vars
}

func (s *State) lowerQuant(e *vir.Quant) ([]Stm, ReturnValue, error) {
	s.PushScope()
	defer s.PopScope()

	vars := s.declareBinders(e.Vars)
	body, err := s.lowerPure(e.Body)
	if err != nil {
		return nil, nil, err
	}
	return nil, &ValueReturn{Exp: mustBeFinalized(&BindExp{
		ExpInfo: ExpInfo{Span: e.Span, Typ: vir.Bool},
		Bnd:     &QuantBnd{Kind: e.Kind, Vars: vars},
		Body:    body,
	})}, nil
}

func (s *State) lowerChoose(e *vir.Choose) ([]Stm, ReturnValue, error) {
	s.PushScope()
	defer s.PopScope()

	vars := s.declareBinders(e.Vars)
	cond, err := s.lowerPure(e.Cond)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.lowerPure(e.Body)
	if err != nil {
		return nil, nil, err
	}
	return nil, &ValueReturn{Exp: mustBeFinalized(&BindExp{
		ExpInfo: ExpInfo{Span: e.Span, Typ: e.Typ},
		Bnd:     &ChooseBnd{Vars: vars, Cond: cond},
		Body:    body,
	})}, nil
}

func (s *State) lowerLambda(e *vir.Lambda) ([]Stm, ReturnValue, error) {
	s.PushScope()
	defer s.PopScope()

	vars := s.declareBinders(e.Params)
	body, err := s.lowerPure(e.Body)
	if err != nil {
		return nil, nil, err
	}
	return nil, &ValueReturn{Exp: mustBeFinalized(&BindExp{
		ExpInfo: ExpInfo{Span: e.Span, Typ: e.Typ},
		Bnd:     &LambdaBnd{Vars: vars},
		Body:    body,
	})}, nil
}

func (s *State) lowerWithTriggers(e *vir.WithTriggers) ([]Stm, ReturnValue, error) {
	triggers := make([]Trigger, len(e.Triggers))
	for i, tr := range e.Triggers {
		exps, err := s.lowerPures(tr)
		if err != nil {
			return nil, nil, err
		}
		triggers[i] = exps
	}
	body, err := s.lowerPure(e.Body)
	if err != nil {
		return nil, nil, err
	}
	return nil, &ValueReturn{Exp: &WithTriggersExp{
		ExpInfo:  ExpInfo{Span: e.Span, Typ: body.Type()},
		Triggers: triggers,
		Body:     body,
	}}, nil
}

// lowerClosure checks the body of an exec closure against its contract in
// a fenced block and then gives the closure value an opaque contract.
func (s *State) lowerClosure(e *vir.Closure) ([]Stm, ReturnValue, error) {
	var inner []Stm
	s.PushScope()

	params := make([]*VarBinder, len(e.Params))
	for i, p := range e.Params {
		ident := s.DeclareNewVar(p.Name, p.Typ, false, true)
		params[i] = &VarBinder{Ident: ident, Typ: p.Typ}
		inner = append(inner, assumeStm(hasTypeExp(varExp(e.Span, p.Typ, ident), p.Typ)))
	}
	requires, err := s.lowerPures(e.Requires)
	if err != nil {
		return nil, nil, err
	}
	for _, req := range requires {
		inner = append(inner, assumeStm(req))
	}

	retTyp := vir.Typ(vir.Unit)
	retName := "%return"
	if e.Ret != nil {
		retTyp, retName = e.Ret.Typ, e.Ret.Name
	}
	ret := s.DeclareNewVar(retName, retTyp, false, true)
	ensures, err := s.lowerPures(e.Ensures)
	if err != nil {
		return nil, nil, err
	}

	saved := s.containingClosure
	s.containingClosure = &closureState{ret: ret, retTyp: retTyp, ensures: ensures}
	stms, exp, err := s.lowerValue(e.Body)
	if err != nil {
		return nil, nil, err
	}
	inner = append(inner, stms...)
	if exp != nil {
		inner = append(inner, s.closurePostconditions(exp.Pos(), exp)...)
	}
	s.containingClosure = saved
	s.PopScope()

	typ := e.Typ
	tmp := s.NextTemp(e.Span, typ)
	closure := varExp(e.Span, typ, tmp)
	return []Stm{
		&ClosureInnerStm{StmInfo: StmInfo{Span: e.Span}, Body: blockStm(e.Span, inner)},
		&AssumeContractStm{StmInfo: StmInfo{Span: e.Span}, Contract: &OpaqueContract{
			Closure:  closure,
			Params:   params,
			Ret:      &VarBinder{Ident: ret, Typ: retTyp},
			Requires: requires,
			Ensures:  ensures,
		}},
	}, &ValueReturn{Exp: closure}, nil
}

// closurePostconditions stores exp into the closure's return variable and
// asserts the closure's ensures clauses.
func (s *State) closurePostconditions(span token.Position, exp Exp) []Stm {
	cs := s.containingClosure
	stms := []Stm{initStm(span, varLocExp(span, cs.retTyp, cs.ret), exp)}
	for _, ens := range cs.ensures {
		stms = append(stms, assertStm(ens, &air.Diagnostic{
			Message: "unable to prove post-condition of closure",
			Span:    span,
			Labels: []air.Label{
				{Span: span, Message: "returning this expression"},
				{Span: ens.Pos(), Message: "this post-condition fails"},
			},
		}))
	}
	return stms
}

func (s *State) lowerReturn(e *vir.Return) ([]Stm, ReturnValue, error) {
	var stms []Stm
	var exp Exp
	if e.Expr != nil {
		var err error
		if stms, exp, err = s.lowerValue(e.Expr); err != nil || exp == nil {
			return stms, Never, err
		}
	}

	if s.containingClosure != nil {
		if exp == nil {
			exp = unitExp(e.Span)
		}
		stms = append(stms, s.closurePostconditions(e.Span, exp)...)
	} else {
		stms = append(stms, &ReturnStm{
			StmInfo: StmInfo{Span: e.Span},
			BaseError: &air.Diagnostic{
				Message: "postcondition not satisfied",
				Span:    e.Span,
				Labels:  []air.Label{{Span: e.Span, Message: "at this exit"}},
			},
			Exp:        exp,
			InsideBody: true,
		})
	}
	return append(stms, assumeFalse(e.Span)), Never, nil
}

// lowerLoc lowers an assignment destination.
func (s *State) lowerLoc(expr vir.Expr) Exp {
	switch e := expr.(type) {
	case *vir.VarLoc:
		return varLocExp(e.Span, e.Typ, s.Lookup(e.Name))
	case *vir.Var:
		return varLocExp(e.Span, e.Typ, s.Lookup(e.Name))
	case *vir.Field:
		return &FieldExp{
			ExpInfo:  ExpInfo{Span: e.Span, Typ: e.Typ},
			Exp:      s.lowerLoc(e.Expr),
			Datatype: e.Datatype,
			Variant:  s.variantName(e.Datatype, e.Variant),
			Field:    e.Field,
		}
	default:
		panic(fmt.Sprintf("invalid assignment destination: %T", expr))
	}
}

func (s *State) lowerAssign(e *vir.Assign) ([]Stm, ReturnValue, error) {
	dest := s.lowerLoc(e.LHS)
	_, simple := dest.(*VarLocExp)
	unit := &ImplicitUnit{Span: e.Span}

	if call, ok := e.RHS.(*vir.Call); ok {
		if callee := s.callee(call.Fun); !s.isExpressible(callee) {
			if simple {
				stms, rv, err := s.lowerCallStm(call, callee, func() *Dest {
					return &Dest{Exp: dest, IsInit: e.InitNotMut}
				})
				if err != nil || isNever(rv) {
					return stms, Never, err
				}
				return stms, unit, nil
			}
			stms, exp, err := s.valueOf(s.lowerCallStm(call, callee, nil))
			if err != nil || exp == nil {
				return stms, Never, err
			}
			return append(stms, &AssignStm{StmInfo: StmInfo{Span: e.Span}, Dest: &Dest{Exp: dest, IsInit: e.InitNotMut}, Exp: exp}), unit, nil
		}
	}

	stms, exp, err := s.lowerValue(e.RHS)
	if err != nil || exp == nil {
		return stms, Never, err
	}
	if !simple && !isSmallExp(exp) {
		tmp := s.NextTemp(exp.Pos(), exp.Type())
		stms = append(stms, initStm(exp.Pos(), varLocExp(exp.Pos(), exp.Type(), tmp), exp))
		exp = varExp(exp.Pos(), exp.Type(), tmp)
	}
	return append(stms, &AssignStm{StmInfo: StmInfo{Span: e.Span}, Dest: &Dest{Exp: dest, IsInit: e.InitNotMut}, Exp: exp}), unit, nil
}

// valueOf converts a lowering result the way lowerValue does.
func (s *State) valueOf(stms []Stm, rv ReturnValue, err error) ([]Stm, Exp, error) {
	if err != nil {
		return nil, nil, err
	}
	switch rv := rv.(type) {
	case *ValueReturn:
		return stms, rv.Exp, nil
	case *ImplicitUnit:
		return stms, unitExp(rv.Span), nil
	default:
		return stms, nil, nil
	}
}

// lowerBlock lowers a block. Each declaration opens a scope that lasts to
// the end of the block. A block made only of declarations with pure
// initializers and a pure value becomes nested let expressions.
func (s *State) lowerBlock(e *vir.Block) ([]Stm, ReturnValue, error) {
	depth := s.Depth()
	defer func() {
		for s.Depth() > depth {
			s.PopScope()
		}
	}()

	var stms []Stm
	var binders []*LetBinder
	foldable := true
	for _, stmt := range e.Stmts {
		switch stmt := stmt.(type) {
		case *vir.DeclStmt:
			s.PushScope()
			other, binder, never, err := s.lowerDecl(stmt)
			if err != nil {
				return nil, nil, err
			}
			stms = append(stms, other...)
			if never {
				return []Stm{blockStm(e.Span, stms)}, Never, nil
			} else if binder == nil {
				foldable = false
			} else {
				binders = append(binders, binder)
			}

		case *vir.ExprStmt:
			foldable = false
			other, rv, err := s.lower(stmt.Expr)
			if err != nil {
				return nil, nil, err
			}
			stms = append(stms, other...)
			if isNever(rv) {
				return []Stm{blockStm(e.Span, stms)}, Never, nil
			}

		default:
			panic(fmt.Sprintf("invalid statement type: %T", stmt))
		}
	}

	var rv ReturnValue = &ImplicitUnit{Span: e.Span}
	if e.Expr != nil {
		other, value, err := s.lower(e.Expr)
		if err != nil {
			return nil, nil, err
		}
		if len(other) > 0 {
			foldable = false
		}
		stms, rv = append(stms, other...), value
	}

	if value, ok := rv.(*ValueReturn); ok && foldable && len(binders) > 0 {
		body := value.Exp
		for i := len(binders) - 1; i >= 0; i-- {
			body = &BindExp{
				ExpInfo: ExpInfo{Span: e.Span, Typ: body.Type()},
				Bnd:     &LetBnd{Binders: []*LetBinder{binders[i]}},
				Body:    body,
			}
		}
		for _, b := range binders {
			s.dontRename[b.Ident] = true
			s.removeLocal(b.Ident)
		}
		return nil, &ValueReturn{Exp: body}, nil
	}

	if len(stms) == 0 {
		return nil, rv, nil
	}
	return []Stm{blockStm(e.Span, stms)}, rv, nil
}

// lowerDecl lowers a local declaration into the current scope. The binder
// is set when the initializer is a pure expression.
func (s *State) lowerDecl(d *vir.DeclStmt) (_ []Stm, _ *LetBinder, never bool, _ error) {
	if d.Init == nil {
		s.DeclareNewVar(d.Name, d.Typ, d.Mutable, true)
		return nil, nil, false, nil
	}

	if call, ok := d.Init.(*vir.Call); ok {
		if callee := s.callee(call.Fun); !s.isExpressible(callee) {
			stms, rv, err := s.lowerCallStm(call, callee, func() *Dest {
				ident := s.DeclareNewVar(d.Name, d.Typ, d.Mutable, true)
				return &Dest{Exp: varLocExp(d.Span, d.Typ, ident), IsInit: true}
			})
			return stms, nil, isNever(rv), err
		}
	}

	stms, exp, err := s.lowerValue(d.Init)
	if err != nil || exp == nil {
		return stms, nil, true, err
	}
	ident := s.DeclareNewVar(d.Name, d.Typ, d.Mutable, true)
	var binder *LetBinder
	if len(stms) == 0 {
		binder = &LetBinder{Ident: ident, Exp: exp}
	}
	return append(stms, initStm(d.Span, varLocExp(d.Span, d.Typ, ident), exp)), binder, false, nil
}

func (s *State) lowerAssertAssume(e *vir.AssertAssume) ([]Stm, ReturnValue, error) {
	unit := &ImplicitUnit{Span: e.Span}
	if e.IsAssume {
		exp, err := s.lowerPure(e.Expr)
		if err != nil {
			return nil, nil, err
		}
		return []Stm{assumeStm(exp)}, unit, nil
	}

	// Only the recommendations of the condition are checked.
	if s.recommends() {
		stms, _, err := s.lowerValue(e.Expr)
		return stms, unit, err
	}

	exp, err := s.lowerPure(e.Expr)
	if err != nil {
		return nil, nil, err
	}
	diag := &air.Diagnostic{Message: "assertion failed", Span: e.Span}
	if s.split || isSmallExp(exp) {
		return []Stm{assertStm(exp, diag), assumeStm(exp)}, unit, nil
	}
	tmp := s.NextTemp(e.Span, vir.Bool)
	v := varExp(e.Span, vir.Bool, tmp)
	return []Stm{
		initStm(e.Span, varLocExp(e.Span, vir.Bool, tmp), exp),
		assertStm(v, diag),
		assumeStm(v),
	}, unit, nil
}

// lowerAssertBy proves forall vars. require ==> ensure in a fenced block and
// then assumes it.
func (s *State) lowerAssertBy(e *vir.AssertBy) ([]Stm, ReturnValue, error) {
	var inner []Stm
	s.PushScope()

	subst := make(map[UniqueIdent]Exp)
	bound := make([]*VarBinder, len(e.Vars))
	for i, b := range e.Vars {
		ident := s.DeclareNewVar(b.Name, b.Typ, false, true)
		inner = append(inner, assumeStm(hasTypeExp(varExp(e.Span, b.Typ, ident), b.Typ)))
		bound[i] = &VarBinder{Ident: BoundIdent(b.Name), Typ: b.Typ}
		subst[ident] = varExp(e.Span, b.Typ, bound[i].Ident)
	}

	require := boolExp(e.Span, true)
	if e.Require != nil {
		exp, err := s.lowerPure(e.Require)
		if err != nil {
			return nil, nil, err
		}
		require = exp
		inner = append(inner, assumeStm(require))
	}

	stms, rv, err := s.lower(e.Proof)
	if err != nil {
		return nil, nil, err
	}
	_, isValue := rv.(*ValueReturn)
	assert(!isValue, "'assert ... by' block cannot end with an expression")
	inner = append(inner, stms...)

	ensure, err := s.lowerPure(e.Ensure)
	if err != nil {
		return nil, nil, err
	}
	if !isNever(rv) {
		inner = append(inner, assertStm(ensure, &air.Diagnostic{Message: "assertion failed", Span: e.Ensure.Pos()}))
	}
	s.PopScope()

	fact := binaryExp(e.Span, vir.Implies, vir.Bool, substExp(require, subst), substExp(ensure, subst))
	if len(bound) > 0 {
		fact = mustBeFinalized(&BindExp{
			ExpInfo: ExpInfo{Span: e.Span, Typ: vir.Bool},
			Bnd:     &QuantBnd{Kind: vir.Forall, Vars: bound},
			Body:    fact,
		})
	}
	return []Stm{
		&DeadEndStm{StmInfo: StmInfo{Span: e.Span}, Body: blockStm(e.Span, inner)},
		assumeStm(fact),
	}, &ImplicitUnit{Span: e.Span}, nil
}

func (s *State) lowerOpenInvariant(e *vir.OpenInvariant) ([]Stm, ReturnValue, error) {
	stms, inv, err := s.lowerValue(e.Inv)
	if err != nil || inv == nil {
		return stms, Never, err
	}
	if !isSmallExp(inv) {
		tmp := s.NextTemp(inv.Pos(), inv.Type())
		stms = append(stms, initStm(inv.Pos(), varLocExp(inv.Pos(), inv.Type(), tmp), inv))
		inv = varExp(inv.Pos(), inv.Type(), tmp)
	}

	s.PushScope()
	binder := s.DeclareNewVar(e.Binder.Name, e.Binder.Typ, true, true)
	body, rv, err := s.lower(e.Body)
	s.PopScope()
	if err != nil {
		return nil, nil, err
	}

	stms = append(stms, &OpenInvariantStm{
		StmInfo: StmInfo{Span: e.Span},
		Inv:     inv,
		Binder:  binder,
		Typ:     e.Binder.Typ,
		Body:    blockStm(e.Span, body),
	})
	return stms, rv, nil
}
