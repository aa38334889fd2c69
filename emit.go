package vcgen

import (
	"fmt"
	"go/token"

	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
)

// Emit translates a lowered function into the commands that check it:
//
//	(push)
//	global declarations used by the query
//	(check-valid ...)
//	(pop)
//
// A function without a body produces no commands. If split is set,
// assertions and postconditions are split into separately checked
// conjuncts.
func (ctx *Context) Emit(fn *FunctionSst, split bool) (_ []air.Command, err error) {
	if fn.Body == nil {
		return nil, nil
	}
	defer recoverInternal(fn.Name, &err)

	e := newEmitter(ctx, fn, split)
	q := e.query()

	cmds := make([]air.Command, 0, len(e.globals)+3)
	cmds = append(cmds, &air.Push{})
	for _, decl := range e.globals {
		cmds = append(cmds, &air.Global{Decl: decl})
	}
	cmds = append(cmds, &air.CheckValid{Query: q}, &air.Pop{})
	return cmds, nil
}

// emitter holds the state of translating one function into a query.
type emitter struct {
	ctx   *Context
	fn    *FunctionSst
	split bool

	// Global declarations in dependency order.
	globals  []air.Declaration
	declared map[string]bool
	pending  []string // datatypes being declared

	locals  []air.Declaration
	varTyps map[UniqueIdent]vir.Typ

	loops   []*loopFrame
	skolems int
	fresh   int
}

type loopFrame struct {
	label string
	invs  []*LoopInv
}

func newEmitter(ctx *Context, fn *FunctionSst, split bool) *emitter {
	return &emitter{
		ctx:      ctx,
		fn:       fn,
		split:    split,
		declared: make(map[string]bool),
		varTyps:  make(map[UniqueIdent]vir.Typ),
	}
}

func (e *emitter) local(ident UniqueIdent, typ vir.Typ, mutable bool) {
	e.varTyps[ident] = typ
	if mutable {
		e.locals = append(e.locals, &air.VarDecl{Var: ident.String(), Typ: e.typ(typ)})
	} else {
		e.locals = append(e.locals, &air.ConstDecl{Const: ident.String(), Typ: e.typ(typ)})
	}
}

// freshLocal declares a mutable variable that does not appear in the
// lowered function.
func (e *emitter) freshLocal(typ vir.Typ) UniqueIdent {
	e.fresh++
	ident := UniqueIdent{Name: "ret%", Local: e.fresh}
	e.local(ident, typ, true)
	return ident
}

// query builds the query of the function: parameters are assumed to be in
// range and to satisfy the preconditions, then the body runs.
func (e *emitter) query() *air.Query {
	var stmts []air.Stmt
	for _, p := range e.fn.Params {
		e.local(p.Ident, p.Typ, p.Mutable)
		stmts = append(stmts, assume(e.hasType(&air.Var{Name: p.Ident.String()}, p.Typ)))
	}
	if e.fn.Ret != nil {
		e.local(e.fn.Ret.Ident, e.fn.Ret.Typ, true)
	}
	for _, l := range e.fn.Locals {
		e.local(l.Ident, l.Typ, true)
	}
	for _, req := range e.fn.Requires {
		stmts = append(stmts, assume(e.exp(req)))
	}
	stmts = append(stmts, e.stm(e.fn.Body)...)
	return &air.Query{Locals: e.locals, Assertion: &air.Block{Stmts: stmts}}
}

func assume(x air.Expr) air.Stmt { return &air.Assume{Expr: x} }

func block(stmts []air.Stmt) air.Stmt { return &air.Block{Stmts: stmts} }

func defaultDiag(diag *air.Diagnostic, span token.Position) *air.Diagnostic {
	if diag == nil {
		return &air.Diagnostic{Message: "assertion failed", Span: span}
	}
	return diag
}

// splitExp splits a condition into conjuncts, distributing implications
// over conjunctions in their conclusion.
func splitExp(x Exp) []Exp {
	if b, ok := x.(*BinaryExp); ok {
		switch b.Op {
		case vir.And:
			return append(splitExp(b.LHS), splitExp(b.RHS)...)
		case vir.Implies:
			var a []Exp
			for _, c := range splitExp(b.RHS) {
				a = append(a, binaryExp(c.Pos(), vir.Implies, vir.Bool, b.LHS, c))
			}
			return a
		}
	}
	return []Exp{x}
}

// assert checks x, one conjunct at a time when splitting.
func (e *emitter) assert(x Exp, diag *air.Diagnostic) []air.Stmt {
	if !e.split {
		return []air.Stmt{&air.Assert{Error: diag, Expr: e.exp(x)}}
	}
	parts := splitExp(x)
	if len(parts) == 1 {
		return []air.Stmt{&air.Assert{Error: diag, Expr: e.exp(x)}}
	}
	stmts := make([]air.Stmt, len(parts))
	for i, part := range parts {
		stmts[i] = &air.Assert{Error: diag.WithLabel(part.Pos(), "split assertion failure"), Expr: e.exp(part)}
	}
	return stmts
}

func (e *emitter) stm(s Stm) []air.Stmt {
	switch s := s.(type) {
	case *AssignStm:
		return e.assign(s.Dest.Exp, e.exp(s.Exp))
	case *AssertStm:
		return e.assert(s.Exp, defaultDiag(s.Error, s.Span))
	case *AssumeStm:
		return []air.Stmt{assume(e.exp(s.Exp))}
	case *CallStm:
		return e.call(s)
	case *ClosureCallStm:
		return e.closureCall(s)
	case *IfStm:
		cond := e.exp(s.Cond)
		then := append([]air.Stmt{assume(cond)}, e.stm(s.Then)...)
		els := []air.Stmt{assume(air.NewNot(cond))}
		if s.Else != nil {
			els = append(els, e.stm(s.Else)...)
		}
		return []air.Stmt{&air.Switch{Cases: []air.Stmt{block(then), block(els)}}}
	case *BlockStm:
		var stmts []air.Stmt
		for _, child := range s.Stms {
			stmts = append(stmts, e.stm(child)...)
		}
		return stmts
	case *LoopStm:
		return e.loop(s)
	case *BreakStm:
		return e.breakOrContinue(s)
	case *ReturnStm:
		return e.ret(s)
	case *DeadEndStm:
		return []air.Stmt{&air.DeadEnd{Stmt: block(e.stm(s.Body))}}
	case *ClosureInnerStm:
		return []air.Stmt{&air.DeadEnd{Stmt: block(e.stm(s.Body))}}
	case *AssumeContractStm:
		return e.contract(s.Contract)
	case *OpenInvariantStm:
		return e.openInvariant(s)
	default:
		panic(fmt.Sprintf("invalid statement type: %T", s))
	}
}

// assign stores val into dest. Assigning a field rebuilds the enclosing
// value through its constructor.
func (e *emitter) assign(dest Exp, val air.Expr) []air.Stmt {
	switch d := dest.(type) {
	case *VarLocExp:
		return []air.Stmt{&air.Assign{Name: d.Ident.String(), Expr: val}}
	case *FieldExp:
		t := d.Exp.Type().(*vir.DatatypeTyp)
		e.typ(t)
		v, _ := e.variant(t, d.Variant)
		inner := e.exp(d.Exp)
		args := make([]air.Expr, len(v.Fields))
		for i, f := range v.Fields {
			if f.Name == d.Field {
				args[i] = val
			} else {
				args[i] = &air.Apply{Fun: accessorName(t, v.Name, f.Name), Args: []air.Expr{inner}}
			}
		}
		return e.assign(d.Exp, &air.Apply{Fun: ctorName(t, v.Name), Args: args})
	default:
		panic(fmt.Sprintf("invalid destination: %s", dest))
	}
}

// havoc gives a variable an arbitrary value of its type.
func (e *emitter) havoc(ident UniqueIdent) []air.Stmt {
	typ, ok := e.varTyps[ident]
	assert(ok, "havoc of undeclared variable %s", ident)
	return []air.Stmt{
		&air.Havoc{Name: ident.String()},
		assume(e.hasType(&air.Var{Name: ident.String()}, typ)),
	}
}

// call checks the callee's preconditions and assumes its postconditions
// for an arbitrary result.
func (e *emitter) call(s *CallStm) []air.Stmt {
	info := e.ctx.info(s.Fun)
	assert(info != nil, "call of unknown function %s", s.Fun)
	assert(len(info.params) == len(s.Args), "call of %s with %d arguments", s.Fun, len(s.Args))

	typs := typArgsMap(info.fn.TypParams, s.TypArgs)
	subst := make(map[UniqueIdent]Exp, len(s.Args)+1)
	for i, p := range info.params {
		subst[p.Ident] = s.Args[i]
	}
	inst := func(x Exp) Exp { return substExp(substTypsExp(x, typs), subst) }

	var stmts []air.Stmt
	if s.Split {
		for _, req := range info.requires {
			for _, part := range splitExp(inst(req)) {
				stmts = append(stmts, &air.Assert{
					Error: &air.Diagnostic{
						Message: "split precondition failure",
						Span:    s.Span,
						Labels:  []air.Label{{Span: part.Pos(), Message: "failed precondition"}},
					},
					Expr: e.exp(part),
				})
			}
		}
		return stmts
	}

	msg := "precondition not satisfied"
	if s.Mode == vir.Spec {
		msg = "recommendation not met: " + msg
	}
	for _, req := range info.requires {
		stmts = append(stmts, &air.Assert{
			Error: &air.Diagnostic{
				Message: msg,
				Span:    s.Span,
				Labels:  []air.Label{{Span: req.Pos(), Message: "failed precondition"}},
			},
			Expr: e.exp(inst(req)),
		})
	}
	if s.Mode == vir.Spec {
		return stmts
	}

	// Mutable arguments may be changed by the call.
	for i, p := range info.params {
		if loc, ok := s.Args[i].(*VarLocExp); ok && p.Mutable {
			stmts = append(stmts, e.havoc(loc.Ident)...)
		}
	}

	if info.ret != nil {
		var ret UniqueIdent
		if s.Dest != nil {
			loc, ok := s.Dest.Exp.(*VarLocExp)
			assert(ok, "call of %s with compound destination %s", s.Fun, s.Dest.Exp)
			ret = loc.Ident
		} else {
			ret = e.freshLocal(vir.SubstTyp(info.ret.Typ, typs))
		}
		stmts = append(stmts, e.havoc(ret)...)
		subst[info.ret.Ident] = varExp(s.Span, e.varTyps[ret], ret)
	}
	for _, ens := range info.ensures {
		stmts = append(stmts, assume(e.exp(inst(ens))))
	}
	return stmts
}

// closureCall calls a closure value through its requires and ensures
// predicates.
func (e *emitter) closureCall(s *ClosureCallStm) []air.Stmt {
	t := s.Closure.Type().(*vir.ClosureTyp)
	_, req, ens := e.closure(t)
	args := append([]air.Expr{e.exp(s.Closure)}, e.exps(s.Args)...)

	stmts := []air.Stmt{&air.Assert{
		Error: &air.Diagnostic{Message: "precondition not satisfied", Span: s.Span},
		Expr:  &air.Apply{Fun: req, Args: args},
	}}

	var ret air.Expr
	switch {
	case s.Dest != nil:
		loc, ok := s.Dest.Exp.(*VarLocExp)
		assert(ok, "closure call with compound destination %s", s.Dest.Exp)
		stmts = append(stmts, e.havoc(loc.Ident)...)
		ret = &air.Var{Name: loc.Ident.String()}
	case vir.IsUnit(t.Ret):
		ret = e.exp(unitExp(s.Span))
	default:
		ident := e.freshLocal(t.Ret)
		stmts = append(stmts, e.havoc(ident)...)
		ret = &air.Var{Name: ident.String()}
	}
	return append(stmts, assume(&air.Apply{Fun: ens, Args: append(args, ret)}))
}

// modifiedVars returns the variables assigned anywhere in a loop, in order
// of first assignment.
func modifiedVars(s *LoopStm) []UniqueIdent {
	var a []UniqueIdent
	seen := make(map[UniqueIdent]bool)
	add := func(ident UniqueIdent) {
		if !seen[ident] {
			seen[ident] = true
			a = append(a, ident)
		}
	}
	walkStms(s, func(stm Stm) {
		switch stm := stm.(type) {
		case *AssignStm:
			add(stm.Dest.Root())
		case *CallStm:
			if stm.Dest != nil {
				add(stm.Dest.Root())
			}
			for _, arg := range stm.Args {
				if loc, ok := arg.(*VarLocExp); ok {
					add(loc.Ident)
				}
			}
		case *ClosureCallStm:
			if stm.Dest != nil {
				add(stm.Dest.Root())
			}
		case *OpenInvariantStm:
			add(stm.Binder)
		}
	})
	return a
}

// loop checks the entry invariants, jumps to an arbitrary iteration, and
// either checks that the body preserves the invariants or leaves the loop.
func (e *emitter) loop(s *LoopStm) []air.Stmt {
	var stmts []air.Stmt
	for _, inv := range s.Invs {
		if inv.AtEntry {
			stmts = append(stmts, e.assert(inv.Exp, &air.Diagnostic{Message: "invariant not satisfied before loop", Span: inv.Exp.Pos()})...)
		}
	}

	modified := modifiedVars(s)
	havocs := func() []air.Stmt {
		var a []air.Stmt
		for _, ident := range modified {
			a = append(a, e.havoc(ident)...)
		}
		return a
	}
	stmts = append(stmts, havocs()...)
	for _, inv := range s.Invs {
		if inv.AtEntry {
			stmts = append(stmts, assume(e.exp(inv.Exp)))
		}
	}

	var iter []air.Stmt
	e.loops = append(e.loops, &loopFrame{label: s.Label, invs: s.Invs})
	if s.Cond != nil {
		if s.Cond.Stm != nil {
			iter = append(iter, e.stm(s.Cond.Stm)...)
		}
		iter = append(iter, assume(e.exp(s.Cond.Exp)))
	}
	iter = append(iter, e.stm(s.Body)...)
	for _, inv := range s.Invs {
		if inv.AtEntry {
			iter = append(iter, e.assert(inv.Exp, &air.Diagnostic{Message: "invariant not satisfied at end of loop body", Span: inv.Exp.Pos()})...)
		}
	}
	iter = append(iter, assume(air.BoolConst(false)))
	e.loops = e.loops[:len(e.loops)-1]

	// A while loop exits when its condition fails. Any other loop exits
	// through a break, which checks the exit invariants.
	var exit []air.Stmt
	if s.Cond != nil {
		if s.Cond.Stm != nil {
			exit = append(exit, e.stm(s.Cond.Stm)...)
		}
		exit = append(exit, assume(air.NewNot(e.exp(s.Cond.Exp))))
	} else {
		exit = append(exit, havocs()...)
		for _, inv := range s.Invs {
			if inv.AtExit {
				exit = append(exit, assume(e.exp(inv.Exp)))
			}
		}
	}
	return append(stmts, &air.Switch{Cases: []air.Stmt{block(iter), block(exit)}})
}

func (e *emitter) loopFrame(label string) *loopFrame {
	for i := len(e.loops) - 1; i >= 0; i-- {
		if label == "" || e.loops[i].label == label {
			return e.loops[i]
		}
	}
	panic(fmt.Sprintf("break or continue outside of loop %q", label))
}

func (e *emitter) breakOrContinue(s *BreakStm) []air.Stmt {
	frame := e.loopFrame(s.Label)
	var stmts []air.Stmt
	for _, inv := range frame.invs {
		switch {
		case s.IsBreak && inv.AtExit:
			stmts = append(stmts, e.assert(inv.Exp, &air.Diagnostic{
				Message: "invariant not satisfied before loop exit",
				Span:    s.Span,
				Labels:  []air.Label{{Span: inv.Exp.Pos(), Message: "failed this invariant"}},
			})...)
		case !s.IsBreak && inv.AtEntry:
			stmts = append(stmts, e.assert(inv.Exp, &air.Diagnostic{
				Message: "invariant not satisfied at end of loop body",
				Span:    s.Span,
				Labels:  []air.Label{{Span: inv.Exp.Pos(), Message: "failed this invariant"}},
			})...)
		}
	}
	return append(stmts, assume(air.BoolConst(false)))
}

// ret stores the returned value and checks the postconditions.
func (e *emitter) ret(s *ReturnStm) []air.Stmt {
	var stmts []air.Stmt
	if s.Exp != nil && e.fn.Ret != nil {
		stmts = append(stmts, &air.Assign{Name: e.fn.Ret.Ident.String(), Expr: e.exp(s.Exp)})
	}
	for _, ens := range e.fn.Ensures {
		diag := defaultDiag(s.BaseError, s.Span).WithLabel(ens.Pos(), "failed this postcondition")
		stmts = append(stmts, e.assert(ens, diag)...)
	}
	return stmts
}

// contract relates a closure value to its declared requires and ensures.
func (e *emitter) contract(c *OpaqueContract) []air.Stmt {
	t := c.Closure.Type().(*vir.ClosureTyp)
	_, req, ens := e.closure(t)
	clo := e.exp(c.Closure)

	params := e.binders(c.Params)
	args := []air.Expr{clo}
	for _, p := range params {
		args = append(args, &air.Var{Name: p.Name})
	}
	reqApp := &air.Apply{Fun: req, Args: args}
	fact := air.NewImplies(air.NewAnd(e.boundRanges(c.Params), air.NewAnd(e.exps(c.Requires)...)), reqApp)
	if len(params) > 0 {
		fact = &air.Quant{Kind: air.Forall, Binders: params, Triggers: []air.Trigger{{reqApp}}, Body: fact}
	}

	ret := e.binders([]*VarBinder{c.Ret})[0]
	ensApp := &air.Apply{Fun: ens, Args: append(append([]air.Expr(nil), args...), &air.Var{Name: ret.Name})}
	ensFact := &air.Quant{
		Kind:     air.Forall,
		Binders:  append(append([]*air.Binder(nil), params...), ret),
		Triggers: []air.Trigger{{ensApp}},
		Body:     air.NewImplies(ensApp, air.NewAnd(e.exps(c.Ensures)...)),
	}
	return []air.Stmt{assume(fact), assume(ensFact)}
}

// openInvariant gives the binder an arbitrary value satisfying the
// invariant and checks that the body restores it.
func (e *emitter) openInvariant(s *OpenInvariantStm) []air.Stmt {
	name := "inv%" + typName(s.Inv.Type())
	if e.once("fun:" + name) {
		e.global(&air.FunDecl{Fun: name, Params: []air.Typ{e.typ(s.Inv.Type()), e.typ(s.Typ)}, Ret: air.Bool})
	}
	holds := &air.Apply{Fun: name, Args: []air.Expr{e.exp(s.Inv), &air.Var{Name: s.Binder.String()}}}

	stmts := e.havoc(s.Binder)
	stmts = append(stmts, assume(holds))
	stmts = append(stmts, e.stm(s.Body)...)
	return append(stmts, &air.Assert{
		Error: &air.Diagnostic{Message: "cannot show invariant holds at end of block", Span: s.Span},
		Expr:  holds,
	})
}
