package vcgen

import (
	"github.com/benbjohnson/vcgen/vir"
)

// finalizer rewrites lowered expressions into their final form. It removes
// must-finalize markers, turns variables folded into let binders into bound
// identifiers, and, when full is set, inlines calls to inline functions and
// selects triggers for binders without them.
type finalizer struct {
	ctx        *Context
	dontRename map[UniqueIdent]bool
	full       bool

	// Functions whose bodies are currently being inlined.
	inlining map[string]bool
}

func newFinalizer(ctx *Context, dontRename map[UniqueIdent]bool, full bool) *finalizer {
	return &finalizer{
		ctx:        ctx,
		dontRename: dontRename,
		full:       full,
		inlining:   make(map[string]bool),
	}
}

func (f *finalizer) exp(e Exp) (Exp, error) {
	if e == nil {
		return nil, nil
	}
	return MapExp(e, f.visit)
}

func (f *finalizer) exps(a []Exp) ([]Exp, error) {
	other := make([]Exp, len(a))
	for i, e := range a {
		var err error
		if other[i], err = f.exp(e); err != nil {
			return nil, err
		}
	}
	return other, nil
}

func (f *finalizer) stm(s Stm) (Stm, error) {
	return mapStmExps(s, f.exp)
}

func (f *finalizer) visit(e Exp) (Exp, error) {
	switch x := e.(type) {
	case *UnaryExp:
		if x.Op == OpMustBeFinalized {
			return x.Exp, nil
		}
	case *VarExp:
		if f.dontRename[x.Ident] {
			return varExp(x.Span, x.Typ, BoundIdent(x.Ident.Name)), nil
		}
	case *CallExp:
		if f.full {
			return f.inline(x)
		}
	case *BindExp:
		return f.visitBind(x)
	}
	return e, nil
}

func (f *finalizer) visitBind(e *BindExp) (Exp, error) {
	switch bnd := e.Bnd.(type) {
	case *LetBnd:
		binders := make([]*LetBinder, len(bnd.Binders))
		for i, b := range bnd.Binders {
			binders[i] = b
			if f.dontRename[b.Ident] {
				binders[i] = &LetBinder{Ident: BoundIdent(b.Ident.Name), Exp: b.Exp}
			}
		}
		return &BindExp{ExpInfo: e.ExpInfo, Bnd: &LetBnd{Binders: binders}, Body: e.Body}, nil

	case *QuantBnd:
		if !f.full || len(bnd.Triggers) > 0 {
			return e, nil
		}
		triggers, body, err := f.triggers(e, bnd.Vars, e.Body, false)
		if err != nil {
			return nil, err
		}
		return &BindExp{ExpInfo: e.ExpInfo, Bnd: &QuantBnd{Kind: bnd.Kind, Vars: bnd.Vars, Triggers: triggers}, Body: body}, nil

	case *ChooseBnd:
		if !f.full || len(bnd.Triggers) > 0 {
			return e, nil
		}
		triggers, cond, err := f.triggers(e, bnd.Vars, bnd.Cond, false)
		if err != nil {
			return nil, err
		}
		return &BindExp{ExpInfo: e.ExpInfo, Bnd: &ChooseBnd{Vars: bnd.Vars, Triggers: triggers, Cond: cond}, Body: e.Body}, nil

	case *LambdaBnd:
		if !f.full || len(bnd.Triggers) > 0 {
			return e, nil
		}
		triggers, body, err := f.triggers(e, bnd.Vars, e.Body, true)
		if err != nil {
			return nil, err
		}
		return &BindExp{ExpInfo: e.ExpInfo, Bnd: &LambdaBnd{Vars: bnd.Vars, Triggers: triggers}, Body: body}, nil
	}
	return e, nil
}

// triggers returns the triggers for a binder. User triggers attached to
// body are used as is and removed from the body.
func (f *finalizer) triggers(e *BindExp, vars []*VarBinder, body Exp, isLambda bool) ([]Trigger, Exp, error) {
	if wt, ok := body.(*WithTriggersExp); ok {
		return wt.Triggers, wt.Body, nil
	}
	triggers, err := f.ctx.triggerSelector().SelectTriggers(e.Span, vars, body, false, isLambda)
	if err != nil {
		return nil, nil, err
	}
	return triggers, body, nil
}

// inline replaces a call to an inline spec function by the function's body
// with type and value parameters substituted. Recursive inlining stops at
// the first repeated function.
func (f *finalizer) inline(call *CallExp) (Exp, error) {
	info := f.ctx.info(call.Fun)
	if info == nil || !info.fn.Inline || info.specBody == nil || f.inlining[call.Fun] {
		return call, nil
	}

	typs := make(map[string]vir.Typ, len(call.TypArgs))
	for i, name := range info.fn.TypParams {
		if i < len(call.TypArgs) {
			typs[name] = call.TypArgs[i]
		}
	}
	args := make(map[UniqueIdent]Exp, len(call.Args))
	for i, p := range info.params {
		args[p.Ident] = call.Args[i]
	}
	body := substExp(substTypsExp(info.specBody, typs), args)

	f.inlining[call.Fun] = true
	body, err := f.exp(body)
	delete(f.inlining, call.Fun)
	if err != nil {
		return nil, err
	}
	return withInfo(body, ExpInfo{Span: call.Span, Typ: call.Typ}), nil
}
