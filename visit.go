package vcgen

import (
	"fmt"

	"github.com/benbjohnson/vcgen/vir"
)

// mapChildren returns a copy of e with f applied to each direct
// subexpression, including binder values, choose conditions, and triggers.
// It returns e itself if f leaves every child unchanged.
func mapChildren(e Exp, f func(Exp) (Exp, error)) (Exp, error) {
	var changed bool
	var err error
	m := func(child Exp) Exp {
		if child == nil || err != nil {
			return child
		}
		var other Exp
		if other, err = f(child); err != nil {
			return child
		} else if other != child {
			changed = true
		}
		return other
	}
	ms := func(a []Exp) []Exp {
		if a == nil {
			return nil
		}
		other := make([]Exp, len(a))
		for i := range a {
			other[i] = m(a[i])
		}
		return other
	}
	mt := func(triggers []Trigger) []Trigger {
		if triggers == nil {
			return nil
		}
		other := make([]Trigger, len(triggers))
		for i, tr := range triggers {
			other[i] = ms(tr)
		}
		return other
	}

	var other Exp
	switch e := e.(type) {
	case *ConstExp, *VarExp, *VarLocExp:
		return e, nil
	case *UnaryExp:
		x := *e
		x.Exp = m(e.Exp)
		other = &x
	case *HasTypeExp:
		x := *e
		x.Exp = m(e.Exp)
		other = &x
	case *FieldExp:
		x := *e
		x.Exp = m(e.Exp)
		other = &x
	case *BinaryExp:
		x := *e
		x.LHS, x.RHS = m(e.LHS), m(e.RHS)
		other = &x
	case *IfExp:
		x := *e
		x.Cond, x.Then, x.Else = m(e.Cond), m(e.Then), m(e.Else)
		other = &x
	case *CtorExp:
		x := *e
		x.Fields = make([]*CtorField, len(e.Fields))
		for i, fld := range e.Fields {
			x.Fields[i] = &CtorField{Name: fld.Name, Exp: m(fld.Exp)}
		}
		other = &x
	case *CallExp:
		x := *e
		x.Args = ms(e.Args)
		other = &x
	case *CallLambdaExp:
		x := *e
		x.Fun, x.Args = m(e.Fun), ms(e.Args)
		other = &x
	case *ClosureReqExp:
		x := *e
		x.Closure, x.Args = m(e.Closure), ms(e.Args)
		other = &x
	case *ClosureEnsExp:
		x := *e
		x.Closure, x.Args, x.Ret = m(e.Closure), ms(e.Args), m(e.Ret)
		other = &x
	case *BindExp:
		x := *e
		switch bnd := e.Bnd.(type) {
		case *LetBnd:
			binders := make([]*LetBinder, len(bnd.Binders))
			for i, b := range bnd.Binders {
				binders[i] = &LetBinder{Ident: b.Ident, Exp: m(b.Exp)}
			}
			x.Bnd = &LetBnd{Binders: binders}
		case *QuantBnd:
			x.Bnd = &QuantBnd{Kind: bnd.Kind, Vars: bnd.Vars, Triggers: mt(bnd.Triggers)}
		case *ChooseBnd:
			x.Bnd = &ChooseBnd{Vars: bnd.Vars, Triggers: mt(bnd.Triggers), Cond: m(bnd.Cond)}
		case *LambdaBnd:
			x.Bnd = &LambdaBnd{Vars: bnd.Vars, Triggers: mt(bnd.Triggers)}
		}
		x.Body = m(e.Body)
		other = &x
	case *WithTriggersExp:
		x := *e
		x.Triggers, x.Body = mt(e.Triggers), m(e.Body)
		other = &x
	default:
		panic(fmt.Sprintf("invalid expression type: %T", e))
	}
	if err != nil {
		return nil, err
	} else if !changed {
		return e, nil
	}
	return other, nil
}

// MapExp rebuilds e bottom-up: children are mapped first and f is then
// applied to the rebuilt node.
func MapExp(e Exp, f func(Exp) (Exp, error)) (Exp, error) {
	other, err := mapChildren(e, func(child Exp) (Exp, error) {
		return MapExp(child, f)
	})
	if err != nil {
		return nil, err
	}
	return f(other)
}

// mapStmExps returns a copy of stm with f applied to every expression held
// by stm and its nested statements.
func mapStmExps(stm Stm, f func(Exp) (Exp, error)) (Stm, error) {
	if stm == nil {
		return nil, nil
	}

	var err error
	m := func(e Exp) Exp {
		if e == nil || err != nil {
			return e
		}
		var other Exp
		other, err = f(e)
		return other
	}
	ms := func(a []Exp) []Exp {
		other := make([]Exp, len(a))
		for i := range a {
			other[i] = m(a[i])
		}
		return other
	}
	mstm := func(s Stm) Stm {
		if s == nil || err != nil {
			return s
		}
		var other Stm
		other, err = mapStmExps(s, f)
		return other
	}
	mdest := func(d *Dest) *Dest {
		if d == nil {
			return nil
		}
		return &Dest{Exp: m(d.Exp), IsInit: d.IsInit}
	}

	var other Stm
	switch s := stm.(type) {
	case *AssignStm:
		x := *s
		x.Dest, x.Exp = mdest(s.Dest), m(s.Exp)
		other = &x
	case *AssertStm:
		x := *s
		x.Exp = m(s.Exp)
		other = &x
	case *AssumeStm:
		x := *s
		x.Exp = m(s.Exp)
		other = &x
	case *CallStm:
		x := *s
		x.Args, x.Dest = ms(s.Args), mdest(s.Dest)
		other = &x
	case *ClosureCallStm:
		x := *s
		x.Closure, x.Args, x.Dest = m(s.Closure), ms(s.Args), mdest(s.Dest)
		other = &x
	case *IfStm:
		x := *s
		x.Cond, x.Then, x.Else = m(s.Cond), mstm(s.Then), mstm(s.Else)
		other = &x
	case *BlockStm:
		x := *s
		x.Stms = make([]Stm, len(s.Stms))
		for i := range s.Stms {
			x.Stms[i] = mstm(s.Stms[i])
		}
		other = &x
	case *LoopStm:
		x := *s
		if s.Cond != nil {
			x.Cond = &LoopCond{Stm: mstm(s.Cond.Stm), Exp: m(s.Cond.Exp)}
		}
		x.Invs = make([]*LoopInv, len(s.Invs))
		for i, inv := range s.Invs {
			x.Invs[i] = &LoopInv{Exp: m(inv.Exp), AtEntry: inv.AtEntry, AtExit: inv.AtExit}
		}
		x.Body = mstm(s.Body)
		other = &x
	case *BreakStm:
		other = s
	case *ReturnStm:
		x := *s
		x.Exp = m(s.Exp)
		other = &x
	case *DeadEndStm:
		x := *s
		x.Body = mstm(s.Body)
		other = &x
	case *ClosureInnerStm:
		x := *s
		x.Body = mstm(s.Body)
		other = &x
	case *AssumeContractStm:
		c := *s.Contract
		c.Closure, c.Requires, c.Ensures = m(c.Closure), ms(c.Requires), ms(c.Ensures)
		other = &AssumeContractStm{StmInfo: s.StmInfo, Contract: &c}
	case *OpenInvariantStm:
		x := *s
		x.Inv, x.Body = m(s.Inv), mstm(s.Body)
		other = &x
	default:
		panic(fmt.Sprintf("invalid statement type: %T", stm))
	}
	if err != nil {
		return nil, err
	}
	return other, nil
}

// walkStms calls fn for stm and every statement nested in it.
func walkStms(stm Stm, fn func(Stm)) {
	if stm == nil {
		return
	}
	fn(stm)
	switch s := stm.(type) {
	case *IfStm:
		walkStms(s.Then, fn)
		walkStms(s.Else, fn)
	case *BlockStm:
		for _, child := range s.Stms {
			walkStms(child, fn)
		}
	case *LoopStm:
		if s.Cond != nil {
			walkStms(s.Cond.Stm, fn)
		}
		walkStms(s.Body, fn)
	case *DeadEndStm:
		walkStms(s.Body, fn)
	case *ClosureInnerStm:
		walkStms(s.Body, fn)
	case *OpenInvariantStm:
		walkStms(s.Body, fn)
	}
}

// bndVars returns the identifiers bound by a binder.
func bndVars(bnd Bnd) []UniqueIdent {
	var a []UniqueIdent
	switch bnd := bnd.(type) {
	case *LetBnd:
		for _, b := range bnd.Binders {
			a = append(a, b.Ident)
		}
	case *QuantBnd:
		for _, v := range bnd.Vars {
			a = append(a, v.Ident)
		}
	case *ChooseBnd:
		for _, v := range bnd.Vars {
			a = append(a, v.Ident)
		}
	case *LambdaBnd:
		for _, v := range bnd.Vars {
			a = append(a, v.Ident)
		}
	}
	return a
}

// freeVars adds the free variables of e to m.
func freeVars(e Exp, m map[UniqueIdent]bool) {
	switch e := e.(type) {
	case *VarExp:
		m[e.Ident] = true
	case *VarLocExp:
		m[e.Ident] = true
	case *BindExp:
		inner := make(map[UniqueIdent]bool)
		addTriggers := func(triggers []Trigger) {
			for _, tr := range triggers {
				for _, t := range tr {
					freeVars(t, inner)
				}
			}
		}
		switch bnd := e.Bnd.(type) {
		case *LetBnd:
			for _, b := range bnd.Binders {
				freeVars(b.Exp, m)
			}
		case *QuantBnd:
			addTriggers(bnd.Triggers)
		case *ChooseBnd:
			addTriggers(bnd.Triggers)
			freeVars(bnd.Cond, inner)
		case *LambdaBnd:
			addTriggers(bnd.Triggers)
		}
		freeVars(e.Body, inner)
		for _, id := range bndVars(e.Bnd) {
			delete(inner, id)
		}
		for id := range inner {
			m[id] = true
		}
	default:
		_, _ = mapChildren(e, func(child Exp) (Exp, error) {
			freeVars(child, m)
			return child, nil
		})
	}
}

// substExp replaces free variables of e according to m. Binders that would
// capture a variable of a replacement are renamed.
func substExp(e Exp, m map[UniqueIdent]Exp) Exp {
	if len(m) == 0 || e == nil {
		return e
	}
	switch x := e.(type) {
	case *VarExp:
		if other, ok := m[x.Ident]; ok {
			return other
		}
		return e
	case *BindExp:
		return substBind(x, m)
	default:
		other, _ := mapChildren(e, func(child Exp) (Exp, error) {
			return substExp(child, m), nil
		})
		return other
	}
}

func substBind(e *BindExp, m map[UniqueIdent]Exp) Exp {
	// Let values are evaluated outside the binder.
	var letBinders []*LetBinder
	if bnd, ok := e.Bnd.(*LetBnd); ok {
		for _, b := range bnd.Binders {
			letBinders = append(letBinders, &LetBinder{Ident: b.Ident, Exp: substExp(b.Exp, m)})
		}
	}

	bound := bndVars(e.Bnd)
	inner := make(map[UniqueIdent]Exp, len(m))
	for id, r := range m {
		inner[id] = r
	}
	for _, id := range bound {
		delete(inner, id)
	}

	free := make(map[UniqueIdent]bool)
	for _, r := range inner {
		freeVars(r, free)
	}
	renamed := make(map[UniqueIdent]UniqueIdent)
	for _, id := range bound {
		if !free[id] {
			continue
		}
		fresh := id
		for n := 1; free[fresh] || fresh == id; n++ {
			fresh = UniqueIdent{Name: fmt.Sprintf("%s$%d", id.Name, n), Local: BoundLocal}
		}
		renamed[id] = fresh
	}
	rename := func(id UniqueIdent) UniqueIdent {
		if other, ok := renamed[id]; ok {
			return other
		}
		return id
	}
	renameVars := func(vars []*VarBinder) []*VarBinder {
		other := make([]*VarBinder, len(vars))
		for i, v := range vars {
			other[i] = &VarBinder{Ident: rename(v.Ident), Typ: v.Typ}
			if v.Ident != other[i].Ident {
				inner[v.Ident] = varExp(e.Span, v.Typ, other[i].Ident)
			}
		}
		return other
	}
	subTriggers := func(triggers []Trigger) []Trigger {
		if triggers == nil {
			return nil
		}
		other := make([]Trigger, len(triggers))
		for i, tr := range triggers {
			other[i] = make(Trigger, len(tr))
			for j := range tr {
				other[i][j] = substExp(tr[j], inner)
			}
		}
		return other
	}

	var bnd Bnd
	switch b := e.Bnd.(type) {
	case *LetBnd:
		for _, lb := range letBinders {
			if fresh, ok := renamed[lb.Ident]; ok {
				inner[lb.Ident] = varExp(e.Span, lb.Exp.Type(), fresh)
				lb.Ident = fresh
			}
		}
		bnd = &LetBnd{Binders: letBinders}
	case *QuantBnd:
		vars := renameVars(b.Vars)
		bnd = &QuantBnd{Kind: b.Kind, Vars: vars, Triggers: subTriggers(b.Triggers)}
	case *ChooseBnd:
		vars := renameVars(b.Vars)
		bnd = &ChooseBnd{Vars: vars, Triggers: subTriggers(b.Triggers), Cond: substExp(b.Cond, inner)}
	case *LambdaBnd:
		vars := renameVars(b.Vars)
		bnd = &LambdaBnd{Vars: vars, Triggers: subTriggers(b.Triggers)}
	}
	return &BindExp{ExpInfo: e.ExpInfo, Bnd: bnd, Body: substExp(e.Body, inner)}
}

// substTypsExp replaces type parameters throughout e.
func substTypsExp(e Exp, m map[string]vir.Typ) Exp {
	if len(m) == 0 {
		return e
	}
	other, _ := MapExp(e, func(e Exp) (Exp, error) {
		info := ExpInfo{Span: e.Pos(), Typ: vir.SubstTyp(e.Type(), m)}
		e = withInfo(e, info)
		switch x := e.(type) {
		case *HasTypeExp:
			x.Of = vir.SubstTyp(x.Of, m)
		case *CallExp:
			x.TypArgs = vir.SubstTyps(x.TypArgs, m)
		case *BindExp:
			switch bnd := x.Bnd.(type) {
			case *QuantBnd:
				x.Bnd = &QuantBnd{Kind: bnd.Kind, Vars: substVarTyps(bnd.Vars, m), Triggers: bnd.Triggers}
			case *ChooseBnd:
				x.Bnd = &ChooseBnd{Vars: substVarTyps(bnd.Vars, m), Triggers: bnd.Triggers, Cond: bnd.Cond}
			case *LambdaBnd:
				x.Bnd = &LambdaBnd{Vars: substVarTyps(bnd.Vars, m), Triggers: bnd.Triggers}
			}
		}
		return e, nil
	})
	return other
}

func substVarTyps(vars []*VarBinder, m map[string]vir.Typ) []*VarBinder {
	other := make([]*VarBinder, len(vars))
	for i, v := range vars {
		other[i] = &VarBinder{Ident: v.Ident, Typ: vir.SubstTyp(v.Typ, m)}
	}
	return other
}

// withInfo returns a shallow copy of e with its position and type replaced.
func withInfo(e Exp, info ExpInfo) Exp {
	switch x := e.(type) {
	case *ConstExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *VarExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *VarLocExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *UnaryExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *HasTypeExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *FieldExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *BinaryExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *IfExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *CtorExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *CallExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *CallLambdaExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *ClosureReqExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *ClosureEnsExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *BindExp:
		y := *x
		y.ExpInfo = info
		return &y
	case *WithTriggersExp:
		y := *x
		y.ExpInfo = info
		return &y
	default:
		panic(fmt.Sprintf("invalid expression type: %T", e))
	}
}
