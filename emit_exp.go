package vcgen

import (
	"fmt"
	"go/constant"
	"math/big"
	"sort"
	"strings"

	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
)

// typName returns the name of t used for solver sorts and mangled function
// names.
func typName(t vir.Typ) string {
	switch t := t.(type) {
	case *vir.DatatypeTyp:
		if len(t.Args) == 0 {
			return t.Name
		}
		return t.Name + "<" + typNames(t.Args) + ">"
	case *vir.LambdaTyp:
		return "spec_fn(" + typNames(t.Params) + ")->" + typName(t.Ret)
	case *vir.ClosureTyp:
		return "fn(" + typNames(t.Params) + ")->" + typName(t.Ret)
	default:
		return t.String()
	}
}

func typNames(a []vir.Typ) string {
	s := make([]string, len(a))
	for i, t := range a {
		s[i] = typName(t)
	}
	return strings.Join(s, ",")
}

// mangle returns the solver name of an instantiation of a generic function.
func mangle(name string, typArgs []vir.Typ) string {
	if len(typArgs) == 0 {
		return name
	}
	return name + "<" + typNames(typArgs) + ">"
}

// typArgsMap pairs type parameters with type arguments.
func typArgsMap(params []string, args []vir.Typ) map[string]vir.Typ {
	if len(params) == 0 {
		return nil
	}
	m := make(map[string]vir.Typ, len(params))
	for i, name := range params {
		if i < len(args) {
			m[name] = args[i]
		}
	}
	return m
}

// once returns true the first time it is called with key.
func (e *emitter) once(key string) bool {
	if e.declared[key] {
		return false
	}
	e.declared[key] = true
	return true
}

func (e *emitter) global(decl air.Declaration) {
	e.globals = append(e.globals, decl)
}

// typ returns the sort of t, declaring it and its functions on first use.
func (e *emitter) typ(t vir.Typ) air.Typ {
	switch t := t.(type) {
	case *vir.BoolTyp:
		return air.Bool
	case *vir.IntTyp:
		return air.Int
	case *vir.DatatypeTyp:
		return e.datatype(t)
	case *vir.TypParam:
		if e.once("sort:" + t.Name) {
			e.global(&air.SortDecl{Sort: t.Name})
		}
		return &air.NamedTyp{Name: t.Name}
	case *vir.LambdaTyp:
		return &air.ArrayTyp{Params: e.typs(t.Params), Ret: e.typ(t.Ret)}
	case *vir.ClosureTyp:
		sort, _, _ := e.closure(t)
		return sort
	default:
		panic(fmt.Sprintf("invalid type: %T", t))
	}
}

func (e *emitter) typs(a []vir.Typ) []air.Typ {
	other := make([]air.Typ, len(a))
	for i, t := range a {
		other[i] = e.typ(t)
	}
	return other
}

func ctorName(t *vir.DatatypeTyp, variant string) string {
	return typName(t) + "." + variant
}

func isName(t *vir.DatatypeTyp, variant string) string {
	return air.TesterName(ctorName(t, variant))
}

func accessorName(t *vir.DatatypeTyp, variant, field string) string {
	return ctorName(t, variant) + "." + field
}

// variant returns the variant of an instantiated datatype with its field
// types instantiated.
func (e *emitter) variant(t *vir.DatatypeTyp, name string) (*vir.Variant, []vir.Typ) {
	dt := e.ctx.Datatype(t.Name)
	assert(dt != nil, "unknown datatype %s", t.Name)
	v := dt.Variant(name)
	assert(v != nil, "unknown variant %s of %s", name, t.Name)
	m := typArgsMap(dt.TypParams, t.Args)
	typs := make([]vir.Typ, len(v.Fields))
	for i, f := range v.Fields {
		typs[i] = vir.SubstTyp(f.Typ, m)
	}
	return v, typs
}

// datatype declares an instantiation of a datatype with its constructors,
// accessors, and variant tests. Field sorts are declared first.
func (e *emitter) datatype(t *vir.DatatypeTyp) air.Typ {
	name := typName(t)
	sort := &air.NamedTyp{Name: name}
	if !e.once("sort:" + name) {
		return sort
	}

	dt := e.ctx.Datatype(t.Name)
	assert(dt != nil, "unknown datatype %s", t.Name)
	assert(len(dt.Variants) > 0, "datatype %s has no variants", t.Name)

	e.pending = append(e.pending, name)
	decl := &air.DatatypeDecl{Sort: name}
	for _, v := range dt.Variants {
		_, typs := e.variant(t, v.Name)
		variant := &air.Variant{Name: ctorName(t, v.Name)}
		for i, f := range v.Fields {
			if ft, ok := typs[i].(*vir.DatatypeTyp); ok {
				other := typName(ft)
				assert(other == name || !e.isPending(other), "mutually recursive datatypes %s and %s", name, other)
			}
			variant.Fields = append(variant.Fields, &air.Field{Name: accessorName(t, v.Name, f.Name), Typ: e.typ(typs[i])})
		}
		decl.Variants = append(decl.Variants, variant)
	}
	e.pending = e.pending[:len(e.pending)-1]

	e.global(decl)
	return sort
}

func (e *emitter) isPending(name string) bool {
	for _, other := range e.pending {
		if other == name {
			return true
		}
	}
	return false
}

// closure declares the sort of a closure type with its requires and
// ensures predicates.
func (e *emitter) closure(t *vir.ClosureTyp) (sort air.Typ, req, ens string) {
	name := typName(t)
	sort = &air.NamedTyp{Name: name}
	req, ens = "req%"+name, "ens%"+name
	if e.once("sort:" + name) {
		e.global(&air.SortDecl{Sort: name})
		params := append([]air.Typ{sort}, e.typs(t.Params)...)
		e.global(&air.FunDecl{Fun: req, Params: params, Ret: air.Bool})
		e.global(&air.FunDecl{Fun: ens, Params: append(params, e.typ(t.Ret)), Ret: air.Bool})
	}
	return sort, req, ens
}

// function declares the solver function for an instantiation of a spec
// function. A function with a body gets a definitional axiom.
func (e *emitter) function(name string, typArgs []vir.Typ) string {
	mangled := mangle(name, typArgs)
	if !e.once("fun:" + mangled) {
		return mangled
	}

	info := e.ctx.info(name)
	assert(info != nil, "call of unknown function %s", name)
	m := typArgsMap(info.fn.TypParams, typArgs)

	binders := make([]*air.Binder, len(info.params))
	args := make([]air.Expr, len(info.params))
	params := make([]air.Typ, len(info.params))
	for i, p := range info.params {
		params[i] = e.typ(vir.SubstTyp(p.Typ, m))
		binders[i] = &air.Binder{Name: p.Ident.String(), Typ: params[i]}
		args[i] = &air.Var{Name: binders[i].Name}
	}
	ret := vir.Typ(vir.Unit)
	if info.ret != nil {
		ret = vir.SubstTyp(info.ret.Typ, m)
	}
	e.global(&air.FunDecl{Fun: mangled, Params: params, Ret: e.typ(ret)})

	if info.err != nil || info.finalBody == nil {
		return mangled
	}
	app := &air.Apply{Fun: mangled, Args: args}
	def := air.NewEq(app, e.exp(substTypsExp(info.finalBody, m)))
	if len(binders) == 0 {
		e.global(&air.Axiom{Expr: def})
	} else {
		e.global(&air.Axiom{Expr: &air.Quant{Kind: air.Forall, Binders: binders, Triggers: []air.Trigger{{app}}, Body: def}})
	}
	return mangled
}

// hasType returns the range constraint of t on x. Integers are bounded by
// their range and datatype values by the ranges of their fields.
func (e *emitter) hasType(x air.Expr, t vir.Typ) air.Expr {
	return e.hasTypeIn(x, t, nil)
}

// hasTypeIn constrains x to t. Datatypes named in outer are already being
// unfolded, so their recursive occurrences are left unconstrained.
func (e *emitter) hasTypeIn(x air.Expr, t vir.Typ, outer []string) air.Expr {
	switch t := t.(type) {
	case *vir.IntTyp:
		lo, hi := t.Range.Bounds()
		var a []air.Expr
		if lo != nil {
			a = append(a, &air.Binary{Op: air.Le, LHS: bigConst(lo), RHS: x})
		}
		if hi != nil {
			a = append(a, &air.Binary{Op: air.Le, LHS: x, RHS: bigConst(hi)})
		}
		return air.NewAnd(a...)

	case *vir.DatatypeTyp:
		name := typName(t)
		for _, other := range outer {
			if other == name {
				return air.BoolConst(true)
			}
		}
		outer = append(outer[:len(outer):len(outer)], name)

		e.typ(t)
		dt := e.ctx.Datatype(t.Name)
		var a []air.Expr
		for _, v := range dt.Variants {
			_, typs := e.variant(t, v.Name)
			facts := make([]air.Expr, len(v.Fields))
			for i, f := range v.Fields {
				acc := &air.Apply{Fun: accessorName(t, v.Name, f.Name), Args: []air.Expr{x}}
				facts[i] = e.hasTypeIn(acc, typs[i], outer)
			}
			fact := air.NewAnd(facts...)
			if len(dt.Variants) > 1 {
				fact = air.NewImplies(&air.Apply{Fun: isName(t, v.Name), Args: []air.Expr{x}}, fact)
			}
			a = append(a, fact)
		}
		return air.NewAnd(a...)

	default:
		return air.BoolConst(true)
	}
}

func bigConst(v *big.Int) air.Expr {
	return &air.Const{Value: constant.Make(v)}
}

// clip returns x if it is in r and an arbitrary value of r otherwise.
func (e *emitter) clip(x air.Expr, r vir.IntRange, truncate bool) air.Expr {
	if r == vir.IntRangeInt {
		return x
	}
	name := "clip%" + r.String()
	if truncate {
		name = "truncate%" + r.String()
	}
	typ := &vir.IntTyp{Range: r}
	if e.once("fun:" + name) {
		e.global(&air.FunDecl{Fun: name, Params: []air.Typ{air.Int}, Ret: air.Int})
		app := &air.Apply{Fun: name, Args: []air.Expr{&air.Var{Name: "i"}}}
		e.global(&air.Axiom{Expr: &air.Quant{
			Kind:     air.Forall,
			Binders:  []*air.Binder{{Name: "i", Typ: air.Int}},
			Triggers: []air.Trigger{{app}},
			Body:     e.hasType(app, typ),
		}})
	}
	return &air.IfElse{Cond: e.hasType(x, typ), Then: x, Else: &air.Apply{Fun: name, Args: []air.Expr{x}}}
}

// exp translates a finalized expression into a solver term.
func (e *emitter) exp(x Exp) air.Expr {
	switch x := x.(type) {
	case *ConstExp:
		return &air.Const{Value: x.Value}
	case *VarExp:
		return &air.Var{Name: x.Ident.String()}
	case *VarLocExp:
		return &air.Var{Name: x.Ident.String()}
	case *UnaryExp:
		switch x.Op {
		case OpNot:
			return air.NewNot(e.exp(x.Exp))
		case OpClip:
			return e.clip(e.exp(x.Exp), x.Range, x.Truncate)
		default:
			panic(fmt.Sprintf("unfinalized expression: %s", x))
		}
	case *HasTypeExp:
		return e.hasType(e.exp(x.Exp), x.Of)
	case *FieldExp:
		t := x.Exp.Type().(*vir.DatatypeTyp)
		e.typ(t)
		return &air.Apply{Fun: accessorName(t, x.Variant, x.Field), Args: []air.Expr{e.exp(x.Exp)}}
	case *BinaryExp:
		return e.binary(x)
	case *IfExp:
		return &air.IfElse{Cond: e.exp(x.Cond), Then: e.exp(x.Then), Else: e.exp(x.Else)}
	case *CtorExp:
		return e.ctor(x)
	case *CallExp:
		return &air.Apply{Fun: e.function(x.Fun, x.TypArgs), Args: e.exps(x.Args)}
	case *CallLambdaExp:
		return &air.Select{Array: e.exp(x.Fun), Args: e.exps(x.Args)}
	case *ClosureReqExp:
		_, req, _ := e.closure(x.Closure.Type().(*vir.ClosureTyp))
		return &air.Apply{Fun: req, Args: append([]air.Expr{e.exp(x.Closure)}, e.exps(x.Args)...)}
	case *ClosureEnsExp:
		_, _, ens := e.closure(x.Closure.Type().(*vir.ClosureTyp))
		args := append([]air.Expr{e.exp(x.Closure)}, e.exps(x.Args)...)
		return &air.Apply{Fun: ens, Args: append(args, e.exp(x.Ret))}
	case *BindExp:
		return e.bind(x)
	case *WithTriggersExp:
		return e.exp(x.Body)
	default:
		panic(fmt.Sprintf("invalid expression type: %T", x))
	}
}

func (e *emitter) exps(a []Exp) []air.Expr {
	other := make([]air.Expr, len(a))
	for i, x := range a {
		other[i] = e.exp(x)
	}
	return other
}

func (e *emitter) binary(x *BinaryExp) air.Expr {
	lhs, rhs := e.exp(x.LHS), e.exp(x.RHS)
	switch x.Op {
	case vir.And:
		return air.NewAnd(lhs, rhs)
	case vir.Or:
		return air.NewOr(lhs, rhs)
	case vir.Implies:
		return air.NewImplies(lhs, rhs)
	case vir.Eq:
		return air.NewEq(lhs, rhs)
	case vir.Ne:
		return air.NewNot(air.NewEq(lhs, rhs))
	case vir.Le:
		return &air.Binary{Op: air.Le, LHS: lhs, RHS: rhs}
	case vir.Lt:
		return &air.Binary{Op: air.Lt, LHS: lhs, RHS: rhs}
	case vir.Ge:
		return &air.Binary{Op: air.Ge, LHS: lhs, RHS: rhs}
	case vir.Gt:
		return &air.Binary{Op: air.Gt, LHS: lhs, RHS: rhs}
	case vir.Add:
		return &air.Multi{Op: air.Add, Args: []air.Expr{lhs, rhs}}
	case vir.Sub:
		return &air.Multi{Op: air.Sub, Args: []air.Expr{lhs, rhs}}
	case vir.Mul:
		return &air.Multi{Op: air.Mul, Args: []air.Expr{lhs, rhs}}
	case vir.EuclideanDiv:
		return &air.Binary{Op: air.EuclideanDiv, LHS: lhs, RHS: rhs}
	case vir.EuclideanMod:
		return &air.Binary{Op: air.EuclideanMod, LHS: lhs, RHS: rhs}
	default:
		panic(fmt.Sprintf("invalid binary operator: %s", x.Op))
	}
}

// ctor applies a constructor with its arguments in field order.
func (e *emitter) ctor(x *CtorExp) air.Expr {
	t := x.Typ.(*vir.DatatypeTyp)
	e.typ(t)
	v, _ := e.variant(t, x.Variant)
	args := make([]air.Expr, len(v.Fields))
	for i, f := range v.Fields {
		for _, arg := range x.Fields {
			if arg.Name == f.Name {
				args[i] = e.exp(arg.Exp)
			}
		}
		assert(args[i] != nil, "missing field %s of %s", f.Name, x.Variant)
	}
	return &air.Apply{Fun: ctorName(t, v.Name), Args: args}
}

func (e *emitter) binders(vars []*VarBinder) []*air.Binder {
	a := make([]*air.Binder, len(vars))
	for i, v := range vars {
		a[i] = &air.Binder{Name: v.Ident.String(), Typ: e.typ(v.Typ)}
	}
	return a
}

func (e *emitter) triggers(triggers []Trigger) []air.Trigger {
	a := make([]air.Trigger, len(triggers))
	for i, tr := range triggers {
		a[i] = e.exps(tr)
	}
	return a
}

// boundRanges returns the range constraints of integer bound variables.
func (e *emitter) boundRanges(vars []*VarBinder) air.Expr {
	a := make([]air.Expr, len(vars))
	for i, v := range vars {
		a[i] = e.hasType(&air.Var{Name: v.Ident.String()}, v.Typ)
	}
	return air.NewAnd(a...)
}

func (e *emitter) bind(x *BindExp) air.Expr {
	switch bnd := x.Bnd.(type) {
	case *LetBnd:
		binders := make([]*air.LetBinder, len(bnd.Binders))
		for i, b := range bnd.Binders {
			binders[i] = &air.LetBinder{Name: b.Ident.String(), Expr: e.exp(b.Exp)}
		}
		return &air.Let{Binders: binders, Body: e.exp(x.Body)}

	case *QuantBnd:
		body := e.exp(x.Body)
		kind := air.Forall
		if bnd.Kind == vir.Exists {
			kind = air.Exists
			body = air.NewAnd(e.boundRanges(bnd.Vars), body)
		} else {
			body = air.NewImplies(e.boundRanges(bnd.Vars), body)
		}
		return &air.Quant{Kind: kind, Binders: e.binders(bnd.Vars), Triggers: e.triggers(bnd.Triggers), Body: body}

	case *LambdaBnd:
		return &air.Lambda{Binders: e.binders(bnd.Vars), Body: e.exp(x.Body)}

	case *ChooseBnd:
		return e.choose(x, bnd)

	default:
		panic(fmt.Sprintf("invalid binder type: %T", bnd))
	}
}

// choose replaces a choose expression by skolem functions of its free
// variables. An axiom states that the skolem values satisfy the condition
// whenever any values do.
func (e *emitter) choose(x *BindExp, bnd *ChooseBnd) air.Expr {
	free := typedFreeVars(x)
	binders := e.binders(free)
	args := make([]air.Expr, len(free))
	params := make([]air.Typ, len(free))
	for i, b := range binders {
		args[i] = &air.Var{Name: b.Name}
		params[i] = b.Typ
	}

	e.skolems++
	lets := make([]*air.LetBinder, len(bnd.Vars))
	for i, v := range bnd.Vars {
		name := fmt.Sprintf("choose%%%d.%d", e.skolems, i)
		e.global(&air.FunDecl{Fun: name, Params: params, Ret: e.typ(v.Typ)})
		lets[i] = &air.LetBinder{Name: v.Ident.String(), Expr: &air.Apply{Fun: name, Args: args}}
	}

	cond := air.NewAnd(e.boundRanges(bnd.Vars), e.exp(bnd.Cond))
	fact := air.NewImplies(
		&air.Quant{Kind: air.Exists, Binders: e.binders(bnd.Vars), Triggers: e.triggers(bnd.Triggers), Body: cond},
		&air.Let{Binders: lets, Body: cond},
	)
	if len(binders) > 0 {
		var triggers []air.Trigger
		if len(lets) > 0 {
			triggers = []air.Trigger{{lets[0].Expr}}
		}
		fact = &air.Quant{Kind: air.Forall, Binders: binders, Triggers: triggers, Body: fact}
	}
	e.global(&air.Axiom{Expr: fact})

	return &air.Let{Binders: lets, Body: e.exp(x.Body)}
}

// typedFreeVars returns the free variables of x with their types, sorted by
// name.
func typedFreeVars(x Exp) []*VarBinder {
	free := make(map[UniqueIdent]bool)
	freeVars(x, free)

	typs := make(map[UniqueIdent]vir.Typ)
	var visit func(x Exp)
	visit = func(x Exp) {
		switch x := x.(type) {
		case *VarExp:
			typs[x.Ident] = x.Typ
		case *VarLocExp:
			typs[x.Ident] = x.Typ
		}
		_, _ = mapChildren(x, func(child Exp) (Exp, error) {
			visit(child)
			return child, nil
		})
	}
	visit(x)

	var a []*VarBinder
	for id := range free {
		a = append(a, &VarBinder{Ident: id, Typ: typs[id]})
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Ident.String() < a[j].Ident.String() })
	return a
}
