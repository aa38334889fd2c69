package vcgen

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
)

// Context holds the read-only tables shared by the lowering of every
// function of a program. It is safe for concurrent use once created.
type Context struct {
	program   *vir.Program
	functions *immutable.SortedMap[string, *funcInfo]
	datatypes *immutable.SortedMap[string, *vir.Datatype]

	Config   Config
	Triggers TriggerSelector
}

// funcInfo holds a function with its lowered and finalized contract.
type funcInfo struct {
	fn        *vir.Function
	params    []*ParamSst
	ret       *ParamSst
	requires  []Exp
	ensures   []Exp
	decreases []Exp
	mask      *MaskSst

	// Body of a spec function before inlining and trigger selection.
	specBody Exp

	// Fully finalized body of a spec function.
	finalBody Exp

	// Set if the contract could not be lowered.
	err error
}

// NewContext returns a context for prog. Contracts of every function are
// lowered up front; a function whose contract fails to lower reports the
// error when it is lowered.
func NewContext(prog *vir.Program, config Config, triggers TriggerSelector) *Context {
	ctx := &Context{
		program:   prog,
		functions: immutable.NewSortedMap[string, *funcInfo](&stringComparer{}),
		datatypes: immutable.NewSortedMap[string, *vir.Datatype](&stringComparer{}),
		Config:    config,
		Triggers:  triggers,
	}
	ctx.datatypes = ctx.datatypes.Set(vir.UnitName, vir.UnitDatatype)
	for _, dt := range prog.Datatypes {
		ctx.datatypes = ctx.datatypes.Set(dt.Name, dt)
	}

	// Contracts are lowered in two passes because finalizing one function
	// may inline the body of another.
	infos := make([]*funcInfo, len(prog.Functions))
	for i, fn := range prog.Functions {
		infos[i] = ctx.lowerContract(fn)
		ctx.functions = ctx.functions.Set(fn.Name, infos[i])
	}
	for _, info := range infos {
		if info.err == nil {
			info.err = ctx.finalizeContract(info)
		}
	}
	return ctx
}

// Program returns the program of the context.
func (ctx *Context) Program() *vir.Program { return ctx.program }

// Function returns the function with the given name, or nil.
func (ctx *Context) Function(name string) *vir.Function {
	if info := ctx.info(name); info != nil {
		return info.fn
	}
	return nil
}

// Datatype returns the datatype with the given name, or nil.
func (ctx *Context) Datatype(name string) *vir.Datatype {
	dt, _ := ctx.datatypes.Get(name)
	return dt
}

// Datatypes returns all datatypes in name order, including unit.
func (ctx *Context) Datatypes() []*vir.Datatype {
	var a []*vir.Datatype
	itr := ctx.datatypes.Iterator()
	for !itr.Done() {
		_, dt, _ := itr.Next()
		a = append(a, dt)
	}
	return a
}

func (ctx *Context) info(name string) *funcInfo {
	info, _ := ctx.functions.Get(name)
	return info
}

func (ctx *Context) triggerSelector() TriggerSelector {
	if ctx.Triggers == nil {
		return &AutoTriggers{}
	}
	return ctx.Triggers
}

// declareSignature declares the parameters and return value of fn in the
// root scope of s without renaming.
func declareSignature(s *State, fn *vir.Function) (params []*ParamSst, ret *ParamSst) {
	for _, p := range fn.Params {
		ident := s.DeclareNewVar(p.Name, p.Typ, p.Mutable, false)
		params = append(params, &ParamSst{Ident: ident, Typ: p.Typ, Mode: p.Mode, Mutable: p.Mutable})
	}
	if fn.Ret != nil {
		ident := s.DeclareNewVar(fn.Ret.Name, fn.Ret.Typ, false, false)
		ret = &ParamSst{Ident: ident, Typ: fn.Ret.Typ, Mode: fn.Ret.Mode}
	}
	return params, ret
}

// lowerContract lowers the contract and spec body of fn and removes the
// lowering markers. Calls are not inlined yet.
func (ctx *Context) lowerContract(fn *vir.Function) (info *funcInfo) {
	info = &funcInfo{fn: fn}
	defer recoverInternal(fn.Name, &info.err)

	s := NewState(ctx, fn.Name)
	s.viewAsSpec = true
	info.params, info.ret = declareSignature(s, fn)

	var err error
	if info.requires, err = s.lowerPures(fn.Requires); err != nil {
		info.err = err
		return info
	} else if info.ensures, err = s.lowerPures(fn.Ensures); err != nil {
		info.err = err
		return info
	} else if info.decreases, err = s.lowerPures(fn.Decreases); err != nil {
		info.err = err
		return info
	}
	if fn.Mask != nil {
		exps, err := s.lowerPures(fn.Mask.Exprs)
		if err != nil {
			info.err = err
			return info
		}
		info.mask = &MaskSst{Kind: fn.Mask.Kind, Exps: exps}
	}
	if fn.Mode == vir.Spec && fn.Body != nil {
		if info.specBody, err = s.lowerPure(fn.Body); err != nil {
			info.err = err
			return info
		}
	}
	s.Finalize()

	f := newFinalizer(ctx, s.dontRename, false)
	if info.requires, err = f.exps(info.requires); err != nil {
		info.err = err
	} else if info.ensures, err = f.exps(info.ensures); err != nil {
		info.err = err
	} else if info.decreases, err = f.exps(info.decreases); err != nil {
		info.err = err
	} else if info.specBody, err = f.exp(info.specBody); err != nil {
		info.err = err
	} else if info.mask != nil {
		info.mask.Exps, info.err = f.exps(info.mask.Exps)
	}
	return info
}

// finalizeContract inlines calls and selects triggers in a contract.
func (ctx *Context) finalizeContract(info *funcInfo) (err error) {
	defer recoverInternal(info.fn.Name, &err)

	f := newFinalizer(ctx, nil, true)
	if info.requires, err = f.exps(info.requires); err != nil {
		return err
	} else if info.ensures, err = f.exps(info.ensures); err != nil {
		return err
	} else if info.decreases, err = f.exps(info.decreases); err != nil {
		return err
	} else if info.finalBody, err = f.exp(info.specBody); err != nil {
		return err
	}
	if info.mask != nil {
		if info.mask.Exps, err = f.exps(info.mask.Exps); err != nil {
			return err
		}
	}
	return nil
}

// ParamSst is a lowered parameter or return value.
type ParamSst struct {
	Ident   UniqueIdent
	Typ     vir.Typ
	Mode    vir.Mode
	Mutable bool
}

// MaskSst is a lowered invariant mask.
type MaskSst struct {
	Kind vir.MaskKind
	Exps []Exp
}

// FunctionSst is a lowered and finalized function.
type FunctionSst struct {
	Name      string
	Span      token.Position
	Mode      vir.Mode
	TypParams []string
	Params    []*ParamSst
	Ret       *ParamSst
	Requires  []Exp
	Ensures   []Exp
	Decreases []Exp
	Mask      *MaskSst

	// Body is nil for functions without a body, and for spec functions
	// unless recommendations are checked.
	Body Stm

	// Locals declared by the body, not including parameters.
	Locals []*LocalDecl

	// SpecBody is the body of a spec function as an expression.
	SpecBody Exp

	Inline bool
}

// String returns the function as indented s-expressions.
func (fn *FunctionSst) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "(function %s %s", fn.Name, fn.Mode)
	if len(fn.TypParams) > 0 {
		fmt.Fprintf(&buf, " <%s>", strings.Join(fn.TypParams, ", "))
	}
	buf.WriteString("\n  (params")
	for _, p := range fn.Params {
		fmt.Fprintf(&buf, " (%s %s)", p.Ident, p.Typ)
	}
	buf.WriteString(")")
	if fn.Ret != nil {
		fmt.Fprintf(&buf, "\n  (returns (%s %s))", fn.Ret.Ident, fn.Ret.Typ)
	}
	for _, e := range fn.Requires {
		fmt.Fprintf(&buf, "\n  (requires %s)", e)
	}
	for _, e := range fn.Ensures {
		fmt.Fprintf(&buf, "\n  (ensures %s)", e)
	}
	for _, e := range fn.Decreases {
		fmt.Fprintf(&buf, "\n  (decreases %s)", e)
	}
	if fn.SpecBody != nil {
		fmt.Fprintf(&buf, "\n  (spec %s)", fn.SpecBody)
	}
	if len(fn.Locals) > 0 {
		buf.WriteString("\n  (locals")
		for _, l := range fn.Locals {
			fmt.Fprintf(&buf, " (%s %s)", l.Ident, l.Typ)
		}
		buf.WriteString(")")
	}
	if fn.Body != nil {
		for _, line := range stmLines(fn.Body) {
			buf.WriteString("\n  " + line)
		}
	}
	buf.WriteString(")")
	return buf.String()
}

// LowerFunction lowers and finalizes the function with the given name. If
// split is set, assertions are emitted so they can be split into
// separately reported conjuncts.
func (ctx *Context) LowerFunction(name string, split bool) (_ *FunctionSst, err error) {
	info := ctx.info(name)
	if info == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrFunctionNotFound)
	} else if info.err != nil {
		return nil, info.err
	}
	defer recoverInternal(name, &err)

	fn := info.fn
	sst := &FunctionSst{
		Name:      fn.Name,
		Span:      fn.Span,
		Mode:      fn.Mode,
		TypParams: fn.TypParams,
		Params:    info.params,
		Ret:       info.ret,
		Requires:  info.requires,
		Ensures:   info.ensures,
		Decreases: info.decreases,
		Mask:      info.mask,
		SpecBody:  info.finalBody,
		Inline:    fn.Inline,
	}
	if fn.Body == nil {
		return sst, nil
	} else if fn.Mode == vir.Spec && !ctx.Config.CheckingRecommends {
		// Spec bodies are definitions; only their recommendations are checked.
		return sst, nil
	}

	s := NewState(ctx, fn.Name)
	s.split = split
	s.viewAsSpec = fn.Mode == vir.Spec
	declareSignature(s, fn)
	n := len(s.LocalDecls())

	stms, err := s.lowerWithPost(fn)
	if err != nil {
		return nil, err
	}
	s.Finalize()

	body, err := newFinalizer(ctx, s.dontRename, true).stm(blockStm(fn.Span, stms))
	if err != nil {
		return nil, err
	}
	sst.Body = body
	sst.Locals = append([]*LocalDecl(nil), s.LocalDecls()[n:]...)
	return sst, nil
}

// lowerWithPost lowers the body of fn. If the end of the body is
// reachable, the body's value is returned through the postconditions.
func (s *State) lowerWithPost(fn *vir.Function) ([]Stm, error) {
	stms, exp, err := s.lowerValue(fn.Body)
	if err != nil || exp == nil {
		return stms, err
	}
	if fn.Ret == nil {
		exp = nil
	}
	span := fn.Body.Pos()
	return append(stms, &ReturnStm{
		StmInfo: StmInfo{Span: span},
		BaseError: &air.Diagnostic{
			Message: "postcondition not satisfied",
			Span:    fn.Span,
			Labels:  []air.Label{{Span: span, Message: "at the end of the function body"}},
		},
		Exp:        exp,
		InsideBody: false,
	}), nil
}
