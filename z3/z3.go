package z3

import (
	"context"
	"fmt"
	"go/constant"
	"time"
	"unsafe"

	"github.com/benbjohnson/vcgen/air"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure backend implements interface.
var _ air.Backend = (*Backend)(nil)

// Backend represents a solver session that uses an embedded Z3 solver.
type Backend struct {
	ctx    *Context
	solver C.Z3_solver
	scopes []*scope
	stats  Stats
}

// scope holds the sorts and functions declared since the matching push.
type scope struct {
	sorts map[string]C.Z3_sort
	funcs map[string]C.Z3_func_decl
}

func newScope() *scope {
	return &scope{
		sorts: make(map[string]C.Z3_sort),
		funcs: make(map[string]C.Z3_func_decl),
	}
}

// NewBackend returns a new instance of Backend. If rlimit is nonzero, each
// check is limited to that many resource units.
func NewBackend(rlimit uint64) (*Backend, error) {
	ctx := NewContext()
	solver := C.Z3_mk_solver(ctx.raw)
	if err := ctx.err("Z3_mk_solver"); err != nil {
		ctx.Close()
		return nil, err
	}
	C.Z3_solver_inc_ref(ctx.raw, solver)

	b := &Backend{ctx: ctx, solver: solver, scopes: []*scope{newScope()}}
	if rlimit > 0 {
		if err := b.setRLimit(rlimit); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) setRLimit(rlimit uint64) error {
	params := C.Z3_mk_params(b.ctx.raw)
	if err := b.ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(b.ctx.raw, params)
	defer C.Z3_params_dec_ref(b.ctx.raw, params)

	C.Z3_params_set_uint(b.ctx.raw, params, b.ctx.symbol("rlimit"), C.uint(rlimit))
	if err := b.ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}
	C.Z3_solver_set_params(b.ctx.raw, b.solver, params)
	return b.ctx.err("Z3_solver_set_params")
}

// Close deletes the solver and the underlying Z3 context.
func (b *Backend) Close() error {
	if b.solver != nil {
		C.Z3_solver_dec_ref(b.ctx.raw, b.solver)
		b.solver = nil
	}
	return b.ctx.Close()
}

// Stats returns statistics for the backend.
func (b *Backend) Stats() Stats {
	return b.stats
}

// Push opens a new scope.
func (b *Backend) Push() error {
	C.Z3_solver_push(b.ctx.raw, b.solver)
	if err := b.ctx.err("Z3_solver_push"); err != nil {
		return err
	}
	b.scopes = append(b.scopes, newScope())
	return nil
}

// Pop closes the innermost scope and forgets its declarations.
func (b *Backend) Pop() error {
	if len(b.scopes) == 1 {
		return air.ErrUnbalancedScopes
	}
	C.Z3_solver_pop(b.ctx.raw, b.solver, 1)
	if err := b.ctx.err("Z3_solver_pop"); err != nil {
		return err
	}
	b.scopes = b.scopes[:len(b.scopes)-1]
	return nil
}

// DeclareSort declares an uninterpreted sort.
func (b *Backend) DeclareSort(name string) error {
	sort := C.Z3_mk_uninterpreted_sort(b.ctx.raw, b.ctx.symbol(name))
	if err := b.ctx.err("Z3_mk_uninterpreted_sort"); err != nil {
		return err
	}
	b.scopes[len(b.scopes)-1].sorts[name] = sort
	return nil
}

// DeclareDatatype declares an algebraic datatype with its constructors,
// testers, and accessors.
func (b *Backend) DeclareDatatype(decl *air.DatatypeDecl) error {
	if len(decl.Variants) == 0 {
		return fmt.Errorf("datatype %s has no variants", decl.Sort)
	}

	ctors := make([]C.Z3_constructor, 0, len(decl.Variants))
	defer func() {
		for _, ctor := range ctors {
			C.Z3_del_constructor(b.ctx.raw, ctor)
		}
	}()

	for _, v := range decl.Variants {
		names := make([]C.Z3_symbol, len(v.Fields))
		sorts := make([]C.Z3_sort, len(v.Fields))
		refs := make([]C.uint, len(v.Fields))
		for i, f := range v.Fields {
			names[i] = b.ctx.symbol(f.Name)

			// A nil sort with reference 0 refers to the datatype itself.
			if t, ok := f.Typ.(*air.NamedTyp); ok && t.Name == decl.Sort {
				continue
			}
			sort, err := b.sort(f.Typ)
			if err != nil {
				return err
			}
			sorts[i] = sort
		}

		ctor := C.Z3_mk_constructor(b.ctx.raw,
			b.ctx.symbol(v.Name), b.ctx.symbol(air.TesterName(v.Name)),
			C.uint(len(v.Fields)), symbolPtr(names), sortPtr(sorts), uintPtr(refs))
		if err := b.ctx.err("Z3_mk_constructor"); err != nil {
			return err
		}
		ctors = append(ctors, ctor)
	}

	sort := C.Z3_mk_datatype(b.ctx.raw, b.ctx.symbol(decl.Sort), C.uint(len(ctors)), &ctors[0])
	if err := b.ctx.err("Z3_mk_datatype"); err != nil {
		return err
	}

	scope := b.scopes[len(b.scopes)-1]
	scope.sorts[decl.Sort] = sort
	for i, v := range decl.Variants {
		var ctor, tester C.Z3_func_decl
		accessors := make([]C.Z3_func_decl, len(v.Fields))
		C.Z3_query_constructor(b.ctx.raw, ctors[i], C.uint(len(v.Fields)), &ctor, &tester, funcDeclPtr(accessors))
		if err := b.ctx.err("Z3_query_constructor"); err != nil {
			return err
		}
		scope.funcs[v.Name] = ctor
		scope.funcs[air.TesterName(v.Name)] = tester
		for j, f := range v.Fields {
			scope.funcs[f.Name] = accessors[j]
		}
	}
	return nil
}

// DeclareConst declares a constant.
func (b *Backend) DeclareConst(name string, typ air.Typ) error {
	return b.DeclareFun(name, nil, typ)
}

// DeclareFun declares an uninterpreted function.
func (b *Backend) DeclareFun(name string, params []air.Typ, ret air.Typ) error {
	domain := make([]C.Z3_sort, len(params))
	for i, p := range params {
		sort, err := b.sort(p)
		if err != nil {
			return err
		}
		domain[i] = sort
	}
	rng, err := b.sort(ret)
	if err != nil {
		return err
	}

	decl := C.Z3_mk_func_decl(b.ctx.raw, b.ctx.symbol(name), C.uint(len(domain)), sortPtr(domain), rng)
	if err := b.ctx.err("Z3_mk_func_decl"); err != nil {
		return err
	}
	b.scopes[len(b.scopes)-1].funcs[name] = decl
	return nil
}

// Assert adds a formula to the current scope.
func (b *Backend) Assert(expr air.Expr) error {
	ast, err := b.toAST(expr, nil)
	if err != nil {
		return err
	}
	C.Z3_solver_assert(b.ctx.raw, b.solver, ast)
	return b.ctx.err("Z3_solver_assert")
}

// Check checks the satisfiability of the asserted formulas. Canceling ctx
// interrupts the solver.
func (b *Backend) Check(ctx context.Context) (air.CheckResult, error) {
	t := time.Now()
	defer func() {
		b.stats.CheckN++
		b.stats.CheckTime += time.Since(t)
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			C.Z3_interrupt(b.ctx.raw)
		case <-done:
		}
	}()

	ret := C.Z3_solver_check(b.ctx.raw, b.solver)
	if err := b.ctx.err("Z3_solver_check"); err != nil {
		return air.CheckResult{}, err
	}
	switch ret {
	case C.Z3_L_FALSE:
		return air.CheckResult{Sat: air.Unsat}, nil
	case C.Z3_L_TRUE:
		return air.CheckResult{Sat: air.Sat}, nil
	}

	reason := C.GoString(C.Z3_solver_get_reason_unknown(b.ctx.raw, b.solver))
	if err := ctx.Err(); err != nil {
		return air.CheckResult{}, err
	}
	return air.CheckResult{Sat: air.Unknown, Reason: reason}, nil
}

func (b *Backend) lookupSort(name string) (C.Z3_sort, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if sort, ok := b.scopes[i].sorts[name]; ok {
			return sort, true
		}
	}
	return nil, false
}

func (b *Backend) lookupFunc(name string) (C.Z3_func_decl, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if decl, ok := b.scopes[i].funcs[name]; ok {
			return decl, true
		}
	}
	return nil, false
}

// sort returns the Z3 sort for an AIR type.
func (b *Backend) sort(typ air.Typ) (C.Z3_sort, error) {
	switch typ := typ.(type) {
	case *air.BoolTyp:
		return C.Z3_mk_bool_sort(b.ctx.raw), b.ctx.err("Z3_mk_bool_sort")
	case *air.IntTyp:
		return C.Z3_mk_int_sort(b.ctx.raw), b.ctx.err("Z3_mk_int_sort")
	case *air.NamedTyp:
		sort, ok := b.lookupSort(typ.Name)
		if !ok {
			return nil, fmt.Errorf("sort %s: %w", typ.Name, air.ErrUndeclared)
		}
		return sort, nil
	case *air.ArrayTyp:
		domain := make([]C.Z3_sort, len(typ.Params))
		for i, p := range typ.Params {
			sort, err := b.sort(p)
			if err != nil {
				return nil, err
			}
			domain[i] = sort
		}
		rng, err := b.sort(typ.Ret)
		if err != nil {
			return nil, err
		}
		if len(domain) == 1 {
			return C.Z3_mk_array_sort(b.ctx.raw, domain[0], rng), b.ctx.err("Z3_mk_array_sort")
		}
		return C.Z3_mk_array_sort_n(b.ctx.raw, C.uint(len(domain)), sortPtr(domain), rng), b.ctx.err("Z3_mk_array_sort_n")
	default:
		return nil, fmt.Errorf("z3.Backend.sort: invalid type: %T", typ)
	}
}

// env maps bound names to the terms they stand for.
type env map[string]C.Z3_ast

func (e env) with(name string, ast C.Z3_ast) env {
	other := make(env, len(e)+1)
	for k, v := range e {
		other[k] = v
	}
	other[name] = ast
	return other
}

// toAST returns a new instance of Z3_ast from an AIR expression.
func (b *Backend) toAST(expr air.Expr, bound env) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *air.Const:
		return b.toConstAST(expr)
	case *air.Var:
		if ast, ok := bound[expr.Name]; ok {
			return ast, nil
		}
		return b.toApplyAST(&air.Apply{Fun: expr.Name}, bound)
	case *air.Apply:
		return b.toApplyAST(expr, bound)
	case *air.Unary:
		arg, err := b.toAST(expr.Expr, bound)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_not(b.ctx.raw, arg), b.ctx.err("Z3_mk_not")
	case *air.Binary:
		return b.toBinaryAST(expr, bound)
	case *air.Multi:
		return b.toMultiAST(expr, bound)
	case *air.IfElse:
		args, err := b.toASTs([]air.Expr{expr.Cond, expr.Then, expr.Else}, bound)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(b.ctx.raw, args[0], args[1], args[2]), b.ctx.err("Z3_mk_ite")
	case *air.Quant:
		return b.toQuantAST(expr, bound)
	case *air.Lambda:
		apps, inner, err := b.bind(expr.Binders, bound)
		if err != nil {
			return nil, err
		}
		body, err := b.toAST(expr.Body, inner)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_lambda_const(b.ctx.raw, C.uint(len(apps)), appPtr(apps), body), b.ctx.err("Z3_mk_lambda_const")
	case *air.Select:
		array, err := b.toAST(expr.Array, bound)
		if err != nil {
			return nil, err
		}
		args, err := b.toASTs(expr.Args, bound)
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return C.Z3_mk_select(b.ctx.raw, array, args[0]), b.ctx.err("Z3_mk_select")
		}
		return C.Z3_mk_select_n(b.ctx.raw, array, C.uint(len(args)), astPtr(args)), b.ctx.err("Z3_mk_select_n")
	case *air.Let:
		inner := bound
		for _, binder := range expr.Binders {
			ast, err := b.toAST(binder.Expr, bound)
			if err != nil {
				return nil, err
			}
			inner = inner.with(binder.Name, ast)
		}
		return b.toAST(expr.Body, inner)
	default:
		return nil, fmt.Errorf("z3.Backend.toAST: invalid expression type: %T", expr)
	}
}

func (b *Backend) toASTs(a []air.Expr, bound env) ([]C.Z3_ast, error) {
	asts := make([]C.Z3_ast, len(a))
	for i, expr := range a {
		ast, err := b.toAST(expr, bound)
		if err != nil {
			return nil, err
		}
		asts[i] = ast
	}
	return asts, nil
}

func (b *Backend) toConstAST(expr *air.Const) (C.Z3_ast, error) {
	switch expr.Value.Kind() {
	case constant.Bool:
		if constant.BoolVal(expr.Value) {
			return C.Z3_mk_true(b.ctx.raw), b.ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(b.ctx.raw), b.ctx.err("Z3_mk_false")
	case constant.Int:
		sort := C.Z3_mk_int_sort(b.ctx.raw)
		s := C.CString(expr.Value.ExactString())
		defer C.free(unsafe.Pointer(s))
		return C.Z3_mk_numeral(b.ctx.raw, s, sort), b.ctx.err("Z3_mk_numeral")
	default:
		return nil, fmt.Errorf("z3.Backend.toConstAST: invalid constant: %s", expr.Value)
	}
}

func (b *Backend) toApplyAST(expr *air.Apply, bound env) (C.Z3_ast, error) {
	decl, ok := b.lookupFunc(expr.Fun)
	if !ok {
		return nil, fmt.Errorf("%s: %w", expr.Fun, air.ErrUndeclared)
	}
	args, err := b.toASTs(expr.Args, bound)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_app(b.ctx.raw, decl, C.uint(len(args)), astPtr(args)), b.ctx.err("Z3_mk_app")
}

func (b *Backend) toBinaryAST(expr *air.Binary, bound env) (C.Z3_ast, error) {
	lhs, err := b.toAST(expr.LHS, bound)
	if err != nil {
		return nil, err
	}
	rhs, err := b.toAST(expr.RHS, bound)
	if err != nil {
		return nil, err
	}

	switch expr.Op {
	case air.Implies:
		return C.Z3_mk_implies(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_implies")
	case air.Eq:
		return C.Z3_mk_eq(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_eq")
	case air.Le:
		return C.Z3_mk_le(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_le")
	case air.Lt:
		return C.Z3_mk_lt(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_lt")
	case air.Ge:
		return C.Z3_mk_ge(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_ge")
	case air.Gt:
		return C.Z3_mk_gt(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_gt")
	case air.EuclideanDiv:
		return C.Z3_mk_div(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_div")
	case air.EuclideanMod:
		return C.Z3_mk_mod(b.ctx.raw, lhs, rhs), b.ctx.err("Z3_mk_mod")
	default:
		return nil, fmt.Errorf("z3.Backend.toBinaryAST: invalid operator: %s", expr.Op)
	}
}

func (b *Backend) toMultiAST(expr *air.Multi, bound env) (C.Z3_ast, error) {
	args, err := b.toASTs(expr.Args, bound)
	if err != nil {
		return nil, err
	}
	n := C.uint(len(args))

	switch expr.Op {
	case air.And:
		return C.Z3_mk_and(b.ctx.raw, n, astPtr(args)), b.ctx.err("Z3_mk_and")
	case air.Or:
		return C.Z3_mk_or(b.ctx.raw, n, astPtr(args)), b.ctx.err("Z3_mk_or")
	case air.Add:
		return C.Z3_mk_add(b.ctx.raw, n, astPtr(args)), b.ctx.err("Z3_mk_add")
	case air.Sub:
		return C.Z3_mk_sub(b.ctx.raw, n, astPtr(args)), b.ctx.err("Z3_mk_sub")
	case air.Mul:
		return C.Z3_mk_mul(b.ctx.raw, n, astPtr(args)), b.ctx.err("Z3_mk_mul")
	default:
		return nil, fmt.Errorf("z3.Backend.toMultiAST: invalid operator: %s", expr.Op)
	}
}

// bind creates a fresh constant for each binder and returns the constants
// with the environment extended by them.
func (b *Backend) bind(binders []*air.Binder, bound env) ([]C.Z3_app, env, error) {
	apps := make([]C.Z3_app, len(binders))
	inner := bound
	for i, binder := range binders {
		sort, err := b.sort(binder.Typ)
		if err != nil {
			return nil, nil, err
		}
		prefix := C.CString(binder.Name)
		c := C.Z3_mk_fresh_const(b.ctx.raw, prefix, sort)
		C.free(unsafe.Pointer(prefix))
		if err := b.ctx.err("Z3_mk_fresh_const"); err != nil {
			return nil, nil, err
		}
		apps[i] = C.Z3_to_app(b.ctx.raw, c)
		inner = inner.with(binder.Name, c)
	}
	return apps, inner, nil
}

func (b *Backend) toQuantAST(expr *air.Quant, bound env) (C.Z3_ast, error) {
	apps, inner, err := b.bind(expr.Binders, bound)
	if err != nil {
		return nil, err
	}
	body, err := b.toAST(expr.Body, inner)
	if err != nil {
		return nil, err
	}

	patterns := make([]C.Z3_pattern, len(expr.Triggers))
	for i, tr := range expr.Triggers {
		terms, err := b.toASTs(tr, inner)
		if err != nil {
			return nil, err
		}
		patterns[i] = C.Z3_mk_pattern(b.ctx.raw, C.uint(len(terms)), astPtr(terms))
		if err := b.ctx.err("Z3_mk_pattern"); err != nil {
			return nil, err
		}
	}
	var patternPtr *C.Z3_pattern
	if len(patterns) > 0 {
		patternPtr = &patterns[0]
	}

	if expr.Kind == air.Exists {
		return C.Z3_mk_exists_const(b.ctx.raw, 0, C.uint(len(apps)), appPtr(apps), C.uint(len(patterns)), patternPtr, body), b.ctx.err("Z3_mk_exists_const")
	}
	return C.Z3_mk_forall_const(b.ctx.raw, 0, C.uint(len(apps)), appPtr(apps), C.uint(len(patterns)), patternPtr, body), b.ctx.err("Z3_mk_forall_const")
}

func astPtr(a []C.Z3_ast) *C.Z3_ast {
	if len(a) == 0 {
		return nil
	}
	return &a[0]
}

func appPtr(a []C.Z3_app) *C.Z3_app {
	if len(a) == 0 {
		return nil
	}
	return &a[0]
}

func sortPtr(a []C.Z3_sort) *C.Z3_sort {
	if len(a) == 0 {
		return nil
	}
	return &a[0]
}

func symbolPtr(a []C.Z3_symbol) *C.Z3_symbol {
	if len(a) == 0 {
		return nil
	}
	return &a[0]
}

func funcDeclPtr(a []C.Z3_func_decl) *C.Z3_func_decl {
	if len(a) == 0 {
		return nil
	}
	return &a[0]
}

func uintPtr(a []C.uint) *C.uint {
	if len(a) == 0 {
		return nil
	}
	return &a[0]
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

func (ctx *Context) symbol(name string) C.Z3_symbol {
	s := C.CString(name)
	defer C.free(unsafe.Pointer(s))
	return C.Z3_mk_string_symbol(ctx.raw, s)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds counters for a Backend.
type Stats struct {
	CheckN    int
	CheckTime time.Duration
}
