package air

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SatResult is the answer of a satisfiability check.
type SatResult int

// Satisfiability results.
const (
	Unsat SatResult = iota
	Sat
	Unknown
)

func (r SatResult) String() string {
	switch r {
	case Unsat:
		return "unsat"
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

// CheckResult is returned by Backend.Check. Reason is set for Unknown.
type CheckResult struct {
	Sat    SatResult
	Reason string
}

// Backend is a solver session with a stack of declaration scopes.
type Backend interface {
	Push() error
	Pop() error
	DeclareSort(name string) error
	DeclareDatatype(decl *DatatypeDecl) error
	DeclareConst(name string, typ Typ) error
	DeclareFun(name string, params []Typ, ret Typ) error
	Assert(expr Expr) error
	Check(ctx context.Context) (CheckResult, error)
	Close() error
}

// Stats holds counters for a Runner.
type Stats struct {
	CheckN    int
	CheckTime time.Duration
}

// Runner executes commands against a Backend. It tracks the scope stack so
// that unbalanced pops and references to undeclared symbols are reported
// before they reach the solver.
type Runner struct {
	backend Backend
	scopes  []map[string]Declaration
	stats   Stats

	Logger *zap.Logger
}

// NewRunner returns a new instance of Runner.
func NewRunner(backend Backend) *Runner {
	return &Runner{
		backend: backend,
		scopes:  []map[string]Declaration{make(map[string]Declaration)},
		Logger:  zap.NewNop(),
	}
}

// Depth returns the number of open scopes above the root scope.
func (r *Runner) Depth() int { return len(r.scopes) - 1 }

// Stats returns statistics for the runner.
func (r *Runner) Stats() Stats { return r.stats }

// Run executes each command in order and returns the results of the
// CheckValid commands. The scope stack must be balanced at the end.
func (r *Runner) Run(ctx context.Context, cmds []Command) ([]*Result, error) {
	depth := r.Depth()
	var results []*Result
	for _, cmd := range cmds {
		result, err := r.Exec(ctx, cmd)
		if err != nil {
			return results, err
		} else if result != nil {
			results = append(results, result)
		}
	}
	if r.Depth() != depth {
		return results, fmt.Errorf("%d scopes left open: %w", r.Depth()-depth, ErrUnbalancedScopes)
	}
	return results, nil
}

// Exec executes a single command. The result is only set for CheckValid.
func (r *Runner) Exec(ctx context.Context, cmd Command) (*Result, error) {
	switch cmd := cmd.(type) {
	case *Push:
		return nil, r.push()
	case *Pop:
		return nil, r.pop()
	case *Global:
		return nil, r.declare(cmd.Decl)
	case *CheckValid:
		return r.checkValid(ctx, cmd.Query)
	default:
		return nil, fmt.Errorf("air.Runner.Exec: invalid command type: %T", cmd)
	}
}

func (r *Runner) push() error {
	if err := r.backend.Push(); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	r.scopes = append(r.scopes, make(map[string]Declaration))
	return nil
}

func (r *Runner) pop() error {
	if r.Depth() == 0 {
		return ErrUnbalancedScopes
	} else if err := r.backend.Pop(); err != nil {
		return fmt.Errorf("pop: %w", err)
	}
	r.scopes = r.scopes[:len(r.scopes)-1]
	return nil
}

func (r *Runner) lookup(name string) Declaration {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if decl, ok := r.scopes[i][name]; ok {
			return decl
		}
	}
	return nil
}

func (r *Runner) declare(decl Declaration) error {
	if name := decl.Name(); name != "" {
		if r.lookup(name) != nil {
			return fmt.Errorf("%s: %w", name, ErrRedeclared)
		}
	}

	var err error
	switch decl := decl.(type) {
	case *SortDecl:
		err = r.backend.DeclareSort(decl.Sort)
	case *DatatypeDecl:
		if err := r.checkDatatype(decl); err != nil {
			return err
		}
		err = r.backend.DeclareDatatype(decl)
	case *ConstDecl:
		if err := r.checkTyp(decl.Typ); err != nil {
			return err
		}
		err = r.backend.DeclareConst(decl.Const, decl.Typ)
	case *FunDecl:
		for _, typ := range append(append([]Typ(nil), decl.Params...), decl.Ret) {
			if err := r.checkTyp(typ); err != nil {
				return err
			}
		}
		err = r.backend.DeclareFun(decl.Fun, decl.Params, decl.Ret)
	case *Axiom:
		if err := r.checkExpr(decl.Expr, nil); err != nil {
			return err
		}
		err = r.backend.Assert(decl.Expr)
	case *VarDecl:
		return fmt.Errorf("%s: %w", decl.Var, ErrMutableGlobal)
	default:
		return fmt.Errorf("air.Runner.declare: invalid declaration type: %T", decl)
	}
	if err != nil {
		return fmt.Errorf("declare %s: %w", decl.Name(), err)
	}

	scope := r.scopes[len(r.scopes)-1]
	if name := decl.Name(); name != "" {
		scope[name] = decl
	}
	if decl, ok := decl.(*DatatypeDecl); ok {
		for _, fun := range decl.Funs() {
			scope[fun.Fun] = fun
		}
	}
	return nil
}

// checkDatatype returns an error if a field sort is undeclared or if one of
// the datatype's functions is already declared.
func (r *Runner) checkDatatype(decl *DatatypeDecl) error {
	if len(decl.Variants) == 0 {
		return fmt.Errorf("datatype %s has no variants", decl.Sort)
	}

	seen := make(map[string]bool)
	for _, fun := range decl.Funs() {
		if seen[fun.Fun] || r.lookup(fun.Fun) != nil {
			return fmt.Errorf("%s: %w", fun.Fun, ErrRedeclared)
		}
		seen[fun.Fun] = true
	}

	for _, v := range decl.Variants {
		for _, f := range v.Fields {
			if t, ok := f.Typ.(*NamedTyp); ok && t.Name == decl.Sort {
				continue
			} else if err := r.checkTyp(f.Typ); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) checkTyp(typ Typ) error {
	switch typ := typ.(type) {
	case *NamedTyp:
		switch r.lookup(typ.Name).(type) {
		case *SortDecl, *DatatypeDecl:
		default:
			return fmt.Errorf("sort %s: %w", typ.Name, ErrUndeclared)
		}
	case *ArrayTyp:
		for _, p := range typ.Params {
			if err := r.checkTyp(p); err != nil {
				return err
			}
		}
		return r.checkTyp(typ.Ret)
	}
	return nil
}

// checkExpr returns an error if expr refers to a constant or function that
// is neither declared nor bound.
func (r *Runner) checkExpr(expr Expr, bound map[string]bool) error {
	switch expr := expr.(type) {
	case *Const:
		return nil
	case *Var:
		if bound[expr.Name] {
			return nil
		}
		switch r.lookup(expr.Name).(type) {
		case *ConstDecl:
			return nil
		case *FunDecl:
			return nil
		}
		return fmt.Errorf("%s: %w", expr.Name, ErrUndeclared)
	case *Apply:
		if _, ok := r.lookup(expr.Fun).(*FunDecl); !ok {
			if _, ok := r.lookup(expr.Fun).(*ConstDecl); !ok || len(expr.Args) > 0 {
				return fmt.Errorf("function %s: %w", expr.Fun, ErrUndeclared)
			}
		}
		return r.checkExprs(expr.Args, bound)
	case *Unary:
		return r.checkExpr(expr.Expr, bound)
	case *Binary:
		if err := r.checkExpr(expr.LHS, bound); err != nil {
			return err
		}
		return r.checkExpr(expr.RHS, bound)
	case *Multi:
		return r.checkExprs(expr.Args, bound)
	case *IfElse:
		return r.checkExprs([]Expr{expr.Cond, expr.Then, expr.Else}, bound)
	case *Quant:
		inner := bindNames(bound, expr.Binders)
		for _, tr := range expr.Triggers {
			if err := r.checkExprs(tr, inner); err != nil {
				return err
			}
		}
		return r.checkExpr(expr.Body, inner)
	case *Lambda:
		return r.checkExpr(expr.Body, bindNames(bound, expr.Binders))
	case *Select:
		if err := r.checkExpr(expr.Array, bound); err != nil {
			return err
		}
		return r.checkExprs(expr.Args, bound)
	case *Let:
		inner := copyBound(bound)
		for _, b := range expr.Binders {
			if err := r.checkExpr(b.Expr, bound); err != nil {
				return err
			}
			inner[b.Name] = true
		}
		return r.checkExpr(expr.Body, inner)
	default:
		return fmt.Errorf("air.Runner.checkExpr: invalid expression type: %T", expr)
	}
}

func (r *Runner) checkExprs(a []Expr, bound map[string]bool) error {
	for _, e := range a {
		if err := r.checkExpr(e, bound); err != nil {
			return err
		}
	}
	return nil
}

// checkValid checks the validity of a query. If it is invalid, each assert
// is checked on its own to find the failing ones.
func (r *Runner) checkValid(ctx context.Context, q *Query) (*Result, error) {
	vc, err := GenerateVC(q, -1)
	if err != nil {
		return nil, err
	}

	ret, err := r.check(ctx, q, vc)
	if err != nil {
		return nil, err
	}
	switch ret.Sat {
	case Unsat:
		return &Result{Status: StatusValid}, nil
	case Unknown:
		r.Logger.Debug("query unknown", zap.String("reason", ret.Reason))
		return &Result{Status: StatusUnknown, Reason: ret.Reason}, nil
	}

	result := &Result{Status: StatusInvalid}
	for i, diag := range vc.Asserts {
		focused, err := GenerateVC(q, i)
		if err != nil {
			return nil, err
		}
		ret, err := r.check(ctx, q, focused)
		if err != nil {
			return nil, err
		} else if ret.Sat != Sat {
			continue
		}
		if diag == nil {
			diag = &Diagnostic{Message: "assertion failed"}
		}
		result.Errors = append(result.Errors, diag)
	}

	// The solver may find a counterexample for the whole query without
	// pinning it on any single assert.
	if len(result.Errors) == 0 {
		result.Errors = append(result.Errors, &Diagnostic{Message: "assertion failed"})
	}
	return result, nil
}

// check declares the query's locals in a fresh scope and checks whether
// the negation of the verification condition is satisfiable.
func (r *Runner) check(ctx context.Context, q *Query, vc *VC) (_ CheckResult, err error) {
	if IsTrue(vc.Expr) {
		return CheckResult{Sat: Unsat}, nil
	}

	if err := r.push(); err != nil {
		return CheckResult{}, err
	}
	defer func() {
		if e := r.pop(); e != nil && err == nil {
			err = e
		}
	}()

	for _, decl := range q.Locals {
		if _, ok := decl.(*VarDecl); ok {
			continue
		} else if err := r.declare(decl); err != nil {
			return CheckResult{}, err
		}
	}
	for _, decl := range vc.Decls {
		if err := r.declare(decl); err != nil {
			return CheckResult{}, err
		}
	}

	if err := r.checkExpr(vc.Expr, nil); err != nil {
		return CheckResult{}, err
	} else if err := r.backend.Assert(NewNot(vc.Expr)); err != nil {
		return CheckResult{}, fmt.Errorf("assert: %w", err)
	}

	t := time.Now()
	ret, err := r.backend.Check(ctx)
	r.stats.CheckN++
	r.stats.CheckTime += time.Since(t)
	if err != nil {
		return CheckResult{}, fmt.Errorf("check: %w", err)
	}
	r.Logger.Debug("check",
		zap.Stringer("result", ret.Sat),
		zap.Int("asserts", len(vc.Asserts)),
		zap.Duration("elapsed", time.Since(t)),
	)
	return ret, nil
}
