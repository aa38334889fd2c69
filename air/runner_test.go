package air_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/benbjohnson/vcgen/air"
	"github.com/google/go-cmp/cmp"
)

func TestRunner_Run(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		backend := &scriptBackend{}
		results, err := air.NewRunner(backend).Run(context.Background(), []air.Command{
			&air.Push{},
			&air.Global{Decl: &air.ConstDecl{Const: "c", Typ: air.Int}},
			&air.CheckValid{Query: &air.Query{
				Locals: []air.Declaration{&air.VarDecl{Var: "x", Typ: air.Int}},
				Assertion: &air.Block{Stmts: []air.Stmt{
					&air.Assign{Name: "x", Expr: c()},
					&air.Assert{Expr: eq(x(), c())},
				}},
			}},
			&air.Pop{},
		})
		if err != nil {
			t.Fatal(err)
		} else if len(results) != 1 || results[0].Status != air.StatusValid {
			t.Fatalf("unexpected results: %#v", results)
		}

		if diff := cmp.Diff([]string{
			"(push)",
			"(declare-const c Int)",
			"(push)",
			"(declare-const x@0 Int)",
			"(declare-const x@1 Int)",
			"(assert (not (=> (= x@1 c) (= x@1 c))))",
			"(check-sat)",
			"(pop)",
			"(pop)",
		}, backend.log); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		backend := &scriptBackend{answers: []air.SatResult{air.Sat}}
		runner := air.NewRunner(backend)
		results, err := runner.Run(context.Background(), []air.Command{
			&air.CheckValid{Query: twoAsserts()},
		})
		if err != nil {
			t.Fatal(err)
		} else if len(results) != 1 || results[0].Status != air.StatusInvalid {
			t.Fatalf("unexpected results: %#v", results)
		} else if diff := cmp.Diff([]string{"a", "b"}, messages(results[0].Errors)); diff != "" {
			t.Fatal(diff)
		} else if n := runner.Stats().CheckN; n != 3 {
			t.Fatalf("unexpected check count: %d", n)
		}
	})

	t.Run("Focused", func(t *testing.T) {
		// Only the second assert fails on its own.
		backend := &scriptBackend{answers: []air.SatResult{air.Sat, air.Unsat, air.Sat}}
		results, err := air.NewRunner(backend).Run(context.Background(), []air.Command{
			&air.CheckValid{Query: twoAsserts()},
		})
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]string{"b"}, messages(results[0].Errors)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Unpinned", func(t *testing.T) {
		backend := &scriptBackend{answers: []air.SatResult{air.Sat, air.Unsat, air.Unsat}}
		results, err := air.NewRunner(backend).Run(context.Background(), []air.Command{
			&air.CheckValid{Query: twoAsserts()},
		})
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]string{"assertion failed"}, messages(results[0].Errors)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("NoDiagnostic", func(t *testing.T) {
		backend := &scriptBackend{answers: []air.SatResult{air.Sat}}
		results, err := air.NewRunner(backend).Run(context.Background(), []air.Command{
			&air.Global{Decl: &air.ConstDecl{Const: "p", Typ: air.Bool}},
			&air.CheckValid{Query: &air.Query{Assertion: &air.Assert{Expr: p()}}},
		})
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]string{"assertion failed"}, messages(results[0].Errors)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		backend := &scriptBackend{answers: []air.SatResult{air.Unknown}}
		results, err := air.NewRunner(backend).Run(context.Background(), []air.Command{
			&air.CheckValid{Query: twoAsserts()},
		})
		if err != nil {
			t.Fatal(err)
		} else if results[0].Status != air.StatusUnknown {
			t.Fatalf("unexpected status: %s", results[0].Status)
		} else if results[0].Reason != "timeout" {
			t.Fatalf("unexpected reason: %s", results[0].Reason)
		} else if !errors.Is(air.ReasonError(results[0].Reason), air.ErrSolverTimeout) {
			t.Fatal("expected timeout error")
		}
	})

	t.Run("TriviallyValid", func(t *testing.T) {
		backend := &scriptBackend{}
		runner := air.NewRunner(backend)
		results, err := runner.Run(context.Background(), []air.Command{
			&air.CheckValid{Query: &air.Query{Assertion: &air.Assert{Expr: air.BoolConst(true)}}},
		})
		if err != nil {
			t.Fatal(err)
		} else if results[0].Status != air.StatusValid {
			t.Fatalf("unexpected status: %s", results[0].Status)
		} else if n := runner.Stats().CheckN; n != 0 {
			t.Fatalf("solver should not be called: %d", n)
		}
	})

	t.Run("Sorts", func(t *testing.T) {
		results, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{
			&air.Global{Decl: &air.SortDecl{Sort: "S"}},
			&air.Global{Decl: &air.FunDecl{Fun: "f", Params: []air.Typ{&air.NamedTyp{Name: "S"}}, Ret: air.Int}},
			&air.Global{Decl: &air.ConstDecl{Const: "s", Typ: &air.NamedTyp{Name: "S"}}},
			&air.Global{Decl: &air.Axiom{Expr: &air.Binary{Op: air.Ge, LHS: &air.Apply{Fun: "f", Args: []air.Expr{&air.Var{Name: "s"}}}, RHS: air.IntConst(0)}}},
			&air.CheckValid{Query: &air.Query{Assertion: &air.Assert{Expr: &air.Quant{
				Kind:     air.Forall,
				Binders:  []*air.Binder{{Name: "y", Typ: &air.NamedTyp{Name: "S"}}},
				Triggers: []air.Trigger{{&air.Apply{Fun: "f", Args: []air.Expr{&air.Var{Name: "y"}}}}},
				Body:     &air.Binary{Op: air.Ge, LHS: &air.Apply{Fun: "f", Args: []air.Expr{&air.Var{Name: "y"}}}, RHS: air.IntConst(0)},
			}}}},
		})
		if err != nil {
			t.Fatal(err)
		} else if len(results) != 1 {
			t.Fatalf("unexpected result count: %d", len(results))
		}
	})

	t.Run("Datatype", func(t *testing.T) {
		backend := &scriptBackend{}
		results, err := air.NewRunner(backend).Run(context.Background(), []air.Command{
			&air.Global{Decl: optionDecl()},
			&air.Global{Decl: &air.ConstDecl{Const: "o", Typ: &air.NamedTyp{Name: "Option"}}},
			&air.CheckValid{Query: &air.Query{Assertion: &air.Assert{Expr: air.NewImplies(
				&air.Apply{Fun: air.TesterName("Some"), Args: []air.Expr{&air.Var{Name: "o"}}},
				&air.Binary{Op: air.Ge, LHS: &air.Apply{Fun: "value", Args: []air.Expr{&air.Var{Name: "o"}}}, RHS: air.IntConst(0)},
			)}}},
		})
		if err != nil {
			t.Fatal(err)
		} else if len(results) != 1 {
			t.Fatalf("unexpected result count: %d", len(results))
		} else if diff := cmp.Diff("(declare-datatypes ((Option 0)) (((None) (Some (value Int)))))", backend.log[0]); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrUnbalancedScopes", func(t *testing.T) {
		if _, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{&air.Pop{}}); !errors.Is(err, air.ErrUnbalancedScopes) {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{&air.Push{}})
		if !errors.Is(err, air.ErrUnbalancedScopes) {
			t.Fatalf("unexpected error: %v", err)
		} else if !strings.HasPrefix(err.Error(), "1 scopes left open") {
			t.Fatalf("unexpected error message: %s", err)
		}
	})

	t.Run("ErrUndeclared", func(t *testing.T) {
		for _, cmds := range [][]air.Command{
			{&air.CheckValid{Query: &air.Query{Assertion: &air.Assert{Expr: &air.Var{Name: "y"}}}}},
			{&air.Global{Decl: &air.ConstDecl{Const: "s", Typ: &air.NamedTyp{Name: "S"}}}},
			{&air.Global{Decl: &air.Axiom{Expr: &air.Apply{Fun: "g", Args: []air.Expr{air.IntConst(1)}}}}},

			// Declarations are dropped with their scope.
			{
				&air.Push{},
				&air.Global{Decl: &air.ConstDecl{Const: "c", Typ: air.Int}},
				&air.Pop{},
				&air.Global{Decl: &air.Axiom{Expr: eq(c(), air.IntConst(0))}},
			},
		} {
			if _, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), cmds); !errors.Is(err, air.ErrUndeclared) {
				t.Fatalf("%v: unexpected error: %v", cmds, err)
			}
		}
	})

	t.Run("ErrRedeclared", func(t *testing.T) {
		decl := &air.ConstDecl{Const: "c", Typ: air.Int}
		_, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{
			&air.Global{Decl: decl},
			&air.Push{},
			&air.Global{Decl: decl},
			&air.Pop{},
		})
		if !errors.Is(err, air.ErrRedeclared) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrRedeclaredDatatypeFunction", func(t *testing.T) {
		_, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{
			&air.Global{Decl: &air.FunDecl{Fun: "value", Ret: air.Int}},
			&air.Global{Decl: optionDecl()},
		})
		if !errors.Is(err, air.ErrRedeclared) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrUndeclaredFieldSort", func(t *testing.T) {
		_, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{
			&air.Global{Decl: &air.DatatypeDecl{Sort: "Box", Variants: []*air.Variant{
				{Name: "box", Fields: []*air.Field{{Name: "inner", Typ: &air.NamedTyp{Name: "T"}}}},
			}}},
		})
		if !errors.Is(err, air.ErrUndeclared) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrMutableGlobal", func(t *testing.T) {
		_, err := air.NewRunner(&scriptBackend{}).Run(context.Background(), []air.Command{
			&air.Global{Decl: &air.VarDecl{Var: "x", Typ: air.Int}},
		})
		if !errors.Is(err, air.ErrMutableGlobal) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrBackend", func(t *testing.T) {
		backend := &scriptBackend{checkErr: errors.New("marker")}
		runner := air.NewRunner(backend)
		_, err := runner.Run(context.Background(), []air.Command{
			&air.CheckValid{Query: twoAsserts()},
		})
		if err == nil || err.Error() != "check: marker" {
			t.Fatalf("unexpected error: %v", err)
		} else if runner.Depth() != 0 {
			t.Fatalf("query scope left open: %d", runner.Depth())
		}
	})
}

func TestReasonError(t *testing.T) {
	for _, tt := range []struct {
		reason string
		err    error
	}{
		{"timeout", air.ErrSolverTimeout},
		{"canceled", air.ErrSolverCanceled},
		{"max. resource limit exceeded", air.ErrSolverResourceLimit},
		{"rlimit", air.ErrSolverResourceLimit},
		{"incomplete quantifiers", air.ErrSolverUnknown},
	} {
		if err := air.ReasonError(tt.reason); err != tt.err {
			t.Errorf("%s: unexpected error: %v", tt.reason, err)
		}
	}
}

// twoAsserts returns a query asserting p and then q with diagnostics "a"
// and "b". Both are declared as query locals.
func twoAsserts() *air.Query {
	return &air.Query{
		Locals: []air.Declaration{
			&air.ConstDecl{Const: "p", Typ: air.Bool},
			&air.ConstDecl{Const: "q", Typ: air.Bool},
		},
		Assertion: &air.Block{Stmts: []air.Stmt{
			&air.Assert{Error: &air.Diagnostic{Message: "a"}, Expr: p()},
			&air.Assert{Error: &air.Diagnostic{Message: "b"}, Expr: q()},
		}},
	}
}

func c() air.Expr { return &air.Var{Name: "c"} }

func messages(a []*air.Diagnostic) []string {
	var s []string
	for _, diag := range a {
		s = append(s, diag.Message)
	}
	return s
}

// scriptBackend is an air.Backend that logs each call in SMT-LIB form and
// answers checks from a script. Once the script runs out, the last answer
// repeats. An empty script answers unsat.
func optionDecl() *air.DatatypeDecl {
	return &air.DatatypeDecl{Sort: "Option", Variants: []*air.Variant{
		{Name: "None"},
		{Name: "Some", Fields: []*air.Field{{Name: "value", Typ: air.Int}}},
	}}
}

type scriptBackend struct {
	answers  []air.SatResult
	checkErr error
	checkN   int
	log      []string
}

func (b *scriptBackend) printf(format string, args ...interface{}) error {
	b.log = append(b.log, fmt.Sprintf(format, args...))
	return nil
}

func (b *scriptBackend) Push() error { return b.printf("(push)") }
func (b *scriptBackend) Pop() error  { return b.printf("(pop)") }

func (b *scriptBackend) DeclareSort(name string) error {
	return b.printf("%s", &air.SortDecl{Sort: name})
}

func (b *scriptBackend) DeclareDatatype(decl *air.DatatypeDecl) error {
	return b.printf("%s", decl)
}

func (b *scriptBackend) DeclareConst(name string, typ air.Typ) error {
	return b.printf("%s", &air.ConstDecl{Const: name, Typ: typ})
}

func (b *scriptBackend) DeclareFun(name string, params []air.Typ, ret air.Typ) error {
	return b.printf("%s", &air.FunDecl{Fun: name, Params: params, Ret: ret})
}

func (b *scriptBackend) Assert(expr air.Expr) error { return b.printf("(assert %s)", expr) }

func (b *scriptBackend) Check(ctx context.Context) (air.CheckResult, error) {
	b.printf("(check-sat)")
	if b.checkErr != nil {
		return air.CheckResult{}, b.checkErr
	}

	var sat air.SatResult
	if len(b.answers) > 0 {
		sat = b.answers[min(b.checkN, len(b.answers)-1)]
	}
	b.checkN++

	if sat == air.Unknown {
		return air.CheckResult{Sat: air.Unknown, Reason: "timeout"}, nil
	}
	return air.CheckResult{Sat: sat}, nil
}

func (b *scriptBackend) Close() error { return nil }
