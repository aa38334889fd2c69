package z3_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/vcgen"
	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
	"github.com/benbjohnson/vcgen/z3"
	"github.com/google/go-cmp/cmp"
)

func TestBackend_Check(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			b := MustOpenBackend(t)
			if err := b.Assert(air.BoolConst(true)); err != nil {
				t.Fatal(err)
			} else if ret, err := b.Check(context.Background()); err != nil {
				t.Fatal(err)
			} else if ret.Sat != air.Sat {
				t.Fatalf("unexpected result: %s", ret.Sat)
			}
		})
		t.Run("False", func(t *testing.T) {
			b := MustOpenBackend(t)
			if err := b.Assert(air.BoolConst(false)); err != nil {
				t.Fatal(err)
			} else if ret, err := b.Check(context.Background()); err != nil {
				t.Fatal(err)
			} else if ret.Sat != air.Unsat {
				t.Fatalf("unexpected result: %s", ret.Sat)
			}
		})
	})

	t.Run("Int", func(t *testing.T) {
		b := MustOpenBackend(t)
		if err := b.DeclareConst("x", air.Int); err != nil {
			t.Fatal(err)
		}

		// x + 1 <= x is unsatisfiable.
		x := &air.Var{Name: "x"}
		if err := b.Assert(&air.Binary{
			Op:  air.Le,
			LHS: &air.Multi{Op: air.Add, Args: []air.Expr{x, air.IntConst(1)}},
			RHS: x,
		}); err != nil {
			t.Fatal(err)
		} else if ret, err := b.Check(context.Background()); err != nil {
			t.Fatal(err)
		} else if ret.Sat != air.Unsat {
			t.Fatalf("unexpected result: %s", ret.Sat)
		}
	})

	t.Run("Quant", func(t *testing.T) {
		b := MustOpenBackend(t)
		if err := b.DeclareSort("T"); err != nil {
			t.Fatal(err)
		} else if err := b.DeclareFun("f", []air.Typ{air.Int}, air.Int); err != nil {
			t.Fatal(err)
		}

		// forall i {f(i)}. f(i) > i, and f(3) == 3.
		i := &air.Var{Name: "i"}
		fi := &air.Apply{Fun: "f", Args: []air.Expr{i}}
		if err := b.Assert(&air.Quant{
			Kind:     air.Forall,
			Binders:  []*air.Binder{{Name: "i", Typ: air.Int}},
			Triggers: []air.Trigger{{fi}},
			Body:     &air.Binary{Op: air.Gt, LHS: fi, RHS: i},
		}); err != nil {
			t.Fatal(err)
		} else if err := b.Assert(air.NewEq(&air.Apply{Fun: "f", Args: []air.Expr{air.IntConst(3)}}, air.IntConst(3))); err != nil {
			t.Fatal(err)
		} else if ret, err := b.Check(context.Background()); err != nil {
			t.Fatal(err)
		} else if ret.Sat != air.Unsat {
			t.Fatalf("unexpected result: %s", ret.Sat)
		}
	})

	t.Run("Let", func(t *testing.T) {
		b := MustOpenBackend(t)

		// let y = 2 in y * y != 4
		y := &air.Var{Name: "y"}
		if err := b.Assert(&air.Let{
			Binders: []*air.LetBinder{{Name: "y", Expr: air.IntConst(2)}},
			Body:    air.NewNot(air.NewEq(&air.Multi{Op: air.Mul, Args: []air.Expr{y, y}}, air.IntConst(4))),
		}); err != nil {
			t.Fatal(err)
		} else if ret, err := b.Check(context.Background()); err != nil {
			t.Fatal(err)
		} else if ret.Sat != air.Unsat {
			t.Fatalf("unexpected result: %s", ret.Sat)
		}
	})

	t.Run("Lambda", func(t *testing.T) {
		b := MustOpenBackend(t)

		// (lambda i. i + 1)[4] != 5
		lambda := &air.Lambda{
			Binders: []*air.Binder{{Name: "i", Typ: air.Int}},
			Body:    &air.Multi{Op: air.Add, Args: []air.Expr{&air.Var{Name: "i"}, air.IntConst(1)}},
		}
		if err := b.Assert(air.NewNot(air.NewEq(
			&air.Select{Array: lambda, Args: []air.Expr{air.IntConst(4)}},
			air.IntConst(5),
		))); err != nil {
			t.Fatal(err)
		} else if ret, err := b.Check(context.Background()); err != nil {
			t.Fatal(err)
		} else if ret.Sat != air.Unsat {
			t.Fatalf("unexpected result: %s", ret.Sat)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		b := MustOpenBackend(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := b.Assert(air.BoolConst(true)); err != nil {
			t.Fatal(err)
		}
		// The solver may finish before it sees the interrupt.
		if _, err := b.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Fatal(err)
		}
	})
}

func TestBackend_Pop(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		b := MustOpenBackend(t)
		if err := b.Push(); err != nil {
			t.Fatal(err)
		} else if err := b.DeclareConst("x", air.Bool); err != nil {
			t.Fatal(err)
		} else if err := b.Assert(air.NewAnd(&air.Var{Name: "x"}, air.NewNot(&air.Var{Name: "x"}))); err != nil {
			t.Fatal(err)
		} else if err := b.Pop(); err != nil {
			t.Fatal(err)
		}

		if err := b.Assert(&air.Var{Name: "x"}); !errors.Is(err, air.ErrUndeclared) {
			t.Fatalf("unexpected error: %v", err)
		} else if ret, err := b.Check(context.Background()); err != nil {
			t.Fatal(err)
		} else if ret.Sat != air.Sat {
			t.Fatalf("unexpected result: %s", ret.Sat)
		}
	})

	t.Run("ErrUnbalancedScopes", func(t *testing.T) {
		b := MustOpenBackend(t)
		if err := b.Pop(); err != air.ErrUnbalancedScopes {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestBackend_DeclareFun(t *testing.T) {
	t.Run("ErrUndeclared", func(t *testing.T) {
		b := MustOpenBackend(t)
		if err := b.DeclareFun("f", []air.Typ{&air.NamedTyp{Name: "T"}}, air.Bool); !errors.Is(err, air.ErrUndeclared) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestRunner_Run(t *testing.T) {
	query := func(rhs air.Expr) []air.Command {
		return []air.Command{
			&air.Push{},
			&air.CheckValid{Query: &air.Query{
				Locals: []air.Declaration{&air.ConstDecl{Const: "x", Typ: air.Int}},
				Assertion: &air.Block{Stmts: []air.Stmt{
					&air.Assume{Expr: &air.Binary{Op: air.Gt, LHS: &air.Var{Name: "x"}, RHS: air.IntConst(0)}},
					&air.Assert{
						Error: &air.Diagnostic{Message: "assertion failed"},
						Expr:  &air.Binary{Op: air.Gt, LHS: &air.Var{Name: "x"}, RHS: rhs},
					},
				}},
			}},
			&air.Pop{},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		results, err := air.NewRunner(MustOpenBackend(t)).Run(context.Background(), query(air.IntConst(-1)))
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*air.Result{{Status: air.StatusValid}}, results); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		results, err := air.NewRunner(MustOpenBackend(t)).Run(context.Background(), query(air.IntConst(1)))
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff([]*air.Result{{
			Status: air.StatusInvalid,
			Errors: []*air.Diagnostic{{Message: "assertion failed"}},
		}}, results); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestBackend_DeclareDatatype(t *testing.T) {
	b := MustOpenBackend(t)
	list := &air.NamedTyp{Name: "List"}
	if err := b.DeclareDatatype(&air.DatatypeDecl{
		Sort: "List",
		Variants: []*air.Variant{
			{Name: "nil"},
			{Name: "cons", Fields: []*air.Field{{Name: "head", Typ: air.Int}, {Name: "tail", Typ: list}}},
		},
	}); err != nil {
		t.Fatal(err)
	} else if err := b.DeclareConst("l", list); err != nil {
		t.Fatal(err)
	}

	// A list that is neither empty nor a cons cell does not exist.
	l := &air.Var{Name: "l"}
	if err := b.Assert(air.NewAnd(
		air.NewNot(&air.Apply{Fun: air.TesterName("nil"), Args: []air.Expr{l}}),
		air.NewNot(&air.Apply{Fun: air.TesterName("cons"), Args: []air.Expr{l}}),
	)); err != nil {
		t.Fatal(err)
	} else if ret, err := b.Check(context.Background()); err != nil {
		t.Fatal(err)
	} else if ret.Sat != air.Unsat {
		t.Fatalf("unexpected result: %s", ret.Sat)
	}
}

func TestVerifier_Verify(t *testing.T) {
	prog, err := vir.Decode(strings.NewReader(`
datatypes:
  - name: Pair
    fields:
      - {name: a, type: u8}
      - {name: b, type: u8}
functions:
  - name: field_range
    params:
      - {name: s, type: Pair}
    body:
      - assert: {le: [{field: s, name: a}, 255]}
  - name: field_assign_ok
    params:
      - {name: p, type: Pair, mut: true}
      - {name: q, type: u8}
    requires:
      - lt: [q, 10]
    body:
      - assign: {field: p, name: a}
        value: {add: [q, 5]}
      - assert: {eq: [{field: p, name: a}, {add: [q, 5]}]}
      - assert: {le: [{field: p, name: b}, 255]}
  - name: field_assign_bad
    params:
      - {name: p, type: Pair, mut: true}
      - {name: q, type: u8}
    requires:
      - lt: [q, 10]
    body:
      - assign: {field: p, name: a}
        value: {add: [q, 5]}
      - assert: {eq: [{field: p, name: a}, 1]}
  - name: euclid
    body:
      - assert: {eq: [{div: [-7, 2]}, -4]}
      - assert: {eq: [{mod: [-7, 2]}, 1]}
      - assert: {eq: [{div: [7, -2]}, -3]}
      - assert: {eq: [{mod: [7, -2]}, 1]}
`), "test.yaml")
	if err != nil {
		t.Fatal(err)
	}

	v := vcgen.NewVerifier(vcgen.NewContext(prog, vcgen.DefaultConfig(), nil))
	v.NewBackend = func() (air.Backend, error) { return z3.NewBackend(0) }
	report, err := v.Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, fr := range report.Functions {
		if fr.Err != nil {
			t.Fatalf("%s: %s", fr.Name, fr.Err)
		}
		got = append(got, fr.Name+" "+fr.Status.String())
	}
	if diff := cmp.Diff([]string{
		"field_range valid",
		"field_assign_ok valid",
		"field_assign_bad invalid",
		"euclid valid",
	}, got); diff != "" {
		t.Fatal(diff)
	}
}

// MustOpenBackend returns a new backend that is closed when the test ends.
func MustOpenBackend(tb testing.TB) *z3.Backend {
	tb.Helper()
	b, err := z3.NewBackend(0)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := b.Close(); err != nil {
			tb.Fatal(err)
		}
	})
	return b
}
