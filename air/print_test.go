package air_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/benbjohnson/vcgen/air"
	"github.com/google/go-cmp/cmp"
)

func TestSymbol(t *testing.T) {
	for _, tt := range []struct {
		name string
		want string
	}{
		{"x", "x"},
		{"x~1", "x~1"},
		{"tmp%2", "tmp%2"},
		{"x@0", "x@0"},
		{"f.g", "f.g"},
		{"1x", "|1x|"},
		{"a b", "|a b|"},
		{"f<int,bool>", "|f<int,bool>|"},
		{"", "||"},
	} {
		if got := air.Symbol(tt.name); got != tt.want {
			t.Errorf("Symbol(%q)=%s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestExpr_String(t *testing.T) {
	y := &air.Var{Name: "y"}
	for _, tt := range []struct {
		expr air.Expr
		want string
	}{
		{air.IntConst(-5), "(- 5)"},
		{air.IntConst(7), "7"},
		{air.BoolConst(false), "false"},
		{&air.Apply{Fun: "c"}, "c"},
		{&air.Apply{Fun: "f", Args: []air.Expr{x(), air.IntConst(1)}}, "(f x 1)"},
		{&air.Binary{Op: air.EuclideanMod, LHS: x(), RHS: y}, "(mod x y)"},
		{&air.Multi{Op: air.Add, Args: []air.Expr{x(), y}}, "(+ x y)"},
		{&air.Multi{Op: air.And}, "true"},
		{&air.Multi{Op: air.Or}, "false"},
		{&air.IfElse{Cond: p(), Then: x(), Else: y}, "(ite p x y)"},
		{
			&air.Quant{
				Kind:    air.Exists,
				Binders: []*air.Binder{{Name: "x", Typ: air.Int}, {Name: "b", Typ: air.Bool}},
				Body:    p(),
			},
			"(exists ((x Int) (b Bool)) p)",
		},
		{
			&air.Quant{
				Kind:     air.Forall,
				Binders:  []*air.Binder{{Name: "x", Typ: air.Int}},
				Triggers: []air.Trigger{{&air.Apply{Fun: "f", Args: []air.Expr{x()}}}, {&air.Apply{Fun: "g", Args: []air.Expr{x()}}, y}},
				Body:     p(),
			},
			"(forall ((x Int)) (! p :pattern ((f x)) :pattern ((g x) y)))",
		},
		{&air.Lambda{Binders: []*air.Binder{{Name: "i", Typ: air.Int}}, Body: x()}, "(lambda ((i Int)) x)"},
		{&air.Select{Array: &air.Var{Name: "a"}, Args: []air.Expr{air.IntConst(0)}}, "(select a 0)"},
		{&air.Let{Binders: []*air.LetBinder{{Name: "k", Expr: x()}}, Body: p()}, "(let ((k x)) p)"},
	} {
		if diff := cmp.Diff(tt.want, tt.expr.String()); diff != "" {
			t.Error(diff)
		}
	}
}

func TestTyp_String(t *testing.T) {
	typ := &air.ArrayTyp{Params: []air.Typ{air.Int, &air.NamedTyp{Name: "S"}}, Ret: air.Bool}
	if diff := cmp.Diff("(Array Int S Bool)", typ.String()); diff != "" {
		t.Fatal(diff)
	}
}

func TestDeclaration_String(t *testing.T) {
	for _, tt := range []struct {
		decl air.Declaration
		want string
	}{
		{&air.SortDecl{Sort: "S"}, "(declare-sort S 0)"},
		{&air.ConstDecl{Const: "c", Typ: air.Int}, "(declare-const c Int)"},
		{&air.VarDecl{Var: "x", Typ: air.Bool}, "(declare-var x Bool)"},
		{&air.FunDecl{Fun: "f", Params: []air.Typ{air.Int, air.Bool}, Ret: air.Int}, "(declare-fun f (Int Bool) Int)"},
		{&air.Axiom{Expr: p()}, "(axiom p)"},
		{
			&air.DatatypeDecl{Sort: "List", Variants: []*air.Variant{
				{Name: "nil"},
				{Name: "cons", Fields: []*air.Field{{Name: "head", Typ: air.Int}, {Name: "tail", Typ: &air.NamedTyp{Name: "List"}}}},
			}},
			"(declare-datatypes ((List 0)) (((nil) (cons (head Int) (tail List)))))",
		},
	} {
		if diff := cmp.Diff(tt.want, tt.decl.String()); diff != "" {
			t.Error(diff)
		}
	}
}

func TestCommand_String(t *testing.T) {
	cmd := &air.CheckValid{Query: &air.Query{
		Locals: []air.Declaration{&air.VarDecl{Var: "x", Typ: air.Int}},
		Assertion: &air.Block{Stmts: []air.Stmt{
			&air.Havoc{Name: "x"},
			&air.Switch{Cases: []air.Stmt{
				&air.Assume{Expr: p()},
				&air.DeadEnd{Stmt: &air.Assert{Expr: q()}},
			}},
		}},
	}}
	if diff := cmp.Diff(
		"(check-valid (declare-var x Int) (block (havoc x) (switch (assume p) (dead-end (assert q)))))",
		cmd.String(),
	); diff != "" {
		t.Fatal(diff)
	}
}

func TestNewAnd(t *testing.T) {
	for _, tt := range []struct {
		args []air.Expr
		want string
	}{
		{nil, "true"},
		{[]air.Expr{p()}, "p"},
		{[]air.Expr{air.BoolConst(true), p(), air.BoolConst(true)}, "p"},
		{[]air.Expr{p(), air.BoolConst(false), q()}, "false"},
		{[]air.Expr{p(), q()}, "(and p q)"},
	} {
		if got := air.NewAnd(tt.args...).String(); got != tt.want {
			t.Errorf("NewAnd(%v)=%s, want %s", tt.args, got, tt.want)
		}
	}
}

func TestNewOr(t *testing.T) {
	if got := air.NewOr().String(); got != "false" {
		t.Fatalf("unexpected: %s", got)
	} else if got := air.NewOr(p(), air.BoolConst(true)).String(); got != "true" {
		t.Fatalf("unexpected: %s", got)
	} else if got := air.NewOr(air.BoolConst(false), p(), q()).String(); got != "(or p q)" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestNewImplies(t *testing.T) {
	if got := air.NewImplies(air.BoolConst(true), p()).String(); got != "p" {
		t.Fatalf("unexpected: %s", got)
	} else if got := air.NewImplies(air.BoolConst(false), p()).String(); got != "true" {
		t.Fatalf("unexpected: %s", got)
	} else if got := air.NewImplies(p(), air.BoolConst(true)).String(); got != "true" {
		t.Fatalf("unexpected: %s", got)
	} else if got := air.NewImplies(p(), q()).String(); got != "(=> p q)" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestNewNot(t *testing.T) {
	if got := air.NewNot(air.NewNot(p())).String(); got != "p" {
		t.Fatalf("unexpected: %s", got)
	} else if got := air.NewNot(air.BoolConst(true)).String(); got != "false" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := air.NewWriter(&buf)
	if err := w.SetOption("rlimit", "100"); err != nil {
		t.Fatal(err)
	} else if err := w.Comment("inc\nline two"); err != nil {
		t.Fatal(err)
	}

	results, err := air.NewRunner(w).Run(context.Background(), []air.Command{
		&air.Push{},
		&air.Global{Decl: &air.ConstDecl{Const: "p", Typ: air.Bool}},
		&air.CheckValid{Query: &air.Query{Assertion: &air.Assert{Expr: p()}}},
		&air.Pop{},
	})
	if err != nil {
		t.Fatal(err)
	} else if results[0].Status != air.StatusUnknown || results[0].Reason != "not checked" {
		t.Fatalf("unexpected result: %#v", results[0])
	} else if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(`(set-option :rlimit 100)
;; inc
;; line two
(push 1)
(declare-const p Bool)
(push 1)
(assert (not p))
(check-sat)
(pop 1)
(pop 1)
`, buf.String()); diff != "" {
		t.Fatal(diff)
	}
}
