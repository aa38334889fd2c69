package vir_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/vcgen/vir"
	"github.com/google/go-cmp/cmp"
)

func TestDecode(t *testing.T) {
	t.Run("Signature", func(t *testing.T) {
		prog := MustDecode(t, `functions:
  - name: max
    mode: spec
    params:
      - {name: a, type: int}
      - {name: b, type: int}
    ret: {name: r, type: int}
    body:
      if: {ge: [a, b]}
      then: a
      else: b
  - name: f
    params:
      - {name: v, type: u8, mut: true}
      - {name: g, type: "spec_fn(int) -> bool", mode: spec}
    body: []
`)

		fn := prog.Function("max")
		if fn == nil {
			t.Fatal("expected function")
		} else if fn.Mode != vir.Spec {
			t.Fatalf("unexpected mode: %s", fn.Mode)
		} else if fn.Ret == nil || fn.Ret.Name != "r" {
			t.Fatalf("unexpected return: %#v", fn.Ret)
		} else if got := fn.Body.Type().String(); got != "int" {
			t.Fatalf("unexpected body type: %s", got)
		} else if fn.Span.Line != 2 || fn.Span.Filename != "test.yaml" {
			t.Fatalf("unexpected span: %s", fn.Span)
		}

		// Exec is the default mode and is inherited by parameters.
		f := prog.Function("f")
		if f.Mode != vir.Exec {
			t.Fatalf("unexpected mode: %s", f.Mode)
		} else if p := f.Params[0]; !p.Mutable || p.Mode != vir.Exec {
			t.Fatalf("unexpected param: %#v", p)
		} else if p := f.Params[1]; p.Mode != vir.Spec || p.Typ.String() != "spec_fn(int) -> bool" {
			t.Fatalf("unexpected param: %#v", p)
		} else if f.Ret != nil {
			t.Fatal("expected unit return")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		prog, err := vir.Decode(strings.NewReader(""), "test.yaml")
		if err != nil {
			t.Fatal(err)
		} else if len(prog.Functions) != 0 {
			t.Fatalf("unexpected functions: %d", len(prog.Functions))
		}
	})

	t.Run("UntypedLiteral", func(t *testing.T) {
		prog := MustDecode(t, `functions:
  - name: f
    params:
      - {name: x, type: u8}
    requires:
      - lt: [1, x]
      - lt: [x, 1]
      - ge: [{lit: 5, type: i8}, -1]
    body:
      - assume: {gt: [x, 0]}
`)

		fn := prog.Function("f")
		var typs []string
		for _, e := range fn.Requires {
			bin := e.(*vir.Binary)
			typs = append(typs, bin.LHS.Type().String()+" "+bin.RHS.Type().String())
		}
		if diff := cmp.Diff([]string{"u8 u8", "u8 u8", "i8 i8"}, typs); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ArithmeticMode", func(t *testing.T) {
		prog := MustDecode(t, `functions:
  - name: f
    params:
      - {name: x, type: u8}
    ret: {name: r, type: u8}
    ensures:
      - eq: [r, {add: [x, 1]}]
    body:
      add: [x, 1]
`)

		fn := prog.Function("f")
		if mode := fn.Body.(*vir.Binary).Mode; mode != vir.Exec {
			t.Fatalf("unexpected body mode: %s", mode)
		} else if mode := fn.Ensures[0].(*vir.Binary).RHS.(*vir.Binary).Mode; mode != vir.Spec {
			t.Fatalf("unexpected ensures mode: %s", mode)
		}
	})

	t.Run("Datatypes", func(t *testing.T) {
		prog := MustDecode(t, `datatypes:
  - name: Point
    fields:
      - {name: x, type: int}
      - {name: y, type: int}
  - name: Option
    typ_params: [T]
    variants:
      - name: None
      - name: Some
        fields:
          - {name: value, type: T}
functions:
  - name: f
    mode: spec
    params:
      - {name: p, type: Point}
      - {name: o, type: Option<u8>}
    ret: {name: r, type: int}
    body:
      add: [{field: p, name: x}, {field: o, variant: Some, name: value}]
  - name: g
    mode: spec
    ret: {name: r, type: Option<int>}
    body: {ctor: Option, type: Option<int>, variant: Some, fields: {value: 1}}
`)

		if dt := prog.Datatype("Point"); dt == nil || len(dt.Variants) != 1 || dt.Variants[0].Name != "Point" {
			t.Fatalf("unexpected datatype: %#v", dt)
		}

		bin := prog.Function("f").Body.(*vir.Binary)
		if lhs := bin.LHS.(*vir.Field); lhs.Variant != "Point" || lhs.Type().String() != "int" {
			t.Fatalf("unexpected field: %#v", lhs)
		} else if rhs := bin.RHS.(*vir.Field); rhs.Variant != "Some" || rhs.Type().String() != "u8" {
			t.Fatalf("unexpected field: %#v", rhs)
		}

		ctor := prog.Function("g").Body.(*vir.Ctor)
		if ctor.Type().String() != "Option<int>" || ctor.Variant != "Some" {
			t.Fatalf("unexpected constructor: %#v", ctor)
		} else if typ := ctor.Fields[0].Expr.Type().String(); typ != "int" {
			t.Fatalf("unexpected field type: %s", typ)
		}
	})

	t.Run("Loop", func(t *testing.T) {
		prog := MustDecode(t, `functions:
  - name: f
    params:
      - {name: n, type: int}
    body:
      - let: i
        mut: true
        init: 0
      - while: {lt: [i, n]}
        invariant: {le: [i, n]}
        ensures: [{ge: [i, n]}]
        invariant_ensures: {ge: [i, 0]}
        body:
          - assign: i
            value: {add: [i, 1]}
`)

		block := prog.Function("f").Body.(*vir.Block)
		if n := len(block.Stmts); n != 2 {
			t.Fatalf("unexpected statement count: %d", n)
		}
		if decl := block.Stmts[0].(*vir.DeclStmt); decl.Name != "i" || !decl.Mutable || decl.Typ.String() != "int" {
			t.Fatalf("unexpected declaration: %#v", decl)
		}

		loop := block.Stmts[1].(*vir.ExprStmt).Expr.(*vir.Loop)
		var kinds []string
		for _, inv := range loop.Invariants {
			kinds = append(kinds, inv.Kind.String())
		}
		if diff := cmp.Diff([]string{"invariant", "ensures", "invariant_ensures"}, kinds); diff != "" {
			t.Fatal(diff)
		} else if loop.Cond == nil {
			t.Fatal("expected condition")
		}
	})

	t.Run("AssertBy", func(t *testing.T) {
		prog := MustDecode(t, `functions:
  - name: f
    body:
      - assert_by: [{name: x, type: int}]
        requires: {gt: [x, 0]}
        ensures: {ge: [x, 1]}
`)

		by := prog.Function("f").Body.(*vir.Block).Stmts[0].(*vir.ExprStmt).Expr.(*vir.AssertBy)
		if len(by.Vars) != 1 || by.Require == nil || by.Ensure == nil {
			t.Fatalf("unexpected assert_by: %#v", by)
		} else if _, ok := by.Proof.(*vir.Block); !ok {
			t.Fatalf("expected empty proof block: %T", by.Proof)
		}
	})

	t.Run("ClosurePredicates", func(t *testing.T) {
		prog := MustDecode(t, `functions:
  - name: f
    params:
      - {name: c, type: "fn(int) -> int"}
    body:
      - assume: {closure_req: c, args: [1]}
      - assert: {closure_ens: c, args: [1], ret: 2}
`)

		stmts := prog.Function("f").Body.(*vir.Block).Stmts
		req, ok := stmts[0].(*vir.ExprStmt).Expr.(*vir.AssertAssume).Expr.(*vir.ClosureReq)
		if !ok {
			t.Fatal("expected closure_req")
		} else if len(req.Args) != 1 || !vir.IsBool(req.Type()) {
			t.Fatalf("unexpected closure_req: %#v", req)
		}
		ens, ok := stmts[1].(*vir.ExprStmt).Expr.(*vir.AssertAssume).Expr.(*vir.ClosureEns)
		if !ok {
			t.Fatal("expected closure_ens")
		} else if len(ens.Args) != 1 || ens.Ret == nil || ens.Ret.Type().String() != "int" {
			t.Fatalf("unexpected closure_ens: %#v", ens)
		}
	})

	t.Run("ErrUndefinedVariable", func(t *testing.T) {
		// Declarations are only visible to the statements after them.
		err := DecodeError(t, `functions:
  - name: f
    body:
      - assert: {gt: [x, 0]}
      - let: x
        type: int
`)
		if err.Message != "undefined variable: x" {
			t.Fatalf("unexpected message: %s", err.Message)
		} else if err.Pos.Line != 4 || err.Pos.Column != 23 {
			t.Fatalf("unexpected position: %s", err.Pos)
		} else if err.Error() != "test.yaml:4:23: undefined variable: x" {
			t.Fatalf("unexpected error: %s", err)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		for _, tt := range []struct {
			name string
			src  string
			msg  string
		}{
			{"NoName", "functions:\n  - mode: spec\n", "function name required"},
			{"Mode", "functions:\n  - name: f\n    mode: ghost\n", `invalid mode: "ghost"`},
			{"Type", "functions:\n  - name: f\n    params:\n      - {name: a, type: \"Pair<int\"}\n", `invalid type "Pair<int": expected , or >`},
			{"Kind", "functions:\n  - name: f\n    body: {nope: 1}\n", "unknown expression kind: nope"},
			{"Function", "functions:\n  - name: f\n    body: {call: g}\n", "undefined function: g"},
			{"Operands", "functions:\n  - name: f\n    body: {add: [1]}\n", "add requires two operands"},
			{"Decl", "functions:\n  - name: f\n    body:\n      - let: x\n", "declaration of x requires a type or initializer"},
			{"Datatype", "functions:\n  - name: f\n    body: {ctor: Point}\n", "undefined datatype: Point"},
			{"ClosureReq", "functions:\n  - name: f\n    params:\n      - {name: a, type: int}\n    body:\n      - assert: {closure_req: a}\n", "closure_req of non-closure type int"},
			{"ClosureEns", "functions:\n  - name: f\n    params:\n      - {name: c, type: \"fn() -> int\"}\n    body:\n      - assert: {closure_ens: c}\n", "closure_ens requires ret"},
			{"Field", "datatypes:\n  - name: Point\n    fields:\n      - {name: x, type: int}\nfunctions:\n  - name: f\n    body: {ctor: Point}\n", "missing field Point.x"},
		} {
			t.Run(tt.name, func(t *testing.T) {
				if err := DecodeError(t, tt.src); err.Message != tt.msg {
					t.Fatalf("unexpected message: %s", err.Message)
				}
			})
		}
	})
}

// MustDecode decodes a program and fails on error.
func MustDecode(tb testing.TB, src string) *vir.Program {
	tb.Helper()
	prog, err := vir.Decode(strings.NewReader(src), "test.yaml")
	if err != nil {
		tb.Fatal(err)
	}
	return prog
}

// DecodeError decodes a program that is expected to be rejected.
func DecodeError(tb testing.TB, src string) *vir.DecodeError {
	tb.Helper()
	_, err := vir.Decode(strings.NewReader(src), "test.yaml")
	var e *vir.DecodeError
	if !errors.As(err, &e) {
		tb.Fatalf("unexpected error: %v", err)
	}
	return e
}
