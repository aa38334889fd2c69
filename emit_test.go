package vcgen_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/benbjohnson/vcgen"
	"github.com/benbjohnson/vcgen/air"
	"github.com/google/go-cmp/cmp"
)

const incProgram = `
functions:
  - name: inc
    params:
      - {name: x, type: u8}
    ret: {name: r, type: u8}
    requires:
      - lt: [x, 255]
    ensures:
      - eq: [r, {add: [x, 1]}]
    body:
      add: [x, 1]
`

const countProgram = `
functions:
  - name: count
    params:
      - {name: n, type: int}
    requires:
      - ge: [n, 0]
    body:
      - let: i
        mut: true
        type: int
        init: 0
      - while: {lt: [i, n]}
        invariant:
          - le: [i, n]
        body:
          - assign: i
            value: {add: [i, 1]}
`

const closurePredProgram = `
functions:
  - name: f
    params:
      - {name: c, type: "fn(int) -> int"}
    body:
      - assume: {closure_req: c, args: [1]}
      - assert: {closure_ens: c, args: [1], ret: 2}
`

const pairProgram = `
datatypes:
  - name: Pair
    fields:
      - {name: a, type: u8}
      - {name: b, type: u8}
functions:
  - name: inc
    params:
      - {name: x, type: u8}
    ret: {name: r, type: u8}
    requires:
      - lt: [x, 255]
    ensures:
      - eq: [r, {add: [x, 1]}]
  - name: set_a
    params:
      - {name: p, type: Pair, mut: true}
      - {name: q, type: u8}
    requires:
      - lt: [q, 10]
    body:
      - assign: {field: p, name: a}
        value: {add: [q, 5]}
  - name: set_b
    params:
      - {name: p, type: Pair, mut: true}
      - {name: q, type: u8}
    requires:
      - lt: [q, 10]
    body:
      - assign: {field: p, name: b}
        value: {call: inc, args: [q]}
`

func TestContext_Emit(t *testing.T) {
	t.Run("Commands", func(t *testing.T) {
		cmds := MustEmit(t, MustNewContext(t, incProgram, vcgen.DefaultConfig()), "inc", false)
		if len(cmds) < 3 {
			t.Fatalf("unexpected command count: %d", len(cmds))
		} else if _, ok := cmds[0].(*air.Push); !ok {
			t.Fatalf("unexpected first command: %T", cmds[0])
		} else if _, ok := cmds[len(cmds)-2].(*air.CheckValid); !ok {
			t.Fatalf("unexpected query command: %T", cmds[len(cmds)-2])
		} else if _, ok := cmds[len(cmds)-1].(*air.Pop); !ok {
			t.Fatalf("unexpected last command: %T", cmds[len(cmds)-1])
		}
		for _, cmd := range cmds[1 : len(cmds)-2] {
			if _, ok := cmd.(*air.Global); !ok {
				t.Fatalf("unexpected command: %T", cmd)
			}
		}
	})

	t.Run("NoBody", func(t *testing.T) {
		ctx := MustNewContext(t, `
functions:
  - name: f
    params:
      - {name: a, type: int}
`, vcgen.DefaultConfig())
		if cmds := MustEmit(t, ctx, "f", false); len(cmds) != 0 {
			t.Fatalf("unexpected commands: %v", cmds)
		}
	})

	t.Run("SpecFunction", func(t *testing.T) {
		ctx := MustNewContext(t, `
functions:
  - name: double
    mode: spec
    params:
      - {name: a, type: int}
    ret: {name: r, type: int}
    body:
      mul: [a, 2]
  - name: f
    params:
      - {name: a, type: int}
    ensures:
      - eq: [{call: double, args: [a]}, {add: [a, a]}]
    body: []
`, vcgen.DefaultConfig())

		var globals []string
		for _, cmd := range MustEmit(t, ctx, "f", false) {
			if cmd, ok := cmd.(*air.Global); ok {
				globals = append(globals, fmt.Sprintf("%T", cmd.Decl))
			}
		}
		if diff := cmp.Diff([]string{"*air.FunDecl", "*air.Axiom"}, globals); diff != "" {
			t.Fatal(diff)
		}

		// Spec functions are only checked for recommendations.
		if cmds := MustEmit(t, ctx, "double", false); len(cmds) != 0 {
			t.Fatalf("unexpected commands: %d", len(cmds))
		}
	})

	t.Run("Datatypes", func(t *testing.T) {
		ctx := MustNewContext(t, `
datatypes:
  - name: S
    fields:
      - {name: x, type: u8}
      - {name: y, type: int}
  - name: List
    variants:
      - name: Nil
      - name: Cons
        fields:
          - {name: head, type: u8}
          - {name: tail, type: List}
functions:
  - name: f
    params:
      - {name: s, type: S}
      - {name: l, type: List}
    body:
      - assert: {le: [{field: s, name: x}, 255]}
`, vcgen.DefaultConfig())

		cmds := MustEmit(t, ctx, "f", false)
		var decls []string
		var query *air.Query
		for _, cmd := range cmds {
			switch cmd := cmd.(type) {
			case *air.Global:
				if decl, ok := cmd.Decl.(*air.DatatypeDecl); ok {
					decls = append(decls, decl.String())
				}
			case *air.CheckValid:
				query = cmd.Query
			}
		}
		if diff := cmp.Diff([]string{
			"(declare-datatypes ((S 0)) (((S.S (S.S.x Int) (S.S.y Int)))))",
			"(declare-datatypes ((List 0)) (((List.Nil) (List.Cons (List.Cons.head Int) (List.Cons.tail List)))))",
		}, decls); diff != "" {
			t.Fatal(diff)
		}

		// Parameters are assumed to hold in-range field values. The recursive
		// tail is left unconstrained.
		stmts := query.Assertion.(*air.Block).Stmts
		if diff := cmp.Diff([]string{
			"(assume (and (<= 0 (S.S.x s~0)) (<= (S.S.x s~0) 255)))",
			"(assume (=> (is-List.Cons l~0) (and (<= 0 (List.Cons.head l~0)) (<= (List.Cons.head l~0) 255))))",
		}, []string{stmts[0].String(), stmts[1].String()}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrMutuallyRecursiveDatatypes", func(t *testing.T) {
		ctx := MustNewContext(t, `
datatypes:
  - name: A
    fields:
      - {name: b, type: B}
  - name: B
    variants:
      - name: Leaf
      - name: Node
        fields:
          - {name: a, type: A}
functions:
  - name: f
    params:
      - {name: a, type: A}
    body: []
`, vcgen.DefaultConfig())

		_, err := ctx.Emit(MustLowerFunction(t, ctx, "f", false), false)
		var ie *vcgen.InternalError
		if !errors.As(err, &ie) {
			t.Fatalf("unexpected error: %v", err)
		} else if ie.Function != "f" || ie.Message != "assert: mutually recursive datatypes B and A" {
			t.Fatalf("unexpected internal error: %s", ie)
		}

		// The stack reaches back to the failed assertion.
		var found bool
		for _, frame := range ie.Stack {
			if strings.HasSuffix(frame.Func, "vcgen.assert") {
				found = true
			}
		}
		if !found {
			t.Fatalf("assertion frame missing from stack: %v", ie.Stack)
		}
	})

	t.Run("FieldAssign", func(t *testing.T) {
		ctx := MustNewContext(t, pairProgram, vcgen.DefaultConfig())

		// Assigning a field rebuilds the value through its constructor with
		// the other fields read back from the old value.
		var assign *air.Assign
		for _, cmd := range MustEmit(t, ctx, "set_a", false) {
			if cmd, ok := cmd.(*air.CheckValid); ok {
				for _, stmt := range cmd.Query.Assertion.(*air.Block).Stmts {
					if stmt, ok := stmt.(*air.Assign); ok && stmt.Name == "p~0" {
						assign = stmt
					}
				}
			}
		}
		if assign == nil {
			t.Fatal("expected assignment to p~0")
		}
		app, ok := assign.Expr.(*air.Apply)
		if !ok || app.Fun != "Pair.Pair" || len(app.Args) != 2 {
			t.Fatalf("unexpected value: %s", assign.Expr)
		} else if v, ok := app.Args[0].(*air.Var); !ok || !strings.HasPrefix(v.Name, "tmp%") {
			t.Fatalf("unexpected first field: %s", app.Args[0])
		} else if got := app.Args[1].String(); got != "(Pair.Pair.b p~0)" {
			t.Fatalf("unexpected second field: %s", got)
		}
	})

	t.Run("ClosurePredicates", func(t *testing.T) {
		ctx := MustNewContext(t, closurePredProgram, vcgen.DefaultConfig())

		// Both predicates apply the closure type's contract functions to the
		// closure value itself.
		var req, ens *air.Apply
		for _, cmd := range MustEmit(t, ctx, "f", false) {
			if cmd, ok := cmd.(*air.CheckValid); ok {
				walkAir(cmd.Query.Assertion, func(stmt air.Stmt) {
					switch stmt := stmt.(type) {
					case *air.Assume:
						if app, ok := stmt.Expr.(*air.Apply); ok && strings.HasPrefix(app.Fun, "req%") {
							req = app
						}
					case *air.Assert:
						if app, ok := stmt.Expr.(*air.Apply); ok && strings.HasPrefix(app.Fun, "ens%") {
							ens = app
						}
					}
				})
			}
		}
		if req == nil || len(req.Args) != 2 || req.Args[0].String() != "c~0" {
			t.Fatalf("unexpected closure_req: %v", req)
		} else if ens == nil || len(ens.Args) != 3 || ens.Args[2].String() != "2" {
			t.Fatalf("unexpected closure_ens: %v", ens)
		}
	})

	t.Run("Valid", func(t *testing.T) {
		for _, src := range []string{incProgram, countProgram} {
			ctx := MustNewContext(t, src, vcgen.DefaultConfig())
			name := ctx.Program().Functions[0].Name
			t.Run(name, func(t *testing.T) {
				backend := &recordingBackend{result: air.Unsat}
				results, err := air.NewRunner(backend).Run(context.Background(), MustEmit(t, ctx, name, false))
				if err != nil {
					t.Fatal(err)
				} else if len(results) != 1 || results[0].Status != air.StatusValid {
					t.Fatalf("unexpected results: %#v", results)
				} else if backend.depth != 0 {
					t.Fatalf("unbalanced scopes: %d", backend.depth)
				} else if backend.pushN != backend.popN {
					t.Fatalf("push/pop mismatch: %d != %d", backend.pushN, backend.popN)
				}
			})
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		ctx := MustNewContext(t, incProgram, vcgen.DefaultConfig())
		result := MustCheck(t, ctx, "inc", false, air.Sat)
		if diff := cmp.Diff([]string{
			"possible arithmetic underflow/overflow",
			"postcondition not satisfied",
		}, diagnosticMessages(result.Errors)); diff != "" {
			t.Fatal(diff)
		}

		post := result.Errors[1]
		if n := len(post.Labels); n != 2 {
			t.Fatalf("unexpected label count: %d", n)
		} else if post.Labels[0].Message != "at the end of the function body" {
			t.Fatalf("unexpected label: %s", post.Labels[0].Message)
		} else if post.Labels[1].Message != "failed this postcondition" {
			t.Fatalf("unexpected label: %s", post.Labels[1].Message)
		}
	})

	t.Run("LoopInvariants", func(t *testing.T) {
		ctx := MustNewContext(t, countProgram, vcgen.DefaultConfig())
		result := MustCheck(t, ctx, "count", false, air.Sat)
		if diff := cmp.Diff([]string{
			"invariant not satisfied before loop",
			"invariant not satisfied at end of loop body",
		}, diagnosticMessages(result.Errors)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Split", func(t *testing.T) {
		ctx := MustNewContext(t, `
functions:
  - name: f
    params:
      - {name: a, type: int}
    body:
      - assert: {and: [{gt: [a, 0]}, {lt: [a, 10]}]}
`, vcgen.DefaultConfig())

		result := MustCheck(t, ctx, "f", false, air.Sat)
		if diff := cmp.Diff([]string{"assertion failed"}, diagnosticMessages(result.Errors)); diff != "" {
			t.Fatal(diff)
		}

		result = MustCheck(t, ctx, "f", true, air.Sat)
		if diff := cmp.Diff([]string{"assertion failed", "assertion failed"}, diagnosticMessages(result.Errors)); diff != "" {
			t.Fatal(diff)
		}
		for _, diag := range result.Errors {
			if label := diag.Labels[len(diag.Labels)-1]; label.Message != "split assertion failure" {
				t.Fatalf("unexpected label: %s", label.Message)
			}
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		ctx := MustNewContext(t, incProgram, vcgen.DefaultConfig())
		result := MustCheck(t, ctx, "inc", false, air.Unknown)
		if result.Status != air.StatusUnknown {
			t.Fatalf("unexpected status: %s", result.Status)
		} else if result.Reason != "canceled" {
			t.Fatalf("unexpected reason: %s", result.Reason)
		}
	})
}

func TestContext_EmitProgram(t *testing.T) {
	ctx := MustNewContext(t, incProgram+`
  - name: twice
    params:
      - {name: x, type: u8}
    requires:
      - lt: [x, 250]
    body:
      - let: y
        init: {call: inc, args: [x]}
      - let: z
        init: {call: inc, args: [y]}
      - assert: {eq: [z, {add: [x, 2]}]}
`, vcgen.DefaultConfig())

	cmds, err := ctx.EmitProgram(false)
	if err != nil {
		t.Fatal(err)
	}

	var checks int
	for _, cmd := range cmds {
		if _, ok := cmd.(*air.CheckValid); ok {
			checks++
		}
	}
	if checks != 2 {
		t.Fatalf("unexpected query count: %d", checks)
	}

	backend := &recordingBackend{result: air.Unsat}
	if results, err := air.NewRunner(backend).Run(context.Background(), cmds); err != nil {
		t.Fatal(err)
	} else if len(results) != 2 {
		t.Fatalf("unexpected result count: %d", len(results))
	} else if backend.depth != 0 {
		t.Fatalf("unbalanced scopes: %d", backend.depth)
	}
}

// MustEmit lowers and emits a function and fails on error.
func MustEmit(tb testing.TB, ctx *vcgen.Context, name string, split bool) []air.Command {
	tb.Helper()
	cmds, err := ctx.Emit(MustLowerFunction(tb, ctx, name, split), split)
	if err != nil {
		tb.Fatal(err)
	}
	return cmds
}

// MustCheck runs the commands of a function against a backend that gives
// the same answer to every check.
func MustCheck(tb testing.TB, ctx *vcgen.Context, name string, split bool, sat air.SatResult) *air.Result {
	tb.Helper()
	results, err := air.NewRunner(&recordingBackend{result: sat}).Run(context.Background(), MustEmit(tb, ctx, name, split))
	if err != nil {
		tb.Fatal(err)
	} else if len(results) != 1 {
		tb.Fatalf("unexpected result count: %d", len(results))
	}
	return results[0]
}

// walkAir calls fn for stmt and every statement nested in it.
func walkAir(stmt air.Stmt, fn func(air.Stmt)) {
	fn(stmt)
	switch stmt := stmt.(type) {
	case *air.Block:
		for _, s := range stmt.Stmts {
			walkAir(s, fn)
		}
	case *air.Switch:
		for _, s := range stmt.Cases {
			walkAir(s, fn)
		}
	case *air.DeadEnd:
		walkAir(stmt.Stmt, fn)
	}
}

func diagnosticMessages(a []*air.Diagnostic) []string {
	var s []string
	for _, diag := range a {
		s = append(s, diag.Message)
	}
	return s
}

// recordingBackend is an air.Backend that answers every check with result
// and tracks the depth of its scope stack.
type recordingBackend struct {
	result air.SatResult

	depth  int
	pushN  int
	popN   int
	checkN int
	closed bool
}

func (b *recordingBackend) Push() error {
	b.depth++
	b.pushN++
	return nil
}

func (b *recordingBackend) Pop() error {
	if b.depth == 0 {
		return air.ErrUnbalancedScopes
	}
	b.depth--
	b.popN++
	return nil
}

func (b *recordingBackend) DeclareSort(name string) error                               { return nil }
func (b *recordingBackend) DeclareDatatype(decl *air.DatatypeDecl) error                { return nil }
func (b *recordingBackend) DeclareConst(name string, typ air.Typ) error                 { return nil }
func (b *recordingBackend) DeclareFun(name string, params []air.Typ, ret air.Typ) error { return nil }
func (b *recordingBackend) Assert(expr air.Expr) error                                  { return nil }

func (b *recordingBackend) Check(ctx context.Context) (air.CheckResult, error) {
	b.checkN++
	if b.result == air.Unknown {
		return air.CheckResult{Sat: air.Unknown, Reason: "canceled"}, nil
	}
	return air.CheckResult{Sat: b.result}, nil
}

func (b *recordingBackend) Close() error {
	b.closed = true
	return nil
}
