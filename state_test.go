package vcgen_test

import (
	"go/token"
	"testing"

	"github.com/benbjohnson/vcgen"
	"github.com/benbjohnson/vcgen/vir"
	"github.com/google/go-cmp/cmp"
)

func TestState_DeclareNewVar(t *testing.T) {
	t.Run("Shadowing", func(t *testing.T) {
		s := vcgen.NewState(nil, "f")
		outer := s.DeclareNewVar("x", vir.Int, false, true)

		s.PushScope()
		inner := s.DeclareNewVar("x", vir.Int, true, true)
		if got := s.Lookup("x"); got != inner {
			t.Fatalf("unexpected binding: %s", got)
		}
		s.PopScope()

		if got := s.Lookup("x"); got != outer {
			t.Fatalf("unexpected binding after pop: %s", got)
		} else if outer.String() != "x~1" || inner.String() != "x~2" {
			t.Fatalf("unexpected identifiers: %s, %s", outer, inner)
		}
	})

	t.Run("NoRename", func(t *testing.T) {
		s := vcgen.NewState(nil, "f")
		if id := s.DeclareNewVar("a", vir.Int, false, false); id.String() != "a~0" {
			t.Fatalf("unexpected identifier: %s", id)
		}
		s.PushScope()
		if id := s.DeclareNewVar("a", vir.Int, false, true); id.String() != "a~1" {
			t.Fatalf("unexpected identifier: %s", id)
		}
	})

	t.Run("LocalDecls", func(t *testing.T) {
		s := vcgen.NewState(nil, "f")
		s.DeclareNewVar("x", vir.Int, false, true)
		s.PushScope()
		s.DeclareNewVar("x", vir.Bool, true, true)
		s.NextTemp(token.Position{}, vir.Int)
		s.PopScope()

		// Declarations outlive their scope.
		if diff := cmp.Diff([]string{"x~1 int", "x~2 bool", "tmp%1 int"}, formatLocals(s.LocalDecls())); diff != "" {
			t.Fatal(diff)
		}
		s.Finalize()
	})

	t.Run("ErrDuplicate", func(t *testing.T) {
		s := vcgen.NewState(nil, "f")
		s.DeclareNewVar("x", vir.Int, false, true)
		if r := catchPanic(func() { s.DeclareNewVar("x", vir.Int, false, true) }); r == nil {
			t.Fatal("expected panic")
		}
	})
}

func TestState_DeclareExpressionVar(t *testing.T) {
	s := vcgen.NewState(nil, "f")
	s.DeclareNewVar("x", vir.Int, false, true)

	s.PushScope()
	if id := s.DeclareExpressionVar("x"); !id.IsBound() || id.String() != "x" {
		t.Fatalf("unexpected identifier: %s", id)
	} else if got := s.Lookup("x"); got != id {
		t.Fatalf("unexpected binding: %s", got)
	}
	s.PopScope()

	if got := s.Lookup("x"); got.String() != "x~1" {
		t.Fatalf("unexpected binding after pop: %s", got)
	} else if n := len(s.LocalDecls()); n != 1 {
		t.Fatalf("bound variables must not be locals: %d", n)
	}
}

func TestState_NextTemp(t *testing.T) {
	s := vcgen.NewState(nil, "f")
	a, b := s.NextTemp(token.Position{}, vir.Int), s.NextTemp(token.Position{}, vir.Bool)
	if a.String() != "tmp%1" || b.String() != "tmp%2" {
		t.Fatalf("unexpected temporaries: %s, %s", a, b)
	}
}

func TestState_Lookup(t *testing.T) {
	t.Run("ErrUnbound", func(t *testing.T) {
		s := vcgen.NewState(nil, "f")
		if r := catchPanic(func() { s.Lookup("nope") }); r == nil {
			t.Fatal("expected panic")
		}
	})
}

func TestState_Finalize(t *testing.T) {
	t.Run("ErrOpenScope", func(t *testing.T) {
		s := vcgen.NewState(nil, "f")
		s.PushScope()
		if r := catchPanic(s.Finalize); r == nil {
			t.Fatal("expected panic")
		}
	})
}

func catchPanic(fn func()) (r interface{}) {
	defer func() { r = recover() }()
	fn()
	return nil
}
