package vcgen_test

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/vcgen"
	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/smtlib"
	"github.com/google/go-cmp/cmp"
)

const verifyProgram = incProgram + `
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
  - name: check
    params:
      - {name: a, type: int}
    body:
      - assert: {and: [{gt: [a, 0]}, {lt: [a, 10]}]}
`

func TestVerifier_Verify(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		v, backends := NewTestVerifier(t, verifyProgram, vcgen.DefaultConfig(), air.Unsat)
		report, err := v.Verify(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]string{"inc valid", "max skipped", "check valid"}, formatReport(report)); diff != "" {
			t.Fatal(diff)
		} else if !report.OK() {
			t.Fatal("expected ok")
		}
		if verified, failed, unknown := report.Counts(); verified != 2 || failed != 0 || unknown != 0 {
			t.Fatalf("unexpected counts: %d/%d/%d", verified, failed, unknown)
		}

		// Every session is closed with its scopes balanced.
		if n := backends.len(); n != 2 {
			t.Fatalf("unexpected session count: %d", n)
		}
		for _, b := range backends.all() {
			if !b.closed {
				t.Fatal("expected backend to be closed")
			} else if b.depth != 0 {
				t.Fatalf("unbalanced scopes: %d", b.depth)
			}
		}
	})

	t.Run("Failed", func(t *testing.T) {
		v, _ := NewTestVerifier(t, verifyProgram, vcgen.DefaultConfig(), air.Sat)
		report, err := v.Verify(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]string{"inc invalid", "max skipped", "check invalid"}, formatReport(report)); diff != "" {
			t.Fatal(diff)
		} else if report.OK() {
			t.Fatal("expected failure")
		}

		// Without splitting, the compound assertion fails as a whole.
		if n := len(report.Functions[2].Errors); n != 1 {
			t.Fatalf("unexpected error count: %d", n)
		}
	})

	t.Run("Split", func(t *testing.T) {
		config := vcgen.DefaultConfig()
		config.Split = true
		v, backends := NewTestVerifier(t, verifyProgram, config, air.Sat)

		result := v.VerifyFunction(context.Background(), "check")
		if result.Err != nil {
			t.Fatal(result.Err)
		} else if result.Status != air.StatusInvalid {
			t.Fatalf("unexpected status: %s", result.Status)
		} else if n := len(result.Errors); n != 2 {
			t.Fatalf("unexpected error count: %d", n)
		} else if n := backends.len(); n != 2 {
			t.Fatalf("expected a second session for the split check, got %d", n)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		v, _ := NewTestVerifier(t, verifyProgram, vcgen.DefaultConfig(), air.Unknown)
		result := v.VerifyFunction(context.Background(), "inc")
		if result.Status != air.StatusUnknown {
			t.Fatalf("unexpected status: %s", result.Status)
		} else if result.Reason != "canceled" {
			t.Fatalf("unexpected reason: %s", result.Reason)
		}

		report := &vcgen.Report{Functions: []*vcgen.FunctionResult{result}}
		if _, _, unknown := report.Counts(); unknown != 1 {
			t.Fatalf("unexpected unknown count: %d", unknown)
		} else if report.OK() {
			t.Fatal("expected unknown report to fail")
		}
	})

	t.Run("ErrFunctionNotFound", func(t *testing.T) {
		v, _ := NewTestVerifier(t, verifyProgram, vcgen.DefaultConfig(), air.Unsat)
		if result := v.VerifyFunction(context.Background(), "nope"); !errors.Is(result.Err, vcgen.ErrFunctionNotFound) {
			t.Fatalf("unexpected error: %v", result.Err)
		}
	})

	t.Run("ErrNoBackend", func(t *testing.T) {
		v := vcgen.NewVerifier(MustNewContext(t, incProgram, vcgen.DefaultConfig()))
		if result := v.VerifyFunction(context.Background(), "inc"); !errors.Is(result.Err, vcgen.ErrNoBackend) {
			t.Fatalf("unexpected error: %v", result.Err)
		}
	})

	t.Run("ErrOpenBackend", func(t *testing.T) {
		v := vcgen.NewVerifier(MustNewContext(t, incProgram, vcgen.DefaultConfig()))
		v.NewBackend = func() (air.Backend, error) { return nil, errors.New("marker") }

		result := v.VerifyFunction(context.Background(), "inc")
		if result.Err == nil || result.Err.Error() != "open solver: marker" {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if _, failed, _ := (&vcgen.Report{Functions: []*vcgen.FunctionResult{result}}).Counts(); failed != 1 {
			t.Fatalf("unexpected failed count: %d", failed)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		v, _ := NewTestVerifier(t, verifyProgram, vcgen.DefaultConfig(), air.Unsat)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := v.Verify(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

// Ensure the generated queries are accepted and decided by a real solver.
func TestVerifier_Z3(t *testing.T) {
	path, err := exec.LookPath("z3")
	if err != nil {
		t.Skip("z3 not found")
	}

	ctx := MustNewContext(t, incProgram+`
  - name: inc_unchecked
    params:
      - {name: x, type: u8}
    ret: {name: r, type: u8}
    body:
      add: [x, 1]
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
      - assert: {eq: [i, n]}
`, vcgen.DefaultConfig())

	v := vcgen.NewVerifier(ctx)
	v.NewBackend = func() (air.Backend, error) {
		return smtlib.Start(path, []string{"-in"}, vcgen.DefaultRLimit)
	}

	report, err := v.Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"inc valid", "inc_unchecked invalid", "count valid"}, formatReport(report)); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]string{"possible arithmetic underflow/overflow"}, diagnosticMessages(report.Functions[1].Errors)); diff != "" {
		t.Fatal(diff)
	}
}

// NewTestVerifier returns a verifier whose sessions answer every check with
// result. The returned set holds every session opened.
func NewTestVerifier(tb testing.TB, src string, config vcgen.Config, result air.SatResult) (*vcgen.Verifier, *backendSet) {
	tb.Helper()
	v := vcgen.NewVerifier(MustNewContext(tb, src, config))
	set := &backendSet{}
	v.NewBackend = func() (air.Backend, error) {
		b := &recordingBackend{result: result}
		set.add(b)
		return b, nil
	}
	return v, set
}

// backendSet collects backends opened by concurrent workers.
type backendSet struct {
	mu sync.Mutex
	a  []*recordingBackend
}

func (s *backendSet) add(b *recordingBackend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a = append(s.a, b)
}

func (s *backendSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.a)
}

func (s *backendSet) all() []*recordingBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*recordingBackend(nil), s.a...)
}

func formatReport(report *vcgen.Report) []string {
	var a []string
	for _, fr := range report.Functions {
		switch {
		case fr.Err != nil:
			a = append(a, fr.Name+" error: "+fr.Err.Error())
		case fr.Skipped:
			a = append(a, fr.Name+" skipped")
		default:
			a = append(a, strings.Join([]string{fr.Name, fr.Status.String()}, " "))
		}
	}
	return a
}
