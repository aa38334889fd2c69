package vcgen

import (
	"github.com/benbjohnson/vcgen/vir"
)

// lowerLoop lowers a while loop or an unconditional loop.
//
// A simple while loop, one with a condition, no break, and only plain
// invariants, keeps its condition: its invariants hold on exit and the
// condition's statements are re-run on both paths. Any other loop becomes
// an unconditional loop whose body first evaluates the condition and breaks
// when it is false.
func (s *State) lowerLoop(e *vir.Loop) ([]Stm, ReturnValue, error) {
	breaks := hasBreak(e.Label, e.Body)
	simple := e.Cond != nil && !breaks
	for _, inv := range e.Invariants {
		if inv.Kind != vir.Invariant {
			simple = false
		}
	}

	invs := make([]*LoopInv, 0, len(e.Invariants))
	for _, inv := range e.Invariants {
		exp, err := s.lowerPure(inv.Expr)
		if err != nil {
			return nil, nil, err
		}
		atEntry, atExit := invariantFlags(inv.Kind, simple)
		invs = append(invs, &LoopInv{Exp: exp, AtEntry: atEntry, AtExit: atExit})
	}

	var cond *LoopCond
	var body []Stm
	if e.Cond != nil {
		stms, c, err := s.lowerValue(e.Cond)
		if err != nil {
			return nil, nil, err
		} else if c == nil {
			return stms, Never, nil
		}

		if simple {
			cond = &LoopCond{Exp: c}
			if len(stms) > 0 {
				cond.Stm = blockStm(e.Cond.Pos(), stms)
			}
		} else {
			if len(stms) > 0 {
				body = append(body, blockStm(e.Cond.Pos(), stms))
			}
			brk := &BreakStm{StmInfo: StmInfo{Span: e.Cond.Pos()}, Label: e.Label, IsBreak: true}
			body = append(body, &IfStm{
				StmInfo: StmInfo{Span: e.Cond.Pos()},
				Cond:    notExp(c),
				Then:    blockStm(e.Cond.Pos(), []Stm{brk}),
			})
		}
	}

	stms, _, err := s.lower(e.Body)
	if err != nil {
		return nil, nil, err
	}
	body = append(body, stms...)

	loop := &LoopStm{
		StmInfo: StmInfo{Span: e.Span},
		Label:   e.Label,
		Cond:    cond,
		Body:    blockStm(e.Span, body),
		Invs:    invs,
	}

	// Only a break can leave an unconditional loop.
	if e.Cond == nil && !breaks {
		return []Stm{loop, assumeFalse(e.Span)}, Never, nil
	}
	return []Stm{loop}, &ImplicitUnit{Span: e.Span}, nil
}

// invariantFlags returns whether an invariant of the given kind is checked
// on entry to the loop body and assumed on exit from the loop.
func invariantFlags(kind vir.InvariantKind, simple bool) (atEntry, atExit bool) {
	switch kind {
	case vir.Ensures:
		return false, true
	case vir.InvariantEnsures:
		return true, true
	default:
		return true, simple
	}
}

// hasBreak returns true if body syntactically contains a break out of the
// loop labeled label. Unlabeled breaks in nested loops and any break inside
// a closure are ignored.
func hasBreak(label string, body vir.Expr) bool {
	var found bool
	var visit func(expr vir.Expr, nested bool)
	visit = func(expr vir.Expr, nested bool) {
		vir.Inspect(expr, func(expr vir.Expr) bool {
			switch e := expr.(type) {
			case *vir.BreakOrContinue:
				if e.IsBreak && ((e.Label == "" && !nested) || (e.Label != "" && e.Label == label)) {
					found = true
				}
			case *vir.Loop:
				for _, child := range vir.Children(e) {
					visit(child, true)
				}
				return false
			case *vir.Closure:
				return false
			}
			return !found
		})
	}
	visit(body, false)
	return found
}
