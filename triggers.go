package vcgen

import (
	"go/token"
	"sort"
)

// TriggerSelector chooses instantiation triggers for a binder that has
// none. If isLambda is set an empty result is allowed; otherwise the
// selector must return at least one trigger or an error.
type TriggerSelector interface {
	SelectTriggers(span token.Position, vars []*VarBinder, body Exp, boxedParams, isLambda bool) ([]Trigger, error)
}

// Ensure type implements interface.
var _ TriggerSelector = (*AutoTriggers)(nil)

// AutoTriggers selects triggers from the function applications, field
// projections, and lambda applications in a binder's body.
type AutoTriggers struct{}

// SelectTriggers implements TriggerSelector.
//
// Candidate terms mention at least one bound variable and use bound
// variables only as direct arguments. If any candidate mentions every bound
// variable, each minimal such candidate becomes a trigger. Otherwise the
// candidates are combined greedily into a single multi-term trigger.
func (*AutoTriggers) SelectTriggers(span token.Position, vars []*VarBinder, body Exp, boxedParams, isLambda bool) ([]Trigger, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	bound := make(map[UniqueIdent]bool, len(vars))
	for _, v := range vars {
		bound[v.Ident] = true
	}

	var cands []*triggerCandidate
	seen := make(map[string]bool)
	collectCandidates(body, bound, func(c *triggerCandidate) {
		if key := c.exp.String(); !seen[key] {
			seen[key] = true
			cands = append(cands, c)
		}
	})

	// Single-term triggers that cover every variable.
	var covering []*triggerCandidate
	for _, c := range cands {
		if len(c.vars) == len(bound) {
			covering = append(covering, c)
		}
	}
	if len(covering) > 0 {
		var triggers []Trigger
		for _, c := range covering {
			if !containsCandidate(c, covering) {
				triggers = append(triggers, Trigger{c.exp})
			}
		}
		return triggers, nil
	}

	// Greedy cover, preferring terms that cover more variables and then
	// smaller terms.
	sorted := append([]*triggerCandidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].vars) != len(sorted[j].vars) {
			return len(sorted[i].vars) > len(sorted[j].vars)
		}
		return sorted[i].size < sorted[j].size
	})
	covered := make(map[UniqueIdent]bool)
	var trigger Trigger
	for _, c := range sorted {
		var adds bool
		for id := range c.vars {
			if !covered[id] {
				adds = true
			}
		}
		if !adds {
			continue
		}
		trigger = append(trigger, c.exp)
		for id := range c.vars {
			covered[id] = true
		}
		if len(covered) == len(bound) {
			return []Trigger{trigger}, nil
		}
	}

	if isLambda {
		return nil, nil
	}
	return nil, errorf(span, "no trigger found")
}

type triggerCandidate struct {
	exp  Exp
	vars map[UniqueIdent]bool
	size int
}

// containsCandidate returns true if another candidate is a proper subterm
// of c.
func containsCandidate(c *triggerCandidate, cands []*triggerCandidate) bool {
	for _, other := range cands {
		if other != c && other.size < c.size && containsExp(c.exp, other.exp.String()) {
			return true
		}
	}
	return false
}

func containsExp(e Exp, key string) bool {
	if e.String() == key {
		return true
	}
	var found bool
	_, _ = mapChildren(e, func(child Exp) (Exp, error) {
		if !found && containsExp(child, key) {
			found = true
		}
		return child, nil
	})
	return found
}

// collectCandidates calls fn for every trigger candidate in e in pre-order.
// Binders nested in e hide their own variables.
func collectCandidates(e Exp, bound map[UniqueIdent]bool, fn func(*triggerCandidate)) {
	switch x := e.(type) {
	case *CallExp, *FieldExp, *CallLambdaExp:
		if vars, size, ok := triggerTerm(x, bound); ok && len(vars) > 0 {
			fn(&triggerCandidate{exp: x, vars: vars, size: size})
		}
	case *UnaryExp:
		if x.Op == OpMustBeFinalized {
			collectCandidates(x.Exp, bound, fn)
			return
		}
	case *BindExp:
		inner := make(map[UniqueIdent]bool, len(bound))
		for id := range bound {
			inner[id] = true
		}
		for _, id := range bndVars(x.Bnd) {
			delete(inner, id)
		}
		if bnd, ok := x.Bnd.(*LetBnd); ok {
			for _, b := range bnd.Binders {
				collectCandidates(b.Exp, bound, fn)
			}
		} else if bnd, ok := x.Bnd.(*ChooseBnd); ok {
			collectCandidates(bnd.Cond, inner, fn)
		}
		collectCandidates(x.Body, inner, fn)
		return
	}
	_, _ = mapChildren(e, func(child Exp) (Exp, error) {
		collectCandidates(child, bound, fn)
		return child, nil
	})
}

// triggerTerm returns the bound variables of e and its size if e can be
// used in a trigger: an application whose bound variables occur only as
// direct arguments or inside nested applications.
func triggerTerm(e Exp, bound map[UniqueIdent]bool) (map[UniqueIdent]bool, int, bool) {
	vars := make(map[UniqueIdent]bool)
	size := 0
	var visit func(e Exp, top bool) bool
	visit = func(e Exp, top bool) bool {
		size++
		switch x := e.(type) {
		case *VarExp:
			if bound[x.Ident] {
				vars[x.Ident] = true
			}
			return true
		case *ConstExp:
			return true
		case *UnaryExp:
			if x.Op == OpMustBeFinalized {
				size--
				return visit(x.Exp, top)
			}
		case *CallExp:
			for _, arg := range x.Args {
				if !visit(arg, false) {
					return false
				}
			}
			return true
		case *FieldExp:
			return visit(x.Exp, false)
		case *CallLambdaExp:
			if !visit(x.Fun, false) {
				return false
			}
			for _, arg := range x.Args {
				if !visit(arg, false) {
					return false
				}
			}
			return true
		}

		// Any other structure is allowed only if it is closed over the
		// bound variables.
		free := make(map[UniqueIdent]bool)
		freeVars(e, free)
		for id := range free {
			if bound[id] {
				return false
			}
		}
		return !top
	}
	if !visit(e, true) {
		return nil, 0, false
	}
	return vars, size, true
}
