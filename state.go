package vcgen

import (
	"go/token"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/benbjohnson/vcgen/vir"
)

// State holds the per-function state of lowering: the lexical scope stack,
// rename counters, temporaries, and the local declarations collected so far.
// A State is owned by a single goroutine.
type State struct {
	ctx *Context
	fn  string

	// Each scope maps every visible surface name to its binding. Pushing a
	// scope shares structure with the parent map.
	scopes []*immutable.Map[string, scopeEntry]

	renameCounters map[string]int
	nextTemp       int
	localDecls     []*LocalDecl

	// Variables folded into let binders. The finalizer rewrites references
	// to them as bound identifiers.
	dontRename map[UniqueIdent]bool

	// Nonzero while lowering a context in which recommendations are not
	// checked, such as a requires clause or a quantifier body.
	disableRecommends int

	// Set while lowering the body of an exec closure.
	containingClosure *closureState

	viewAsSpec         bool
	checkingRecommends bool
	split              bool
}

type scopeEntry struct {
	ident UniqueIdent
	depth int
}

// closureState describes the closure whose body is being lowered.
type closureState struct {
	ret     UniqueIdent
	retTyp  vir.Typ
	ensures []Exp
}

// NewState returns a new state for lowering fn with the root scope open.
func NewState(ctx *Context, fn string) *State {
	s := &State{
		ctx:            ctx,
		fn:             fn,
		renameCounters: make(map[string]int),
		dontRename:     make(map[UniqueIdent]bool),
	}
	if ctx != nil {
		s.checkingRecommends = ctx.Config.CheckingRecommends
	}
	s.scopes = []*immutable.Map[string, scopeEntry]{immutable.NewMap[string, scopeEntry](nil)}
	return s
}

// PushScope opens a new innermost scope.
func (s *State) PushScope() {
	s.scopes = append(s.scopes, s.scopes[len(s.scopes)-1])
}

// PopScope closes the innermost scope. Local declarations made in the scope
// are kept.
func (s *State) PopScope() {
	assert(len(s.scopes) > 0, "pop of empty scope stack")
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// Depth returns the number of open scopes.
func (s *State) Depth() int { return len(s.scopes) }

func (s *State) insert(name string, ident UniqueIdent) {
	depth := len(s.scopes) - 1
	assert(depth >= 0, "declaration of %s with no open scope", name)
	m := s.scopes[depth]
	if prev, ok := m.Get(name); ok {
		assert(prev.depth != depth, "%s declared twice in the same scope", name)
	}
	s.scopes[depth] = m.Set(name, scopeEntry{ident: ident, depth: depth})
}

// DeclareNewVar declares a statement-level variable in the innermost scope
// and records its local declaration. If mayRename is set the variable gets a
// fresh counter so it may shadow an outer variable with the same name.
func (s *State) DeclareNewVar(name string, typ vir.Typ, mutable, mayRename bool) UniqueIdent {
	ident := UniqueIdent{Name: name}
	if mayRename {
		s.renameCounters[name]++
		ident.Local = s.renameCounters[name]
	}
	s.insert(name, ident)
	s.localDecls = append(s.localDecls, &LocalDecl{Ident: ident, Typ: typ, Mutable: mutable})
	return ident
}

// DeclareExpressionVar declares a variable bound by a quantifier, lambda,
// or choose in the innermost scope.
func (s *State) DeclareExpressionVar(name string) UniqueIdent {
	ident := BoundIdent(name)
	s.insert(name, ident)
	return ident
}

// Lookup returns the binding of name in the nearest enclosing scope.
func (s *State) Lookup(name string) UniqueIdent {
	assert(len(s.scopes) > 0, "lookup of %s with no open scope", name)
	entry, ok := s.scopes[len(s.scopes)-1].Get(name)
	assert(ok, "unbound variable %s", name)
	return entry.ident
}

// NextTemp allocates a temporary of type typ.
func (s *State) NextTemp(span token.Position, typ vir.Typ) UniqueIdent {
	s.nextTemp++
	ident := UniqueIdent{Name: TempName, Local: s.nextTemp}
	s.localDecls = append(s.localDecls, &LocalDecl{Ident: ident, Typ: typ, Mutable: true})
	return ident
}

// LocalDecls returns the local declarations made so far.
func (s *State) LocalDecls() []*LocalDecl { return s.localDecls }

// removeLocal drops the declaration of a variable that was folded into a
// let binder.
func (s *State) removeLocal(ident UniqueIdent) {
	for i, decl := range s.localDecls {
		if decl.Ident == ident {
			s.localDecls = append(s.localDecls[:i:i], s.localDecls[i+1:]...)
			return
		}
	}
}

// Finalize closes the root scope. Every other scope must already be closed.
func (s *State) Finalize() {
	assert(len(s.scopes) == 1, "%d scopes left open", len(s.scopes)-1)
	s.PopScope()
}

// recommends returns true if recommendations are checked at this point.
func (s *State) recommends() bool {
	return s.checkingRecommends && s.disableRecommends == 0
}

// stringComparer compares strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b,
// and returns 0 if a is equal to b.
func (c *stringComparer) Compare(a, b string) int {
	return strings.Compare(a, b)
}
