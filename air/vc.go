package air

import (
	"fmt"
	"sort"
)

// VC is the verification condition of a query. The query is valid iff Expr
// holds for every value of the constants in Decls.
type VC struct {
	// Versioned constants standing for the mutable variables of the query.
	Decls []Declaration

	Expr Expr

	// Diagnostics of the query's asserts, indexed by position in the
	// assertion.
	Asserts []*Diagnostic
}

// GenerateVC converts a query into a verification condition. Mutable
// variables are put into static single assignment form so each assignment
// introduces a new constant x@n. If focus is non-negative, only the assert
// with that index is checked and every other assert is assumed.
func GenerateVC(q *Query, focus int) (*VC, error) {
	g := &vcGenerator{
		focus:    focus,
		mutable:  make(map[string]Typ),
		versions: make(map[string]int),
		counters: make(map[string]int),
	}
	for _, decl := range q.Locals {
		if decl, ok := decl.(*VarDecl); ok {
			g.mutable[decl.Var] = decl.Typ
			g.decls = append(g.decls, &ConstDecl{Const: versionName(decl.Var, 0), Typ: decl.Typ})
		}
	}

	p, err := g.passive(q.Assertion)
	if err != nil {
		return nil, err
	}
	return &VC{
		Decls:   g.decls,
		Expr:    g.wp(p, BoolConst(true)),
		Asserts: g.asserts,
	}, nil
}

func versionName(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}

type vcGenerator struct {
	focus    int
	mutable  map[string]Typ
	versions map[string]int // current version per variable
	counters map[string]int // last allocated version per variable
	decls    []Declaration
	asserts  []*Diagnostic
	lets     int
}

// passiveStmt is a statement with no assignments.
type passiveStmt interface {
	passiveStmt()
}

func (*passiveAssume) passiveStmt()  {}
func (*passiveAssert) passiveStmt()  {}
func (*passiveSeq) passiveStmt()     {}
func (*passiveChoice) passiveStmt()  {}
func (*passiveDeadEnd) passiveStmt() {}

type passiveAssume struct{ expr Expr }

type passiveAssert struct{ expr Expr }

type passiveSeq struct{ stmts []passiveStmt }

type passiveChoice struct{ cases []passiveStmt }

type passiveDeadEnd struct{ stmt passiveStmt }

func (g *vcGenerator) next(name string) string {
	g.counters[name]++
	v := g.counters[name]
	g.versions[name] = v
	versioned := versionName(name, v)
	g.decls = append(g.decls, &ConstDecl{Const: versioned, Typ: g.mutable[name]})
	return versioned
}

func (g *vcGenerator) snapshot() map[string]int {
	other := make(map[string]int, len(g.versions))
	for k, v := range g.versions {
		other[k] = v
	}
	return other
}

func (g *vcGenerator) passive(stmt Stmt) (passiveStmt, error) {
	switch stmt := stmt.(type) {
	case *Assume:
		return &passiveAssume{expr: g.rename(stmt.Expr, nil)}, nil

	case *Assert:
		id := len(g.asserts)
		g.asserts = append(g.asserts, stmt.Error)
		expr := g.rename(stmt.Expr, nil)
		if g.focus >= 0 && id != g.focus {
			return &passiveAssume{expr: expr}, nil
		}
		return &passiveAssert{expr: expr}, nil

	case *Havoc:
		if _, ok := g.mutable[stmt.Name]; !ok {
			return nil, fmt.Errorf("havoc %s: %w", stmt.Name, ErrUndeclared)
		}
		g.next(stmt.Name)
		return &passiveSeq{}, nil

	case *Assign:
		if _, ok := g.mutable[stmt.Name]; !ok {
			return nil, fmt.Errorf("assign %s: %w", stmt.Name, ErrUndeclared)
		}
		rhs := g.rename(stmt.Expr, nil)
		lhs := g.next(stmt.Name)
		return &passiveAssume{expr: NewEq(&Var{Name: lhs}, rhs)}, nil

	case *Block:
		seq := &passiveSeq{}
		for _, s := range stmt.Stmts {
			p, err := g.passive(s)
			if err != nil {
				return nil, err
			}
			seq.stmts = append(seq.stmts, p)
		}
		return seq, nil

	case *Switch:
		return g.passiveSwitch(stmt)

	case *DeadEnd:
		saved := g.snapshot()
		p, err := g.passive(stmt.Stmt)
		if err != nil {
			return nil, err
		}
		g.versions = saved
		return &passiveDeadEnd{stmt: p}, nil

	default:
		return nil, fmt.Errorf("air.GenerateVC: invalid statement type: %T", stmt)
	}
}

// passiveSwitch translates each case from the same starting versions and
// then joins them: every variable whose version differs between cases gets
// a fresh version equal to the case's final version at the end of each case.
func (g *vcGenerator) passiveSwitch(stmt *Switch) (passiveStmt, error) {
	start := g.snapshot()
	seqs := make([]*passiveSeq, len(stmt.Cases))
	ends := make([]map[string]int, len(stmt.Cases))
	for i, c := range stmt.Cases {
		g.versions = make(map[string]int, len(start))
		for k, v := range start {
			g.versions[k] = v
		}
		p, err := g.passive(c)
		if err != nil {
			return nil, err
		}
		seqs[i] = &passiveSeq{stmts: []passiveStmt{p}}
		ends[i] = g.versions
	}

	g.versions = start
	for _, name := range sortedKeys(g.mutable) {
		var changed bool
		for _, end := range ends {
			if end[name] != start[name] {
				changed = true
				break
			}
		}
		if !changed {
			continue
		}
		joined := g.next(name)
		for i, end := range ends {
			eq := NewEq(&Var{Name: joined}, &Var{Name: versionName(name, end[name])})
			seqs[i].stmts = append(seqs[i].stmts, &passiveAssume{expr: eq})
		}
	}

	choice := &passiveChoice{}
	for _, seq := range seqs {
		choice.cases = append(choice.cases, seq)
	}
	return choice, nil
}

// rename replaces free references to mutable variables with their current
// versions.
func (g *vcGenerator) rename(expr Expr, bound map[string]bool) Expr {
	switch expr := expr.(type) {
	case *Const:
		return expr
	case *Var:
		if _, ok := g.mutable[expr.Name]; ok && !bound[expr.Name] {
			return &Var{Name: versionName(expr.Name, g.versions[expr.Name])}
		}
		return expr
	case *Apply:
		return &Apply{Fun: expr.Fun, Args: g.renameAll(expr.Args, bound)}
	case *Unary:
		return &Unary{Op: expr.Op, Expr: g.rename(expr.Expr, bound)}
	case *Binary:
		return &Binary{Op: expr.Op, LHS: g.rename(expr.LHS, bound), RHS: g.rename(expr.RHS, bound)}
	case *Multi:
		return &Multi{Op: expr.Op, Args: g.renameAll(expr.Args, bound)}
	case *IfElse:
		return &IfElse{Cond: g.rename(expr.Cond, bound), Then: g.rename(expr.Then, bound), Else: g.rename(expr.Else, bound)}
	case *Quant:
		inner := bindNames(bound, expr.Binders)
		triggers := make([]Trigger, len(expr.Triggers))
		for i, tr := range expr.Triggers {
			triggers[i] = g.renameAll(tr, inner)
		}
		return &Quant{Kind: expr.Kind, Binders: expr.Binders, Triggers: triggers, Body: g.rename(expr.Body, inner)}
	case *Lambda:
		return &Lambda{Binders: expr.Binders, Body: g.rename(expr.Body, bindNames(bound, expr.Binders))}
	case *Select:
		return &Select{Array: g.rename(expr.Array, bound), Args: g.renameAll(expr.Args, bound)}
	case *Let:
		inner := copyBound(bound)
		binders := make([]*LetBinder, len(expr.Binders))
		for i, b := range expr.Binders {
			binders[i] = &LetBinder{Name: b.Name, Expr: g.rename(b.Expr, bound)}
			inner[b.Name] = true
		}
		return &Let{Binders: binders, Body: g.rename(expr.Body, inner)}
	default:
		panic(fmt.Sprintf("air: invalid expression type: %T", expr))
	}
}

func (g *vcGenerator) renameAll(a []Expr, bound map[string]bool) []Expr {
	other := make([]Expr, len(a))
	for i := range a {
		other[i] = g.rename(a[i], bound)
	}
	return other
}

func copyBound(bound map[string]bool) map[string]bool {
	other := make(map[string]bool, len(bound)+1)
	for k, v := range bound {
		other[k] = v
	}
	return other
}

func bindNames(bound map[string]bool, binders []*Binder) map[string]bool {
	other := copyBound(bound)
	for _, b := range binders {
		other[b.Name] = true
	}
	return other
}

// wp returns the weakest precondition of stmt with respect to post.
func (g *vcGenerator) wp(stmt passiveStmt, post Expr) Expr {
	switch stmt := stmt.(type) {
	case *passiveAssume:
		return NewImplies(stmt.expr, post)
	case *passiveAssert:
		return NewAnd(stmt.expr, post)
	case *passiveSeq:
		for i := len(stmt.stmts) - 1; i >= 0; i-- {
			post = g.wp(stmt.stmts[i], post)
		}
		return post
	case *passiveChoice:
		// Bind the continuation once instead of copying it into each case.
		k := post
		var let *LetBinder
		switch post.(type) {
		case *Const, *Var:
		default:
			let = &LetBinder{Name: fmt.Sprintf("k@%d", g.lets), Expr: post}
			k = &Var{Name: let.Name}
			g.lets++
		}
		args := make([]Expr, len(stmt.cases))
		for i, c := range stmt.cases {
			args[i] = g.wp(c, k)
		}
		body := NewAnd(args...)
		if let == nil {
			return body
		}
		return &Let{Binders: []*LetBinder{let}, Body: body}
	case *passiveDeadEnd:
		return NewAnd(g.wp(stmt.stmt, BoolConst(true)), post)
	default:
		panic(fmt.Sprintf("air: invalid passive statement type: %T", stmt))
	}
}

func sortedKeys(m map[string]Typ) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
