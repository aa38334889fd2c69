package vir

// Inspect traverses expr in depth-first order. It calls f for each
// expression; if f returns false, the children of that expression are
// skipped. Nil expressions are not visited.
func Inspect(expr Expr, f func(Expr) bool) {
	if expr == nil || !f(expr) {
		return
	}
	for _, child := range Children(expr) {
		Inspect(child, f)
	}
}

// Children returns the direct subexpressions of expr in evaluation order.
// Nil subexpressions are omitted.
func Children(expr Expr) []Expr {
	var a []Expr
	add := func(exprs ...Expr) {
		for _, e := range exprs {
			if e != nil {
				a = append(a, e)
			}
		}
	}

	switch e := expr.(type) {
	case *Const, *Var, *VarLoc, *BreakOrContinue:
	case *Field:
		add(e.Expr)
	case *Ctor:
		for _, f := range e.Fields {
			add(f.Expr)
		}
	case *Unary:
		add(e.Expr)
	case *Binary:
		add(e.LHS, e.RHS)
	case *Call:
		add(e.Args...)
	case *CallLambda:
		add(e.Fun)
		add(e.Args...)
	case *CallClosure:
		add(e.Fun)
		add(e.Args...)
	case *ClosureReq:
		add(e.Closure)
		add(e.Args...)
	case *ClosureEns:
		add(e.Closure)
		add(e.Args...)
		add(e.Ret)
	case *Quant:
		add(e.Body)
	case *Choose:
		add(e.Cond, e.Body)
	case *Lambda:
		add(e.Body)
	case *Closure:
		add(e.Requires...)
		add(e.Ensures...)
		add(e.Body)
	case *WithTriggers:
		for _, tr := range e.Triggers {
			add(tr...)
		}
		add(e.Body)
	case *Assign:
		add(e.LHS, e.RHS)
	case *If:
		add(e.Cond, e.Then, e.Else)
	case *Loop:
		add(e.Cond)
		for _, inv := range e.Invariants {
			add(inv.Expr)
		}
		add(e.Body)
	case *Return:
		add(e.Expr)
	case *Block:
		for _, stmt := range e.Stmts {
			switch stmt := stmt.(type) {
			case *ExprStmt:
				add(stmt.Expr)
			case *DeclStmt:
				add(stmt.Init)
			}
		}
		add(e.Expr)
	case *AssertAssume:
		add(e.Expr)
	case *AssertBy:
		add(e.Require, e.Ensure, e.Proof)
	case *OpenInvariant:
		add(e.Inv, e.Body)
	}
	return a
}
