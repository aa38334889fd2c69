package vcgen

import (
	"fmt"
	"go/token"
	"strings"

	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
)

// Stm represents a lowered statement. A statement sequence executes top to
// bottom; nothing follows a return, break, continue, or assume false.
type Stm interface {
	stm()
	Pos() token.Position
	String() string
}

func (*AssignStm) stm()         {}
func (*AssertStm) stm()         {}
func (*AssumeStm) stm()         {}
func (*CallStm) stm()           {}
func (*ClosureCallStm) stm()    {}
func (*IfStm) stm()             {}
func (*BlockStm) stm()          {}
func (*LoopStm) stm()           {}
func (*BreakStm) stm()          {}
func (*ReturnStm) stm()         {}
func (*DeadEndStm) stm()        {}
func (*ClosureInnerStm) stm()   {}
func (*AssumeContractStm) stm() {}
func (*OpenInvariantStm) stm()  {}

// StmInfo holds the position shared by every Stm.
type StmInfo struct {
	Span token.Position
}

// Pos returns the source position of the statement.
func (i *StmInfo) Pos() token.Position { return i.Span }

// Dest is an assignment destination: a variable location, possibly under
// field projections.
type Dest struct {
	Exp    Exp
	IsInit bool
}

// Root returns the variable at the base of the destination.
func (d *Dest) Root() UniqueIdent {
	e := d.Exp
	for {
		switch x := e.(type) {
		case *VarLocExp:
			return x.Ident
		case *FieldExp:
			e = x.Exp
		default:
			panic(fmt.Sprintf("invalid destination: %s", d.Exp))
		}
	}
}

// AssignStm stores a value into a destination.
type AssignStm struct {
	StmInfo
	Dest *Dest
	Exp  Exp
}

// AssertStm is a proof obligation. Error may be nil, in which case a generic
// diagnostic is reported at the statement's position.
type AssertStm struct {
	StmInfo
	Exp   Exp
	Error *air.Diagnostic
}

// AssumeStm adds a fact to the proof context.
type AssumeStm struct {
	StmInfo
	Exp Exp
}

// CallStm calls a function whose effects must be sequenced. When Split is
// set the statement only checks the callee's preconditions, one conjunct at
// a time.
type CallStm struct {
	StmInfo
	Fun     string
	Mode    vir.Mode
	TypArgs []vir.Typ
	Args    []Exp
	Split   bool
	Dest    *Dest
}

// ClosureCallStm calls an executable closure value.
type ClosureCallStm struct {
	StmInfo
	Closure Exp
	Args    []Exp
	Dest    *Dest
}

// IfStm is a statement-level conditional. Else may be nil.
type IfStm struct {
	StmInfo
	Cond Exp
	Then Stm
	Else Stm
}

// BlockStm is a statement sequence.
type BlockStm struct {
	StmInfo
	Stms []Stm
}

// LoopCond is the condition of a while loop with the statements that compute
// it.
type LoopCond struct {
	Stm Stm
	Exp Exp
}

// LoopInv is a loop invariant with the points where it holds.
type LoopInv struct {
	Exp     Exp
	AtEntry bool
	AtExit  bool
}

// LoopStm is a while loop (Cond set) or an unconditional loop.
type LoopStm struct {
	StmInfo
	Label string
	Cond  *LoopCond
	Body  Stm
	Invs  []*LoopInv
}

// BreakStm breaks out of or continues the labeled loop, or the innermost loop
// if Label is empty.
type BreakStm struct {
	StmInfo
	Label   string
	IsBreak bool
}

// ReturnStm checks the function's postconditions against Exp. BaseError is
// the diagnostic for a failed postcondition at this exit.
type ReturnStm struct {
	StmInfo
	BaseError  *air.Diagnostic
	Exp        Exp
	InsideBody bool
}

// DeadEndStm is a fenced block. Its obligations are checked but none of its
// assumptions or effects reach the statements after it.
type DeadEndStm struct {
	StmInfo
	Body Stm
}

// ClosureInnerStm is the fenced body of a closure.
type ClosureInnerStm struct {
	StmInfo
	Body Stm
}

// OpaqueContract relates a closure value to its declared contract without
// exposing its body.
type OpaqueContract struct {
	Closure  Exp
	Params   []*VarBinder
	Ret      *VarBinder
	Requires []Exp
	Ensures  []Exp
}

// AssumeContractStm assumes an opaque closure contract.
type AssumeContractStm struct {
	StmInfo
	Contract *OpaqueContract
}

// OpenInvariantStm opens an invariant for the duration of Body.
type OpenInvariantStm struct {
	StmInfo
	Inv    Exp
	Binder UniqueIdent
	Typ    vir.Typ
	Body   Stm
}

func (s *AssignStm) String() string         { return formatStm(s) }
func (s *AssertStm) String() string         { return formatStm(s) }
func (s *AssumeStm) String() string         { return formatStm(s) }
func (s *CallStm) String() string           { return formatStm(s) }
func (s *ClosureCallStm) String() string    { return formatStm(s) }
func (s *IfStm) String() string             { return formatStm(s) }
func (s *BlockStm) String() string          { return formatStm(s) }
func (s *LoopStm) String() string           { return formatStm(s) }
func (s *BreakStm) String() string          { return formatStm(s) }
func (s *ReturnStm) String() string         { return formatStm(s) }
func (s *DeadEndStm) String() string        { return formatStm(s) }
func (s *ClosureInnerStm) String() string   { return formatStm(s) }
func (s *AssumeContractStm) String() string { return formatStm(s) }
func (s *OpenInvariantStm) String() string  { return formatStm(s) }

// formatStm renders a statement as indented s-expressions, one statement per
// line.
func formatStm(s Stm) string {
	return strings.Join(stmLines(s), "\n")
}

// FormatStms renders a statement sequence, one statement per line.
func FormatStms(stms []Stm) string {
	var lines []string
	for _, s := range stms {
		lines = append(lines, stmLines(s)...)
	}
	return strings.Join(lines, "\n")
}

func nested(header string, children ...Stm) []string {
	lines := []string{header}
	for _, child := range children {
		for _, line := range stmLines(child) {
			lines = append(lines, "  "+line)
		}
	}
	lines[len(lines)-1] += ")"
	return lines
}

func stmLines(s Stm) []string {
	switch s := s.(type) {
	case *AssignStm:
		if s.Dest.IsInit {
			return []string{fmt.Sprintf("(init %s %s)", s.Dest.Exp, s.Exp)}
		}
		return []string{fmt.Sprintf("(assign %s %s)", s.Dest.Exp, s.Exp)}
	case *AssertStm:
		return []string{fmt.Sprintf("(assert %s)", s.Exp)}
	case *AssumeStm:
		return []string{fmt.Sprintf("(assume %s)", s.Exp)}
	case *CallStm:
		op := "call"
		if s.Split {
			op = "call-split"
		}
		line := fmt.Sprintf("(%s %s (%s)", op, funName(s.Fun, s.TypArgs), joinExps(s.Args, false))
		if s.Dest != nil {
			line += " -> " + s.Dest.Exp.String()
		}
		return []string{line + ")"}
	case *ClosureCallStm:
		line := fmt.Sprintf("(call-closure %s (%s)", s.Closure, joinExps(s.Args, false))
		if s.Dest != nil {
			line += " -> " + s.Dest.Exp.String()
		}
		return []string{line + ")"}
	case *IfStm:
		if s.Else == nil {
			return nested(fmt.Sprintf("(if %s", s.Cond), s.Then)
		}
		return nested(fmt.Sprintf("(if %s", s.Cond), s.Then, s.Else)
	case *BlockStm:
		if len(s.Stms) == 0 {
			return []string{"(block)"}
		}
		return nested("(block", s.Stms...)
	case *LoopStm:
		return loopLines(s)
	case *BreakStm:
		op := "continue"
		if s.IsBreak {
			op = "break"
		}
		if s.Label != "" {
			return []string{fmt.Sprintf("(%s %s)", op, s.Label)}
		}
		return []string{"(" + op + ")"}
	case *ReturnStm:
		if s.Exp == nil {
			return []string{"(return)"}
		}
		return []string{fmt.Sprintf("(return %s)", s.Exp)}
	case *DeadEndStm:
		return nested("(dead-end", s.Body)
	case *ClosureInnerStm:
		return nested("(closure-inner", s.Body)
	case *AssumeContractStm:
		c := s.Contract
		return []string{fmt.Sprintf("(assume-contract %s %s (%s %s) (requires%s) (ensures%s))",
			c.Closure, formatVars(c.Params), c.Ret.Ident, c.Ret.Typ, joinExps(c.Requires, true), joinExps(c.Ensures, true))}
	case *OpenInvariantStm:
		return nested(fmt.Sprintf("(open-invariant %s %s", s.Inv, s.Binder), s.Body)
	default:
		return []string{fmt.Sprintf("(unknown %T)", s)}
	}
}

func loopLines(s *LoopStm) []string {
	header := "(loop"
	if s.Label != "" {
		header += " " + s.Label
	}
	lines := []string{header}
	if s.Cond != nil {
		if s.Cond.Stm == nil {
			lines = append(lines, fmt.Sprintf("  (cond %s)", s.Cond.Exp))
		} else {
			for _, line := range nested(fmt.Sprintf("(cond %s", s.Cond.Exp), s.Cond.Stm) {
				lines = append(lines, "  "+line)
			}
		}
	}
	for _, inv := range s.Invs {
		var flags string
		if inv.AtEntry {
			flags += " :entry"
		}
		if inv.AtExit {
			flags += " :exit"
		}
		lines = append(lines, fmt.Sprintf("  (invariant %s%s)", inv.Exp, flags))
	}
	for _, line := range stmLines(s.Body) {
		lines = append(lines, "  "+line)
	}
	lines[len(lines)-1] += ")"
	return lines
}

// Constructors used throughout lowering.

func blockStm(span token.Position, stms []Stm) Stm {
	return &BlockStm{StmInfo: StmInfo{Span: span}, Stms: stms}
}

func assumeStm(e Exp) Stm {
	return &AssumeStm{StmInfo: StmInfo{Span: e.Pos()}, Exp: e}
}

func assertStm(e Exp, diag *air.Diagnostic) Stm {
	return &AssertStm{StmInfo: StmInfo{Span: e.Pos()}, Exp: e, Error: diag}
}

func initStm(span token.Position, dest Exp, e Exp) Stm {
	return &AssignStm{StmInfo: StmInfo{Span: span}, Dest: &Dest{Exp: dest, IsInit: true}, Exp: e}
}

func assumeFalse(span token.Position) Stm {
	return assumeStm(boolExp(span, false))
}
