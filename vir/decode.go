package vir

import (
	"fmt"
	"go/constant"
	"go/token"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeError is returned when a document does not describe a well-formed
// program.
type DecodeError struct {
	Pos     token.Position
	Message string
}

// Error returns the error formatted with its position.
func (e *DecodeError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s", e.Pos, e.Message)
	}
	return e.Message
}

// DecodeFile reads a program from a YAML file.
func DecodeFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, path)
}

// Decode reads a program from a YAML document. Types of expressions are
// inferred from declarations; the document is trusted to be well typed.
func Decode(r io.Reader, filename string) (*Program, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err == io.EOF {
		return &Program{}, nil
	} else if err != nil {
		return nil, err
	}

	d := &decoder{
		filename: filename,
		prog:     &Program{},
		untyped:  make(map[*Const]bool),
	}
	if err := d.program(&root); err != nil {
		return nil, err
	}
	return d.prog, nil
}

type programDoc struct {
	Datatypes []yaml.Node `yaml:"datatypes"`
	Functions []yaml.Node `yaml:"functions"`
}

type datatypeDoc struct {
	Name      string       `yaml:"name"`
	TypParams []string     `yaml:"typ_params"`
	Fields    []binderDoc  `yaml:"fields"`
	Variants  []variantDoc `yaml:"variants"`
}

type variantDoc struct {
	Name   string      `yaml:"name"`
	Fields []binderDoc `yaml:"fields"`
}

type binderDoc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Mode string `yaml:"mode"`
	Mut  bool   `yaml:"mut"`
}

type functionDoc struct {
	Name      string      `yaml:"name"`
	Mode      string      `yaml:"mode"`
	TypParams []string    `yaml:"typ_params"`
	Params    []binderDoc `yaml:"params"`
	Ret       *binderDoc  `yaml:"ret"`
	Requires  []yaml.Node `yaml:"requires"`
	Ensures   []yaml.Node `yaml:"ensures"`
	Decreases []yaml.Node `yaml:"decreases"`
	Opens     []yaml.Node `yaml:"opens"`
	Inline    bool        `yaml:"inline"`
	Body      yaml.Node   `yaml:"body"`
}

type decoder struct {
	filename string
	prog     *Program
	docs     []*functionDoc

	typParams map[string]bool
	scopes    []map[string]Typ
	mode      Mode

	// integer literals whose type may still be refined by a sibling operand
	untyped map[*Const]bool
}

func (d *decoder) pos(n *yaml.Node) token.Position {
	return token.Position{Filename: d.filename, Line: n.Line, Column: n.Column}
}

func (d *decoder) errorf(n *yaml.Node, format string, args ...interface{}) error {
	return &DecodeError{Pos: d.pos(n), Message: fmt.Sprintf(format, args...)}
}

func (d *decoder) program(root *yaml.Node) error {
	var doc programDoc
	if err := root.Decode(&doc); err != nil {
		return err
	}

	// Datatypes and signatures are read first so bodies may refer to any of them.
	for i := range doc.Datatypes {
		dt, err := d.datatype(&doc.Datatypes[i])
		if err != nil {
			return err
		}
		d.prog.Datatypes = append(d.prog.Datatypes, dt)
	}
	for i := range doc.Functions {
		fn, err := d.signature(&doc.Functions[i])
		if err != nil {
			return err
		}
		d.prog.Functions = append(d.prog.Functions, fn)
	}
	for i, fn := range d.prog.Functions {
		if err := d.function(fn, d.docs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) datatype(n *yaml.Node) (*Datatype, error) {
	var doc datatypeDoc
	if err := n.Decode(&doc); err != nil {
		return nil, err
	} else if doc.Name == "" {
		return nil, d.errorf(n, "datatype name required")
	}

	d.typParams = make(map[string]bool)
	for _, name := range doc.TypParams {
		d.typParams[name] = true
	}

	dt := &Datatype{Name: doc.Name, Span: d.pos(n), TypParams: doc.TypParams}
	if len(doc.Variants) == 0 {
		doc.Variants = []variantDoc{{Name: doc.Name, Fields: doc.Fields}}
	}
	for _, vdoc := range doc.Variants {
		v := &Variant{Name: vdoc.Name}
		for _, fdoc := range vdoc.Fields {
			b, err := d.binder(n, fdoc)
			if err != nil {
				return nil, err
			}
			v.Fields = append(v.Fields, b)
		}
		dt.Variants = append(dt.Variants, v)
	}
	return dt, nil
}

func (d *decoder) signature(n *yaml.Node) (*Function, error) {
	doc := &functionDoc{}
	if err := n.Decode(doc); err != nil {
		return nil, err
	} else if doc.Name == "" {
		return nil, d.errorf(n, "function name required")
	}
	d.docs = append(d.docs, doc)

	fn := &Function{
		Name:      doc.Name,
		Span:      d.pos(n),
		Mode:      Exec,
		TypParams: doc.TypParams,
		Inline:    doc.Inline,
	}
	if doc.Mode != "" {
		mode, err := ParseMode(doc.Mode)
		if err != nil {
			return nil, d.errorf(n, "%s", err)
		}
		fn.Mode = mode
	}

	d.typParams = make(map[string]bool)
	for _, name := range doc.TypParams {
		d.typParams[name] = true
	}
	for _, pdoc := range doc.Params {
		p, err := d.param(n, pdoc, fn.Mode)
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, p)
	}
	if doc.Ret != nil {
		p, err := d.param(n, *doc.Ret, fn.Mode)
		if err != nil {
			return nil, err
		}
		fn.Ret = p
	}
	return fn, nil
}

func (d *decoder) function(fn *Function, doc *functionDoc) (err error) {
	d.typParams = make(map[string]bool)
	for _, name := range fn.TypParams {
		d.typParams[name] = true
	}
	d.scopes = nil
	d.push()
	defer d.pop()
	for _, p := range fn.Params {
		d.declare(p.Name, p.Typ)
	}

	if fn.Requires, err = d.specExprs(doc.Requires); err != nil {
		return err
	}
	if fn.Decreases, err = d.specExprs(doc.Decreases); err != nil {
		return err
	}
	if len(doc.Opens) > 0 {
		mask := &MaskSpec{Kind: MaskOpens}
		if mask.Exprs, err = d.specExprs(doc.Opens); err != nil {
			return err
		}
		fn.Mask = mask
	}

	d.push()
	if fn.Ret != nil {
		d.declare(fn.Ret.Name, fn.Ret.Typ)
	}
	fn.Ensures, err = d.specExprs(doc.Ensures)
	d.pop()
	if err != nil {
		return err
	}

	if doc.Body.Kind != 0 {
		d.mode = fn.Mode
		var want Typ
		if fn.Ret != nil {
			want = fn.Ret.Typ
		}
		if fn.Body, err = d.expr(&doc.Body, want); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) param(n *yaml.Node, doc binderDoc, mode Mode) (*Param, error) {
	b, err := d.binder(n, doc)
	if err != nil {
		return nil, err
	}
	p := &Param{Name: b.Name, Typ: b.Typ, Mode: mode, Mutable: doc.Mut}
	if doc.Mode != "" {
		if p.Mode, err = ParseMode(doc.Mode); err != nil {
			return nil, d.errorf(n, "%s", err)
		}
	}
	return p, nil
}

func (d *decoder) binder(n *yaml.Node, doc binderDoc) (*Binder, error) {
	if doc.Name == "" {
		return nil, d.errorf(n, "binder name required")
	}
	typ, err := d.typ(n, doc.Type)
	if err != nil {
		return nil, err
	}
	return &Binder{Name: doc.Name, Typ: typ}, nil
}

func (d *decoder) binders(n *yaml.Node) ([]*Binder, error) {
	var docs []binderDoc
	if err := n.Decode(&docs); err != nil {
		return nil, d.errorf(n, "expected binder list: %s", err)
	}
	a := make([]*Binder, 0, len(docs))
	for _, doc := range docs {
		b, err := d.binder(n, doc)
		if err != nil {
			return nil, err
		}
		a = append(a, b)
	}
	return a, nil
}

func (d *decoder) typ(n *yaml.Node, s string) (Typ, error) {
	if s == "" {
		return nil, d.errorf(n, "type required")
	}
	t, err := ParseTyp(s, d.typParams)
	if err != nil {
		return nil, d.errorf(n, "%s", err)
	}
	return t, nil
}

func (d *decoder) push() { d.scopes = append(d.scopes, make(map[string]Typ)) }
func (d *decoder) pop()  { d.scopes = d.scopes[:len(d.scopes)-1] }

func (d *decoder) declare(name string, typ Typ) {
	d.scopes[len(d.scopes)-1][name] = typ
}

func (d *decoder) declareBinders(a []*Binder) {
	for _, b := range a {
		d.declare(b.Name, b.Typ)
	}
}

func (d *decoder) lookup(name string) (Typ, bool) {
	for i := len(d.scopes) - 1; i >= 0; i-- {
		if typ, ok := d.scopes[i][name]; ok {
			return typ, true
		}
	}
	return nil, false
}

// specExprs decodes a list of boolean expressions in spec mode.
func (d *decoder) specExprs(nodes []yaml.Node) ([]Expr, error) {
	var a []Expr
	for i := range nodes {
		e, err := d.specExpr(&nodes[i], Bool)
		if err != nil {
			return nil, err
		}
		a = append(a, e)
	}
	return a, nil
}

func (d *decoder) specExpr(n *yaml.Node, want Typ) (Expr, error) {
	prev := d.mode
	d.mode = Spec
	defer func() { d.mode = prev }()
	return d.expr(n, want)
}

// attrs returns the remaining keys of an expression mapping by name.
func attrs(n *yaml.Node) map[string]*yaml.Node {
	m := make(map[string]*yaml.Node)
	for i := 2; i+1 < len(n.Content); i += 2 {
		m[n.Content[i].Value] = n.Content[i+1]
	}
	return m
}

// expr decodes an expression. want is the expected type, used to give
// integer literals a type; it may be nil.
func (d *decoder) expr(n *yaml.Node, want Typ) (Expr, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return d.scalar(n, want)
	case yaml.MappingNode:
		if len(n.Content) < 2 {
			return nil, d.errorf(n, "empty expression")
		}
		return d.compound(n, n.Content[0].Value, n.Content[1], attrs(n), want)
	case yaml.SequenceNode:
		return d.block(n, n, nil, want)
	default:
		return nil, d.errorf(n, "unexpected node kind %d", n.Kind)
	}
}

func (d *decoder) scalar(n *yaml.Node, want Typ) (Expr, error) {
	span := d.pos(n)
	switch n.Tag {
	case "!!bool":
		return NewBool(span, n.Value == "true"), nil
	case "!!int":
		c, err := d.intConst(n, n.Value)
		if err != nil {
			return nil, err
		}
		if t, ok := want.(*IntTyp); ok {
			c.Typ = t
		} else {
			d.untyped[c] = true
		}
		return c, nil
	case "!!null":
		return nil, nil
	}

	if n.Value == "()" {
		return &Ctor{Info: Info{Span: span, Typ: Unit}, Datatype: UnitName, Variant: UnitName}, nil
	}
	typ, ok := d.lookup(n.Value)
	if !ok {
		return nil, d.errorf(n, "undefined variable: %s", n.Value)
	}
	return &Var{Info: Info{Span: span, Typ: typ}, Name: n.Value}, nil
}

func (d *decoder) intConst(n *yaml.Node, s string) (*Const, error) {
	neg := strings.HasPrefix(s, "-")
	v := constant.MakeFromLiteral(strings.TrimPrefix(s, "-"), token.INT, 0)
	if v.Kind() != constant.Int {
		return nil, d.errorf(n, "invalid integer literal: %s", s)
	}
	if neg {
		v = constant.UnaryOp(token.SUB, v, 0)
	}
	return &Const{Info: Info{Span: d.pos(n), Typ: Int}, Value: v}, nil
}

// unify gives an untyped literal operand the type of the other operand.
func (d *decoder) unify(lhs, rhs Expr) Typ {
	lc, lu := lhs.(*Const)
	rc, ru := rhs.(*Const)
	lu, ru = lu && d.untyped[lc], ru && d.untyped[rc]
	switch {
	case lu && !ru:
		lc.Typ = rhs.Type()
		delete(d.untyped, lc)
		return rhs.Type()
	case ru && !lu:
		rc.Typ = lhs.Type()
		delete(d.untyped, rc)
		return lhs.Type()
	default:
		return lhs.Type()
	}
}

func (d *decoder) compound(n *yaml.Node, kind string, arg *yaml.Node, a map[string]*yaml.Node, want Typ) (Expr, error) {
	span := d.pos(n)

	if op, ok := ParseBinaryOp(kind); ok {
		return d.binary(n, op, arg, want)
	}

	switch kind {
	case "lit":
		c, err := d.intConst(arg, arg.Value)
		if err != nil {
			return nil, err
		}
		if t := a["type"]; t != nil {
			if c.Typ, err = d.typ(t, t.Value); err != nil {
				return nil, err
			}
		} else if t, ok := want.(*IntTyp); ok {
			c.Typ = t
		}
		return c, nil

	case "not":
		e, err := d.expr(arg, Bool)
		if err != nil {
			return nil, err
		}
		return &Unary{Info: Info{Span: span, Typ: Bool}, Op: Not, Expr: e}, nil

	case "clip":
		e, err := d.expr(arg, nil)
		if err != nil {
			return nil, err
		}
		to := a["to"]
		if to == nil {
			return nil, d.errorf(n, "clip requires 'to'")
		}
		r, ok := ParseIntRange(to.Value)
		if !ok {
			return nil, d.errorf(to, "invalid integer type: %s", to.Value)
		}
		truncate := a["truncate"] != nil && a["truncate"].Value == "true"
		return &Unary{Info: Info{Span: span, Typ: &IntTyp{Range: r}}, Op: Clip, Expr: e, Range: r, Truncate: truncate}, nil

	case "call":
		return d.call(n, arg.Value, a)

	case "field":
		return d.field(n, arg, a)

	case "ctor":
		return d.ctor(n, arg.Value, a)

	case "forall", "exists":
		return d.quant(n, kind, arg, a)

	case "choose":
		vars, err := d.binders(arg)
		if err != nil {
			return nil, err
		}
		d.push()
		defer d.pop()
		d.declareBinders(vars)
		cond, err := d.specExpr(required(a, "cond", arg), Bool)
		if err != nil {
			return nil, err
		}
		var body Expr
		if b := a["body"]; b != nil {
			if body, err = d.specExpr(b, nil); err != nil {
				return nil, err
			}
		} else if len(vars) == 1 {
			body = &Var{Info: Info{Span: span, Typ: vars[0].Typ}, Name: vars[0].Name}
		} else {
			return nil, d.errorf(n, "choose over several variables requires 'body'")
		}
		return &Choose{Info: Info{Span: span, Typ: body.Type()}, Vars: vars, Cond: cond, Body: body}, nil

	case "lambda":
		params, err := d.binders(arg)
		if err != nil {
			return nil, err
		}
		d.push()
		defer d.pop()
		d.declareBinders(params)
		body, err := d.specExpr(required(a, "body", arg), nil)
		if err != nil {
			return nil, err
		}
		typ := &LambdaTyp{Ret: body.Type()}
		for _, p := range params {
			typ.Params = append(typ.Params, p.Typ)
		}
		return &Lambda{Info: Info{Span: span, Typ: typ}, Params: params, Body: body}, nil

	case "call_lambda", "call_closure":
		fun, err := d.expr(arg, nil)
		if err != nil {
			return nil, err
		}
		var params []Typ
		var ret Typ
		switch t := fun.Type().(type) {
		case *LambdaTyp:
			params, ret = t.Params, t.Ret
		case *ClosureTyp:
			params, ret = t.Params, t.Ret
		default:
			return nil, d.errorf(n, "cannot call value of type %s", fun.Type())
		}
		args, err := d.args(a["args"], params)
		if err != nil {
			return nil, err
		}
		if kind == "call_lambda" {
			return &CallLambda{Info: Info{Span: span, Typ: ret}, Fun: fun, Args: args}, nil
		}
		return &CallClosure{Info: Info{Span: span, Typ: ret}, Fun: fun, Args: args}, nil

	case "closure_req", "closure_ens":
		c, err := d.expr(arg, nil)
		if err != nil {
			return nil, err
		}
		t, ok := c.Type().(*ClosureTyp)
		if !ok {
			return nil, d.errorf(n, "%s of non-closure type %s", kind, c.Type())
		}
		args, err := d.args(a["args"], t.Params)
		if err != nil {
			return nil, err
		}
		if kind == "closure_req" {
			return &ClosureReq{Info: Info{Span: span, Typ: Bool}, Closure: c, Args: args}, nil
		}
		if a["ret"] == nil {
			return nil, d.errorf(n, "closure_ens requires ret")
		}
		ret, err := d.expr(a["ret"], t.Ret)
		if err != nil {
			return nil, err
		}
		return &ClosureEns{Info: Info{Span: span, Typ: Bool}, Closure: c, Args: args, Ret: ret}, nil

	case "closure":
		return d.closure(n, arg, a)

	case "assign":
		lhs, err := d.loc(arg)
		if err != nil {
			return nil, err
		}
		rhs, err := d.expr(required(a, "value", n), lhs.Type())
		if err != nil {
			return nil, err
		}
		init := a["init"] != nil && a["init"].Value == "true"
		return &Assign{Info: Info{Span: span, Typ: Unit}, LHS: lhs, RHS: rhs, InitNotMut: init}, nil

	case "if":
		cond, err := d.expr(arg, Bool)
		if err != nil {
			return nil, err
		}
		then, err := d.expr(required(a, "then", n), want)
		if err != nil {
			return nil, err
		}
		var els Expr
		typ := Typ(Unit)
		if e := a["else"]; e != nil {
			if els, err = d.expr(e, then.Type()); err != nil {
				return nil, err
			}
			typ = d.unify(then, els)
		}
		return &If{Info: Info{Span: span, Typ: typ}, Cond: cond, Then: then, Else: els}, nil

	case "while", "loop":
		return d.loop(n, kind, arg, a)

	case "return":
		var e Expr
		if arg.Tag != "!!null" {
			var err error
			if e, err = d.expr(arg, nil); err != nil {
				return nil, err
			}
		}
		return &Return{Info: Info{Span: span, Typ: Unit}, Expr: e}, nil

	case "break", "continue":
		label := ""
		if arg.Tag != "!!null" {
			label = arg.Value
		}
		return &BreakOrContinue{Info: Info{Span: span, Typ: Unit}, Label: label, IsBreak: kind == "break"}, nil

	case "block":
		return d.block(n, arg, a["value"], want)

	case "assert", "assume":
		e, err := d.specExpr(arg, Bool)
		if err != nil {
			return nil, err
		}
		return &AssertAssume{Info: Info{Span: span, Typ: Unit}, IsAssume: kind == "assume", Expr: e}, nil

	case "assert_by":
		return d.assertBy(n, arg, a)

	case "open_invariant":
		inv, err := d.expr(arg, nil)
		if err != nil {
			return nil, err
		}
		bn := required(a, "binder", n)
		var bdoc binderDoc
		if err := bn.Decode(&bdoc); err != nil {
			return nil, d.errorf(bn, "%s", err)
		}
		b, err := d.binder(bn, bdoc)
		if err != nil {
			return nil, err
		}
		d.push()
		defer d.pop()
		d.declare(b.Name, b.Typ)
		body, err := d.expr(required(a, "body", n), nil)
		if err != nil {
			return nil, err
		}
		return &OpenInvariant{Info: Info{Span: span, Typ: Unit}, Inv: inv, Binder: b, Body: body}, nil

	default:
		return nil, d.errorf(n, "unknown expression kind: %s", kind)
	}
}

// required returns the attribute or a null node positioned at n, which fails
// to decode as an expression with a useful message.
func required(a map[string]*yaml.Node, key string, n *yaml.Node) *yaml.Node {
	if v := a[key]; v != nil {
		return v
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "<missing " + key + ">", Line: n.Line, Column: n.Column}
}

func (d *decoder) binary(n *yaml.Node, op BinaryOp, arg *yaml.Node, want Typ) (Expr, error) {
	if arg.Kind != yaml.SequenceNode || len(arg.Content) != 2 {
		return nil, d.errorf(n, "%s requires two operands", op)
	}

	var hint Typ
	switch {
	case op.IsShortCircuit():
		hint = Bool
	case op.IsArith():
		hint = want
	}
	lhs, err := d.expr(arg.Content[0], hint)
	if err != nil {
		return nil, err
	}
	if !op.IsShortCircuit() {
		hint = lhs.Type()
	}
	rhs, err := d.expr(arg.Content[1], hint)
	if err != nil {
		return nil, err
	}

	typ := Typ(Bool)
	switch {
	case op.IsArith():
		typ = d.unify(lhs, rhs)
	case op.IsCompare():
		d.unify(lhs, rhs)
	}
	return &Binary{Info: Info{Span: d.pos(n), Typ: typ}, Op: op, LHS: lhs, RHS: rhs, Mode: d.mode}, nil
}

func (d *decoder) args(n *yaml.Node, params []Typ) ([]Expr, error) {
	if n == nil {
		if len(params) != 0 {
			return nil, fmt.Errorf("expected %d arguments", len(params))
		}
		return nil, nil
	} else if n.Kind != yaml.SequenceNode {
		return nil, d.errorf(n, "expected argument list")
	} else if params != nil && len(n.Content) != len(params) {
		return nil, d.errorf(n, "expected %d arguments, got %d", len(params), len(n.Content))
	}

	a := make([]Expr, len(n.Content))
	for i, c := range n.Content {
		var want Typ
		if params != nil {
			want = params[i]
		}
		e, err := d.expr(c, want)
		if err != nil {
			return nil, err
		}
		a[i] = e
	}
	return a, nil
}

func (d *decoder) call(n *yaml.Node, name string, a map[string]*yaml.Node) (Expr, error) {
	fn := d.prog.Function(name)
	if fn == nil {
		return nil, d.errorf(n, "undefined function: %s", name)
	}

	var typArgs []Typ
	if ta := a["typ_args"]; ta != nil {
		for _, c := range ta.Content {
			t, err := d.typ(c, c.Value)
			if err != nil {
				return nil, err
			}
			typArgs = append(typArgs, t)
		}
	}
	if len(typArgs) != len(fn.TypParams) {
		return nil, d.errorf(n, "%s expects %d type arguments", name, len(fn.TypParams))
	}
	m := make(map[string]Typ)
	for i, name := range fn.TypParams {
		m[name] = typArgs[i]
	}

	params := make([]Typ, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = SubstTyp(p.Typ, m)
	}
	args, err := d.args(a["args"], params)
	if err != nil {
		return nil, d.errorf(n, "%s: %s", name, err)
	}

	typ := Typ(Unit)
	if fn.Ret != nil {
		typ = SubstTyp(fn.Ret.Typ, m)
	}
	return &Call{Info: Info{Span: d.pos(n), Typ: typ}, Fun: name, TypArgs: typArgs, Args: args}, nil
}

// datatypeField resolves a field of a datatype instance.
func (d *decoder) datatypeField(n *yaml.Node, t Typ, variant, field string) (*DatatypeTyp, *Variant, Typ, error) {
	dtyp, ok := t.(*DatatypeTyp)
	if !ok {
		return nil, nil, nil, d.errorf(n, "field access on non-datatype %s", t)
	}
	dt := d.prog.Datatype(dtyp.Name)
	if dt == nil {
		return nil, nil, nil, d.errorf(n, "undefined datatype: %s", dtyp.Name)
	}
	v := dt.Variant(variant)
	if v == nil {
		return nil, nil, nil, d.errorf(n, "%s has no variant %q", dt.Name, variant)
	}
	f := v.Field(field)
	if f == nil {
		return nil, nil, nil, d.errorf(n, "%s has no field %q", v.Name, field)
	}
	m := make(map[string]Typ)
	for i, name := range dt.TypParams {
		if i < len(dtyp.Args) {
			m[name] = dtyp.Args[i]
		}
	}
	return dtyp, v, SubstTyp(f.Typ, m), nil
}

func (d *decoder) field(n *yaml.Node, arg *yaml.Node, a map[string]*yaml.Node) (Expr, error) {
	e, err := d.expr(arg, nil)
	if err != nil {
		return nil, err
	}
	return d.fieldOf(n, e, a)
}

func (d *decoder) fieldOf(n *yaml.Node, e Expr, a map[string]*yaml.Node) (Expr, error) {
	name := required(a, "name", n).Value
	variant := ""
	if v := a["variant"]; v != nil {
		variant = v.Value
	}
	dtyp, v, typ, err := d.datatypeField(n, e.Type(), variant, name)
	if err != nil {
		return nil, err
	}
	return &Field{Info: Info{Span: d.pos(n), Typ: typ}, Expr: e, Datatype: dtyp.Name, Variant: v.Name, Field: name}, nil
}

// loc decodes an assignment target: a variable name or a field of a target.
func (d *decoder) loc(n *yaml.Node) (Expr, error) {
	if n.Kind == yaml.ScalarNode {
		typ, ok := d.lookup(n.Value)
		if !ok {
			return nil, d.errorf(n, "undefined variable: %s", n.Value)
		}
		return &VarLoc{Info: Info{Span: d.pos(n), Typ: typ}, Name: n.Value}, nil
	} else if n.Kind != yaml.MappingNode || len(n.Content) < 2 || n.Content[0].Value != "field" {
		return nil, d.errorf(n, "invalid assignment target")
	}
	base, err := d.loc(n.Content[1])
	if err != nil {
		return nil, err
	}
	return d.fieldOf(n, base, attrs(n))
}

func (d *decoder) ctor(n *yaml.Node, name string, a map[string]*yaml.Node) (Expr, error) {
	dt := d.prog.Datatype(name)
	if dt == nil {
		return nil, d.errorf(n, "undefined datatype: %s", name)
	}

	typ := &DatatypeTyp{Name: name}
	if t := a["type"]; t != nil {
		parsed, err := d.typ(t, t.Value)
		if err != nil {
			return nil, err
		} else if dtyp, ok := parsed.(*DatatypeTyp); !ok || dtyp.Name != name {
			return nil, d.errorf(t, "constructor type must be an instance of %s", name)
		} else {
			typ = dtyp
		}
	}
	m := make(map[string]Typ)
	for i, p := range dt.TypParams {
		if i < len(typ.Args) {
			m[p] = typ.Args[i]
		}
	}

	variant := ""
	if v := a["variant"]; v != nil {
		variant = v.Value
	}
	v := dt.Variant(variant)
	if v == nil {
		return nil, d.errorf(n, "%s has no variant %q", name, variant)
	}

	fields := a["fields"]
	c := &Ctor{Info: Info{Span: d.pos(n), Typ: typ}, Datatype: name, Variant: v.Name}
	for _, f := range v.Fields {
		var fn *yaml.Node
		if fields != nil {
			for i := 0; i+1 < len(fields.Content); i += 2 {
				if fields.Content[i].Value == f.Name {
					fn = fields.Content[i+1]
				}
			}
		}
		if fn == nil {
			return nil, d.errorf(n, "missing field %s.%s", v.Name, f.Name)
		}
		e, err := d.expr(fn, SubstTyp(f.Typ, m))
		if err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, &FieldInit{Name: f.Name, Expr: e})
	}
	return c, nil
}

func (d *decoder) quant(n *yaml.Node, kind string, arg *yaml.Node, a map[string]*yaml.Node) (Expr, error) {
	vars, err := d.binders(arg)
	if err != nil {
		return nil, err
	}
	d.push()
	defer d.pop()
	d.declareBinders(vars)

	body, err := d.specExpr(required(a, "body", n), Bool)
	if err != nil {
		return nil, err
	}
	if tn := a["triggers"]; tn != nil {
		wt := &WithTriggers{Info: Info{Span: d.pos(tn), Typ: Bool}, Body: body}
		for _, group := range tn.Content {
			var trigger []Expr
			for _, c := range group.Content {
				e, err := d.specExpr(c, nil)
				if err != nil {
					return nil, err
				}
				trigger = append(trigger, e)
			}
			wt.Triggers = append(wt.Triggers, trigger)
		}
		body = wt
	}

	q := &Quant{Info: Info{Span: d.pos(n), Typ: Bool}, Kind: Forall, Vars: vars, Body: body}
	if kind == "exists" {
		q.Kind = Exists
	}
	return q, nil
}

func (d *decoder) closure(n *yaml.Node, arg *yaml.Node, a map[string]*yaml.Node) (Expr, error) {
	params, err := d.binders(arg)
	if err != nil {
		return nil, err
	}

	ret := &Binder{Name: "%ret", Typ: Unit}
	if rn := a["ret"]; rn != nil {
		var doc binderDoc
		if err := rn.Decode(&doc); err != nil {
			return nil, d.errorf(rn, "%s", err)
		}
		if ret, err = d.binder(rn, doc); err != nil {
			return nil, err
		}
	}

	d.push()
	defer d.pop()
	d.declareBinders(params)

	c := &Closure{Params: params, Ret: ret}
	if rn := a["requires"]; rn != nil {
		if c.Requires, err = d.specExprs(nodes(rn)); err != nil {
			return nil, err
		}
	}

	d.push()
	d.declare(ret.Name, ret.Typ)
	if en := a["ensures"]; en != nil {
		c.Ensures, err = d.specExprs(nodes(en))
	}
	d.pop()
	if err != nil {
		return nil, err
	}

	if c.Body, err = d.expr(required(a, "body", n), ret.Typ); err != nil {
		return nil, err
	}

	typ := &ClosureTyp{Ret: ret.Typ}
	for _, p := range params {
		typ.Params = append(typ.Params, p.Typ)
	}
	c.Info = Info{Span: d.pos(n), Typ: typ}
	return c, nil
}

// nodes returns the items of a sequence, or the node itself.
func nodes(n *yaml.Node) []yaml.Node {
	if n.Kind != yaml.SequenceNode {
		return []yaml.Node{*n}
	}
	a := make([]yaml.Node, len(n.Content))
	for i, c := range n.Content {
		a[i] = *c
	}
	return a
}

func (d *decoder) loop(n *yaml.Node, kind string, arg *yaml.Node, a map[string]*yaml.Node) (Expr, error) {
	l := &Loop{Info: Info{Span: d.pos(n), Typ: Unit}}
	if ln := a["label"]; ln != nil {
		l.Label = ln.Value
	}

	var err error
	if kind == "while" {
		if l.Cond, err = d.expr(arg, Bool); err != nil {
			return nil, err
		}
	} else if arg.Tag != "!!null" && l.Label == "" {
		l.Label = arg.Value
	}

	for _, k := range []InvariantKind{Invariant, Ensures, InvariantEnsures} {
		in := a[k.String()]
		if in == nil {
			continue
		}
		exprs, err := d.specExprs(nodes(in))
		if err != nil {
			return nil, err
		}
		for _, e := range exprs {
			l.Invariants = append(l.Invariants, &LoopInvariant{Kind: k, Expr: e})
		}
	}

	if l.Body, err = d.expr(required(a, "body", n), nil); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *decoder) assertBy(n *yaml.Node, arg *yaml.Node, a map[string]*yaml.Node) (Expr, error) {
	vars, err := d.binders(arg)
	if err != nil {
		return nil, err
	}
	d.push()
	defer d.pop()
	d.declareBinders(vars)

	by := &AssertBy{Info: Info{Span: d.pos(n), Typ: Unit}, Vars: vars}
	if rn := a["requires"]; rn != nil {
		if by.Require, err = d.specExpr(rn, Bool); err != nil {
			return nil, err
		}
	}
	if by.Ensure, err = d.specExpr(required(a, "ensures", n), Bool); err != nil {
		return nil, err
	}

	prev := d.mode
	d.mode = Proof
	defer func() { d.mode = prev }()
	if pn := a["proof"]; pn != nil {
		if by.Proof, err = d.expr(pn, nil); err != nil {
			return nil, err
		}
	} else {
		by.Proof = &Block{Info: Info{Span: by.Span, Typ: Unit}}
	}
	return by, nil
}

// block decodes a statement list with an optional trailing value.
func (d *decoder) block(n *yaml.Node, stmts *yaml.Node, value *yaml.Node, want Typ) (Expr, error) {
	if stmts.Kind != yaml.SequenceNode && stmts.Tag != "!!null" {
		return nil, d.errorf(stmts, "expected statement list")
	}

	d.push()
	defer d.pop()

	b := &Block{Info: Info{Span: d.pos(n), Typ: Unit}}
	for _, c := range stmts.Content {
		s, err := d.stmt(c)
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	if value != nil {
		e, err := d.expr(value, want)
		if err != nil {
			return nil, err
		}
		b.Expr = e
		b.Typ = e.Type()
	}
	return b, nil
}

func (d *decoder) stmt(n *yaml.Node) (Stmt, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) < 2 || n.Content[0].Value != "let" {
		e, err := d.expr(n, nil)
		if err != nil {
			return nil, err
		} else if e == nil {
			return nil, d.errorf(n, "empty statement")
		}
		return &ExprStmt{Expr: e}, nil
	}

	a := attrs(n)
	s := &DeclStmt{Span: d.pos(n), Name: n.Content[1].Value, Mode: d.mode}
	if m := a["mode"]; m != nil {
		mode, err := ParseMode(m.Value)
		if err != nil {
			return nil, d.errorf(m, "%s", err)
		}
		s.Mode = mode
	}
	s.Mutable = a["mut"] != nil && a["mut"].Value == "true"

	if t := a["type"]; t != nil {
		typ, err := d.typ(t, t.Value)
		if err != nil {
			return nil, err
		}
		s.Typ = typ
	}

	if in := a["init"]; in != nil {
		prev := d.mode
		d.mode = s.Mode
		init, err := d.expr(in, s.Typ)
		d.mode = prev
		if err != nil {
			return nil, err
		}
		if s.Typ == nil {
			s.Typ = init.Type()
		}
		s.Init = init
	}
	if s.Typ == nil {
		return nil, d.errorf(n, "declaration of %s requires a type or initializer", s.Name)
	}

	// The name is visible to the following statements of the enclosing block.
	d.declare(s.Name, s.Typ)
	return s, nil
}
