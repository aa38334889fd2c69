package vir

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseTyp parses a type written in source syntax such as "u8",
// "Pair<int, bool>", "spec_fn(int) -> bool" or "()". Names listed in
// typParams are parsed as type parameters; any other name is a datatype.
func ParseTyp(s string, typParams map[string]bool) (Typ, error) {
	p := &typParser{src: s, typParams: typParams}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("invalid type %q: unexpected %q", s, p.src[p.pos:])
	}
	return t, nil
}

type typParser struct {
	src       string
	pos       int
	typParams map[string]bool
}

func (p *typParser) parse() (Typ, error) {
	p.skipSpace()
	if p.consume("()") {
		return Unit, nil
	}

	name := p.ident()
	if name == "" {
		return nil, fmt.Errorf("invalid type %q: expected name at offset %d", p.src, p.pos)
	}

	switch name {
	case "bool":
		return Bool, nil
	case "spec_fn", "fn":
		params, err := p.list("(", ")")
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.consume("->") {
			return nil, fmt.Errorf("invalid type %q: expected ->", p.src)
		}
		ret, err := p.parse()
		if err != nil {
			return nil, err
		}
		if name == "fn" {
			return &ClosureTyp{Params: params, Ret: ret}, nil
		}
		return &LambdaTyp{Params: params, Ret: ret}, nil
	}

	if r, ok := ParseIntRange(name); ok {
		return &IntTyp{Range: r}, nil
	} else if p.typParams[name] {
		return &TypParam{Name: name}, nil
	}

	p.skipSpace()
	if !strings.HasPrefix(p.src[p.pos:], "<") {
		return &DatatypeTyp{Name: name}, nil
	}
	args, err := p.list("<", ">")
	if err != nil {
		return nil, err
	}
	return &DatatypeTyp{Name: name, Args: args}, nil
}

// list parses a comma separated list of types between open and close.
func (p *typParser) list(open, close string) ([]Typ, error) {
	p.skipSpace()
	if !p.consume(open) {
		return nil, fmt.Errorf("invalid type %q: expected %s", p.src, open)
	}

	var a []Typ
	for {
		p.skipSpace()
		if p.consume(close) {
			return a, nil
		} else if len(a) > 0 && !p.consume(",") {
			return nil, fmt.Errorf("invalid type %q: expected , or %s", p.src, close)
		}
		t, err := p.parse()
		if err != nil {
			return nil, err
		}
		a = append(a, t)
	}
}

func (p *typParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		ch := rune(p.src[p.pos])
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typParser) consume(tok string) bool {
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *typParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}
