package air

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Ensure writer implements interface.
var _ Backend = (*Writer)(nil)

// Writer is a Backend that writes SMT-LIB 2 commands to a writer instead
// of solving them. Check always reports an unknown result.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter returns a new instance of Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) printf(format string, args ...interface{}) error {
	if w.err != nil {
		return w.err
	}
	if _, err := fmt.Fprintf(w.w, format+"\n", args...); err != nil {
		w.err = err
	}
	return w.err
}

// SetOption writes an option command.
func (w *Writer) SetOption(name, value string) error {
	return w.printf("(set-option :%s %s)", name, value)
}

// Comment writes a comment line.
func (w *Writer) Comment(s string) error {
	for _, line := range strings.Split(s, "\n") {
		if err := w.printf(";; %s", line); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Push() error { return w.printf("(push 1)") }

func (w *Writer) Pop() error { return w.printf("(pop 1)") }

func (w *Writer) DeclareSort(name string) error {
	return w.printf("%s", &SortDecl{Sort: name})
}

func (w *Writer) DeclareDatatype(decl *DatatypeDecl) error {
	return w.printf("%s", decl)
}

func (w *Writer) DeclareConst(name string, typ Typ) error {
	return w.printf("%s", &ConstDecl{Const: name, Typ: typ})
}

func (w *Writer) DeclareFun(name string, params []Typ, ret Typ) error {
	return w.printf("%s", &FunDecl{Fun: name, Params: params, Ret: ret})
}

func (w *Writer) Assert(expr Expr) error {
	return w.printf("(assert %s)", expr)
}

// Check writes a check-sat command and flushes the output.
func (w *Writer) Check(ctx context.Context) (CheckResult, error) {
	if err := w.printf("(check-sat)"); err != nil {
		return CheckResult{}, err
	} else if err := w.Flush(); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Sat: Unknown, Reason: "not checked"}, nil
}

// GetInfo writes a get-info command for the given key.
func (w *Writer) GetInfo(key string) error {
	return w.printf("(get-info :%s)", key)
}

// Exit writes an exit command.
func (w *Writer) Exit() error { return w.printf("(exit)") }

// Flush writes any buffered output.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

// Close flushes the output.
func (w *Writer) Close() error { return w.Flush() }
