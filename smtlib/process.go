// Package smtlib implements a solver backend that drives an external
// SMT-LIB 2 solver process over its standard input and output.
package smtlib

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/vcgen/air"
)

// Ensure process implements interface.
var _ air.Backend = (*Process)(nil)

// ErrClosed is returned when using a process that has exited.
var ErrClosed = errors.New("solver process closed")

// Process represents a running solver such as "z3 -in".
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  *bufio.Scanner
	stderr bytes.Buffer

	// Declarations and assertions are written through a writer.
	*air.Writer

	err   error
	stats Stats
}

// Stats holds counters for a Process.
type Stats struct {
	CheckN    int
	CheckTime time.Duration
}

// Start starts the solver at path with args. If rlimit is nonzero, each
// check is limited to that many resource units.
func Start(path string, args []string, rlimit uint64) (*Process, error) {
	p := &Process{cmd: exec.Command(path, args...)}
	p.cmd.Stderr = &p.stderr

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start solver: %w", err)
	}

	p.stdin = stdin
	p.lines = bufio.NewScanner(stdout)
	p.lines.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	p.Writer = air.NewWriter(stdin)

	if rlimit > 0 {
		if err := p.SetOption("rlimit", strconv.FormatUint(rlimit, 10)); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Stats returns statistics for the process.
func (p *Process) Stats() Stats {
	return p.stats
}

// Check sends a check-sat command and waits for the answer. For unknown
// results the solver's reason is requested as well. Canceling ctx kills
// the solver.
func (p *Process) Check(ctx context.Context) (_ air.CheckResult, err error) {
	if p.err != nil {
		return air.CheckResult{}, p.err
	}

	t := time.Now()
	defer func() {
		p.stats.CheckN++
		p.stats.CheckTime += time.Since(t)
	}()

	if _, err := p.Writer.Check(ctx); err != nil {
		return air.CheckResult{}, err
	}

	line, err := p.response(ctx)
	if err != nil {
		return air.CheckResult{}, err
	}
	switch line {
	case "unsat":
		return air.CheckResult{Sat: air.Unsat}, nil
	case "sat":
		return air.CheckResult{Sat: air.Sat}, nil
	case "unknown":
	default:
		return air.CheckResult{}, fmt.Errorf("unexpected solver output: %q", line)
	}

	if err := p.GetInfo("reason-unknown"); err != nil {
		return air.CheckResult{}, err
	} else if err := p.Flush(); err != nil {
		return air.CheckResult{}, err
	}
	line, err = p.response(ctx)
	if err != nil {
		return air.CheckResult{}, err
	}
	return air.CheckResult{Sat: air.Unknown, Reason: parseReason(line)}, nil
}

// response returns the next line of output that is not an error. Error
// lines refer to earlier commands and are returned as an Error.
func (p *Process) response(ctx context.Context) (string, error) {
	var errs []string
	for {
		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}

		if strings.HasPrefix(line, "(error ") {
			errs = append(errs, parseError(line))
			continue
		} else if line == "success" {
			continue
		}

		if len(errs) > 0 {
			return "", &Error{Messages: errs}
		}
		return line, nil
	}
}

// readLine reads a line of output. If ctx is done first, the solver is
// killed and the process can no longer be used.
func (p *Process) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		if p.lines.Scan() {
			ch <- result{line: strings.TrimSpace(p.lines.Text())}
			return
		}
		err := p.lines.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		ch <- result{err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			p.err = fmt.Errorf("read solver output: %w: %s", r.err, strings.TrimSpace(p.stderr.String()))
			return "", p.err
		}
		return r.line, nil
	case <-ctx.Done():
		p.err = ctx.Err()
		_ = p.cmd.Process.Kill()
		<-ch
		return "", p.err
	}
}

// Close asks the solver to exit and waits for it.
func (p *Process) Close() error {
	if p.err == nil {
		p.err = ErrClosed
		_ = p.Exit()
		_ = p.Flush()
	}
	_ = p.stdin.Close()

	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !exitErr.Exited() {
			return nil // killed
		}
		return fmt.Errorf("solver: %w: %s", err, strings.TrimSpace(p.stderr.String()))
	}
	return nil
}

// Error represents one or more errors reported by the solver.
type Error struct {
	Messages []string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return "solver: " + strings.Join(e.Messages, "; ")
}

// parseError returns the message of an (error "...") line.
func parseError(line string) string {
	s := strings.TrimSuffix(strings.TrimPrefix(line, "(error "), ")")
	if msg, err := strconv.Unquote(s); err == nil {
		return msg
	}
	return s
}

// parseReason returns the reason of a (:reason-unknown "...") line.
func parseReason(line string) string {
	s := strings.TrimSuffix(strings.TrimPrefix(line, "(:reason-unknown "), ")")
	if reason, err := strconv.Unquote(s); err == nil {
		return reason
	}
	return s
}
