package vcgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/vir"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoBackend is returned when a Verifier has no way to open a solver.
var ErrNoBackend = errors.New("no solver backend")

// Verifier lowers, emits, and checks every function of a program. Each
// function is checked in its own solver session; up to Config.Workers
// functions are checked at a time.
type Verifier struct {
	ctx *Context

	// Opens a new solver session.
	NewBackend func() (air.Backend, error)

	Logger *zap.Logger
}

// NewVerifier returns a new instance of Verifier for the functions of ctx.
func NewVerifier(ctx *Context) *Verifier {
	return &Verifier{
		ctx:    ctx,
		Logger: zap.NewNop(),
	}
}

// FunctionResult is the outcome of verifying one function.
type FunctionResult struct {
	Name   string
	Status air.Status
	Reason string
	Errors []*air.Diagnostic

	// Set if the function could not be translated or checked. Status is
	// not meaningful in that case.
	Err error

	// Set for functions without a body.
	Skipped bool

	Elapsed time.Duration
}

// Report holds the results of a verification run in program order.
type Report struct {
	Functions []*FunctionResult
}

// Counts returns the number of verified, failed, and inconclusive
// functions. Functions with errors count as failed.
func (r *Report) Counts() (verified, failed, unknown int) {
	for _, fr := range r.Functions {
		switch {
		case fr.Skipped:
		case fr.Err != nil:
			failed++
		case fr.Status == air.StatusValid:
			verified++
		case fr.Status == air.StatusInvalid:
			failed++
		default:
			unknown++
		}
	}
	return verified, failed, unknown
}

// OK returns true if every function verified.
func (r *Report) OK() bool {
	_, failed, unknown := r.Counts()
	return failed == 0 && unknown == 0
}

// Verify checks every function of the program. An error is returned only
// if the run is canceled; per-function failures are recorded in the report.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	fns := v.ctx.Program().Functions
	results := make([]*FunctionResult, len(fns))

	g, gctx := errgroup.WithContext(ctx)
	if n := v.ctx.Config.Workers; n > 0 {
		g.SetLimit(n)
	}
	for i, fn := range fns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.VerifyFunction(gctx, fn.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Report{Functions: results}, nil
}

// VerifyFunction checks a single function. If the function fails and
// splitting is enabled, it is checked again with split assertions to
// report the failing conjuncts.
func (v *Verifier) VerifyFunction(ctx context.Context, name string) *FunctionResult {
	t := time.Now()
	logger := v.Logger.With(zap.String("function", name))
	result := &FunctionResult{Name: name}
	defer func() { result.Elapsed = time.Since(t) }()

	logger.Debug("verifying")
	sst, err := v.ctx.LowerFunction(name, false)
	if err != nil {
		logger.Warn("lowering failed", zap.Error(err))
		result.Err = err
		return result
	} else if sst.Body == nil {
		result.Skipped = true
		return result
	}

	res, err := v.check(ctx, logger, sst, false)
	if err != nil {
		logger.Warn("check failed", zap.Error(err))
		result.Err = err
		return result
	}

	if res.Status == air.StatusInvalid && v.ctx.Config.Split {
		if other, err := v.checkSplit(ctx, logger, name); err != nil {
			logger.Warn("split check failed", zap.Error(err))
		} else if other.Status == air.StatusInvalid {
			res = other
		}
	}

	result.Status, result.Reason, result.Errors = res.Status, res.Reason, res.Errors
	logger.Info("verified",
		zap.Stringer("status", res.Status),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", time.Since(t)),
	)
	return result
}

func (v *Verifier) checkSplit(ctx context.Context, logger *zap.Logger, name string) (*air.Result, error) {
	sst, err := v.ctx.LowerFunction(name, true)
	if err != nil {
		return nil, err
	}
	return v.check(ctx, logger, sst, true)
}

// check emits a lowered function and runs it in a new solver session.
func (v *Verifier) check(ctx context.Context, logger *zap.Logger, sst *FunctionSst, split bool) (_ *air.Result, err error) {
	cmds, err := v.ctx.Emit(sst, split)
	if err != nil {
		return nil, err
	}

	if v.NewBackend == nil {
		return nil, ErrNoBackend
	}
	backend, err := v.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("open solver: %w", err)
	}
	defer func() {
		if e := backend.Close(); e != nil && err == nil {
			err = e
		}
	}()

	runner := air.NewRunner(backend)
	runner.Logger = logger
	results, err := runner.Run(ctx, cmds)
	if err != nil {
		return nil, err
	} else if len(results) != 1 {
		return nil, fmt.Errorf("%s: expected one query result, got %d", sst.Name, len(results))
	}

	stats := runner.Stats()
	logger.Debug("solver",
		zap.Bool("split", split),
		zap.Int("checks", stats.CheckN),
		zap.Duration("check_time", stats.CheckTime),
	)
	return results[0], nil
}

// LowerProgram lowers every function of the program in order. It stops at
// the first error.
func (ctx *Context) LowerProgram() ([]*FunctionSst, error) {
	var a []*FunctionSst
	for _, fn := range ctx.Program().Functions {
		sst, err := ctx.LowerFunction(fn.Name, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name, err)
		}
		a = append(a, sst)
	}
	return a, nil
}

// EmitProgram returns the commands of every function with a body, in
// program order.
func (ctx *Context) EmitProgram(split bool) ([]air.Command, error) {
	fns, err := ctx.LowerProgram()
	if err != nil {
		return nil, err
	}
	var cmds []air.Command
	for _, fn := range fns {
		other, err := ctx.Emit(fn, split)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn.Name, err)
		}
		cmds = append(cmds, other...)
	}
	return cmds, nil
}

// Load decodes a program file and returns a context for it.
func Load(path string, config Config) (*Context, error) {
	prog, err := vir.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return NewContext(prog, config, nil), nil
}
