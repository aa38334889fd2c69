package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/benbjohnson/vcgen"
	"github.com/benbjohnson/vcgen/air"
	"github.com/benbjohnson/vcgen/smtlib"
	"github.com/benbjohnson/vcgen/z3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultConfigPath is the configuration file read when --config is not set.
const DefaultConfigPath = "vcgen.yaml"

// ErrVerificationFailed is returned when at least one function fails to verify.
var ErrVerificationFailed = errors.New("verification failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m := NewMain()
	if err := m.Run(ctx, os.Args[1:]); err == ErrVerificationFailed {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program.
type Main struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Config vcgen.Config
	Logger *zap.Logger

	configPath string
	logLevel   string
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Config: vcgen.DefaultConfig(),
		Logger: zap.NewNop(),
	}
}

// Run executes the program with the given arguments.
func (m *Main) Run(ctx context.Context, args []string) error {
	cmd := m.rootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(m.Stdin)
	cmd.SetOut(m.Stdout)
	cmd.SetErr(m.Stderr)
	return cmd.ExecuteContext(ctx)
}

func (m *Main) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vcgen",
		Short: "vcgen - verification condition generator",
		Long: `
Vcgen lowers verified programs into verification conditions and checks them
with an SMT solver.
`[1:],
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return m.init(cmd) },
	}
	cmd.PersistentFlags().StringVarP(&m.configPath, "config", "c", "", "configuration file (default "+DefaultConfigPath+" if present)")
	cmd.PersistentFlags().StringVar(&m.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(m.verifyCommand())
	cmd.AddCommand(m.lowerCommand())
	cmd.AddCommand(m.smtCommand())
	return cmd
}

// init reads the configuration file and builds the logger.
func (m *Main) init(cmd *cobra.Command) error {
	if m.configPath != "" {
		config, err := vcgen.ReadConfigFile(m.configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		m.Config = config
	} else if _, err := os.Stat(DefaultConfigPath); err == nil {
		config, err := vcgen.ReadConfigFile(DefaultConfigPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		m.Config = config
	}

	if m.logLevel != "" {
		m.Config.LogLevel = m.logLevel
	}
	logger, err := newLogger(m.Stderr, m.Config.LogLevel)
	if err != nil {
		return err
	}
	m.Logger = logger
	return nil
}

// newLogger returns a console logger writing to w at the given level.
func newLogger(w io.Writer, level string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %q", level)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// load reads the program at path and builds its verification context.
func (m *Main) load(path string) (*vcgen.Context, error) {
	ctx, err := vcgen.Load(path, m.Config)
	if err != nil {
		return nil, err
	}
	m.Logger.Debug("loaded program",
		zap.String("path", path),
		zap.Int("functions", len(ctx.Program().Functions)),
		zap.Int("datatypes", len(ctx.Program().Datatypes)),
	)
	return ctx, nil
}

// newBackend opens a solver session as selected by the configuration.
func (m *Main) newBackend() (air.Backend, error) {
	switch m.Config.Solver.Backend {
	case "", "z3":
		return z3.NewBackend(m.Config.RLimit)
	case "process":
		return smtlib.Start(m.Config.Solver.Path, m.Config.Solver.Args, m.Config.RLimit)
	default:
		return nil, fmt.Errorf("unknown solver backend: %q", m.Config.Solver.Backend)
	}
}
