// Package cli implements the pothook command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/acknak/pothook/internal/config"
	"github.com/acknak/pothook/internal/logging"
	"github.com/acknak/pothook/internal/platform"
	"github.com/acknak/pothook/internal/version"
	"github.com/acknak/pothook/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	verbose     bool
	jsonLogs    bool
	quiet       bool
	noProgress  bool
	envFile     string
	modelDir    string
	whisperPath string
	engine      string
	threads     int

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
	errOut io.Writer

	engineFn   func(cfg *config.Config, logger *zap.Logger) (whisper.Engine, error)
	progressFn func() bool
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	cmd := &cobra.Command{
		Use:           "pothook",
		Short:         "Normalize media to 16 kHz mono WAV and transcribe it with whisper",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app.out = cmd.OutOrStdout()
			app.errOut = cmd.ErrOrStderr()
			return app.init()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if app.logger != nil {
				_ = app.logger.Sync()
			}
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.BoolVar(&app.verbose, "verbose", false, "Enable verbose logs")
	pf.BoolVar(&app.jsonLogs, "json", false, "Enable JSON logging")
	pf.BoolVarP(&app.quiet, "quiet", "q", false, "Only log warnings and errors")
	pf.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")
	pf.StringVar(&app.envFile, "env-file", "", "Path to a .env file (default .env)")
	pf.StringVar(&app.modelDir, "model-dir", "", "Directory where models are stored")
	pf.StringVar(&app.whisperPath, "whisper-path", "", "Path to the whisper-cli executable")
	pf.StringVar(&app.engine, "engine", "", "Recognition engine: cli|cgo")
	pf.IntVar(&app.threads, "threads", 0, "Engine threads; 0 uses the engine default")

	cmd.AddCommand(newCheckCmd(app))
	cmd.AddCommand(newConvertCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSessionCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// init loads configuration and builds the logger once per process.
func (a *appState) init() error {
	if a.cfg != nil {
		return nil
	}

	cfg, err := config.Load(config.Overrides{
		EnvFile:     a.envFile,
		ModelDir:    a.modelDir,
		WhisperPath: a.whisperPath,
		Engine:      a.engine,
		Threads:     a.threads,
		LogJSON:     a.jsonLogs,
		LogVerbose:  a.verbose,
	})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg

	if a.logger == nil {
		logger, err := logging.New(logging.Options{Verbose: cfg.LogVerbose, JSON: cfg.LogJSON, Quiet: a.quiet})
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		a.logger = logger
	}
	return nil
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) outWriter() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func (a *appState) errWriter() io.Writer {
	if a.errOut == nil {
		return os.Stderr
	}
	return a.errOut
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	if a.progressFn != nil {
		return a.progressFn()
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) newEngine() (whisper.Engine, error) {
	if a.engineFn != nil {
		return a.engineFn(a.cfg, a.log())
	}
	return newEngine(a.cfg, a.log())
}

func newEngine(cfg *config.Config, logger *zap.Logger) (whisper.Engine, error) {
	if cfg.Engine == config.EngineCgo {
		return whisper.NewCgoEngine(logger)
	}
	engine, err := whisper.NewCLIEngine(cfg.WhisperPath, logger)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return "auto"
	}
	return trimmed
}
