// Command insightpdf extracts structured exam questions from PDF workbooks
// using vision models. It runs as an HTTP service by default and also offers
// a one-shot extract command and system service management.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insightpdf/core"
	"insightpdf/core/validation"
	"insightpdf/logging"
)

func main() {
	env := &environment{out: os.Stdout, errOut: os.Stderr}
	if err := newRootCmd(env).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// environment carries the global flags and output streams shared by all
// commands.
type environment struct {
	envFile        string
	skipValidation bool
	noColor        bool
	// headless is set under the service manager, where no one reads the
	// startup checklist.
	headless bool

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:   "insightpdf",
		Short: "Extract exam questions from PDF workbooks with vision models",
		Long: `insightpdf converts uploaded PDF workbooks into page images, sends them to
an OpenAI-compatible vision model in batches and collects the extracted
questions into CSV, XLSX or JSONL files.

Without a subcommand it runs the HTTP service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       core.GetVersionInfo(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if env.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.serve(nil)
		},
	}
	root.SetOut(env.out)
	root.SetErr(env.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&env.envFile, "env-file", ".env", "environment file to load")
	flags.BoolVar(&env.skipValidation, "skip-validation", false, "skip the startup checklist")
	flags.BoolVar(&env.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCmd(env),
		newExtractCmd(env),
		newCleanupCmd(env),
		newServiceCmd(env),
		newVersionCmd(),
	)
	return root
}

// setup loads the environment file and configuration, creates the logger and
// runs the startup checklist. requireProvider makes a missing vision provider
// fatal.
func (e *environment) setup(requireProvider bool) (*core.Config, *logging.Logger, error) {
	if err := godotenv.Load(e.envFile); err != nil && e.envFile != ".env" {
		// An explicit --env-file must exist; the default one is optional.
		return nil, nil, fmt.Errorf("load %s: %w", e.envFile, err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(logging.Options{
		DevMode:  cfg.DevMode,
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded",
		zap.String("addr", cfg.Addr()),
		zap.String("data_dir", cfg.DataDir),
		zap.String("upload_dir", cfg.UploadDir),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("task_store", cfg.TaskStore),
		zap.Strings("providers", cfg.ConfiguredProviders()),
		zap.String("default_provider", cfg.DefaultProvider),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("api_timeout", cfg.APITimeout),
		zap.Bool("dev_mode", cfg.DevMode),
	)
	logger.Debug("logger ready",
		zap.Bool("development", logger.IsDevelopment()),
		zap.String("log_file", logger.LogFilePath()),
	)

	if !e.skipValidation {
		if err := e.runStartupValidation(cfg, logger, requireProvider); err != nil {
			logger.Sync()
			return nil, nil, err
		}
	}
	return cfg, logger, nil
}

// errValidation marks a failed startup checklist.
var errValidation = errors.New("startup validation failed")

// runStartupValidation prints the colored checklist and logs every failed
// step.
func (e *environment) runStartupValidation(cfg *core.Config, logger *logging.Logger, requireProvider bool) error {
	suite := validation.NewValidationSuite(cfg).
		WithOutput(e.out).
		WithEnvPath(e.envFile).
		WithRequireProvider(requireProvider).
		WithMinFreeBytes(cfg.MinFreeDisk).
		WithShowProgress(!e.headless).
		WithFailFast(e.headless)

	result := suite.Validate()
	if !result.Success {
		first := result.GetFirstError()
		logger.Error("startup validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.String("code", core.GetErrorCode(first)),
			zap.Errors("errors", result.GetErrors()),
			zap.Duration("duration", result.Duration),
		)
		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("validation step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}
		if first != nil {
			return fmt.Errorf("%w: %w", errValidation, first)
		}
		return errValidation
	}

	logger.Info("startup validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Int("warnings", result.Warnings),
		zap.Duration("duration", result.Duration),
	)
	return nil
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return core.ExitCodeSuccess
	}
	if errors.Is(err, errValidation) {
		return core.ExitCodeConfig
	}
	if _, ok := core.IsConfigError(err); ok {
		return core.ExitCodeConfig
	}
	return core.ExitCodeError
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "insightpdf %s\n", core.GetVersionInfo())
		},
	}
}
