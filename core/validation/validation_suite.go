package validation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"insightpdf/core"
)

// ValidationStep represents a single validation step with its status.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SuiteResult represents the complete result of validation suite execution.
type SuiteResult struct {
	Steps       []ValidationStep
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// checkResult is what an individual check reports back to the suite.
type checkResult struct {
	status  StepStatus
	message string
	err     error
}

func passed(msg string) checkResult { return checkResult{status: StepPassed, message: msg} }
func warning(msg string, err error) checkResult { return checkResult{status: StepWarning, message: msg, err: err} }
func failed(msg string, err error) checkResult { return checkResult{status: StepFailed, message: msg, err: err} }

// ValidationSuite runs the startup checks for a loaded configuration:
// environment file, working directories, free disk space, vision providers
// and the task store backend.
type ValidationSuite struct {
	cfg             *core.Config
	output          io.Writer
	envPath         string
	showProgress    bool
	failFast        bool
	requireProvider bool
	minFreeBytes    int64
}

// NewValidationSuite creates a new ValidationSuite with default settings.
func NewValidationSuite(cfg *core.Config) *ValidationSuite {
	return &ValidationSuite{
		cfg:          cfg,
		output:       os.Stdout,
		envPath:      ".env",
		showProgress: true,
		minFreeBytes: MinFreeBytes,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *ValidationSuite) WithOutput(w io.Writer) *ValidationSuite {
	s.output = w
	return s
}

// WithShowProgress enables or disables progress output.
func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// WithFailFast stops validation on first failure if enabled.
func (s *ValidationSuite) WithFailFast(failFast bool) *ValidationSuite {
	s.failFast = failFast
	return s
}

// WithEnvPath sets a custom path for the .env file.
func (s *ValidationSuite) WithEnvPath(path string) *ValidationSuite {
	s.envPath = path
	return s
}

// WithRequireProvider turns a missing vision provider from a warning into a
// failure. One-shot extraction needs it; the server can still accept uploads.
func (s *ValidationSuite) WithRequireProvider(require bool) *ValidationSuite {
	s.requireProvider = require
	return s
}

// WithMinFreeBytes overrides the free disk space threshold.
func (s *ValidationSuite) WithMinFreeBytes(n int64) *ValidationSuite {
	s.minFreeBytes = n
	return s
}

// Validate runs all checks in sequence with progress output.
func (s *ValidationSuite) Validate() SuiteResult {
	startTime := time.Now()

	if s.showProgress {
		s.printHeader("InsightPDF Startup Validation")
	}

	checks := []struct {
		name string
		fn   func() checkResult
	}{
		{"Environment File", s.checkEnvFile},
		{"Working Directories", s.checkDirectories},
		{"Disk Space", s.checkDiskSpace},
		{"Vision Providers", s.checkProviders},
		{"Task Store", s.checkTaskStore},
	}

	steps := make([]ValidationStep, 0, len(checks))
	for _, check := range checks {
		step := s.runStep(check.name, check.fn)
		steps = append(steps, step)
		if s.failFast && step.Status == StepFailed {
			break
		}
	}

	result := s.buildResult(steps, startTime)

	if s.showProgress {
		s.printSummary(result)
	}

	return result
}

func (s *ValidationSuite) checkEnvFile() checkResult {
	if err := CheckFileExists(s.envPath); err != nil {
		return warning("not found, using process environment", nil)
	}
	return passed(s.envPath)
}

func (s *ValidationSuite) checkDirectories() checkResult {
	dirs := []string{s.cfg.DataDir, s.cfg.UploadDir, s.cfg.OutputDir}
	for _, dir := range dirs {
		if err := CheckWritableDir(dir); err != nil {
			return failed(dir, core.ErrDirectoryNotUsable(dir, err))
		}
	}
	return passed(strings.Join(dirs, ", "))
}

func (s *ValidationSuite) checkDiskSpace() checkResult {
	info, err := GetDiskSpace(s.cfg.OutputDir)
	if err != nil {
		return warning("could not determine free space", err)
	}
	if err := CheckDiskSpace(s.cfg.OutputDir, s.minFreeBytes); err != nil {
		return warning(info.FreeFormatted+" free", err)
	}
	return passed(fmt.Sprintf("%s free of %s", info.FreeFormatted, info.TotalFormatted))
}

func (s *ValidationSuite) checkProviders() checkResult {
	configured := s.cfg.ConfiguredProviders()
	if len(configured) == 0 {
		if s.requireProvider {
			return failed("none configured", core.ErrMissingProvider())
		}
		return warning("none configured, analysis tasks will fail", core.ErrMissingProvider())
	}

	def := s.cfg.Providers[s.cfg.DefaultProvider]
	if !def.Configured() {
		msg := fmt.Sprintf("default %q has no credentials (configured: %s)",
			s.cfg.DefaultProvider, strings.Join(configured, ", "))
		if s.requireProvider {
			return failed(msg, core.ErrMissingProvider())
		}
		return warning(msg, nil)
	}

	return passed(fmt.Sprintf("default %s (%s), available: %s",
		s.cfg.DefaultProvider, def.Model, strings.Join(configured, ", ")))
}

func (s *ValidationSuite) checkTaskStore() checkResult {
	path := s.cfg.SQLitePath
	if s.cfg.TaskStore == core.StoreJSON {
		path = s.cfg.SnapshotPath
	}
	if err := CheckWritableDir(filepath.Dir(path)); err != nil {
		return failed(path, core.ErrDirectoryNotUsable(filepath.Dir(path), err))
	}
	return passed(fmt.Sprintf("%s at %s", s.cfg.TaskStore, path))
}

// runStep executes a validation step with timing and progress output.
func (s *ValidationSuite) runStep(name string, fn func() checkResult) ValidationStep {
	if s.showProgress {
		s.printStepStart(name)
	}

	startTime := time.Now()
	res := fn()
	step := ValidationStep{
		Name:    name,
		Status:  res.status,
		Message: res.message,
		Error:   res.err,
		Latency: time.Since(startTime),
	}

	if s.showProgress {
		s.printStep(step)
	}

	return step
}

// buildResult creates a SuiteResult from completed steps.
func (s *ValidationSuite) buildResult(steps []ValidationStep, startTime time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(startTime),
		Success:    true,
	}

	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}

	return result
}

func (s *ValidationSuite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *ValidationSuite) printStepStart(name string) {
	fmt.Fprintf(s.output, "  ◌ %s...", name)
}

// printStep prints a completed validation step with status indicator.
func (s *ValidationSuite) printStep(step ValidationStep) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon = "✓"
		clr = color.New(color.FgGreen)
	case StepFailed:
		icon = "✗"
		clr = color.New(color.FgRed)
	case StepWarning:
		icon = "!"
		clr = color.New(color.FgYellow)
	case StepSkipped:
		icon = "○"
		clr = color.New(color.FgHiBlack)
	default:
		icon = "?"
		clr = color.New(color.FgWhite)
	}

	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)

	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}

	fmt.Fprintln(s.output)

	if step.Status == StepFailed && step.Error != nil {
		color.New(color.FgRed).Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *ValidationSuite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)

	if result.Success {
		successColor := color.New(color.FgGreen, color.Bold)
		successColor.Fprintf(s.output, "━━━ Validation Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed, %d warnings, in %v)",
			result.PassedSteps, result.TotalSteps, result.Warnings, result.Duration.Round(time.Millisecond))
		successColor.Fprintln(s.output, " ━━━")
	} else {
		failColor := color.New(color.FgRed, color.Bold)
		failColor.Fprintf(s.output, "━━━ Validation Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		failColor.Fprintln(s.output, " ━━━")
	}

	fmt.Fprintln(s.output)
}

// GetErrors returns all errors from failed steps.
func (r SuiteResult) GetErrors() []error {
	errs := make([]error, 0)
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			errs = append(errs, step.Error)
		}
	}
	return errs
}

// GetFirstError returns the first error from failed steps, or nil if all passed.
func (r SuiteResult) GetFirstError() error {
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a human-readable summary string.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Validation %s: ", map[bool]string{true: "Passed", false: "Failed"}[r.Success]))
	sb.WriteString(fmt.Sprintf("%d/%d checks passed", r.PassedSteps, r.TotalSteps))
	if r.FailedSteps > 0 {
		sb.WriteString(fmt.Sprintf(", %d failed", r.FailedSteps))
	}
	if r.Warnings > 0 {
		sb.WriteString(fmt.Sprintf(", %d warnings", r.Warnings))
	}
	sb.WriteString(fmt.Sprintf(" (took %v)", r.Duration.Round(time.Millisecond)))
	return sb.String()
}
