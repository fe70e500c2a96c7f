package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"insightpdf/core"
)

// serviceStopTimeout bounds how long Stop waits for the server to drain.
const serviceStopTimeout = 90 * time.Second

// program implements service.Interface around the HTTP service.
type program struct {
	env   *environment
	serve func(stop <-chan struct{}) error

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	err    error
	logger service.Logger
}

func newProgram(env *environment) *program {
	return &program{env: env, serve: env.serve}
}

// Start is called by the service manager. It must not block.
func (p *program) Start(s service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return errors.New("service already started")
	}
	if s != nil {
		if l, err := s.Logger(nil); err == nil {
			p.logger = l
		}
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
	return nil
}

func (p *program) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	err := p.serve(stop)

	p.mu.Lock()
	p.err = err
	logger := p.logger
	p.mu.Unlock()

	if err == nil {
		return
	}
	code := exitCode(err)
	if logger != nil {
		_ = logger.Errorf("server exited (%s): %v", core.ExitCodeName(code), err)
	}
	select {
	case <-stop:
	default:
		// The server died on its own; the service manager restarts us.
		os.Exit(code)
	}
}

// Stop asks the server to shut down and waits for it.
func (p *program) Stop(s service.Service) error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-stop:
	default:
		close(stop)
	}

	select {
	case <-done:
	case <-time.After(serviceStopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// serviceConfig describes the installed service. The service re-runs this
// binary with "service run" in the current working directory.
func serviceConfig(envFile string) (*service.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	args := []string{"service", "run"}
	if envFile != "" {
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(wd, envFile)
		}
		args = append(args, "--env-file", envFile)
	}
	return &service.Config{
		Name:             "insightpdf",
		DisplayName:      "InsightPDF",
		Description:      "Extracts exam questions from uploaded PDF workbooks with vision models",
		Arguments:        args,
		WorkingDirectory: wd,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}, nil
}

func (e *environment) newService() (service.Service, *program, error) {
	cfg, err := serviceConfig(e.envFile)
	if err != nil {
		return nil, nil, err
	}
	prg := newProgram(e)
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, prg, nil
}

// serviceActions are the control verbs passed through to the service manager.
var serviceActions = map[string]string{
	"install":   "installed",
	"uninstall": "uninstalled",
	"start":     "started",
	"stop":      "stopped",
	"restart":   "restarted",
}

func newServiceCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the system service",
		Long: `Install, control or run insightpdf as a system service (systemd, launchd or
the Windows service manager).`,
	}

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: action + " the service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := env.newService()
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Service %s\n", serviceActions[action])
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := env.newService()
			if err != nil {
				return err
			}
			status, err := s.Status()
			if err != nil {
				return fmt.Errorf("failed to get service status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service: %s\n", statusName(status))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env.headless = true
			s, _, err := env.newService()
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
