// Package migrate drives the external migration tool for a tenant.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/internal/tenant"
	"github.com/vitebski/pgtenant/pkg/models"
)

const (
	// DefaultTool is the migration executable looked up on PATH
	DefaultTool = "piccolo"
	// DefaultTimeout bounds a single migration run
	DefaultTimeout = 5 * time.Minute
)

// Runner runs migration commands inside tenant directories
type Runner struct {
	Tool         string
	ConfigModule string
	Executor     Executor
	Timeout      time.Duration
	Passthrough  []string
	Logger       *logrus.Logger
}

// NewRunner creates a runner backed by subprocesses
func NewRunner(logger *logrus.Logger) *Runner {
	return &Runner{
		Tool:         DefaultTool,
		ConfigModule: DefaultConfigModule,
		Executor:     &ShellExecutor{},
		Timeout:      DefaultTimeout,
		Passthrough:  DefaultPassthrough,
		Logger:       logger,
	}
}

// Forwards applies every pending migration of the tenant app
func (r *Runner) Forwards(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, trace bool) (*models.MigrationResult, error) {
	args := []string{"migrations", "forwards", t.Name}
	if trace {
		args = append(args, "--trace")
	}
	return r.run(ctx, t, cfg, args)
}

// New generates a migration from the difference between the tenant's
// tables and its migration history
func (r *Runner) New(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, trace bool) (*models.MigrationResult, error) {
	args := []string{"migrations", "new", t.Name, "--auto"}
	if trace {
		args = append(args, "--trace")
	}
	return r.run(ctx, t, cfg, args)
}

// Backwards reverts the tenant app to migrationID without prompting
func (r *Runner) Backwards(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, migrationID string, trace bool) (*models.MigrationResult, error) {
	if strings.TrimSpace(migrationID) == "" {
		return nil, errors.New("migration id is required")
	}
	args := []string{"migrations", "backwards", t.Name, "--migration_id=" + migrationID, "--auto_agree"}
	if trace {
		args = append(args, "--trace")
	}
	return r.run(ctx, t, cfg, args)
}

// Diagnose runs the tool's self-diagnosis and, when check is set, the
// migration consistency check. The outputs are joined in that order.
func (r *Runner) Diagnose(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, check bool) (string, error) {
	result, err := r.run(ctx, t, cfg, []string{"--diagnose"})
	if err != nil {
		return "", err
	}
	output := result.Output
	if !check {
		return output, nil
	}

	result, err = r.run(ctx, t, cfg, []string{"migrations", "check"})
	if err != nil {
		return output, err
	}
	return output + "\n" + result.Output, nil
}

func (r *Runner) run(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, args []string) (*models.MigrationResult, error) {
	if t.UNC {
		return nil, fmt.Errorf("%w: %s", models.ErrUNCPath, t.Path)
	}
	if err := tenant.Check(t); err != nil {
		return nil, err
	}

	tool := r.Tool
	if tool == "" {
		tool = DefaultTool
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	executor := r.Executor
	if executor == nil {
		executor = &ShellExecutor{}
	}

	env := BuildEnv(cfg.ForDatabase(t.Name))
	if r.ConfigModule != "" {
		env = env.With(ConfigModuleVar, r.ConfigModule)
	}
	env = env.WithPassthrough(r.Passthrough, os.LookupEnv)
	command := Command{Name: tool, Args: args, Dir: t.Dir, Env: env.Environ()}
	argv := append([]string{tool}, args...)

	log := r.Logger.WithField("tenant", t.Name)
	log.Debugf("Running %s in %s", strings.Join(argv, " "), t.Dir)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, exitCode, err := executor.Run(runCtx, command)
	result := &models.MigrationResult{
		Command:  argv,
		Output:   NormalizeOutput(raw),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}

	// A tool that exited cleanly keeps its result even if ctx ended meanwhile
	failed := err != nil || exitCode != 0
	if failed && ctx.Err() != nil {
		result.Status = models.MigrationFailed
		return result, ctx.Err()
	}
	if failed && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Status = models.MigrationTimedOut
		log.Errorf("%s did not finish within %s", strings.Join(argv, " "), timeout)
		return result, fmt.Errorf("%w: %s after %s", models.ErrMigrationTimeout, strings.Join(argv, " "), timeout)
	}
	if err != nil {
		result.Status = models.MigrationFailed
		return result, fmt.Errorf("start %s: %w", tool, err)
	}

	if exitCode != 0 {
		result.Status = models.MigrationFailed
		log.Warnf("%s exited with code %d", strings.Join(argv, " "), exitCode)
	} else {
		result.Status = models.MigrationSucceeded
	}
	if result.Output != "" {
		log.Info(result.Output)
	}
	return result, nil
}
