// Package provisioner registers tenants: it makes sure each tenant has its
// own database, brings the schema up to date and hands back a pooled engine
// bound to the tenant's tables.
package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/internal/binder"
	"github.com/vitebski/pgtenant/internal/catalog"
	"github.com/vitebski/pgtenant/internal/materializer"
	"github.com/vitebski/pgtenant/internal/metrics"
	"github.com/vitebski/pgtenant/internal/migrate"
	"github.com/vitebski/pgtenant/internal/tenant"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds RegisterAll
const DefaultConcurrency = 4

// Registration is the outcome of registering one tenant
type Registration struct {
	Tenant    models.Tenant
	Engine    *connector.Engine
	Bindings  connector.Bindings
	Created   bool
	Migration *models.MigrationResult
	Tables    []models.Table
	Report    *models.MaterializeReport
	Warnings  []string
	Duration  time.Duration
}

// Target is one tenant handed to RegisterAll
type Target struct {
	Path   string
	Tables []models.Table
}

// Provisioner registers tenants and owns the engines it hands out
type Provisioner struct {
	Acquirer     *connector.Acquirer
	Checker      *catalog.Checker
	Binder       *binder.Binder
	Materializer *materializer.TableMaterializer
	Runner       *migrate.Runner
	Metrics      *metrics.Metrics
	UNCPolicy    UNCPolicy
	Concurrency  int
	Logger       *logrus.Logger

	mu      sync.Mutex
	locks   map[string]*tenantLock
	engines map[string]*connector.Engine
}

// tenantLock serializes registrations of one tenant. refs counts the
// callers holding or waiting for it; the entry is dropped at zero.
type tenantLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewProvisioner wires the default components around one acquirer
func NewProvisioner(logger *logrus.Logger) *Provisioner {
	acquirer := connector.NewAcquirer(logger)
	b := binder.NewBinder(acquirer, logger)
	return &Provisioner{
		Acquirer:     acquirer,
		Checker:      catalog.NewChecker(acquirer, logger),
		Binder:       b,
		Materializer: materializer.NewTableMaterializer(b, logger),
		Runner:       migrate.NewRunner(logger),
		UNCPolicy:    UNCWarn,
		Concurrency:  DefaultConcurrency,
		Logger:       logger,
		locks:        make(map[string]*tenantLock),
		engines:      make(map[string]*connector.Engine),
	}
}

// RegisterTenant provisions the tenant living at path. Registrations of the
// same tenant run one at a time. An engine from an earlier registration is
// replaced, and closed, only once the new engine is bound; a failed
// registration leaves it in place.
func (p *Provisioner) RegisterTenant(ctx context.Context, path string, cfg models.ConnectionConfig, tables []models.Table, opts ...RegisterOption) (*Registration, error) {
	start := time.Now()
	o := buildOptions(opts)

	t, err := tenant.Resolve(path)
	if err != nil {
		return nil, err
	}

	release, err := p.acquire(ctx, t.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	reg, err := p.register(ctx, t, cfg, tables, o)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
		p.Logger.WithField("tenant", t.Name).WithError(err).Error("Tenant registration failed")
	}
	p.Metrics.ObserveRegistration(t.Name, outcome, time.Since(start))
	if err != nil {
		return nil, err
	}

	reg.Duration = time.Since(start)
	return reg, nil
}

func (p *Provisioner) register(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, tables []models.Table, o registerOptions) (*Registration, error) {
	log := p.Logger.WithField("tenant", t.Name)
	reg := &Registration{Tenant: t, Tables: tables}

	created, err := p.Checker.EnsureDatabase(ctx, t, cfg)
	if err != nil {
		return nil, err
	}
	reg.Created = created
	if created {
		p.Metrics.IncDatabaseCreated(t.Name)
	}

	if err := p.migrate(ctx, t, cfg, o.trace, reg); err != nil {
		return nil, err
	}

	if created {
		engine, bindings, report, err := p.Materializer.MaterializeTables(ctx, t, cfg, tables, o.maxPoolSize)
		if err != nil {
			return nil, err
		}
		reg.Engine, reg.Bindings, reg.Report = engine, bindings, report
		if report.Status == models.MaterializeSoftFailure {
			reg.Warnings = append(reg.Warnings, fmt.Sprintf("table creation incomplete: %v", report.Err))
		}
	} else {
		engine, bindings, err := p.Binder.BindEngine(ctx, t, cfg, tables, o.maxPoolSize)
		if err != nil {
			return nil, err
		}
		reg.Engine, reg.Bindings = engine, bindings
	}

	p.swapEngine(t.Name, reg.Engine)

	log.Infof("Tenant registered (database created: %v, tables: %d)", created, len(tables))
	return reg, nil
}

// migrate runs forwards migrations and records the result on reg. Only a
// timeout, a vanished tenant directory, cancellation or a UNC tenant under
// UNCFail abort the registration.
func (p *Provisioner) migrate(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, trace bool, reg *Registration) error {
	log := p.Logger.WithField("tenant", t.Name)

	if t.UNC {
		if p.UNCPolicy == UNCFail {
			return fmt.Errorf("%w: %s", models.ErrUNCPath, t.Path)
		}
		warning := fmt.Sprintf("%s is on a network share; migrations were not run", t.Path)
		log.Warn(warning)
		reg.Warnings = append(reg.Warnings, warning)
		reg.Migration = &models.MigrationResult{Status: models.MigrationSkipped}
		p.Metrics.IncMigration(t.Name, string(models.MigrationSkipped))
		return nil
	}

	log.Info("Running migrations")
	result, err := p.Runner.Forwards(ctx, t, cfg, trace)
	reg.Migration = result
	if result != nil {
		p.Metrics.IncMigration(t.Name, string(result.Status))
	}

	switch {
	case err == nil:
		if result.Status == models.MigrationFailed {
			reg.Warnings = append(reg.Warnings, fmt.Sprintf("migration tool exited with code %d", result.ExitCode))
		}
		return nil
	case errors.Is(err, models.ErrMigrationTimeout),
		errors.Is(err, models.ErrInvalidTenantPath),
		errors.Is(err, models.ErrUNCPath),
		ctx.Err() != nil:
		return err
	default:
		warning := fmt.Sprintf("could not run migration tool: %v", err)
		log.Warn(warning)
		reg.Warnings = append(reg.Warnings, warning)
		return nil
	}
}

// TargetErrors holds the failures of RegisterAll, aligned with its targets.
// Entries of targets that registered are nil.
type TargetErrors []error

func (e TargetErrors) Error() string {
	return errors.Join(e...).Error()
}

// Unwrap returns the non-nil failures
func (e TargetErrors) Unwrap() []error {
	var errs []error
	for _, err := range e {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RegisterAll registers the targets concurrently. Every target is attempted;
// the returned slice is aligned with targets and holds nil for failures. A
// non-nil error is a TargetErrors with the same alignment.
func (p *Provisioner) RegisterAll(ctx context.Context, targets []Target, cfg models.ConnectionConfig, opts ...RegisterOption) ([]*Registration, error) {
	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)

	results := make([]*Registration, len(targets))
	errs := make([]error, len(targets))
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			reg, err := p.RegisterTenant(ctx, target.Path, cfg, target.Tables, opts...)
			if err != nil {
				errs[i] = fmt.Errorf("register %s: %w", target.Path, err)
				return nil
			}
			results[i] = reg
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return results, TargetErrors(errs)
		}
	}
	return results, nil
}

// Engine returns the live engine of a registered tenant
func (p *Provisioner) Engine(name string) (*connector.Engine, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.engines[name]
	return engine, ok
}

// Tenants lists the registered tenants in name order
func (p *Provisioner) Tenants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.engines))
	for name := range p.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats snapshots the pool statistics of every registered tenant
func (p *Provisioner) Stats() map[string]sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make(map[string]sql.DBStats, len(p.engines))
	for name, engine := range p.engines {
		stats[name] = engine.Stats()
	}
	return stats
}

// Unregister closes and forgets the engine of a tenant
func (p *Provisioner) Unregister(name string) error {
	p.mu.Lock()
	engine, ok := p.engines[name]
	delete(p.engines, name)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	p.Logger.WithField("tenant", name).Info("Closing tenant engine")
	return engine.Close()
}

// Close closes every engine handed out by the provisioner
func (p *Provisioner) Close() error {
	p.mu.Lock()
	engines := p.engines
	p.engines = make(map[string]*connector.Engine)
	p.mu.Unlock()

	var errs []error
	for name, engine := range engines {
		if err := engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// swapEngine installs the engine of a tenant and closes the one it replaces
func (p *Provisioner) swapEngine(name string, engine *connector.Engine) {
	p.mu.Lock()
	if p.engines == nil {
		p.engines = make(map[string]*connector.Engine)
	}
	old, ok := p.engines[name]
	p.engines[name] = engine
	p.mu.Unlock()

	if ok && old != engine {
		p.Logger.WithField("tenant", name).Debug("Closing engine of previous registration")
		if err := old.Close(); err != nil {
			p.Logger.WithField("tenant", name).Warnf("Failed to close previous engine: %v", err)
		}
	}
}

// acquire takes the registration lock of a tenant. The returned func
// releases it.
func (p *Provisioner) acquire(ctx context.Context, name string) (func(), error) {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*tenantLock)
	}
	lock, ok := p.locks[name]
	if !ok {
		lock = &tenantLock{sem: semaphore.NewWeighted(1)}
		p.locks[name] = lock
	}
	lock.refs++
	p.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		p.unref(name, lock)
		return nil, err
	}
	return func() {
		lock.sem.Release(1)
		p.unref(name, lock)
	}, nil
}

func (p *Provisioner) unref(name string, lock *tenantLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock.refs--
	if lock.refs == 0 && p.locks[name] == lock {
		delete(p.locks, name)
	}
}
