package provisioner

import (
	"context"

	"github.com/vitebski/pgtenant/internal/tenant"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
)

// The operations below run one registration step on its own. None of them
// touches the registry, so engines they return belong to the caller.

// EnsureDatabase creates the tenant database if needed and reports whether it did
func (p *Provisioner) EnsureDatabase(ctx context.Context, path string, cfg models.ConnectionConfig) (bool, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return false, err
	}
	return p.Checker.EnsureDatabase(ctx, t, cfg)
}

// BindEngine opens a tenant pool and binds tables to it
func (p *Provisioner) BindEngine(ctx context.Context, path string, cfg models.ConnectionConfig, tables []models.Table, maxPoolSize int) (*connector.Engine, connector.Bindings, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return nil, nil, err
	}
	return p.Binder.BindEngine(ctx, t, cfg, tables, maxPoolSize)
}

// RunMigrations applies pending migrations of the tenant
func (p *Provisioner) RunMigrations(ctx context.Context, path string, cfg models.ConnectionConfig, trace bool) (*models.MigrationResult, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return nil, err
	}
	return p.Runner.Forwards(ctx, t, cfg, trace)
}

// NewMigration generates a migration for the tenant
func (p *Provisioner) NewMigration(ctx context.Context, path string, cfg models.ConnectionConfig, trace bool) (*models.MigrationResult, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return nil, err
	}
	return p.Runner.New(ctx, t, cfg, trace)
}

// ReverseMigrations reverts the tenant to migrationID
func (p *Provisioner) ReverseMigrations(ctx context.Context, path string, cfg models.ConnectionConfig, migrationID string, trace bool) (*models.MigrationResult, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return nil, err
	}
	return p.Runner.Backwards(ctx, t, cfg, migrationID, trace)
}

// Diagnose runs the migration tool diagnostics for the tenant
func (p *Provisioner) Diagnose(ctx context.Context, path string, cfg models.ConnectionConfig, check bool) (string, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return "", err
	}
	return p.Runner.Diagnose(ctx, t, cfg, check)
}

// MaterializeTables binds a tenant pool and creates missing tables
func (p *Provisioner) MaterializeTables(ctx context.Context, path string, cfg models.ConnectionConfig, tables []models.Table, maxPoolSize int) (*connector.Engine, connector.Bindings, *models.MaterializeReport, error) {
	t, err := tenant.Resolve(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return p.Materializer.MaterializeTables(ctx, t, cfg, tables, maxPoolSize)
}
