// Package binder opens the long-lived, tenant-scoped pool and binds the
// tenant's tables to it.
package binder

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
)

// Binder fetches tenant engines
type Binder struct {
	Acquirer *connector.Acquirer
	Logger   *logrus.Logger
}

// NewBinder creates a new binder
func NewBinder(acquirer *connector.Acquirer, logger *logrus.Logger) *Binder {
	return &Binder{Acquirer: acquirer, Logger: logger}
}

// BindEngine connects to the tenant's database, starts a pool of at most
// maxPoolSize connections and binds every table to it. Any engine the caller
// already holds for this tenant stays open; closing it is up to the caller.
func (b *Binder) BindEngine(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig, tables []models.Table, maxPoolSize int) (*connector.Engine, connector.Bindings, error) {
	log := b.Logger.WithField("tenant", t.Name)

	log.Debug("Fetching engine")
	engine, err := b.Acquirer.Acquire(ctx, cfg.ForDatabase(t.Name))
	if err != nil {
		return nil, nil, err
	}

	log.Debug("Starting connection pool")
	engine.StartPool(maxPoolSize)

	log.Debugf("Assigning engine to %d tables", len(tables))
	return engine, connector.Bind(engine, tables), nil
}
