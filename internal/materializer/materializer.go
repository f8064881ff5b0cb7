package materializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/internal/analyzer"
	"github.com/vitebski/pgtenant/internal/binder"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
)

// DefaultTimeout bounds the whole sort-and-create pass
const DefaultTimeout = 15 * time.Second

// TableMaterializer creates tenant tables in dependency order
type TableMaterializer struct {
	Binder  *binder.Binder
	Timeout time.Duration
	Schema  string
	Logger  *logrus.Logger
}

// NewTableMaterializer creates a new table materializer
func NewTableMaterializer(b *binder.Binder, logger *logrus.Logger) *TableMaterializer {
	return &TableMaterializer{
		Binder:  b,
		Timeout: DefaultTimeout,
		Schema:  analyzer.DefaultSchema,
		Logger:  logger,
	}
}

// MaterializeTables binds the tenant engine and creates any missing tables.
// Only a failure to bind is returned as an error; problems creating tables
// end up in the report and the engine is returned regardless.
func (tm *TableMaterializer) MaterializeTables(
	ctx context.Context,
	t models.Tenant,
	cfg models.ConnectionConfig,
	tables []models.Table,
	maxPoolSize int,
) (*connector.Engine, connector.Bindings, *models.MaterializeReport, error) {
	engine, bindings, err := tm.Binder.BindEngine(ctx, t, cfg, tables, maxPoolSize)
	if err != nil {
		return nil, nil, nil, err
	}
	return engine, bindings, tm.CreateTables(ctx, t, engine, tables), nil
}

// CreateTables issues CREATE TABLE IF NOT EXISTS for each table, referenced
// tables first, within the materializer's time budget
func (tm *TableMaterializer) CreateTables(ctx context.Context, t models.Tenant, engine *connector.Engine, tables []models.Table) *models.MaterializeReport {
	log := tm.Logger.WithField("tenant", t.Name)
	report := &models.MaterializeReport{Status: models.MaterializeOK}

	timeout := tm.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	softFail := func(err error) *models.MaterializeReport {
		report.Status = models.MaterializeSoftFailure
		report.Err = err
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("Table creation took longer than %s", timeout)
		} else {
			log.WithError(err).Warn("Failed to create tables")
		}
		return report
	}

	schemaAnalyzer := analyzer.NewSchemaAnalyzer(tm.Logger)
	if err := schemaAnalyzer.AnalyzeTables(tables); err != nil {
		return softFail(err)
	}

	ordered, cycleErr := schemaAnalyzer.OrderedDescriptors()
	for _, table := range ordered {
		report.Order = append(report.Order, table.TableName())
	}
	if cycleErr != nil {
		log.Warnf("Creating tables in best-effort order: %v", cycleErr)
	}

	existing, err := analyzer.ExistingTables(ctx, engine, tm.Schema)
	if err != nil {
		log.Debugf("Could not list existing tables: %v", err)
		existing = map[string]bool{}
	}

	log.Debug("Creating tables if they don't exist")
	for _, table := range ordered {
		name := table.TableName()
		if _, err := engine.ExecuteStatement(ctx, table.CreateTableSQL(true)); err != nil {
			if ctx.Err() != nil {
				return softFail(fmt.Errorf("create table %s: %w", name, ctx.Err()))
			}
			return softFail(fmt.Errorf("create table %s: %w", name, err))
		}
		if existing[name] {
			report.Existing = append(report.Existing, name)
		} else {
			report.Created = append(report.Created, name)
			log.Infof("Created table %s", name)
		}
	}

	if cycleErr != nil {
		report.Status = models.MaterializeSoftFailure
		report.Err = cycleErr
	}
	return report
}
