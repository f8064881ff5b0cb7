package binder

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestBindEngine(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	var gotDSN string
	acquirer := connector.NewAcquirer(testLogger())
	acquirer.Dial = func(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return db, nil
	}

	tables := []models.Table{
		models.TableDefinition{Name: "account"},
		models.TableDefinition{Name: "invoice"},
	}
	cfg := models.ConnectionConfig{Host: "localhost", Port: 5432, User: "user", Password: "pw", Database: "postgres"}

	engine, bindings, err := NewBinder(acquirer, testLogger()).BindEngine(context.Background(), models.Tenant{Name: "billing"}, cfg, tables, 0)
	require.NoError(t, err)

	assert.Equal(t, "postgres://user:pw@localhost:5432/billing", gotDSN)
	assert.Equal(t, "postgres", cfg.Database, "caller config must not be mutated")
	assert.Equal(t, "billing", engine.Database)
	assert.True(t, engine.Pooled())
	assert.Equal(t, connector.DefaultPoolSize, engine.MaxConns())

	require.Len(t, bindings, 2)
	for _, name := range []string{"account", "invoice"} {
		bound, ok := bindings.EngineFor(name)
		assert.True(t, ok)
		assert.Same(t, engine, bound)
	}

	mock.ExpectClose()
	require.NoError(t, engine.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindEngineHonoursPoolSize(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	acquirer := connector.NewAcquirer(testLogger())
	acquirer.Dial = func(ctx context.Context, driverName, dsn string) (*sql.DB, error) { return db, nil }

	engine, _, err := NewBinder(acquirer, testLogger()).BindEngine(context.Background(), models.Tenant{Name: "billing"}, models.ConnectionConfig{}, nil, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, engine.MaxConns())
	assert.Equal(t, 7, engine.Stats().MaxOpenConnections)
}

func TestBindEngineTimeout(t *testing.T) {
	acquirer := connector.NewAcquirer(testLogger())
	acquirer.Timeout = 20 * time.Millisecond
	acquirer.Dial = func(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	engine, bindings, err := NewBinder(acquirer, testLogger()).BindEngine(context.Background(), models.Tenant{Name: "billing"}, models.ConnectionConfig{}, nil, 0)
	assert.True(t, errors.Is(err, models.ErrConnectionTimeout))
	assert.Nil(t, engine)
	assert.Nil(t, bindings)
}
