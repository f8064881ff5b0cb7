package materializer

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/pgtenant/internal/binder"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
)

var (
	account = models.TableDefinition{
		Name: "account",
		Columns: []models.Column{
			{Name: "id", DataType: "SERIAL", PrimaryKey: true},
			{Name: "name", DataType: "VARCHAR(50)"},
		},
	}
	invoice = models.TableDefinition{
		Name: "invoice",
		Columns: []models.Column{
			{Name: "id", DataType: "SERIAL", PrimaryKey: true},
			{Name: "account_id", DataType: "INTEGER"},
		},
		ForeignKeys: []models.ForeignKey{{Column: "account_id", ReferencedTable: "account", ReferencedColumn: "id"}},
	}
)

func newMaterializer(t *testing.T) (*TableMaterializer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	acquirer := connector.NewAcquirer(logger)
	acquirer.Dial = func(ctx context.Context, driverName, dsn string) (*sql.DB, error) { return db, nil }

	return NewTableMaterializer(binder.NewBinder(acquirer, logger), logger), mock
}

func expectCreate(mock sqlmock.Sqlmock, table models.Table) *sqlmock.ExpectedExec {
	return mock.ExpectExec(regexp.QuoteMeta(table.CreateTableSQL(true)))
}

func listTables(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"table_name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	return rows
}

func TestMaterializeTablesCreatesReferencedTablesFirst(t *testing.T) {
	tm, mock := newMaterializer(t)
	mock.ExpectQuery("information_schema.tables").WillReturnRows(listTables())
	expectCreate(mock, account).WillReturnResult(sqlmock.NewResult(0, 0))
	expectCreate(mock, invoice).WillReturnResult(sqlmock.NewResult(0, 0))

	// Invoice is declared first but references account
	engine, bindings, report, err := tm.MaterializeTables(context.Background(), models.Tenant{Name: "billing"},
		models.ConnectionConfig{Host: "localhost"}, []models.Table{invoice, account}, 20)
	require.NoError(t, err)
	require.NotNil(t, engine)

	assert.Equal(t, "billing", engine.Database)
	assert.Len(t, bindings, 2)
	assert.Equal(t, models.MaterializeOK, report.Status)
	assert.Equal(t, []string{"account", "invoice"}, report.Order)
	assert.Equal(t, []string{"account", "invoice"}, report.Created)
	assert.Empty(t, report.Existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterializeTablesReportsExistingTables(t *testing.T) {
	tm, mock := newMaterializer(t)
	mock.ExpectQuery("information_schema.tables").WillReturnRows(listTables("account"))
	expectCreate(mock, account).WillReturnResult(sqlmock.NewResult(0, 0))
	expectCreate(mock, invoice).WillReturnResult(sqlmock.NewResult(0, 0))

	_, _, report, err := tm.MaterializeTables(context.Background(), models.Tenant{Name: "billing"},
		models.ConnectionConfig{}, []models.Table{account, invoice}, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice"}, report.Created)
	assert.Equal(t, []string{"account"}, report.Existing)
}

func TestMaterializeTablesSwallowsStatementErrors(t *testing.T) {
	tm, mock := newMaterializer(t)
	mock.ExpectQuery("information_schema.tables").WillReturnError(errors.New("permission denied"))
	expectCreate(mock, account).WillReturnError(errors.New(`type "serial" does not exist`))

	engine, _, report, err := tm.MaterializeTables(context.Background(), models.Tenant{Name: "billing"},
		models.ConnectionConfig{}, []models.Table{account, invoice}, 20)
	require.NoError(t, err, "table failures must not fail materialization")
	require.NotNil(t, engine)
	assert.Equal(t, models.MaterializeSoftFailure, report.Status)
	assert.Error(t, report.Err)
	assert.Empty(t, report.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaterializeTablesTimesOutSoftly(t *testing.T) {
	tm, mock := newMaterializer(t)
	tm.Timeout = 50 * time.Millisecond
	mock.ExpectQuery("information_schema.tables").WillReturnRows(listTables())
	expectCreate(mock, account).WillDelayFor(5 * time.Second).WillReturnResult(sqlmock.NewResult(0, 0))

	start := time.Now()
	engine, _, report, err := tm.MaterializeTables(context.Background(), models.Tenant{Name: "billing"},
		models.ConnectionConfig{}, []models.Table{account, invoice}, 20)
	require.NoError(t, err)
	require.NotNil(t, engine)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.MaterializeSoftFailure, report.Status)
	assert.ErrorIs(t, report.Err, context.DeadlineExceeded)
}

func TestMaterializeTablesFlagsCycles(t *testing.T) {
	employees := models.TableDefinition{Name: "employees", ForeignKeys: []models.ForeignKey{{Column: "department_id", ReferencedTable: "departments"}}}
	departments := models.TableDefinition{Name: "departments", ForeignKeys: []models.ForeignKey{{Column: "manager_id", ReferencedTable: "employees"}}}

	tm, mock := newMaterializer(t)
	mock.ExpectQuery("information_schema.tables").WillReturnRows(listTables())
	expectCreate(mock, employees).WillReturnError(errors.New(`relation "departments" does not exist`))

	_, _, report, err := tm.MaterializeTables(context.Background(), models.Tenant{Name: "hr"},
		models.ConnectionConfig{}, []models.Table{employees, departments}, 20)
	require.NoError(t, err)
	assert.Equal(t, models.MaterializeSoftFailure, report.Status)
	assert.Equal(t, []string{"employees", "departments"}, report.Order)
}

func TestMaterializeTablesPropagatesBindFailures(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	acquirer := connector.NewAcquirer(logger)
	acquirer.Timeout = 20 * time.Millisecond
	acquirer.Dial = func(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	tm := NewTableMaterializer(binder.NewBinder(acquirer, logger), logger)

	engine, _, report, err := tm.MaterializeTables(context.Background(), models.Tenant{Name: "billing"},
		models.ConnectionConfig{}, []models.Table{account}, 20)
	assert.ErrorIs(t, err, models.ErrConnectionTimeout)
	assert.Nil(t, engine)
	assert.Nil(t, report)
}
