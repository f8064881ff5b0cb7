// Package catalog checks the server's database catalog and creates tenant
// databases on demand.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
)

// ListDatabasesQuery enumerates the databases on the server
const ListDatabasesQuery = "SELECT datname FROM pg_database;"

// SQLSTATE duplicate_database
const duplicateDatabaseCode = "42P04"

// CreateDatabaseStatement renders the creation statement for a tenant database
func CreateDatabaseStatement(name string) string {
	return fmt.Sprintf("CREATE DATABASE %s;", models.QuoteIdentifier(name))
}

// Checker ensures tenant databases exist
type Checker struct {
	Acquirer *connector.Acquirer
	Logger   *logrus.Logger
}

// NewChecker creates a new catalog checker
func NewChecker(acquirer *connector.Acquirer, logger *logrus.Logger) *Checker {
	return &Checker{Acquirer: acquirer, Logger: logger}
}

// EnsureDatabase creates the tenant's database if the server lacks it and
// reports whether it did. The engine it opens is closed before returning.
func (c *Checker) EnsureDatabase(ctx context.Context, t models.Tenant, cfg models.ConnectionConfig) (bool, error) {
	log := c.Logger.WithField("tenant", t.Name)

	log.Debug("Acquiring engine for db creation")
	engine, err := c.Acquirer.Acquire(ctx, cfg)
	if err != nil {
		return false, err
	}
	engine.StartPool(0)
	defer engine.Close()

	existing, err := ListDatabases(ctx, engine)
	if err != nil {
		return false, fmt.Errorf("list databases: %w", err)
	}
	for _, name := range existing {
		if strings.ToLower(name) == t.Name {
			log.Debugf("Database %s already exists", t.Name)
			return false, nil
		}
	}

	log.Infof("New tenant detected, creating database %s", t.Name)
	if _, err := engine.ExecuteStatement(ctx, CreateDatabaseStatement(t.Name)); err != nil {
		if IsDuplicateDatabase(err) {
			log.Infof("Database %s was created concurrently", t.Name)
			return false, nil
		}
		return false, fmt.Errorf("create database %s: %w", t.Name, err)
	}
	return true, nil
}

// ListDatabases returns the names of every database on the server
func ListDatabases(ctx context.Context, engine *connector.Engine) ([]string, error) {
	rows, err := engine.ExecuteQuery(ctx, ListDatabasesQuery)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row["datname"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// IsDuplicateDatabase reports whether err is the server refusing to create
// a database that already exists, for either supported driver
func IsDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == duplicateDatabaseCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == duplicateDatabaseCode
	}
	return false
}
