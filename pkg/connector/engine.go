package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/pkg/models"
)

const (
	// DefaultAcquireTimeout bounds how long Acquire waits for the server
	DefaultAcquireTimeout = 10 * time.Second
	// DefaultPoolSize is the maximum number of pooled connections per engine
	DefaultPoolSize = 20
	// DefaultPort is the PostgreSQL port used when the config leaves it unset
	DefaultPort = 5432

	defaultMaxIdleConns    = 3
	defaultConnMaxLifetime = 30 * time.Minute
)

// Supported database/sql driver names
const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

// ErrEngineClosed is returned when a closed engine is used
var ErrEngineClosed = errors.New("engine is closed")

// Engine is a live handle to one database on the server. It starts out
// limited to a single connection; StartPool turns it into a pool.
type Engine struct {
	Host     string
	Database string
	DB       *sql.DB
	Logger   *logrus.Logger

	mu       sync.Mutex
	maxConns int
	pooled   bool
	closed   bool
}

// NewEngine wraps an open database handle
func NewEngine(db *sql.DB, host, database string, logger *logrus.Logger) *Engine {
	db.SetMaxOpenConns(1)
	return &Engine{
		Host:     host,
		Database: database,
		DB:       db,
		Logger:   logger,
		maxConns: 1,
	}
}

// StartPool lifts the connection limit to maxSize. A non-positive size
// selects DefaultPoolSize.
func (e *Engine) StartPool(maxSize int) {
	if maxSize <= 0 {
		maxSize = DefaultPoolSize
	}
	idle := defaultMaxIdleConns
	if idle > maxSize {
		idle = maxSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.DB.SetMaxOpenConns(maxSize)
	e.DB.SetMaxIdleConns(idle)
	e.DB.SetConnMaxLifetime(defaultConnMaxLifetime)
	e.maxConns = maxSize
	e.pooled = true
	e.Logger.Debugf("Started connection pool for database %s (max %d)", e.Database, maxSize)
}

// Pooled reports whether StartPool has been called
func (e *Engine) Pooled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pooled
}

// MaxConns returns the current connection limit
func (e *Engine) MaxConns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxConns
}

// Closed reports whether Close has been called
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Stats returns the pool statistics of the underlying handle
func (e *Engine) Stats() sql.DBStats {
	return e.DB.Stats()
}

// Close closes the pool. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.pooled = false
	e.mu.Unlock()

	if err := e.DB.Close(); err != nil {
		e.Logger.Errorf("Error closing connection pool for %s: %v", e.Database, err)
		return err
	}
	e.Logger.Debugf("Connection pool for %s closed", e.Database)
	return nil
}

// ExecuteQuery executes a SQL query and returns the results
func (e *Engine) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error) {
	if e.Closed() {
		return nil, ErrEngineClosed
	}

	rows, err := e.DB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Convert []byte to string for text fields
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteStatement executes a SQL statement and returns the number of affected rows
func (e *Engine) ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error) {
	if e.Closed() {
		return 0, ErrEngineClosed
	}

	result, err := e.DB.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		// DDL statements report no row count on some drivers
		return 0, nil
	}
	return affected, nil
}

// DriverName maps the configured driver to a registered database/sql driver
func DriverName(cfg models.ConnectionConfig) (string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "pg", DriverPGX:
		return DriverPGX, nil
	case DriverPQ, "pq", "lib/pq":
		return DriverPQ, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// DSN renders the connection URL for the config
func DSN(cfg models.ConnectionConfig) string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.DatabaseOrDefault(),
	}
	if cfg.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
