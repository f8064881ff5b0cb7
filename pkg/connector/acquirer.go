package connector

import (
	"context"
	"database/sql"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/pkg/models"
)

// Dialer opens and validates a database handle
type Dialer func(ctx context.Context, driverName, dsn string) (*sql.DB, error)

// Acquirer opens engines under a time budget
type Acquirer struct {
	Timeout time.Duration
	Dial    Dialer
	Logger  *logrus.Logger
}

// NewAcquirer creates an acquirer with the default timeout and dialer
func NewAcquirer(logger *logrus.Logger) *Acquirer {
	return &Acquirer{
		Timeout: DefaultAcquireTimeout,
		Dial:    OpenAndPing,
		Logger:  logger,
	}
}

// OpenAndPing is the default Dialer
func OpenAndPing(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type dialResult struct {
	db  *sql.DB
	err error
}

// Acquire connects to the database named by cfg. The driver dial runs on
// its own goroutine; if it outlives the timeout the caller gets a
// ConnectionTimeoutError and the late handle is closed once it arrives.
func (a *Acquirer) Acquire(ctx context.Context, cfg models.ConnectionConfig) (*Engine, error) {
	driverName, err := DriverName(cfg)
	if err != nil {
		return nil, err
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	dial := a.Dial
	if dial == nil {
		dial = OpenAndPing
	}

	a.Logger.Debugf("Acquiring engine for %s", cfg.Redacted())

	dialCtx, cancel := context.WithCancel(ctx)
	results := make(chan dialResult, 1)
	go func() {
		db, err := dial(dialCtx, driverName, DSN(cfg))
		results <- dialResult{db: db, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		cancel()
		if res.err != nil {
			a.Logger.Errorf("Error connecting to %s: %v", cfg.Redacted(), res.err)
			return nil, res.err
		}
		return NewEngine(res.db, cfg.Host, cfg.DatabaseOrDefault(), a.Logger), nil
	case <-timer.C:
		cancel()
		go a.reap(results)
		return nil, &models.ConnectionTimeoutError{Timeout: timeout, Host: cfg.Host}
	case <-ctx.Done():
		cancel()
		go a.reap(results)
		return nil, ctx.Err()
	}
}

// reap closes the handle of a dial whose caller already gave up
func (a *Acquirer) reap(results <-chan dialResult) {
	res := <-results
	if res.db != nil {
		a.Logger.Debug("Closing connection from abandoned acquisition")
		res.db.Close()
	}
}
