package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionTimeout indicates the server did not accept a connection
	// within the acquisition bound.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrInvalidTenantPath indicates the tenant location is not a directory.
	ErrInvalidTenantPath = errors.New("tenant path is not a directory")

	// ErrUNCPath indicates the tenant lives on a network share, where the
	// migration tool cannot run.
	ErrUNCPath = errors.New("migrations cannot run from a UNC path")

	// ErrMigrationTimeout indicates the migration tool was killed after
	// exceeding its time budget.
	ErrMigrationTimeout = errors.New("migration timeout")

	// ErrDependencyCycle indicates the table foreign keys form a cycle.
	ErrDependencyCycle = errors.New("table dependency cycle")

	// ErrTenantNameEmpty indicates the tenant path has no usable final segment.
	ErrTenantNameEmpty = errors.New("tenant name is empty")
)

// ConnectionTimeoutError carries the bound that elapsed
type ConnectionTimeoutError struct {
	Timeout time.Duration
	Host    string
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("database took longer than %s to connect to %s", e.Timeout, e.Host)
}

// Is lets errors.Is match ErrConnectionTimeout
func (e *ConnectionTimeoutError) Is(target error) bool {
	return target == ErrConnectionTimeout
}
