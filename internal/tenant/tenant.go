// Package tenant resolves plugin directories into tenant identities.
package tenant

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vitebski/pgtenant/pkg/models"
)

// IsUNC reports whether a raw path points at a network share
func IsUNC(path string) bool {
	return strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//")
}

// NameOf returns the lower-cased final segment of a path
func NameOf(path string) string {
	trimmed := strings.TrimRight(path, `/\`)
	if i := strings.LastIndexAny(trimmed, `/\`); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return strings.ToLower(trimmed)
}

// Resolve validates that path is a directory and derives the tenant identity.
// No network I/O happens here.
func Resolve(path string) (models.Tenant, error) {
	if strings.TrimSpace(path) == "" {
		return models.Tenant{}, fmt.Errorf("%w: empty path", models.ErrInvalidTenantPath)
	}

	info, err := os.Stat(path)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("%w: %s: %v", models.ErrInvalidTenantPath, path, err)
	}
	if !info.IsDir() {
		return models.Tenant{}, fmt.Errorf("%w: %s", models.ErrInvalidTenantPath, path)
	}

	dir, err := filepath.Abs(path)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("%w: %s: %v", models.ErrInvalidTenantPath, path, err)
	}

	name := NameOf(dir)
	if name == "" || name == "." {
		return models.Tenant{}, fmt.Errorf("%w: %s", models.ErrTenantNameEmpty, path)
	}

	return models.Tenant{
		Path: path,
		Dir:  dir,
		Name: name,
		UNC:  IsUNC(path),
	}, nil
}

// Check verifies that a resolved tenant directory still exists
func Check(t models.Tenant) error {
	info, err := os.Stat(t.Dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrInvalidTenantPath, t.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", models.ErrInvalidTenantPath, t.Dir)
	}
	return nil
}
