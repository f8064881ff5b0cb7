// Package manifest loads the table declarations a tenant ships next to its
// migrations.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vitebski/pgtenant/pkg/models"
	"gopkg.in/yaml.v3"
)

// FileName is the manifest looked up in a tenant directory
const FileName = "tables.yaml"

// Manifest is the decoded form of a tables.yaml file
type Manifest struct {
	Tables []models.TableDefinition `yaml:"tables"`
}

// LoadFromFile loads a manifest from a YAML file
func LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that every table and column is named and that no table
// is declared twice
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Tables))
	for i, table := range m.Tables {
		if table.Name == "" {
			return fmt.Errorf("table %d has no name", i)
		}
		if seen[table.Name] {
			return fmt.Errorf("table %s is declared twice", table.Name)
		}
		seen[table.Name] = true
		if len(table.Columns) == 0 {
			return fmt.Errorf("table %s has no columns", table.Name)
		}
		for j, col := range table.Columns {
			if col.Name == "" || col.DataType == "" {
				return fmt.Errorf("table %s: column %d needs a name and a type", table.Name, j)
			}
		}
		for _, fk := range table.ForeignKeys {
			if fk.Column == "" || fk.ReferencedTable == "" {
				return fmt.Errorf("table %s: foreign keys need a column and a referenced table", table.Name)
			}
		}
	}
	return nil
}

// Descriptors returns the tables as descriptors, in declaration order
func (m *Manifest) Descriptors() []models.Table {
	tables := make([]models.Table, 0, len(m.Tables))
	for _, table := range m.Tables {
		tables = append(tables, table)
	}
	return tables
}

// LoadTenant loads the manifest of a tenant directory. A tenant without a
// manifest declares no tables.
func LoadTenant(dir string) ([]models.Table, error) {
	m, err := LoadFromFile(filepath.Join(dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Descriptors(), nil
}
