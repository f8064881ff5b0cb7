package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultMaintenanceDatabase is used when a ConnectionConfig names no database
const DefaultMaintenanceDatabase = "postgres"

// ConnectionConfig holds the connection information for a PostgreSQL server
type ConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"`
}

// ForDatabase returns a copy of the config pointing at the given database
func (c ConnectionConfig) ForDatabase(name string) ConnectionConfig {
	c.Database = name
	return c
}

// DatabaseOrDefault returns the configured database or the maintenance database
func (c ConnectionConfig) DatabaseOrDefault() string {
	if strings.TrimSpace(c.Database) == "" {
		return DefaultMaintenanceDatabase
	}
	return c.Database
}

// Redacted renders the config for logs without the password
func (c ConnectionConfig) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.DatabaseOrDefault())
}

// Tenant identifies one plugin module by its directory
type Tenant struct {
	// Path is the location exactly as supplied by the caller
	Path string
	// Dir is the absolute directory the migration tool runs in
	Dir string
	// Name is the lower-cased final path segment, used as the database name
	Name string
	// UNC is set when Path lives on a remote network share
	UNC bool
}

// Column represents a table column
type Column struct {
	Name       string `yaml:"name"`
	DataType   string `yaml:"type"`
	IsNullable bool   `yaml:"nullable"`
	PrimaryKey bool   `yaml:"primary_key"`
	Unique     bool   `yaml:"unique"`
	Default    string `yaml:"default"`
}

// ForeignKey represents a foreign key relationship
type ForeignKey struct {
	Column           string `yaml:"column"`
	ReferencedTable  string `yaml:"references"`
	ReferencedColumn string `yaml:"referenced_column"`
	OnDelete         string `yaml:"on_delete"`
}

// Table is the descriptor of a tenant table. The provisioner never looks
// inside it beyond these methods.
type Table interface {
	TableName() string
	// References lists the tables this table holds foreign keys to
	References() []string
	CreateTableSQL(ifNotExists bool) string
}

// TableDefinition is a declarative Table
type TableDefinition struct {
	Name        string       `yaml:"name"`
	Columns     []Column     `yaml:"columns"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys"`
}

// TableName implements Table
func (t TableDefinition) TableName() string { return t.Name }

// References implements Table
func (t TableDefinition) References() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, fk := range t.ForeignKeys {
		if fk.ReferencedTable == "" || seen[fk.ReferencedTable] {
			continue
		}
		seen[fk.ReferencedTable] = true
		refs = append(refs, fk.ReferencedTable)
	}
	return refs
}

// CreateTableSQL implements Table
func (t TableDefinition) CreateTableSQL(ifNotExists bool) string {
	var defs []string
	var pk []string
	for _, col := range t.Columns {
		def := QuoteIdentifier(col.Name) + " " + col.DataType
		if !col.IsNullable && !col.PrimaryKey {
			def += " NOT NULL"
		}
		if col.Unique {
			def += " UNIQUE"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		if col.PrimaryKey {
			pk = append(pk, QuoteIdentifier(col.Name))
		}
		defs = append(defs, def)
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	for _, fk := range t.ForeignKeys {
		refCol := fk.ReferencedColumn
		if refCol == "" {
			refCol = "id"
		}
		def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			QuoteIdentifier(fk.Column), QuoteIdentifier(fk.ReferencedTable), QuoteIdentifier(refCol))
		if fk.OnDelete != "" {
			def += " ON DELETE " + strings.ToUpper(fk.OnDelete)
		}
		defs = append(defs, def)
	}

	create := "CREATE TABLE "
	if ifNotExists {
		create += "IF NOT EXISTS "
	}
	return create + QuoteIdentifier(t.Name) + " (" + strings.Join(defs, ", ") + ")"
}

// QuoteIdentifier quotes a PostgreSQL identifier
func QuoteIdentifier(s string) string {
	return pgx.Identifier{s}.Sanitize()
}

// MigrationStatus is the outcome of one migration tool invocation
type MigrationStatus string

const (
	MigrationSucceeded MigrationStatus = "succeeded"
	MigrationFailed    MigrationStatus = "failed"
	MigrationSkipped   MigrationStatus = "skipped"
	MigrationTimedOut  MigrationStatus = "timed_out"
)

// MigrationResult holds the captured output of the migration tool
type MigrationResult struct {
	Command  []string
	Output   string
	ExitCode int
	Status   MigrationStatus
	Duration time.Duration
}

// MaterializeStatus is the outcome of table materialization
type MaterializeStatus string

const (
	MaterializeOK          MaterializeStatus = "ok"
	MaterializeSoftFailure MaterializeStatus = "soft_failure"
)

// MaterializeReport represents the result of the table creation pass
type MaterializeReport struct {
	Order    []string
	Created  []string
	Existing []string
	Status   MaterializeStatus
	Err      error
}
