package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/pgtenant/pkg/connector"
	"github.com/vitebski/pgtenant/pkg/models"
	"github.com/yourbasic/graph"
)

// DefaultSchema is the schema tenant tables are created in
const DefaultSchema = "public"

// SchemaAnalyzer analyzes table descriptors, detects dependencies, and sorts tables for creation
type SchemaAnalyzer struct {
	Tables             []string
	Descriptors        map[string]models.Table
	References         map[string][]string
	DependencyGraph    *graph.Mutable
	TableIndexMap      map[string]int
	IndexTableMap      map[int]string
	DirectCircularDeps [][]string
	Logger             *logrus.Logger
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(logger *logrus.Logger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		Descriptors:   make(map[string]models.Table),
		References:    make(map[string][]string),
		TableIndexMap: make(map[string]int),
		IndexTableMap: make(map[int]string),
		Logger:        logger,
	}
}

// AnalyzeTables builds the dependency graph of a registration batch.
// An edge runs from a referenced table to the table referencing it.
func (sa *SchemaAnalyzer) AnalyzeTables(tables []models.Table) error {
	for i, table := range tables {
		name := table.TableName()
		if name == "" {
			return fmt.Errorf("table at position %d has no name", i)
		}
		if _, dup := sa.TableIndexMap[name]; dup {
			return fmt.Errorf("table %s is declared twice", name)
		}
		sa.Tables = append(sa.Tables, name)
		sa.Descriptors[name] = table
		sa.TableIndexMap[name] = i
		sa.IndexTableMap[i] = name
	}

	sa.DependencyGraph = graph.New(len(sa.Tables))

	for _, table := range tables {
		name := table.TableName()
		for _, ref := range table.References() {
			// Skip self-references
			if ref == name {
				continue
			}
			refIdx, ok := sa.TableIndexMap[ref]
			if !ok {
				sa.Logger.Debugf("Table %s references %s outside this batch", name, ref)
				continue
			}
			sa.References[name] = append(sa.References[name], ref)
			sa.DependencyGraph.Add(refIdx, sa.TableIndexMap[name])
		}
	}

	return nil
}

// GetCircularTables returns tables involved in circular dependencies
func (sa *SchemaAnalyzer) GetCircularTables() map[string]bool {
	circularTables := make(map[string]bool)
	sa.DirectCircularDeps = [][]string{} // Reset direct circular dependencies

	if sa.DependencyGraph == nil {
		return circularTables
	}

	for _, component := range graph.StrongComponents(sa.DependencyGraph) {
		if len(component) < 2 {
			continue
		}
		sort.Ints(component)
		var cycle []string
		for _, idx := range component {
			table := sa.IndexTableMap[idx]
			circularTables[table] = true
			cycle = append(cycle, table)
		}
		sa.DirectCircularDeps = append(sa.DirectCircularDeps, cycle)
	}

	return circularTables
}

// GetTableCreationOrder determines the order in which tables should be created.
// A referenced table always precedes the tables referencing it; ties keep
// the input order. When the references form a cycle the returned order is
// a best effort and the error wraps models.ErrDependencyCycle.
func (sa *SchemaAnalyzer) GetTableCreationOrder() ([]string, error) {
	var cycleErr error
	if sa.DependencyGraph != nil && !graph.Acyclic(sa.DependencyGraph) {
		sa.GetCircularTables()
		cycleErr = fmt.Errorf("%w: %v", models.ErrDependencyCycle, sa.DirectCircularDeps)
	}

	var orderedTables []string
	addedTables := make(map[string]bool)
	remaining := append([]string(nil), sa.Tables...)

	for len(remaining) > 0 {
		// Find the first table whose dependencies are all in orderedTables
		found := false
		for i, table := range remaining {
			if sa.unresolved(table, addedTables) == 0 {
				orderedTables = append(orderedTables, table)
				addedTables[table] = true
				remaining = append(remaining[:i], remaining[i+1:]...)
				found = true
				break
			}
		}
		if found {
			continue
		}

		// Only cycles are left: take the table with the fewest unresolved
		// dependencies, earliest first
		best := 0
		for i := 1; i < len(remaining); i++ {
			if sa.unresolved(remaining[i], addedTables) < sa.unresolved(remaining[best], addedTables) {
				best = i
			}
		}
		orderedTables = append(orderedTables, remaining[best])
		addedTables[remaining[best]] = true
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	return orderedTables, cycleErr
}

func (sa *SchemaAnalyzer) unresolved(table string, added map[string]bool) int {
	count := 0
	for _, ref := range sa.References[table] {
		if !added[ref] {
			count++
		}
	}
	return count
}

// OrderedDescriptors returns the descriptors in creation order
func (sa *SchemaAnalyzer) OrderedDescriptors() ([]models.Table, error) {
	order, err := sa.GetTableCreationOrder()
	tables := make([]models.Table, 0, len(order))
	for _, name := range order {
		tables = append(tables, sa.Descriptors[name])
	}
	return tables, err
}

// ExistingTables lists the base tables already present in a schema of the
// engine's database
func ExistingTables(ctx context.Context, engine *connector.Engine, schema string) (map[string]bool, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	tablesQuery := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := engine.ExecuteQuery(ctx, tablesQuery, schema)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(rows))
	for _, row := range rows {
		if name, ok := row["table_name"].(string); ok {
			existing[name] = true
		}
	}
	return existing, nil
}
