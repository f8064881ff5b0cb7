package connector

import "github.com/vitebski/pgtenant/pkg/models"

// Bindings maps table names to the engine their operations route through
type Bindings map[string]*Engine

// Bind binds every table to engine
func Bind(engine *Engine, tables []models.Table) Bindings {
	bindings := make(Bindings, len(tables))
	for _, table := range tables {
		bindings[table.TableName()] = engine
	}
	return bindings
}

// EngineFor returns the engine bound to a table
func (b Bindings) EngineFor(table string) (*Engine, bool) {
	engine, ok := b[table]
	return engine, ok
}
