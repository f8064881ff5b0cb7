package migrate

import (
	"sort"
	"strconv"

	"github.com/vitebski/pgtenant/pkg/models"
)

const (
	// ConfigModuleVar names the variable telling the tool where its config lives
	ConfigModuleVar = "PICCOLO_CONF"
	// DefaultConfigModule is the config module every tenant ships
	DefaultConfigModule = "db.piccolo_conf"
)

// DefaultPassthrough lists the host variables the tool needs to start at all
var DefaultPassthrough = []string{"PATH", "HOME", "SYSTEMROOT"}

// Env is the environment handed to the migration tool. It is built from
// scratch; nothing is inherited unless added through WithPassthrough.
type Env map[string]string

// BuildEnv derives the tool environment from a tenant-scoped connection config
func BuildEnv(cfg models.ConnectionConfig) Env {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return Env{
		ConfigModuleVar:     DefaultConfigModule,
		"POSTGRES_HOST":     cfg.Host,
		"POSTGRES_PORT":     strconv.Itoa(port),
		"POSTGRES_USER":     cfg.User,
		"POSTGRES_PASSWORD": cfg.Password,
		"POSTGRES_DATABASE": cfg.Database,
		"PYTHONIOENCODING":  "utf-8",
	}
}

// With returns a copy of e with key set to value
func (e Env) With(key, value string) Env {
	out := make(Env, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	out[key] = value
	return out
}

// WithPassthrough returns a copy of e extended with the named host variables
// that lookup can resolve. Keys already present in e win.
func (e Env) WithPassthrough(names []string, lookup func(string) (string, bool)) Env {
	out := make(Env, len(e)+len(names))
	for _, name := range names {
		if value, ok := lookup(name); ok {
			out[name] = value
		}
	}
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Environ renders the environment in KEY=value form, sorted by key
func (e Env) Environ() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, k := range keys {
		environ = append(environ, k+"="+e[k])
	}
	return environ
}
