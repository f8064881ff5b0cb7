package provisioner

import "github.com/vitebski/pgtenant/pkg/connector"

// UNCPolicy decides what registration does with a tenant on a network share
type UNCPolicy string

const (
	// UNCWarn registers the tenant without running its migrations
	UNCWarn UNCPolicy = "warn"
	// UNCFail refuses to register the tenant
	UNCFail UNCPolicy = "fail"
)

// ParseUNCPolicy maps a configuration value to a policy; empty means UNCWarn
func ParseUNCPolicy(s string) (UNCPolicy, bool) {
	switch UNCPolicy(s) {
	case "", UNCWarn:
		return UNCWarn, true
	case UNCFail:
		return UNCFail, true
	default:
		return "", false
	}
}

type registerOptions struct {
	maxPoolSize int
	trace       bool
}

// RegisterOption configures a single registration
type RegisterOption func(*registerOptions)

// WithMaxPoolSize bounds the tenant pool. Non-positive sizes select the default.
func WithMaxPoolSize(n int) RegisterOption {
	return func(o *registerOptions) {
		o.maxPoolSize = n
	}
}

// WithTrace runs the migration tool with tracing enabled
func WithTrace(trace bool) RegisterOption {
	return func(o *registerOptions) {
		o.trace = trace
	}
}

func buildOptions(opts []RegisterOption) registerOptions {
	o := registerOptions{maxPoolSize: connector.DefaultPoolSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPoolSize <= 0 {
		o.maxPoolSize = connector.DefaultPoolSize
	}
	return o
}
