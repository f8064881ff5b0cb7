package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource reports the pool statistics of every live tenant engine
type StatsSource interface {
	Stats() map[string]sql.DBStats
}

// PoolCollector exports tenant pool statistics at scrape time
type PoolCollector struct {
	source StatsSource

	maxOpen   *prometheus.Desc
	open      *prometheus.Desc
	inUse     *prometheus.Desc
	idle      *prometheus.Desc
	waitCount *prometheus.Desc
}

// NewPoolCollector creates a collector reading from source
func NewPoolCollector(source StatsSource) *PoolCollector {
	labels := []string{"tenant"}
	return &PoolCollector{
		source:    source,
		maxOpen:   prometheus.NewDesc(namespace+"_pool_max_open_connections", "Connection limit of the tenant pool", labels, nil),
		open:      prometheus.NewDesc(namespace+"_pool_open_connections", "Open connections of the tenant pool", labels, nil),
		inUse:     prometheus.NewDesc(namespace+"_pool_in_use_connections", "Connections currently in use", labels, nil),
		idle:      prometheus.NewDesc(namespace+"_pool_idle_connections", "Idle connections", labels, nil),
		waitCount: prometheus.NewDesc(namespace+"_pool_wait_count_total", "Total waits for a connection", labels, nil),
	}
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxOpen
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waitCount
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for tenant, stats := range c.source.Stats() {
		ch <- prometheus.MustNewConstMetric(c.maxOpen, prometheus.GaugeValue, float64(stats.MaxOpenConnections), tenant)
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stats.OpenConnections), tenant)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stats.InUse), tenant)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.Idle), tenant)
		ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stats.WaitCount), tenant)
	}
}
