package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector экспортирует состояние кеша в Prometheus. Значения снимаются
// с кеша в момент сбора.
type Collector struct {
	cache *Cache

	entries   *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	fetches   *prometheus.Desc
	joins     *prometheus.Desc
	retries   *prometheus.Desc
	failures  *prometheus.Desc
	evictions *prometheus.Desc
}

// NewCollector создает коллектор для кеша. Регистрация выполняется вызывающей стороной.
func NewCollector(cache *Cache, namespace string) *Collector {
	name := func(metric string) string {
		return prometheus.BuildFQName(namespace, "query_cache", metric)
	}
	return &Collector{
		cache:     cache,
		entries:   prometheus.NewDesc(name("entries"), "Number of cache entries by state.", []string{"state"}, nil),
		hits:      prometheus.NewDesc(name("hits_total"), "Lookups served from a fresh cached value.", nil, nil),
		misses:    prometheus.NewDesc(name("misses_total"), "Lookups that started or joined a fetch.", nil, nil),
		fetches:   prometheus.NewDesc(name("fetches_total"), "Fetches started.", nil, nil),
		joins:     prometheus.NewDesc(name("joins_total"), "Lookups that joined an in-flight fetch.", nil, nil),
		retries:   prometheus.NewDesc(name("retries_total"), "Retried fetch attempts.", nil, nil),
		failures:  prometheus.NewDesc(name("failures_total"), "Fetches that ended with an error.", nil, nil),
		evictions: prometheus.NewDesc(name("evictions_total"), "Entries removed by garbage collection.", nil, nil),
	}
}

// Describe реализует prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.hits
	ch <- c.misses
	ch <- c.fetches
	ch <- c.joins
	ch <- c.retries
	ch <- c.failures
	ch <- c.evictions
}

// Collect реализует prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	byState := map[State]int{
		StateIdle:     0,
		StateFetching: 0,
		StateSuccess:  0,
		StateFailed:   0,
		StateStale:    0,
	}
	for _, e := range c.cache.Snapshot() {
		byState[e.State]++
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(n), state.String())
	}

	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.fetches, prometheus.CounterValue, float64(stats.Fetches))
	ch <- prometheus.MustNewConstMetric(c.joins, prometheus.CounterValue, float64(stats.Joins))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(stats.Retries))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.Failures))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions))
}
