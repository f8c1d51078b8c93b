package metrics

import "github.com/prometheus/client_golang/prometheus"

// cacheCollector samples the cache on every scrape.
type cacheCollector struct {
	cache   CacheStats
	keys    *prometheus.Desc
	expired *prometheus.Desc
}

func newCacheCollector(cache CacheStats) *cacheCollector {
	return &cacheCollector{
		cache: cache,
		keys: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "keys"),
			"Entries held by the cache, including expired entries not yet read.",
			nil, nil,
		),
		expired: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "expired_keys_total"),
			"Entries removed on access after their expiry passed.",
			nil, nil,
		),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.expired
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(c.cache.Len()))
	ch <- prometheus.MustNewConstMetric(c.expired, prometheus.CounterValue, float64(c.cache.Expired()))
}
