package recursor

import "github.com/VictoriaMetrics/metrics"

var (
	metricResolves         = metrics.NewCounter(`recursor_resolves_total`)
	metricCacheHits        = metrics.NewCounter(`recursor_cache_hits_total`)
	metricNXDomain         = metrics.NewCounter(`recursor_nxdomain_total`)
	metricExchanges        = metrics.NewCounter(`recursor_exchanges_total`)
	metricExchangeFailures = metrics.NewCounter(`recursor_exchange_failures_total`)
	metricResolveDuration  = metrics.NewSummary(`recursor_resolve_duration_seconds`)
	metricQueriesServed    = metrics.NewCounter(`recursor_server_queries_total`)
	metricQueriesDropped   = metrics.NewCounter(`recursor_server_dropped_total`)
)
