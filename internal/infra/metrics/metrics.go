package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ScansTotal          = prometheus.NewCounter(prometheus.CounterOpts{Name: "scans_total", Help: "Total opportunity scans"})
	ScanDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "scan_duration_seconds", Help: "Wall time of one scan", Buckets: prometheus.ExponentialBuckets(0.05, 2, 10)})
	PathsEvaluatedTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "paths_evaluated_total", Help: "Total paths evaluated across scans"})
	PathErrorsTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "path_errors_total", Help: "Paths that produced an ERROR record"})
	OpportunitiesFound  = prometheus.NewCounter(prometheus.CounterOpts{Name: "opportunities_profitable_total", Help: "Profitable opportunities found"})
	NetProfitPercent    = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "opportunity_net_profit_percent", Help: "Net profit percent per evaluation", Buckets: prometheus.LinearBuckets(-2, 0.25, 25)})

	BookFetchesTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "orderbook_fetches_total", Help: "Order book fetches issued"})
	BookFetchErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orderbook_fetch_errors_total", Help: "Order book fetch failures by pair"}, []string{"pair"})

	ExecutionsTotal          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "executions_total", Help: "Execution attempts by outcome"}, []string{"outcome"})
	ExecutionDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "execution_duration_seconds", Help: "Wall time of one execution", Buckets: prometheus.ExponentialBuckets(0.1, 2, 12)})
	LegsExecutedTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "legs_executed_total", Help: "Legs that reached a terminal state"})
	LegFailuresTotal         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "leg_failures_total", Help: "Leg failures by reason"}, []string{"reason"})
	RollbacksTotal           = prometheus.NewCounter(prometheus.CounterOpts{Name: "rollbacks_total", Help: "Compensating orders placed"})
	RollbackFailuresTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "rollback_failures_total", Help: "Compensating orders that themselves failed; requires manual reconciliation"})

	GuardBlocksTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "guard_blocks_total", Help: "Executions blocked by the per-account single-flight guard"})
	LedgerErrorsTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_record_errors_total", Help: "Failed trade ledger writes"})
	FeedPublishErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "feed_publish_errors_total", Help: "Failed opportunity feed publishes"})
	APIErrorsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "api_errors_total", Help: "Gateway API errors by exchange and endpoint"}, []string{"exchange", "endpoint"})
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		ScansTotal, ScanDurationSeconds, PathsEvaluatedTotal, PathErrorsTotal,
		OpportunitiesFound, NetProfitPercent,
		BookFetchesTotal, BookFetchErrorsTotal,
		ExecutionsTotal, ExecutionDurationSeconds, LegsExecutedTotal, LegFailuresTotal,
		RollbacksTotal, RollbackFailuresTotal,
		GuardBlocksTotal, LedgerErrorsTotal, FeedPublishErrors, APIErrorsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
