package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsRegistry builds a registry owned by this server rather than the
// global default one.
func (s *Server) newMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "regiflow_uptime_seconds",
			Help: "Time since the service started",
		}, func() float64 {
			return time.Since(s.startTime).Seconds()
		}),
	)

	if engine := s.deps.Engine; engine != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "regiflow_executions_in_flight",
			Help: "Executions currently holding an engine slot",
		}, func() float64 {
			return float64(engine.InFlight())
		}))

		counters := []struct {
			name  string
			help  string
			value func(domain.ExecutionMetrics) int64
		}{
			{"regiflow_executions_started_total", "Executions started", func(m domain.ExecutionMetrics) int64 { return m.ExecutionsStarted }},
			{"regiflow_executions_succeeded_total", "Executions that succeeded", func(m domain.ExecutionMetrics) int64 { return m.ExecutionsSucceeded }},
			{"regiflow_executions_failed_total", "Executions that failed", func(m domain.ExecutionMetrics) int64 { return m.ExecutionsFailed }},
			{"regiflow_executions_degraded_total", "Executions where a conditional fell back", func(m domain.ExecutionMetrics) int64 { return m.ExecutionsDegraded }},
			{"regiflow_steps_executed_total", "Steps executed", func(m domain.ExecutionMetrics) int64 { return m.StepsExecuted }},
			{"regiflow_steps_failed_total", "Steps that failed", func(m domain.ExecutionMetrics) int64 { return m.StepsFailed }},
			{"regiflow_steps_skipped_total", "Steps skipped", func(m domain.ExecutionMetrics) int64 { return m.StepsSkipped }},
			{"regiflow_steps_retried_total", "Step retries", func(m domain.ExecutionMetrics) int64 { return m.StepsRetried }},
			{"regiflow_steps_timed_out_total", "Step attempts that hit the step timeout", func(m domain.ExecutionMetrics) int64 { return m.StepsTimedOut }},
		}
		for _, c := range counters {
			value := c.value
			registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: c.name,
				Help: c.help,
			}, func() float64 {
				return float64(value(engine.Metrics()))
			}))
		}
	}

	if s.deps.Schedules != nil {
		registry.MustRegister(&scheduleCollector{schedules: s.deps.Schedules})
	}
	return registry
}

func (s *Server) prometheusHandler() http.Handler {
	return promhttp.HandlerFor(s.newMetricsRegistry(), promhttp.HandlerOpts{
		ErrorLog:      slogErrorLogger{s.logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var (
	scheduleInFlightDesc = prometheus.NewDesc(
		"regiflow_schedule_in_flight",
		"Scheduled executions of a workflow still running",
		[]string{"workflow_id"}, nil,
	)
	scheduleSkippedDesc = prometheus.NewDesc(
		"regiflow_schedule_skipped_total",
		"Schedule ticks skipped because the workflow was still running",
		[]string{"workflow_id"}, nil,
	)
)

// scheduleCollector reports one series per registered schedule. Schedules
// come and go with activation, so the series are built at scrape time.
type scheduleCollector struct {
	schedules ScheduleLister
}

func (c *scheduleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- scheduleInFlightDesc
	ch <- scheduleSkippedDesc
}

func (c *scheduleCollector) Collect(ch chan<- prometheus.Metric) {
	for _, status := range c.schedules.Status() {
		ch <- prometheus.MustNewConstMetric(scheduleInFlightDesc, prometheus.GaugeValue, float64(status.InFlight), status.WorkflowID)
		ch <- prometheus.MustNewConstMetric(scheduleSkippedDesc, prometheus.CounterValue, float64(status.Skipped), status.WorkflowID)
	}
}

type slogErrorLogger struct {
	logger *slog.Logger
}

func (l slogErrorLogger) Println(v ...any) {
	l.logger.Error("prometheus scrape failed", "error", v)
}
