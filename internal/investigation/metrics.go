package investigation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the investigation subsystem.
type Metrics struct {
	InvestigationsTotal   *prometheus.CounterVec
	InvestigationDuration *prometheus.HistogramVec
	StepsPerInvestigation prometheus.Histogram
	StepDuration          *prometheus.HistogramVec
	StepOutcomes          *prometheus.CounterVec
	PlannerDecisionsTotal *prometheus.CounterVec
	BreakerTripsTotal     prometheus.Counter
	FinalSeverityTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns investigation metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_investigations_total",
			Help: "Total investigations by final status.",
		}, []string{"status"}),
		InvestigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inquest_investigation_duration_seconds",
			Help:    "Duration of investigations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status"}),
		StepsPerInvestigation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inquest_investigation_steps",
			Help:    "Planner iterations per investigation.",
			Buckets: prometheus.LinearBuckets(1, 1, 12),
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inquest_step_duration_seconds",
			Help:    "Duration of step executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"step"}),
		StepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_step_executions_total",
			Help: "Step executions by step name and outcome.",
		}, []string{"step", "status"}),
		PlannerDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_planner_decisions_total",
			Help: "Planner decisions by mode (llm, rule_sequence, bootstrap).",
		}, []string{"mode"}),
		BreakerTripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inquest_planner_breaker_trips_total",
			Help: "Investigations in which the planner circuit breaker opened.",
		}),
		FinalSeverityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_investigation_severity_total",
			Help: "Completed investigations by final severity.",
		}, []string{"severity"}),
	}

	reg.MustRegister(
		m.InvestigationsTotal,
		m.InvestigationDuration,
		m.StepsPerInvestigation,
		m.StepDuration,
		m.StepOutcomes,
		m.PlannerDecisionsTotal,
		m.BreakerTripsTotal,
		m.FinalSeverityTotal,
	)
	return m
}

// observeDecision classifies a planner decision for the mode counter.
func (m *Metrics) observeDecision(d PlannerDecision) {
	if m == nil {
		return
	}
	mode := "llm"
	switch {
	case d.SelectedTool == StepGatherContext && d.Confidence == bootstrapConfidence:
		mode = "bootstrap"
	case d.Confidence == ruleSeqConfidence:
		mode = "rule_sequence"
	}
	m.PlannerDecisionsTotal.WithLabelValues(mode).Inc()
}

// observeExecution records one executor outcome.
func (m *Metrics) observeExecution(e ToolExecution) {
	if m == nil {
		return
	}
	m.StepOutcomes.WithLabelValues(e.ToolName, string(e.Status)).Inc()
	m.StepDuration.WithLabelValues(e.ToolName).Observe(float64(e.ExecutionTimeMS) / 1000)
}

// observeTerminal records the final shape of a finished investigation.
func (m *Metrics) observeTerminal(st *State, seconds float64, breakerTripped bool) {
	if m == nil {
		return
	}
	m.InvestigationsTotal.WithLabelValues(string(st.Status)).Inc()
	m.InvestigationDuration.WithLabelValues(string(st.Status)).Observe(seconds)
	m.StepsPerInvestigation.Observe(float64(st.StepCount))
	if breakerTripped {
		m.BreakerTripsTotal.Inc()
	}
	if st.Status == StatusCompleted {
		m.FinalSeverityTotal.WithLabelValues(string(st.Severity)).Inc()
	}
}
