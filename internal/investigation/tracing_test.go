package investigation

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/inquest/internal/verdict"
)

var testTracing struct {
	once     sync.Once
	exporter *tracetest.InMemoryExporter
}

// installTestTracer points the global provider at a shared in-memory exporter
// and clears it for the test. The provider is installed once per test binary:
// the OTel global delegates already-created tracers only on the first
// SetTracerProvider call, so swapping providers per test would leave the
// package-level tracer bound to the first test's exporter.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	testTracing.once.Do(func() {
		testTracing.exporter = tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(testTracing.exporter))
		otel.SetTracerProvider(tp)
	})
	testTracing.exporter.Reset()
	t.Cleanup(testTracing.exporter.Reset)
	return testTracing.exporter
}

func TestInvestigateCreatesStepSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.
	exporter := installTestTracer(t)

	store := newFakeStore()
	svc := newService(t, store, Config{MaxSteps: 10}, nil, evidenceSteps(verdict.SeverityLow)...)

	if _, err := svc.Investigate(context.Background(), "txn-1"); err != nil {
		t.Fatalf("Investigate: %v", err)
	}

	counts := map[string]int{}
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
	}
	if counts["step.execute"] != 5 {
		t.Errorf("step.execute spans = %d, want 5", counts["step.execute"])
	}
	if counts["planner.llm"] != 0 {
		t.Errorf("planner.llm spans = %d, want 0 with llm planning disabled", counts["planner.llm"])
	}
}

func TestPlannerCreatesLLMSpan(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.
	exporter := installTestTracer(t)

	provider := &fakeLLM{texts: []string{
		`{"tool":"analyze_patterns","reason":"context ready","confidence":0.9}`,
	}}
	p := NewPlanner(provider, fullRegistry(t), PlannerConfig{LLMEnabled: true}, nil)

	st := completedState(StepGatherContext)
	if _, err := p.Next(context.Background(), st); err != nil {
		t.Fatalf("Next: %v", err)
	}

	var found bool
	for _, s := range exporter.GetSpans() {
		if s.Name == "planner.llm" {
			found = true
		}
	}
	if !found {
		t.Error("expected a planner.llm span for the llm-guided decision")
	}
}
