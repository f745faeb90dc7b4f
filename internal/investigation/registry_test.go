package investigation

import "testing"

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(&stubStep{name: StepGatherContext}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(&stubStep{name: StepGatherContext}); err == nil {
		t.Error("duplicate registration must fail")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, name := range []string{StepSearchSimilar, StepAnalyzePatterns, StepGatherContext} {
		if err := reg.Register(&stubStep{name: name}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	names := reg.Names()
	want := []string{StepAnalyzePatterns, StepGatherContext, StepSearchSimilar}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names = %v, want sorted %v", names, want)
		}
	}
}
