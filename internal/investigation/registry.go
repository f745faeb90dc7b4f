package investigation

import (
	"context"
	"fmt"
	"sort"
)

// Step is one analysis capability the planner can select. Steps are
// side-effect-pure with respect to the state: they receive a private clone,
// return a new state with their evidence attached, and never invoke other
// steps or make planning decisions.
type Step interface {
	Name() string
	Description() string
	Run(ctx context.Context, st *State) (*State, error)
}

// StepInfo is the catalog entry shown to the planning LLM.
type StepInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry holds the registered steps, keyed by name.
type Registry struct {
	steps map[string]Step
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register adds a step. Registering the same name twice is a startup-time
// error, not a silent overwrite.
func (r *Registry) Register(s Step) error {
	name := s.Name()
	if _, exists := r.steps[name]; exists {
		return fmt.Errorf("step %q already registered", name)
	}
	r.steps[name] = s
	return nil
}

// Has reports whether a step is registered under the name.
func (r *Registry) Has(name string) bool {
	_, ok := r.steps[name]
	return ok
}

// Get retrieves a step by name.
func (r *Registry) Get(name string) (Step, bool) {
	s, ok := r.steps[name]
	return s, ok
}

// Names returns the registered step names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.steps))
	for name := range r.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns the step catalog in name order.
func (r *Registry) List() []StepInfo {
	out := make([]StepInfo, 0, len(r.steps))
	for _, name := range r.Names() {
		out = append(out, StepInfo{Name: name, Description: r.steps[name].Description()})
	}
	return out
}
