package ralphloop

import (
	"context"
	"sync"

	"github.com/jordigilh/ralph-core/pkg/cascade"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// fakeCascade scripts a Decision (or error) per signal ID so Pass 2 tests
// can drive specific outcomes without a real ModelCascade.
type fakeCascade struct {
	mu        sync.Mutex
	decisions map[string]cascade.Decision
	errs      map[string]error
	calls     map[string]int
	defaultDecision cascade.Decision
}

func newFakeCascade() *fakeCascade {
	return &fakeCascade{
		decisions: make(map[string]cascade.Decision),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
		defaultDecision: cascade.Decision{
			Validated: true, Adjustment: 0, Rationale: "default", TierUsed: "small",
		},
	}
}

func (f *fakeCascade) script(signalID string, decision cascade.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[signalID] = decision
}

func (f *fakeCascade) scriptErr(signalID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[signalID] = err
}

func (f *fakeCascade) Run(_ context.Context, signal schema.Signal, _ []schema.Signal, _ cascade.Strategy) (cascade.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[signal.ID]++

	if err, ok := f.errs[signal.ID]; ok {
		return cascade.Decision{}, err
	}
	if decision, ok := f.decisions[signal.ID]; ok {
		return decision, nil
	}
	return f.defaultDecision, nil
}

func (f *fakeCascade) callCount(signalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[signalID]
}
