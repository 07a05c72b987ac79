package analysis

import "github.com/poiesic/trendwire/core"

// StateObserver receives every state transition of a request.
// Implementations must be safe for concurrent use.
type StateObserver interface {
	Transition(requestID string, from, to core.AnalysisState)
}

// StateObserverFunc adapts a function to StateObserver.
type StateObserverFunc func(requestID string, from, to core.AnalysisState)

func (f StateObserverFunc) Transition(requestID string, from, to core.AnalysisState) {
	f(requestID, from, to)
}

type noopObserver struct{}

var _ StateObserver = noopObserver{}

func (noopObserver) Transition(string, core.AnalysisState, core.AnalysisState) {}

// run tracks the state of one request.
type run struct {
	req      *core.AnalysisRequest
	state    core.AnalysisState
	observer StateObserver
}

func (r *run) to(next core.AnalysisState) {
	prev := r.state
	r.state = next
	r.observer.Transition(r.req.RequestID, prev, next)
}
