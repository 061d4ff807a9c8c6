package engine

import (
	"batchpipe/internal/ledger"
	"batchpipe/internal/objectstore"
	"batchpipe/internal/plan"
)

// Observer receives progress notifications. All methods are called on the
// goroutine walking the plan and must not call back into the engine's Start
// or Resume.
type Observer interface {
	// OnPhaseChanged is called before the first step of each phase.
	OnPhaseChanged(phase objectstore.Type)

	// OnStepStarted is called when a step becomes Running.
	OnStepStarted(step plan.Step)

	// OnStepFinished is called with the step's final status and, for Errored
	// steps, the recorded error.
	OnStepFinished(step plan.Step, status ledger.StepStatus, err error)

	// OnRunFinished is called once the run is Completed, Cancelled or Fatal.
	OnRunFinished(snap *ledger.Snapshot)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnPhaseChanged(objectstore.Type)                    {}
func (NopObserver) OnStepStarted(plan.Step)                            {}
func (NopObserver) OnStepFinished(plan.Step, ledger.StepStatus, error) {}
func (NopObserver) OnRunFinished(*ledger.Snapshot)                     {}

// Observers fans notifications out in order.
type Observers []Observer

func (o Observers) OnPhaseChanged(phase objectstore.Type) {
	for _, ob := range o {
		ob.OnPhaseChanged(phase)
	}
}

func (o Observers) OnStepStarted(step plan.Step) {
	for _, ob := range o {
		ob.OnStepStarted(step)
	}
}

func (o Observers) OnStepFinished(step plan.Step, status ledger.StepStatus, err error) {
	for _, ob := range o {
		ob.OnStepFinished(step, status, err)
	}
}

func (o Observers) OnRunFinished(snap *ledger.Snapshot) {
	for _, ob := range o {
		ob.OnRunFinished(snap)
	}
}
