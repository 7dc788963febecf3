package model

// Phase names a stage of an audit run
type Phase string

const (
	PhaseIngest    Phase = "ingest"
	PhaseProvision Phase = "provision"
	PhaseHealth    Phase = "health"
	PhaseVerify    Phase = "verify"
	PhaseReport    Phase = "report"
	PhaseTeardown  Phase = "teardown"
)

// Observer receives progress events so the core never prints directly.
// Implementations must be safe for concurrent use: ingestion and
// provisioning report from different goroutines.
type Observer interface {
	OnPhase(phase Phase)
	OnProgress(phase Phase, done, total int)
}

// NopObserver discards all events
type NopObserver struct{}

func (NopObserver) OnPhase(Phase)              {}
func (NopObserver) OnProgress(Phase, int, int) {}
