package provision

import (
	"sync"
	"time"

	"github.com/ppiankov/qverify/internal/model"
)

// State is a lifecycle state of a provisioned instance
type State string

const (
	StateRequested     State = "requested"
	StateImagePulling  State = "image_pulling"
	StateCreated       State = "created"
	StateStarting      State = "starting"
	StateHealthPending State = "health_pending"
	StateHealthy       State = "healthy"
	StateUnhealthy     State = "unhealthy"
	StateTimedOut      State = "timed_out"
	StateTerminated    State = "terminated"
)

// Ready reports whether verification may proceed in this state under the
// degraded-continue policy
func (s State) Ready() bool {
	switch s {
	case StateHealthy, StateUnhealthy, StateTimedOut:
		return true
	}
	return false
}

// Transition records one state change
type Transition struct {
	State State
	At    time.Time
}

// Instance is a provisioned database container. Its lifecycle state is owned
// by the Provisioner; callers only read Endpoint.
type Instance struct {
	ContainerID string
	Name        string
	Image       string
	Endpoint    model.Endpoint

	mu      sync.Mutex
	state   State
	history []Transition
}

func newInstance(name, image string, endpoint model.Endpoint) *Instance {
	inst := &Instance{
		Name:     name,
		Image:    image,
		Endpoint: endpoint,
	}
	inst.setState(StateRequested)
	return inst
}

// State returns the current lifecycle state
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// History returns every recorded transition in order
func (i *Instance) History() []Transition {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Transition, len(i.history))
	copy(out, i.history)
	return out
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
	i.history = append(i.history, Transition{State: s, At: time.Now()})
}
