package agent

import "time"

// OperationTimeouts budgets each lifecycle action. A transient state that
// outlives its budget is failed via the timeout path.
type OperationTimeouts struct {
	Activate time.Duration `mapstructure:"activate"`
	Start    time.Duration `mapstructure:"start"`
	Sleep    time.Duration `mapstructure:"sleep"`
	WakeUp   time.Duration `mapstructure:"wake_up"`
	Stop     time.Duration `mapstructure:"stop"`
}

// DefaultTimeouts mirrors the budgets voice agents typically need: a slow
// activation handshake, quicker session control.
func DefaultTimeouts() OperationTimeouts {
	return OperationTimeouts{
		Activate: 30 * time.Second,
		Start:    15 * time.Second,
		Sleep:    5 * time.Second,
		WakeUp:   10 * time.Second,
		Stop:     5 * time.Second,
	}
}

// For returns the budget matching one action.
func (t OperationTimeouts) For(action GeneralAction) time.Duration {
	switch action {
	case ActionActivate:
		return t.Activate
	case ActionStart:
		return t.Start
	case ActionSleep:
		return t.Sleep
	case ActionWakeUp:
		return t.WakeUp
	case ActionStop:
		return t.Stop
	default:
		return 0
	}
}

// Attributes is static per-agent-type metadata, created once at agent
// construction and immutable afterward.
type Attributes struct {
	// Name is the display name used in logs and the control surface.
	Name string
	// Timeouts budgets each lifecycle action.
	Timeouts OperationTimeouts
	// Functions lists the optional capabilities this agent supports.
	Functions []GeneralFunction
	// Events lists the agent-originated events this agent can emit.
	Events []GeneralEvent
	// RequiresTimeSync gates activation on a prior successful time sync.
	RequiresTimeSync bool
}

// SupportsFunction reports whether the agent declared the capability.
func (a Attributes) SupportsFunction(fn GeneralFunction) bool {
	for _, f := range a.Functions {
		if f == fn {
			return true
		}
	}
	return false
}

// SupportsEvent reports whether the agent declared the event.
func (a Attributes) SupportsEvent(ev GeneralEvent) bool {
	for _, e := range a.Events {
		if e == ev {
			return true
		}
	}
	return false
}
