package agent

// GeneralAction is a request to change the agent lifecycle phase.
type GeneralAction int

const (
	ActionActivate GeneralAction = iota
	ActionStart
	ActionSleep
	ActionWakeUp
	ActionStop
)

func (a GeneralAction) String() string {
	switch a {
	case ActionActivate:
		return "activate"
	case ActionStart:
		return "start"
	case ActionSleep:
		return "sleep"
	case ActionWakeUp:
		return "wake_up"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// GeneralEvent is an outcome notification: either the terminal result of an
// action or a status change reported by the agent itself.
type GeneralEvent int

const (
	EventActivated GeneralEvent = iota
	EventStarted
	EventSlept
	EventWokenUp
	EventStopped
	EventActivationFailed
	EventStartFailed
	EventSleepFailed
	EventWakeUpFailed
	EventStopFailed
	EventSpeakingStatusChanged
)

func (e GeneralEvent) String() string {
	switch e {
	case EventActivated:
		return "activated"
	case EventStarted:
		return "started"
	case EventSlept:
		return "slept"
	case EventWokenUp:
		return "woken_up"
	case EventStopped:
		return "stopped"
	case EventActivationFailed:
		return "activation_failed"
	case EventStartFailed:
		return "start_failed"
	case EventSleepFailed:
		return "sleep_failed"
	case EventWakeUpFailed:
		return "wake_up_failed"
	case EventStopFailed:
		return "stop_failed"
	case EventSpeakingStatusChanged:
		return "speaking_status_changed"
	default:
		return "unknown"
	}
}

// IsFailure reports whether the event is a failure variant.
func (e GeneralEvent) IsFailure() bool {
	switch e {
	case EventActivationFailed, EventStartFailed, EventSleepFailed,
		EventWakeUpFailed, EventStopFailed:
		return true
	}
	return false
}

// GeneralState identifies one node of the lifecycle machine. Stable states
// are terminal rest points; transient states are in-flight and must resolve
// to a stable state before the next action can run.
type GeneralState string

const (
	StateIdle       GeneralState = "idle"
	StateActivating GeneralState = "activating"
	StateActivated  GeneralState = "activated"
	StateStarting   GeneralState = "starting"
	StateStarted    GeneralState = "started"
	StateSleeping   GeneralState = "sleeping"
	StateSlept      GeneralState = "slept"
	StateWakingUp   GeneralState = "waking_up"
	StateStopping   GeneralState = "stopping"
)

// Transient reports whether the state is an in-flight one.
func (s GeneralState) Transient() bool {
	switch s {
	case StateActivating, StateStarting, StateSleeping, StateWakingUp, StateStopping:
		return true
	}
	return false
}

// ExtraAction is injected into the currently running transient state by
// timeout monitoring or explicit failure reporting.
type ExtraAction int

const (
	ExtraSuccess ExtraAction = iota
	ExtraFailed
	ExtraTimeout
)

func (x ExtraAction) String() string {
	switch x {
	case ExtraSuccess:
		return "success"
	case ExtraFailed:
		return "failed"
	case ExtraTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ChatMode controls how microphone capture is gated.
type ChatMode int

const (
	// ChatModeAuto keeps the capture path always on while a session runs.
	ChatModeAuto ChatMode = iota
	// ChatModeManual transmits captured audio only between explicit
	// start/stop listening calls.
	ChatModeManual
)

func (m ChatMode) String() string {
	switch m {
	case ChatModeAuto:
		return "auto"
	case ChatModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// GeneralFunction names an optional capability a concrete agent can declare.
type GeneralFunction int

const (
	FuncInterruptSpeaking GeneralFunction = iota
	FuncManualListening
	FuncSuspendResume
)

func (f GeneralFunction) String() string {
	switch f {
	case FuncInterruptSpeaking:
		return "interrupt_speaking"
	case FuncManualListening:
		return "manual_listening"
	case FuncSuspendResume:
		return "suspend_resume"
	default:
		return "unknown"
	}
}
