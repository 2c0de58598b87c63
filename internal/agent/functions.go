package agent

import "context"

// Per-agent function wrappers. Callers never hold the bound agent
// directly; the machine resolves it under its own lock so a concurrent
// Deinit cannot race the call.

func (m *StateMachine) boundAgent() (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.agent == nil {
		return nil, ErrNotInitialized
	}
	return m.agent, nil
}

// AgentName returns the bound agent's registry name, or "" when unbound.
func (m *StateMachine) AgentName() string {
	ag, err := m.boundAgent()
	if err != nil {
		return ""
	}
	return ag.Attributes().Name
}

// SetChatMode switches the capture gating mode of the bound agent.
func (m *StateMachine) SetChatMode(mode ChatMode) error {
	ag, err := m.boundAgent()
	if err != nil {
		return err
	}
	ag.base().SetChatMode(mode)
	return nil
}

// GetChatMode reads the bound agent's capture gating mode.
func (m *StateMachine) GetChatMode() (ChatMode, error) {
	ag, err := m.boundAgent()
	if err != nil {
		return ChatModeAuto, err
	}
	return ag.base().GetChatMode(), nil
}

// InterruptSpeaking stops current playback if the agent supports it.
func (m *StateMachine) InterruptSpeaking(ctx context.Context) error {
	ag, err := m.boundAgent()
	if err != nil {
		return err
	}
	return ag.base().InterruptSpeaking(ctx, ag)
}

// ManualStartListening opens the capture gate in manual chat mode.
func (m *StateMachine) ManualStartListening(ctx context.Context) error {
	ag, err := m.boundAgent()
	if err != nil {
		return err
	}
	return ag.base().ManualStartListening(ctx, ag)
}

// ManualStopListening closes the capture gate in manual chat mode.
func (m *StateMachine) ManualStopListening(ctx context.Context) error {
	ag, err := m.boundAgent()
	if err != nil {
		return err
	}
	return ag.base().ManualStopListening(ctx, ag)
}

// Suspend pauses transmission without a lifecycle transition.
func (m *StateMachine) Suspend(ctx context.Context) error {
	ag, err := m.boundAgent()
	if err != nil {
		return err
	}
	return ag.base().Suspend(ctx, ag)
}

// Resume reverses Suspend.
func (m *StateMachine) Resume(ctx context.Context) error {
	ag, err := m.boundAgent()
	if err != nil {
		return err
	}
	return ag.base().Resume(ctx, ag)
}

// FlagNames snapshots the bound agent's lifecycle flag word.
func (m *StateMachine) FlagNames() []string {
	ag, err := m.boundAgent()
	if err != nil {
		return nil
	}
	return ag.base().Flags().Names()
}

// SupportsFunction reports whether the bound agent opted into fn.
func (m *StateMachine) SupportsFunction(fn GeneralFunction) bool {
	ag, err := m.boundAgent()
	if err != nil {
		return false
	}
	return ag.Attributes().SupportsFunction(fn)
}
