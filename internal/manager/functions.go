package manager

import (
	"context"

	"github.com/quieloop/sonus/internal/agent"
	"github.com/quieloop/sonus/internal/service"
)

// RegisterFunctions publishes the manager's control surface as callable
// service functions.
func (m *Manager) RegisterFunctions(reg *service.FunctionRegistry) error {
	lifecycle := []struct {
		name   string
		action agent.GeneralAction
		desc   string
	}{
		{"activate", agent.ActionActivate, "authenticate and register the device"},
		{"start", agent.ActionStart, "open the voice session"},
		{"sleep", agent.ActionSleep, "suspend the session without teardown"},
		{"wake_up", agent.ActionWakeUp, "resume a slept session"},
		{"stop", agent.ActionStop, "tear the session down"},
	}
	for _, op := range lifecycle {
		action := op.action
		err := reg.Register(service.FunctionSchema{
			Name:        op.name,
			Description: op.desc,
			Args: []service.ArgSpec{
				{Name: "dispatch", Kind: service.KindBool, Description: "queue instead of blocking"},
			},
			Result: service.KindNull,
		}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
			dispatch := false
			if v, ok := args["dispatch"]; ok {
				dispatch, _ = v.AsBool()
			}
			return service.Null(), m.machine.TriggerGeneralAction(action, dispatch)
		})
		if err != nil {
			return err
		}
	}

	err := reg.Register(service.FunctionSchema{
		Name:        "get_general_state",
		Description: "current lifecycle state, flags and selections",
		Result:      service.KindObject,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		return m.stateValue(), nil
	})
	if err != nil {
		return err
	}

	err = reg.Register(service.FunctionSchema{
		Name:        "interrupt_speaking",
		Description: "abort the current playback turn",
		Result:      service.KindNull,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		return service.Null(), m.machine.InterruptSpeaking(ctx)
	})
	if err != nil {
		return err
	}

	err = reg.Register(service.FunctionSchema{
		Name:        "set_listening",
		Description: "open or close the manual capture gate",
		Args: []service.ArgSpec{
			{Name: "on", Kind: service.KindBool, Required: true},
		},
		Result: service.KindNull,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		on, _ := args["on"].AsBool()
		if on {
			return service.Null(), m.machine.ManualStartListening(ctx)
		}
		return service.Null(), m.machine.ManualStopListening(ctx)
	})
	if err != nil {
		return err
	}

	err = reg.Register(service.FunctionSchema{
		Name:        "set_chat_mode",
		Description: "switch capture gating between auto and manual",
		Args: []service.ArgSpec{
			{Name: "mode", Kind: service.KindString, Required: true},
		},
		Result: service.KindNull,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		mode, _ := args["mode"].AsString()
		return service.Null(), m.SetChatMode(mode)
	})
	if err != nil {
		return err
	}

	err = reg.Register(service.FunctionSchema{
		Name:        "set_active_agent",
		Description: "bind a different registered agent (idle only)",
		Args: []service.ArgSpec{
			{Name: "name", Kind: service.KindString, Required: true},
		},
		Result: service.KindNull,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		name, _ := args["name"].AsString()
		return service.Null(), m.SetActiveAgent(ctx, name)
	})
	if err != nil {
		return err
	}

	err = reg.Register(service.FunctionSchema{
		Name:        "list_agents",
		Description: "registered agent names",
		Result:      service.KindArray,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		names := m.registry.Names()
		items := make([]service.Value, len(names))
		for i, n := range names {
			items[i] = service.String(n)
		}
		return service.Array(items), nil
	})
	if err != nil {
		return err
	}

	err = reg.Register(service.FunctionSchema{
		Name:        "sync_time",
		Description: "force a clock sync against the configured server",
		Result:      service.KindBool,
	}, func(ctx context.Context, args map[string]service.Value) (service.Value, error) {
		if err := m.machine.DoTimeSync(ctx); err != nil {
			return service.Bool(false), err
		}
		return service.Bool(true), nil
	})
	if err != nil {
		return err
	}

	return nil
}

// stateValue assembles the status object served by get_general_state.
func (m *Manager) stateValue() service.Value {
	flags := m.machine.FlagNames()
	flagItems := make([]service.Value, len(flags))
	for i, f := range flags {
		flagItems[i] = service.String(f)
	}
	mode, err := m.machine.GetChatMode()
	modeStr := mode.String()
	if err != nil {
		modeStr = ""
	}
	return service.Object(map[string]service.Value{
		"agent":          service.String(m.machine.AgentName()),
		"state":          service.String(string(m.machine.CurrentState())),
		"flags":          service.Array(flagItems),
		"chat_mode":      service.String(modeStr),
		"action_running": service.Bool(m.machine.IsActionRunning()),
		"time_synced":    service.Bool(m.machine.CheckIfTimeSynced()),
	})
}
