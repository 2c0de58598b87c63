package manager

import (
	"context"
	"testing"
	"time"

	"github.com/quieloop/sonus/internal/agent"
	"github.com/quieloop/sonus/internal/service"
	"github.com/quieloop/sonus/internal/store"
	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

type stubAgent struct {
	*agent.Base
}

func stubFactory(name string) agent.Factory {
	return func(p *audio.Pipeline, l *Logger.Logger) (agent.Agent, error) {
		s := &stubAgent{}
		s.Base = agent.NewBase(agent.Attributes{Name: name}, audio.DefaultConfig(), p, l)
		return s, nil
	}
}

func newTestRegistry(t *testing.T, names ...string) agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	for _, n := range names {
		if err := reg.Register(n, stubFactory(n)); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	return reg
}

func newTestManager(t *testing.T, st store.Store, cfg Config) *Manager {
	t.Helper()
	reg := newTestRegistry(t, "alpha", "beta")
	machine := agent.NewStateMachine(agent.MachineConfig{}, nil, Logger.Nop())
	pipeline := audio.NewPipeline(4096, Logger.Nop())
	return New(cfg, reg, machine, st, pipeline, Logger.Nop())
}

func TestManagerStartBindsDefaults(t *testing.T) {
	st := store.NewMemory()
	mgr := newTestManager(t, st, Config{DefaultAgent: "alpha", DefaultChatMode: "manual"})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	if got := mgr.Machine().AgentName(); got != "alpha" {
		t.Errorf("bound agent = %q, want alpha", got)
	}
	mode, err := mgr.Machine().GetChatMode()
	if err != nil {
		t.Fatalf("GetChatMode: %v", err)
	}
	if mode != agent.ChatModeManual {
		t.Errorf("chat mode = %s, want manual", mode)
	}
}

func TestManagerPersistsSelections(t *testing.T) {
	st := store.NewMemory()
	mgr := newTestManager(t, st, Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := mgr.SetChatMode("manual"); err != nil {
		t.Fatalf("SetChatMode: %v", err)
	}
	if err := mgr.SetActiveAgent(context.Background(), "beta"); err != nil {
		t.Fatalf("SetActiveAgent: %v", err)
	}
	if got := mgr.Machine().AgentName(); got != "beta" {
		t.Errorf("bound agent = %q, want beta", got)
	}
	mgr.Stop(context.Background())

	// a fresh manager over the same store restores both selections
	mgr2 := newTestManager(t, st, Config{DefaultAgent: "alpha"})
	if err := mgr2.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer mgr2.Stop(context.Background())

	if got := mgr2.Machine().AgentName(); got != "beta" {
		t.Errorf("restored agent = %q, want beta", got)
	}
	mode, _ := mgr2.Machine().GetChatMode()
	if mode != agent.ChatModeManual {
		t.Errorf("restored chat mode = %s, want manual", mode)
	}
}

func TestAgentSwitchRequiresIdle(t *testing.T) {
	mgr := newTestManager(t, store.NewMemory(), Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	if err := mgr.Machine().TriggerGeneralAction(agent.ActionActivate, false); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := mgr.SetActiveAgent(context.Background(), "beta"); err == nil {
		t.Error("agent switch accepted outside idle")
	}
	if got := mgr.Machine().AgentName(); got != "alpha" {
		t.Errorf("bound agent = %q, want alpha", got)
	}
}

func TestAgentSwitchToUnknownAgentRollsBack(t *testing.T) {
	mgr := newTestManager(t, store.NewMemory(), Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	if err := mgr.SetActiveAgent(context.Background(), "ghost"); err == nil {
		t.Fatal("switch to unregistered agent accepted")
	}
	if got := mgr.Machine().AgentName(); got != "alpha" {
		t.Errorf("bound agent = %q, want alpha", got)
	}

	// the rolled-back machine must be restarted, not just rebound
	if err := mgr.Machine().TriggerGeneralAction(agent.ActionActivate, false); err != nil {
		t.Fatalf("activate after rollback: %v", err)
	}
	if got := mgr.Machine().CurrentState(); got != agent.StateActivated {
		t.Errorf("state = %s, want %s", got, agent.StateActivated)
	}
}

func TestUnknownChatModeRejected(t *testing.T) {
	mgr := newTestManager(t, store.NewMemory(), Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	if err := mgr.SetChatMode("telepathy"); err == nil {
		t.Error("unknown chat mode accepted")
	}
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	mgr := newTestManager(t, store.NewMemory(), Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	events, cancel := mgr.Subscribe()
	defer cancel()

	if err := mgr.Machine().TriggerGeneralAction(agent.ActionActivate, false); err != nil {
		t.Fatalf("activate: %v", err)
	}

	select {
	case ev := <-events:
		if ev != agent.EventActivated {
			t.Errorf("got event %s, want %s", ev, agent.EventActivated)
		}
	case <-time.After(time.Second):
		t.Error("no event delivered to subscriber")
	}
}

func TestServiceFunctionsDriveLifecycle(t *testing.T) {
	mgr := newTestManager(t, store.NewMemory(), Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	reg := service.NewFunctionRegistry()
	if err := mgr.RegisterFunctions(reg); err != nil {
		t.Fatalf("RegisterFunctions: %v", err)
	}

	ctx := context.Background()
	if _, err := reg.Invoke(ctx, "activate", nil); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := reg.Invoke(ctx, "start", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := reg.Invoke(ctx, "get_general_state", nil)
	if err != nil {
		t.Fatalf("get_general_state: %v", err)
	}
	obj, ok := out.AsObject()
	if !ok {
		t.Fatalf("state result kind = %s", out.Kind())
	}
	if s, _ := obj["state"].AsString(); s != string(agent.StateStarted) {
		t.Errorf("state = %q, want %s", s, agent.StateStarted)
	}
	if running, _ := obj["action_running"].AsBool(); running {
		t.Error("action reported running after completion")
	}

	if _, err := reg.Invoke(ctx, "set_chat_mode", map[string]service.Value{
		"mode": service.String("manual"),
	}); err != nil {
		t.Fatalf("set_chat_mode: %v", err)
	}
	mode, _ := mgr.Machine().GetChatMode()
	if mode != agent.ChatModeManual {
		t.Errorf("chat mode = %s, want manual", mode)
	}

	if _, err := reg.Invoke(ctx, "stop", nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := mgr.Machine().CurrentState(); got != agent.StateIdle {
		t.Errorf("state = %s, want %s", got, agent.StateIdle)
	}
}

func TestListAgentsFunction(t *testing.T) {
	mgr := newTestManager(t, store.NewMemory(), Config{DefaultAgent: "alpha"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop(context.Background())

	reg := service.NewFunctionRegistry()
	if err := mgr.RegisterFunctions(reg); err != nil {
		t.Fatalf("RegisterFunctions: %v", err)
	}

	out, err := reg.Invoke(context.Background(), "list_agents", nil)
	if err != nil {
		t.Fatalf("list_agents: %v", err)
	}
	arr, ok := out.AsArray()
	if !ok || len(arr) != 2 {
		t.Fatalf("list_agents = %v, %v", arr, ok)
	}
	if n, _ := arr[0].AsString(); n != "alpha" {
		t.Errorf("first agent = %q, want alpha", n)
	}
}
