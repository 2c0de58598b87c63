// Package manager owns agent selection and the lifecycle machine: it
// resolves which agent runs, persists the small runtime selections and
// exposes the whole thing as callable service functions.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quieloop/sonus/internal/agent"
	"github.com/quieloop/sonus/internal/store"
	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

// persisted selection keys
const (
	keyActiveAgent = "active_agent"
	keyChatMode    = "chat_mode"
)

// Config sets the fallbacks used when nothing was persisted.
type Config struct {
	DefaultAgent    string
	DefaultChatMode string
}

// Manager binds one agent from the registry into the state machine and
// keeps the selection durable across restarts. Persistence is best
// effort: store failures are logged and the lifecycle keeps going.
type Manager struct {
	cfg      Config
	registry agent.Registry
	machine  *agent.StateMachine
	store    store.Store
	pipeline *audio.Pipeline
	logger   *Logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan agent.GeneralEvent
}

func New(cfg Config, registry agent.Registry, machine *agent.StateMachine, st store.Store, pipeline *audio.Pipeline, logger *Logger.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: registry,
		machine:  machine,
		store:    st,
		pipeline: pipeline,
		logger:   logger,
		subs:     make(map[int]chan agent.GeneralEvent),
	}
}

// Start restores the persisted selections, binds the agent and launches
// the machine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("manager already started")
	}

	name := m.loadSelection(keyActiveAgent, m.cfg.DefaultAgent)
	if err := m.bind(ctx, name); err != nil {
		if name == m.cfg.DefaultAgent {
			return err
		}
		m.logger.Warnf("persisted agent %q unavailable (%v), falling back to %q", name, err, m.cfg.DefaultAgent)
		if err := m.bind(ctx, m.cfg.DefaultAgent); err != nil {
			return err
		}
	}

	mode := parseChatMode(m.loadSelection(keyChatMode, m.cfg.DefaultChatMode))
	if err := m.machine.SetChatMode(mode); err != nil {
		m.logger.Warnf("chat mode restore: %v", err)
	}

	if err := m.machine.Start(); err != nil {
		m.machine.Deinit()
		return err
	}

	ectx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.eventLoop(ectx)

	m.started = true
	return nil
}

// Stop shuts the session down if one is up, then releases the machine.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	state := m.machine.CurrentState()
	if state != agent.StateIdle && !state.Transient() {
		if err := m.machine.TriggerGeneralAction(agent.ActionStop, false); err != nil {
			m.logger.Warnf("stop on shutdown: %v", err)
		}
	}
	m.machine.Deinit()

	cancel()
	m.wg.Wait()
}

// bind creates the named agent and initializes the machine around it.
// Caller holds m.mu.
func (m *Manager) bind(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("no agent selected")
	}
	ag, err := m.registry.Create(name, m.pipeline, m.logger)
	if err != nil {
		return err
	}
	if err := m.machine.Init(ctx, ag); err != nil {
		return fmt.Errorf("bind %q: %w", name, err)
	}
	m.logger.Infof("agent %q bound", name)
	return nil
}

// SetActiveAgent swaps the bound agent. Only allowed while the machine
// sits in Idle with nothing in flight.
func (m *Manager) SetActiveAgent(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("manager not started")
	}
	if name == m.machine.AgentName() {
		return nil
	}
	if m.machine.CurrentState() != agent.StateIdle || m.machine.IsActionRunning() {
		return fmt.Errorf("agent switch requires the %s state", agent.StateIdle)
	}

	prev := m.machine.AgentName()
	mode, _ := m.machine.GetChatMode()
	m.machine.Deinit()
	if err := m.bind(ctx, name); err != nil {
		// restore the previous agent so the runtime stays usable
		if rerr := m.bind(ctx, prev); rerr != nil {
			m.logger.Errorf("rebind after failed switch: %v", rerr)
		} else if rerr := m.machine.Start(); rerr != nil {
			m.logger.Errorf("restart after failed switch: %v", rerr)
		}
		return err
	}
	if err := m.machine.SetChatMode(mode); err != nil {
		m.logger.Warnf("chat mode carry-over: %v", err)
	}
	if err := m.machine.Start(); err != nil {
		return err
	}

	m.saveSelection(keyActiveAgent, name)
	return nil
}

// SetChatMode switches capture gating and persists the choice.
func (m *Manager) SetChatMode(mode string) error {
	parsed, ok := chatModeFromString(mode)
	if !ok {
		return fmt.Errorf("unknown chat mode %q", mode)
	}
	if err := m.machine.SetChatMode(parsed); err != nil {
		return err
	}
	m.saveSelection(keyChatMode, parsed.String())
	return nil
}

// Machine exposes the lifecycle machine to the transport layer.
func (m *Manager) Machine() *agent.StateMachine { return m.machine }

// Subscribe returns a stream of lifecycle events plus its cancel func.
// Slow subscribers lose events rather than blocking the fan-out.
func (m *Manager) Subscribe() (<-chan agent.GeneralEvent, func()) {
	ch := make(chan agent.GeneralEvent, 16)
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()
	return ch, func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// eventLoop consumes the machine's event stream, logging and fanning it
// out to subscribers.
func (m *Manager) eventLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.machine.Events():
			if ev.IsFailure() {
				m.logger.Warnf("lifecycle event: %s (state %s)", ev, m.machine.CurrentState())
			} else {
				m.logger.Infof("lifecycle event: %s (state %s)", ev, m.machine.CurrentState())
			}
			m.subMu.Lock()
			for id, ch := range m.subs {
				select {
				case ch <- ev:
				default:
					m.logger.Debugf("subscriber %d lagging, dropping %s", id, ev)
				}
			}
			m.subMu.Unlock()
		}
	}
}

func (m *Manager) loadSelection(key, fallback string) string {
	if m.store == nil {
		return fallback
	}
	v, err := m.store.Get(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warnf("load %s: %v", key, err)
		}
		return fallback
	}
	return v
}

func (m *Manager) saveSelection(key, value string) {
	if m.store == nil {
		return
	}
	if err := m.store.Set(key, value); err != nil {
		m.logger.Warnf("persist %s: %v", key, err)
	}
}

func parseChatMode(s string) agent.ChatMode {
	if mode, ok := chatModeFromString(s); ok {
		return mode
	}
	return agent.ChatModeAuto
}

func chatModeFromString(s string) (agent.ChatMode, bool) {
	switch s {
	case agent.ChatModeAuto.String(), "":
		return agent.ChatModeAuto, true
	case agent.ChatModeManual.String():
		return agent.ChatModeManual, true
	default:
		return agent.ChatModeAuto, false
	}
}
