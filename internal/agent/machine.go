package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/quieloop/sonus/pkg/Logger"
)

var (
	ErrNotInitialized     = errors.New("state machine not initialized")
	ErrAlreadyInitialized = errors.New("state machine already initialized")
	ErrNotRunning         = errors.New("state machine not running")
	ErrAlreadyRunning     = errors.New("state machine already running")
	ErrQueueFull          = errors.New("action queue full")
	ErrInvalidTransition  = errors.New("action not valid in current state")
)

// TimeSyncer gates activation flows that need synced wall time.
type TimeSyncer interface {
	Sync(ctx context.Context) error
	Synced() bool
}

// MachineConfig tunes the state machine.
type MachineConfig struct {
	// QueueSize bounds the pending dispatched actions.
	QueueSize int `mapstructure:"queue_size"`
	// MaxFailureStreak latches the error flag after this many consecutive
	// action failures. Zero keeps the default.
	MaxFailureStreak int `mapstructure:"max_failure_streak"`
}

// DefaultMachineConfig mirrors the usual runtime shape.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{QueueSize: 16, MaxFailureStreak: 3}
}

// inflight tracks the single action currently executing.
type inflight struct {
	action GeneralAction
	epoch  uint64
	done   chan struct{}
	timer  *time.Timer
}

// StateMachine serializes lifecycle transitions for exactly one bound
// agent. External callers request actions; the machine translates them and
// the agent's own events into state changes over a fixed transition table.
//
// Concurrency model: dispatched actions drain FIFO through one worker
// goroutine; synchronous triggers run the hook on the caller's goroutine.
// TriggerGeneralAction(..., dispatch=true), TriggerGeneralEvent and
// TriggerExtraAction are safe from any goroutine.
type StateMachine struct {
	cfg    MachineConfig
	logger *Logger.Logger
	syncer TimeSyncer

	mu          sync.Mutex
	initialized bool
	running     bool
	agent       Agent
	machine     *fsm.FSM
	queue       chan GeneralAction
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	inflightMu sync.Mutex
	cur        *inflight
	nextEpoch  uint64
	failStreak int

	events chan GeneralEvent
}

// NewStateMachine builds an unbound machine; Init binds the agent.
func NewStateMachine(cfg MachineConfig, syncer TimeSyncer, logger *Logger.Logger) *StateMachine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultMachineConfig().QueueSize
	}
	if cfg.MaxFailureStreak <= 0 {
		cfg.MaxFailureStreak = DefaultMachineConfig().MaxFailureStreak
	}
	return &StateMachine{
		cfg:    cfg,
		logger: logger,
		syncer: syncer,
		events: make(chan GeneralEvent, 32),
	}
}

// transition table: action events move into transients, completion events
// resolve them back to stable states
func newLifecycleFSM() *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: ActionActivate.String(), Src: []string{string(StateIdle)}, Dst: string(StateActivating)},
			{Name: ActionStart.String(), Src: []string{string(StateActivated)}, Dst: string(StateStarting)},
			{Name: ActionSleep.String(), Src: []string{string(StateStarted)}, Dst: string(StateSleeping)},
			{Name: ActionWakeUp.String(), Src: []string{string(StateSlept)}, Dst: string(StateWakingUp)},
			{Name: ActionStop.String(), Src: []string{string(StateActivated), string(StateStarted), string(StateSlept)}, Dst: string(StateStopping)},

			{Name: EventActivated.String(), Src: []string{string(StateActivating)}, Dst: string(StateActivated)},
			{Name: EventActivationFailed.String(), Src: []string{string(StateActivating)}, Dst: string(StateIdle)},
			{Name: EventStarted.String(), Src: []string{string(StateStarting)}, Dst: string(StateStarted)},
			{Name: EventStartFailed.String(), Src: []string{string(StateStarting)}, Dst: string(StateActivated)},
			{Name: EventSlept.String(), Src: []string{string(StateSleeping)}, Dst: string(StateSlept)},
			{Name: EventSleepFailed.String(), Src: []string{string(StateSleeping)}, Dst: string(StateStarted)},
			{Name: EventWokenUp.String(), Src: []string{string(StateWakingUp)}, Dst: string(StateStarted)},
			{Name: EventWakeUpFailed.String(), Src: []string{string(StateWakingUp)}, Dst: string(StateSlept)},
			{Name: EventStopped.String(), Src: []string{string(StateStopping)}, Dst: string(StateIdle)},
			{Name: EventStopFailed.String(), Src: []string{string(StateStopping)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{},
	)
}

// Init binds the agent, allocates the transition table and runs the
// agent's one-time setup. Calling Init twice without Deinit fails.
func (m *StateMachine) Init(ctx context.Context, ag Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return ErrAlreadyInitialized
	}
	if ag == nil {
		return errors.New("nil agent")
	}

	if err := ag.OnInit(ctx); err != nil {
		return fmt.Errorf("agent init: %w", err)
	}

	m.agent = ag
	m.machine = newLifecycleFSM()
	m.queue = make(chan GeneralAction, m.cfg.QueueSize)
	ag.base().BindSink(m)
	ag.base().markReady()
	m.initialized = true
	m.logger.Infof("state machine initialized for agent %q", ag.Attributes().Name)
	return nil
}

// Start launches the dispatch queue worker. Must follow Init.
func (m *StateMachine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.running {
		return ErrAlreadyRunning
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.worker(m.ctx)
	m.running = true
	m.logger.Info("state machine started")
	return nil
}

// Stop halts the worker, discarding any queued-but-unexecuted actions.
// Safe to call when not running.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	// discard whatever the worker never picked up
	drained := 0
	for {
		select {
		case <-m.queue:
			drained++
		default:
			if drained > 0 {
				m.logger.Infof("discarded %d queued actions on stop", drained)
			}
			m.logger.Info("state machine stopped")
			return
		}
	}
}

// Deinit releases the bound agent and the transition table. Safe to call
// when not initialized.
func (m *StateMachine) Deinit() {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return
	}
	m.initialized = false
	m.agent = nil
	m.machine = nil
	m.logger.Info("state machine deinitialized")
}

func (m *StateMachine) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-m.queue:
			if !ok {
				return
			}
			// cancellation may race the queue read; discarded actions belong
			// to Stop, not to the agent
			if ctx.Err() != nil {
				return
			}
			// a synchronous caller may hold the slot; wait and replay so
			// dispatched actions are never silently lost
			for {
				err := m.execute(ctx, action)
				if !errors.Is(err, ErrBusy) {
					if err != nil {
						m.logger.Warnf("dispatched action %s rejected: %v", action, err)
					}
					break
				}
				if !m.waitIdle(ctx) {
					return
				}
			}
		}
	}
}

// waitIdle blocks until the in-flight action resolves or ctx is cancelled.
func (m *StateMachine) waitIdle(ctx context.Context) bool {
	m.inflightMu.Lock()
	run := m.cur
	m.inflightMu.Unlock()
	if run == nil {
		return true
	}
	select {
	case <-run.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// TriggerGeneralAction requests one lifecycle action.
//
// With dispatch=false the action executes synchronously on the caller's
// goroutine, blocking for up to the action's timeout budget; a second
// synchronous trigger while one runs returns ErrBusy. With dispatch=true
// the action is appended to the FIFO queue and replayed by the worker once
// the machine is free; this is how concurrent callers serialize without
// blocking.
func (m *StateMachine) TriggerGeneralAction(action GeneralAction, dispatch bool) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if dispatch {
		if !m.running {
			m.mu.Unlock()
			return ErrNotRunning
		}
		queue := m.queue
		m.mu.Unlock()
		select {
		case queue <- action:
			return nil
		default:
			return ErrQueueFull
		}
	}
	m.mu.Unlock()
	return m.execute(context.Background(), action)
}

// execute runs one action to its terminal event. Returns structural errors
// only; hook failures surface as *Failed events, not as an error here.
func (m *StateMachine) execute(ctx context.Context, action GeneralAction) error {
	m.mu.Lock()
	ag := m.agent
	machine := m.machine
	m.mu.Unlock()
	if ag == nil || machine == nil {
		return ErrNotInitialized
	}

	// claim the single in-flight slot before touching the fsm
	m.inflightMu.Lock()
	if m.cur != nil {
		m.inflightMu.Unlock()
		return ErrBusy
	}
	if !machine.Can(action.String()) {
		cur := machine.Current()
		m.inflightMu.Unlock()
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, action, cur)
	}

	budget := ag.Attributes().Timeouts.For(action)
	if budget <= 0 {
		budget = DefaultTimeouts().For(action)
	}
	m.nextEpoch++
	run := &inflight{
		action: action,
		epoch:  m.nextEpoch,
		done:   make(chan struct{}),
	}
	epoch := run.epoch
	run.timer = time.AfterFunc(budget, func() {
		m.finish(epoch, ExtraTimeout)
	})
	m.cur = run
	m.inflightMu.Unlock()

	if err := machine.Event(ctx, action.String()); err != nil {
		// lost a race with a concurrent state change; release the slot
		m.inflightMu.Lock()
		m.cur = nil
		m.inflightMu.Unlock()
		run.timer.Stop()
		return fmt.Errorf("%w: %s: %v", ErrInvalidTransition, action, err)
	}
	m.logger.Infof("action %s entered %s (budget %s)", action, machine.Current(), budget)

	hctx, hcancel := context.WithTimeout(ctx, budget)
	go func() {
		defer hcancel()
		err := m.runAction(hctx, ag, action)
		if err != nil {
			m.logger.Warnf("action %s hook failed: %v", action, err)
			m.finish(epoch, ExtraFailed)
		} else {
			m.finish(epoch, ExtraSuccess)
		}
	}()

	// hook failures are recoverable: they surface as *Failed events on the
	// stream, not as an error here
	<-run.done
	return nil
}

// runAction applies the time-sync gate and dispatches through Base.
func (m *StateMachine) runAction(ctx context.Context, ag Agent, action GeneralAction) error {
	if action == ActionActivate && ag.Attributes().RequiresTimeSync {
		if err := m.ensureTimeSynced(ctx, ag); err != nil {
			return fmt.Errorf("time sync: %w", err)
		}
	}
	return ag.base().DoGeneralAction(ctx, ag, action)
}

func (m *StateMachine) ensureTimeSynced(ctx context.Context, ag Agent) error {
	if m.syncer == nil {
		return errors.New("no time syncer configured")
	}
	if m.syncer.Synced() {
		return nil
	}
	flags := ag.base().Flags()
	flags.Set(FlagTimeSyncing)
	defer flags.Clear(FlagTimeSyncing)
	return m.syncer.Sync(ctx)
}

// terminalEvent maps an action and its outcome to the event fed back into
// the machine.
func terminalEvent(action GeneralAction, success bool) GeneralEvent {
	switch action {
	case ActionActivate:
		if success {
			return EventActivated
		}
		return EventActivationFailed
	case ActionStart:
		if success {
			return EventStarted
		}
		return EventStartFailed
	case ActionSleep:
		if success {
			return EventSlept
		}
		return EventSleepFailed
	case ActionWakeUp:
		if success {
			return EventWokenUp
		}
		return EventWakeUpFailed
	default:
		if success {
			return EventStopped
		}
		return EventStopFailed
	}
}

// finish resolves the in-flight action with one extra-action outcome. The
// first caller wins; stale completions (late hook returns after a timeout
// or force reset) are discarded by the epoch check.
func (m *StateMachine) finish(epoch uint64, outcome ExtraAction) {
	m.inflightMu.Lock()
	run := m.cur
	if run == nil || run.epoch != epoch {
		m.inflightMu.Unlock()
		m.logger.Debugf("discarding stale %s completion (epoch %d)", outcome, epoch)
		return
	}
	m.cur = nil
	run.timer.Stop()

	success := outcome == ExtraSuccess
	ev := terminalEvent(run.action, success)
	if success {
		m.failStreak = 0
	} else {
		m.failStreak++
	}
	latchError := m.failStreak >= m.cfg.MaxFailureStreak
	m.inflightMu.Unlock()

	m.mu.Lock()
	ag := m.agent
	machine := m.machine
	m.mu.Unlock()

	if machine != nil {
		if err := machine.Event(context.Background(), ev.String()); err != nil {
			m.logger.Errorf("completion %s not applicable: %v", ev, err)
		}
	}
	if ag != nil {
		ag.base().updateEventStateBits(ev)
		if latchError {
			ag.base().Flags().Set(FlagError)
			m.logger.Errorf("%d consecutive action failures, error flag latched", m.failStreak)
		}
	}
	if outcome == ExtraTimeout {
		m.logger.Warnf("action %s timed out, reverting", run.action)
	}

	m.publish(ev)
	close(run.done)
}

// TriggerExtraAction injects Success, Failed or Timeout into the currently
// running transient state. Used by timeout monitoring and by callers that
// detect failure out of band.
func (m *StateMachine) TriggerExtraAction(x ExtraAction) error {
	m.inflightMu.Lock()
	run := m.cur
	if run == nil {
		m.inflightMu.Unlock()
		return errors.New("no action in flight")
	}
	epoch := run.epoch
	m.inflightMu.Unlock()
	m.finish(epoch, x)
	return nil
}

// TriggerGeneralEvent routes an agent-originated event. Safe from any
// goroutine; events with no matching in-flight action are logged and
// dropped, never fatal.
func (m *StateMachine) TriggerGeneralEvent(ev GeneralEvent) {
	if ev == EventSpeakingStatusChanged {
		m.publish(ev)
		return
	}

	m.inflightMu.Lock()
	run := m.cur
	m.inflightMu.Unlock()

	if run != nil {
		expected := terminalEvent(run.action, true)
		failed := terminalEvent(run.action, false)
		switch ev {
		case expected:
			m.finish(run.epoch, ExtraSuccess)
			return
		case failed:
			m.finish(run.epoch, ExtraFailed)
			return
		}
		m.logger.Warnf("unexpected event %s while %s in flight", ev, run.action)
		return
	}

	// a session the server tore down behind our back: replay as a stop so
	// local cleanup still happens
	if ev == EventStopped && !m.CurrentState().Transient() && m.CurrentState() != StateIdle {
		m.logger.Warnf("agent reported %s outside an action, dispatching stop", ev)
		if err := m.TriggerGeneralAction(ActionStop, true); err != nil {
			m.logger.Errorf("stop dispatch after %s failed: %v", ev, err)
		}
		return
	}

	m.logger.Warnf("unexpected event %s with no action in flight (state %s)", ev, m.CurrentState())
}

// ForceTransitionTo unconditionally moves to state, bypassing transition
// validation. Escalation path for unrecoverable agent errors; any in-flight
// hook result is discarded when it eventually arrives.
func (m *StateMachine) ForceTransitionTo(state GeneralState) error {
	m.mu.Lock()
	machine := m.machine
	ag := m.agent
	m.mu.Unlock()
	if machine == nil {
		return ErrNotInitialized
	}

	m.inflightMu.Lock()
	if run := m.cur; run != nil {
		m.cur = nil
		run.timer.Stop()
		close(run.done)
		m.logger.Warnf("force transition abandoned in-flight %s", run.action)
	}
	m.inflightMu.Unlock()

	machine.SetState(string(state))

	// realign stable flags with the forced state
	flags := ag.base().Flags()
	flags.Clear(transientFlags | FlagActivated | FlagStarted | FlagSlept)
	switch state {
	case StateActivated:
		flags.Set(FlagActivated)
	case StateStarted:
		flags.Set(FlagActivated | FlagStarted)
	case StateSlept:
		flags.Set(FlagActivated | FlagSlept)
	}
	m.logger.Warnf("forced transition to %s", state)
	return nil
}

// DoTimeSync kicks a time sync outside the activation path.
func (m *StateMachine) DoTimeSync(ctx context.Context) error {
	m.mu.Lock()
	ag := m.agent
	m.mu.Unlock()
	if ag == nil {
		return ErrNotInitialized
	}
	return m.ensureTimeSynced(ctx, ag)
}

// CheckIfTimeSynced is the non-blocking query the activating path consults.
func (m *StateMachine) CheckIfTimeSynced() bool {
	return m.syncer != nil && m.syncer.Synced()
}

// IsActionRunning reports whether a lifecycle action is in flight.
func (m *StateMachine) IsActionRunning() bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()
	return m.cur != nil
}

// CurrentState returns the machine's current lifecycle state.
func (m *StateMachine) CurrentState() GeneralState {
	m.mu.Lock()
	machine := m.machine
	m.mu.Unlock()
	if machine == nil {
		return StateIdle
	}
	return GeneralState(machine.Current())
}

// ClearStateFlags resets the flag word, including the latched error bit.
func (m *StateMachine) ClearStateFlags() {
	m.mu.Lock()
	ag := m.agent
	m.mu.Unlock()
	if ag != nil {
		ag.base().Flags().Reset()
	}
	m.inflightMu.Lock()
	m.failStreak = 0
	m.inflightMu.Unlock()
}

// Events exposes the machine's event stream. Slow consumers lose events
// rather than blocking the action path.
func (m *StateMachine) Events() <-chan GeneralEvent {
	return m.events
}

func (m *StateMachine) publish(ev GeneralEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warnf("event channel full, dropping %s", ev)
	}
}
