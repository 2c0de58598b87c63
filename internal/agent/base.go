package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

var (
	// ErrUnsupported is returned by hooks the concrete agent did not opt
	// into via its Attributes.
	ErrUnsupported = errors.New("unsupported by agent")
	// ErrBusy is returned when a lifecycle action is rejected because
	// another one is still in flight.
	ErrBusy = errors.New("another action is running")
)

// EventSink receives agent-originated events. Implementations must be safe
// to call from any goroutine: agents report from their own I/O loops.
type EventSink interface {
	TriggerGeneralEvent(ev GeneralEvent)
}

// Agent is one voice-agent integration. Concrete agents embed Base and
// override the hooks they need; the state machine drives them through
// DoGeneralAction so at most one hook runs at a time.
type Agent interface {
	Attributes() Attributes

	// OnInit runs once before the agent is usable. Failure aborts the
	// owning service's startup.
	OnInit(ctx context.Context) error
	// OnActivate performs the pre-session handshake (auth, device
	// registration). Failure reverts to Idle.
	OnActivate(ctx context.Context) error
	// OnStartup opens the session channel and begins listening. Failure
	// reverts to Activated.
	OnStartup(ctx context.Context) error
	// OnShutdown tears the session down unconditionally. It must be safe
	// from a partially started state; errors are logged, never returned.
	OnShutdown(ctx context.Context)
	// OnSleep suspends the voice session without full teardown.
	OnSleep(ctx context.Context) error
	// OnWakeup resumes a slept session. Failure keeps the machine Slept.
	OnWakeup(ctx context.Context) error

	OnInterruptSpeaking(ctx context.Context) error
	OnManualStartListening(ctx context.Context) error
	OnManualStopListening(ctx context.Context) error
	OnSuspend(ctx context.Context) error
	OnResume(ctx context.Context) error

	// OnEncoderDataReady delivers encoded audio frames from the shared
	// encoder. Agents override it to push frames to their transport.
	OnEncoderDataReady(data []byte)

	base() *Base
}

// Base owns the per-agent session state the lifecycle machine and the
// audio callbacks both touch: the flag word, the speaking/listening
// booleans and the idempotent encoder/decoder controls. Concrete agents
// embed it by pointer.
//
// Flag mutations happen only on the serialized action path
// (DoGeneralAction / the update*StateBits helpers); the getters are
// atomic so audio I/O goroutines can read them concurrently.
type Base struct {
	attrs    Attributes
	audioCfg audio.Config
	pipeline *audio.Pipeline
	logger   *Logger.Logger

	flags StateFlags

	speaking        atomic.Bool
	listening       atomic.Bool
	suspended       atomic.Bool
	interrupted     atomic.Bool
	manualListening atomic.Bool
	chatMode        atomic.Int32

	sink atomic.Pointer[sinkBox]
}

type sinkBox struct{ s EventSink }

// NewBase builds the shared agent core. The audio config is fixed for the
// agent's lifetime.
func NewBase(attrs Attributes, cfg audio.Config, pipeline *audio.Pipeline, logger *Logger.Logger) *Base {
	if attrs.Timeouts == (OperationTimeouts{}) {
		attrs.Timeouts = DefaultTimeouts()
	}
	return &Base{
		attrs:    attrs,
		audioCfg: cfg,
		pipeline: pipeline,
		logger:   logger,
	}
}

func (b *Base) base() *Base { return b }

// Attributes returns the immutable per-agent metadata.
func (b *Base) Attributes() Attributes { return b.attrs }

// AudioConfig returns the session's static codec configuration.
func (b *Base) AudioConfig() audio.Config { return b.audioCfg }

// Flags exposes the lifecycle flag word for status queries.
func (b *Base) Flags() *StateFlags { return &b.flags }

// Logger returns the agent-scoped logger.
func (b *Base) Logger() *Logger.Logger { return b.logger }

// BindSink attaches the event sink agents report through.
func (b *Base) BindSink(s EventSink) {
	b.sink.Store(&sinkBox{s: s})
}

// TriggerGeneralEvent notifies the bound sink from any goroutine. Events
// fired before a sink is bound are dropped with a log line.
func (b *Base) TriggerGeneralEvent(ev GeneralEvent) {
	box := b.sink.Load()
	if box == nil || box.s == nil {
		b.logger.Warnf("dropping event %s: no sink bound", ev)
		return
	}
	box.s.TriggerGeneralEvent(ev)
}

// Default hook implementations. Concrete agents override what they support.

func (b *Base) OnInit(ctx context.Context) error     { return nil }
func (b *Base) OnActivate(ctx context.Context) error { return nil }
func (b *Base) OnStartup(ctx context.Context) error  { return nil }
func (b *Base) OnShutdown(ctx context.Context)       {}
func (b *Base) OnSleep(ctx context.Context) error    { return nil }
func (b *Base) OnWakeup(ctx context.Context) error   { return nil }

func (b *Base) OnInterruptSpeaking(ctx context.Context) error { return ErrUnsupported }

func (b *Base) OnManualStartListening(ctx context.Context) error { return nil }
func (b *Base) OnManualStopListening(ctx context.Context) error  { return nil }

func (b *Base) OnSuspend(ctx context.Context) error { return nil }
func (b *Base) OnResume(ctx context.Context) error  { return nil }

func (b *Base) OnEncoderDataReady(data []byte) {}

// ChatMode / session-state accessors. All safe from any goroutine.

func (b *Base) SetChatMode(m ChatMode) { b.chatMode.Store(int32(m)) }
func (b *Base) GetChatMode() ChatMode  { return ChatMode(b.chatMode.Load()) }

func (b *Base) IsSpeaking() bool            { return b.speaking.Load() }
func (b *Base) IsListening() bool           { return b.listening.Load() }
func (b *Base) IsSuspended() bool           { return b.suspended.Load() }
func (b *Base) IsInterruptedSpeaking() bool { return b.interrupted.Load() }
func (b *Base) IsManualListening() bool     { return b.manualListening.Load() }

// SetSpeaking flips the speaking status and reports the change. The
// interrupt flag clears when the next speaking cycle successfully begins.
func (b *Base) SetSpeaking(on bool) {
	if b.speaking.Swap(on) == on {
		return
	}
	if on {
		b.interrupted.Store(false)
	}
	if b.attrs.SupportsEvent(EventSpeakingStatusChanged) {
		b.TriggerGeneralEvent(EventSpeakingStatusChanged)
	}
}

// SetListening flips the listening status.
func (b *Base) SetListening(on bool) { b.listening.Store(on) }

// IsListeningDisabled reports whether captured audio should be withheld
// from the transport: the machine is stopping or not started, the session
// is sleeping or suspended, or manual mode is on without an active manual
// listen.
func (b *Base) IsListeningDisabled() bool {
	snap := b.flags.Snapshot()
	if snap&FlagStopping != 0 || snap&FlagSleeping != 0 || snap&FlagStarted == 0 {
		return true
	}
	if b.suspended.Load() {
		return true
	}
	if b.GetChatMode() == ChatModeManual && !b.manualListening.Load() {
		return true
	}
	return false
}

// IsSpeakingDisabled is the symmetric playback guard, additionally true
// while an interrupt is pending.
func (b *Base) IsSpeakingDisabled() bool {
	snap := b.flags.Snapshot()
	if snap&FlagStopping != 0 || snap&FlagSleeping != 0 || snap&FlagStarted == 0 {
		return true
	}
	if b.suspended.Load() {
		return true
	}
	return b.interrupted.Load()
}

// InterruptSpeaking stops current playback if the agent supports it.
func (b *Base) InterruptSpeaking(ctx context.Context, ag Agent) error {
	if !b.attrs.SupportsFunction(FuncInterruptSpeaking) {
		return ErrUnsupported
	}
	if err := ag.OnInterruptSpeaking(ctx); err != nil {
		return err
	}
	b.interrupted.Store(true)
	b.speaking.Store(false)
	return nil
}

// ManualStartListening gates capture on in ChatMode.Manual.
func (b *Base) ManualStartListening(ctx context.Context, ag Agent) error {
	if b.GetChatMode() != ChatModeManual {
		return fmt.Errorf("manual listening requires manual chat mode")
	}
	if err := ag.OnManualStartListening(ctx); err != nil {
		return err
	}
	b.manualListening.Store(true)
	return nil
}

// ManualStopListening gates capture off in ChatMode.Manual.
func (b *Base) ManualStopListening(ctx context.Context, ag Agent) error {
	if b.GetChatMode() != ChatModeManual {
		return fmt.Errorf("manual listening requires manual chat mode")
	}
	if err := ag.OnManualStopListening(ctx); err != nil {
		return err
	}
	b.manualListening.Store(false)
	return nil
}

// Suspend pauses transmission without touching the lifecycle machine.
func (b *Base) Suspend(ctx context.Context, ag Agent) error {
	if err := ag.OnSuspend(ctx); err != nil {
		return err
	}
	b.suspended.Store(true)
	return nil
}

// Resume reverses Suspend.
func (b *Base) Resume(ctx context.Context, ag Agent) error {
	if err := ag.OnResume(ctx); err != nil {
		return err
	}
	b.suspended.Store(false)
	return nil
}

// Audio stream control. Idempotence comes from the pipeline itself.

func (b *Base) StartAudioEncoder() error {
	if err := b.pipeline.StartEncoder(b.audioCfg.Encoder); err != nil {
		return err
	}
	return nil
}

func (b *Base) StopAudioEncoder() { b.pipeline.StopEncoder() }

func (b *Base) StartAudioDecoder() error {
	return b.pipeline.StartDecoder(b.audioCfg.Decoder)
}

func (b *Base) StopAudioDecoder() { b.pipeline.StopDecoder() }

// Pipeline exposes the shared audio pipeline to concrete agents.
func (b *Base) Pipeline() *audio.Pipeline { return b.pipeline }

// DoGeneralAction maps one lifecycle action to the matching hook, bracketed
// by the flag bookkeeping. Only the state machine's serialized execution
// path calls it.
func (b *Base) DoGeneralAction(ctx context.Context, ag Agent, action GeneralAction) error {
	b.updateActionStateBits(action, true)
	defer b.updateActionStateBits(action, false)

	switch action {
	case ActionActivate:
		return ag.OnActivate(ctx)

	case ActionStart:
		if err := b.StartAudioDecoder(); err != nil {
			return fmt.Errorf("decoder start: %w", err)
		}
		if err := b.StartAudioEncoder(); err != nil {
			b.StopAudioDecoder()
			return fmt.Errorf("encoder start: %w", err)
		}
		if err := ag.OnStartup(ctx); err != nil {
			b.StopAudioEncoder()
			b.StopAudioDecoder()
			return err
		}
		b.SetListening(true)
		return nil

	case ActionSleep:
		if err := ag.OnSleep(ctx); err != nil {
			return err
		}
		b.StopAudioEncoder()
		b.SetListening(false)
		return nil

	case ActionWakeUp:
		if err := ag.OnWakeup(ctx); err != nil {
			return err
		}
		if err := b.StartAudioEncoder(); err != nil {
			return fmt.Errorf("encoder restart: %w", err)
		}
		b.SetListening(true)
		return nil

	case ActionStop:
		// shutdown cannot fail from the agent's perspective
		b.StopAudioEncoder()
		b.StopAudioDecoder()
		ag.OnShutdown(ctx)
		b.SetListening(false)
		b.SetSpeaking(false)
		b.suspended.Store(false)
		b.manualListening.Store(false)
		return nil

	default:
		return fmt.Errorf("unknown action %d", action)
	}
}

// updateActionStateBits marks a transient flag for the duration of one
// action. At most one transient bit is set at a time.
func (b *Base) updateActionStateBits(action GeneralAction, begin bool) {
	var bit StateFlagBit
	switch action {
	case ActionActivate:
		bit = FlagActivating
	case ActionStart:
		bit = FlagStarting
	case ActionSleep:
		bit = FlagSleeping
	case ActionWakeUp:
		bit = FlagWakingUp
	case ActionStop:
		bit = FlagStopping
	default:
		return
	}
	if begin {
		b.flags.Clear(transientFlags)
		b.flags.Set(bit)
	} else {
		b.flags.Clear(bit)
	}
}

// updateEventStateBits folds a terminal event into the stable flag bits.
func (b *Base) updateEventStateBits(ev GeneralEvent) {
	switch ev {
	case EventActivated:
		b.flags.Set(FlagActivated)
	case EventStarted, EventWokenUp:
		b.flags.Set(FlagStarted)
		b.flags.Clear(FlagSlept)
	case EventSlept:
		b.flags.Set(FlagSlept)
		b.flags.Clear(FlagStarted)
	case EventStopped:
		b.flags.Clear(FlagActivated | FlagStarted | FlagSlept)
	}
}

// markReady records a successful OnInit.
func (b *Base) markReady() { b.flags.Set(FlagReady) }
