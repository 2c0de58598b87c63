package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

func newTestBase(fns ...GeneralFunction) (*stubAgent, *audio.Pipeline) {
	p := audio.NewPipeline(4096, Logger.Nop())
	s := &stubAgent{}
	attrs := Attributes{
		Name:      "stub",
		Functions: fns,
		Events:    []GeneralEvent{EventSpeakingStatusChanged},
	}
	s.Base = NewBase(attrs, audio.DefaultConfig(), p, Logger.Nop())
	return s, p
}

func TestListeningDisabledUntilStarted(t *testing.T) {
	s, _ := newTestBase()

	if !s.IsListeningDisabled() {
		t.Error("listening enabled before any session started")
	}

	s.updateEventStateBits(EventStarted)
	if s.IsListeningDisabled() {
		t.Error("listening disabled in started state")
	}

	s.updateEventStateBits(EventSlept)
	if !s.IsListeningDisabled() {
		t.Error("listening enabled while slept")
	}

	s.updateEventStateBits(EventWokenUp)
	if s.IsListeningDisabled() {
		t.Error("listening disabled after wake up")
	}
}

func TestListeningDisabledDuringStopAndSleep(t *testing.T) {
	s, _ := newTestBase()
	s.updateEventStateBits(EventStarted)

	s.updateActionStateBits(ActionSleep, true)
	if !s.IsListeningDisabled() {
		t.Error("listening enabled while sleeping action runs")
	}
	s.updateActionStateBits(ActionSleep, false)

	s.updateActionStateBits(ActionStop, true)
	if !s.IsListeningDisabled() {
		t.Error("listening enabled while stopping action runs")
	}
}

func TestManualChatModeGatesListening(t *testing.T) {
	s, _ := newTestBase(FuncManualListening)
	s.updateEventStateBits(EventStarted)
	ctx := context.Background()

	s.SetChatMode(ChatModeManual)
	if !s.IsListeningDisabled() {
		t.Error("manual mode with no active listen should gate capture")
	}

	if err := s.Base.ManualStartListening(ctx, s); err != nil {
		t.Fatalf("ManualStartListening: %v", err)
	}
	if s.IsListeningDisabled() {
		t.Error("capture still gated after manual start")
	}

	if err := s.Base.ManualStopListening(ctx, s); err != nil {
		t.Fatalf("ManualStopListening: %v", err)
	}
	if !s.IsListeningDisabled() {
		t.Error("capture open after manual stop")
	}

	// leaving manual mode drops the gate entirely
	s.SetChatMode(ChatModeAuto)
	if s.IsListeningDisabled() {
		t.Error("auto mode should not gate capture")
	}
}

func TestManualListeningRequiresManualMode(t *testing.T) {
	s, _ := newTestBase(FuncManualListening)
	s.updateEventStateBits(EventStarted)

	if err := s.Base.ManualStartListening(context.Background(), s); err == nil {
		t.Error("manual listening accepted in auto mode")
	}
}

func TestInterruptRequiresSupport(t *testing.T) {
	s, _ := newTestBase()
	err := s.Base.InterruptSpeaking(context.Background(), s)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("interrupt on unsupporting agent = %v, want %v", err, ErrUnsupported)
	}
}

func TestInterruptBlocksPlaybackUntilNextTurn(t *testing.T) {
	s, _ := newTestBase(FuncInterruptSpeaking)
	s.updateEventStateBits(EventStarted)

	s.SetSpeaking(true)
	if s.IsSpeakingDisabled() {
		t.Error("playback gated with no interrupt pending")
	}

	if err := s.Base.InterruptSpeaking(context.Background(), s); err != nil {
		t.Fatalf("InterruptSpeaking: %v", err)
	}
	if s.IsSpeaking() {
		t.Error("still speaking after interrupt")
	}
	if !s.IsSpeakingDisabled() {
		t.Error("playback not gated while interrupt pending")
	}

	// the next speaking turn clears the pending interrupt
	s.SetSpeaking(true)
	if s.IsSpeakingDisabled() {
		t.Error("playback still gated after a new turn began")
	}
}

func TestSuspendGatesBothDirections(t *testing.T) {
	s, _ := newTestBase()
	s.updateEventStateBits(EventStarted)
	ctx := context.Background()

	if err := s.Base.Suspend(ctx, s); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if !s.IsListeningDisabled() || !s.IsSpeakingDisabled() {
		t.Error("suspension left a direction open")
	}

	if err := s.Base.Resume(ctx, s); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.IsListeningDisabled() || s.IsSpeakingDisabled() {
		t.Error("resume left a direction gated")
	}
}

func TestStopActionResetsSessionState(t *testing.T) {
	s, _ := newTestBase(FuncInterruptSpeaking, FuncManualListening)
	ctx := context.Background()

	s.updateEventStateBits(EventStarted)
	s.SetChatMode(ChatModeManual)
	s.Base.ManualStartListening(ctx, s)
	s.SetSpeaking(true)
	s.Base.Suspend(ctx, s)

	if err := s.Base.DoGeneralAction(ctx, s, ActionStop); err != nil {
		t.Fatalf("stop action: %v", err)
	}
	s.updateEventStateBits(EventStopped)

	if s.IsSpeaking() || s.IsListening() || s.IsSuspended() || s.IsManualListening() {
		t.Error("session booleans survived the stop")
	}
	if s.Flags().Has(FlagActivated | FlagStarted | FlagSlept) {
		t.Errorf("stable flags survived the stop: %s", s.Flags())
	}
}

func TestTransientFlagExclusive(t *testing.T) {
	s, _ := newTestBase()

	s.updateActionStateBits(ActionActivate, true)
	s.updateActionStateBits(ActionStart, true)

	snap := s.Flags().Snapshot() & transientFlags
	if snap != FlagStarting {
		t.Errorf("transient bits = %s, want only starting", s.Flags())
	}
}

func TestSpeakingStatusEventFiresOnChange(t *testing.T) {
	s, _ := newTestBase()
	got := make(chan GeneralEvent, 4)
	s.BindSink(sinkFunc(func(ev GeneralEvent) { got <- ev }))

	s.SetSpeaking(true)
	s.SetSpeaking(true) // no change, no event
	s.SetSpeaking(false)

	if n := len(got); n != 2 {
		t.Errorf("got %d events, want 2", n)
	}
	for len(got) > 0 {
		if ev := <-got; ev != EventSpeakingStatusChanged {
			t.Errorf("got event %s, want %s", ev, EventSpeakingStatusChanged)
		}
	}
}

type sinkFunc func(GeneralEvent)

func (f sinkFunc) TriggerGeneralEvent(ev GeneralEvent) { f(ev) }

func TestAudioControlIdempotent(t *testing.T) {
	s, p := newTestBase()

	for i := 0; i < 3; i++ {
		if err := s.StartAudioEncoder(); err != nil {
			t.Fatalf("encoder start %d: %v", i, err)
		}
	}
	if !p.EncoderRunning() {
		t.Error("encoder not running after start")
	}

	s.StopAudioEncoder()
	s.StopAudioEncoder()
	if p.EncoderRunning() {
		t.Error("encoder running after stop")
	}

	if err := s.StartAudioDecoder(); err != nil {
		t.Fatalf("decoder start: %v", err)
	}
	if err := s.StartAudioDecoder(); err != nil {
		t.Fatalf("repeated decoder start: %v", err)
	}
	s.StopAudioDecoder()
	if p.DecoderRunning() {
		t.Error("decoder running after stop")
	}
}

func TestZeroTimeoutsGetDefaults(t *testing.T) {
	s, _ := newTestBase()
	if s.Attributes().Timeouts != DefaultTimeouts() {
		t.Errorf("timeouts = %+v, want defaults", s.Attributes().Timeouts)
	}
}
