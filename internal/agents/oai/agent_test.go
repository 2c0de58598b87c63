package oai

import (
	"testing"

	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

func TestNewRequiresAPIKey(t *testing.T) {
	p := audio.NewPipeline(1024, Logger.Nop())
	if _, err := New(Config{}, audio.DefaultConfig(), p, Logger.Nop()); err == nil {
		t.Error("agent built without credentials")
	}
}

func TestNewAppliesAudioConfig(t *testing.T) {
	p := audio.NewPipeline(1024, Logger.Nop())
	custom := audio.DefaultConfig()
	custom.Encoder.SampleRate = 48000

	a, err := New(Config{APIKey: "sk-test"}, custom, p, Logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.AudioConfig().Encoder.SampleRate; got != 48000 {
		t.Errorf("encoder sample rate = %d, want 48000", got)
	}
}

func TestNewDefaultsModel(t *testing.T) {
	p := audio.NewPipeline(1024, Logger.Nop())
	a, err := New(Config{APIKey: "sk-test"}, audio.DefaultConfig(), p, Logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.cfg.Model == "" {
		t.Error("model left empty")
	}
}
