package xiaozhi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

func TestNewRequiresEndpoints(t *testing.T) {
	p := audio.NewPipeline(1024, Logger.Nop())
	if _, err := New(Config{}, audio.DefaultConfig(), p, Logger.Nop()); err == nil {
		t.Error("agent built without endpoints")
	}
	if _, err := New(Config{OTAURL: "http://ota.local"}, audio.DefaultConfig(), p, Logger.Nop()); err == nil {
		t.Error("agent built without websocket url")
	}
}

func TestNewDeclaresTimeSyncRequirement(t *testing.T) {
	p := audio.NewPipeline(1024, Logger.Nop())
	a, err := New(Config{OTAURL: "http://ota.local", WebsocketURL: "ws://voice.local"}, audio.DefaultConfig(), p, Logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !a.Attributes().RequiresTimeSync {
		t.Error("activation handshake needs synced time")
	}
}

func TestNewAppliesAudioConfig(t *testing.T) {
	p := audio.NewPipeline(1024, Logger.Nop())
	custom := audio.DefaultConfig()
	custom.Encoder.SampleRate = 8000
	custom.Encoder.FrameDurationMs = 20

	a, err := New(Config{OTAURL: "http://ota.local", WebsocketURL: "ws://voice.local"}, custom, p, Logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := a.AudioConfig().Encoder
	if got.SampleRate != 8000 || got.FrameDurationMs != 20 {
		t.Errorf("encoder config = %dHz/%dms, want 8000Hz/20ms", got.SampleRate, got.FrameDurationMs)
	}
}

func TestTokenExpiryReadsClaim(t *testing.T) {
	exp := time.Now().Add(6 * time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got := tokenExpiry(signed)
	if !got.Equal(exp) {
		t.Errorf("expiry = %s, want %s", got, exp)
	}
}

func TestTokenExpiryFallback(t *testing.T) {
	got := tokenExpiry("not-a-jwt")
	until := time.Until(got)
	if until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("fallback expiry %s from now, want about an hour", until)
	}
}

func TestListenMessageWireShape(t *testing.T) {
	data, err := json.Marshal(ListenMessage{
		Type:      TypeListen,
		SessionID: "s-1",
		State:     ListenStart,
		Mode:      "auto",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "listen" || decoded["state"] != "start" || decoded["mode"] != "auto" {
		t.Errorf("wire shape = %s", data)
	}
}

func TestServerMessageDecoding(t *testing.T) {
	payload := []byte(`{"type":"tts","state":"start","session_id":"s-1"}`)
	var sm ServerMessage
	if err := json.Unmarshal(payload, &sm); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sm.Type != TypeTTS || TTSState(sm.State) != TTSStart {
		t.Errorf("decoded %+v", sm)
	}
}
