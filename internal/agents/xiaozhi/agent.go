// Package xiaozhi implements the XiaoZhi voice agent: an OTA-style HTTP
// activation handshake followed by a websocket session carrying Opus
// frames up and TTS audio down.
package xiaozhi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/quieloop/sonus/internal/agent"
	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

// Name is the registry key for this agent.
const Name = "xiaozhi"

// tokens are refreshed this long before their recorded expiry
const tokenExpiryMargin = time.Minute

// Config locates the activation endpoint and the websocket server.
type Config struct {
	OTAURL       string
	WebsocketURL string
	DeviceID     string
	ClientID     string
}

// Agent is the XiaoZhi integration. All lifecycle hooks run on the state
// machine's serialized path; the websocket read pump reports back through
// TriggerGeneralEvent only.
type Agent struct {
	*agent.Base
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	conn        *websocket.Conn
	sessionID   string
	accessToken string
	tokenExp    time.Time
	pumpDone    chan struct{}
}

// New builds the agent with its declared attributes. The activation
// handshake carries expiring credentials, so it requires synced time.
func New(cfg Config, audioCfg audio.Config, pipeline *audio.Pipeline, logger *Logger.Logger) (*Agent, error) {
	if cfg.OTAURL == "" || cfg.WebsocketURL == "" {
		return nil, errors.New("xiaozhi: ota_url and websocket_url are required")
	}
	attrs := agent.Attributes{
		Name:     Name,
		Timeouts: agent.DefaultTimeouts(),
		Functions: []agent.GeneralFunction{
			agent.FuncInterruptSpeaking,
			agent.FuncManualListening,
		},
		Events: []agent.GeneralEvent{
			agent.EventSpeakingStatusChanged,
			agent.EventStopped,
		},
		RequiresTimeSync: true,
	}
	a := &Agent{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
	a.Base = agent.NewBase(attrs, audioCfg, pipeline, logger.Named(Name))
	return a, nil
}

// OnInit registers the encoder sink. Frames flow only while a session is
// up and listening is not gated off.
func (a *Agent) OnInit(ctx context.Context) error {
	a.Pipeline().AddSink(a.OnEncoderDataReady)
	return nil
}

// OnActivate performs the OTA handshake unless the stored token is still
// comfortably inside its expiry.
func (a *Agent) OnActivate(ctx context.Context) error {
	a.mu.Lock()
	token, exp := a.accessToken, a.tokenExp
	a.mu.Unlock()
	if token != "" && time.Until(exp) > tokenExpiryMargin {
		a.Logger().Debugf("activation token still valid until %s", exp)
		return nil
	}

	body, err := json.Marshal(activateRequest{
		DeviceID: a.cfg.DeviceID,
		ClientID: a.cfg.ClientID,
		Version:  1,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.OTAURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Device-Id", a.cfg.DeviceID)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("activation request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("activation rejected: %s", resp.Status)
	}

	var ar activateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("activation response: %w", err)
	}
	if ar.AccessToken == "" {
		return errors.New("activation response missing access token")
	}

	a.mu.Lock()
	a.accessToken = ar.AccessToken
	a.tokenExp = tokenExpiry(ar.AccessToken)
	if ar.WebsocketURL != "" {
		a.cfg.WebsocketURL = ar.WebsocketURL
	}
	a.mu.Unlock()

	a.Logger().Infof("activated, token valid until %s", a.tokenExp)
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server is the authority, we only need the refresh point. Unparseable
// tokens get a conservative one-hour validity.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(time.Hour)
}

// OnStartup dials the websocket, exchanges hellos and starts the read
// pump.
func (a *Agent) OnStartup(ctx context.Context) error {
	a.mu.Lock()
	token := a.accessToken
	wsURL := a.cfg.WebsocketURL
	a.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Device-Id", a.cfg.DeviceID)
	header.Set("Protocol-Version", "1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	enc := a.AudioConfig().Encoder
	hello := ClientHello{
		Type:      TypeHello,
		Version:   1,
		Transport: "websocket",
		AudioParams: AudioParams{
			Format:        string(enc.Codec),
			SampleRate:    enc.SampleRate,
			Channels:      enc.Channels,
			FrameDuration: enc.FrameDurationMs,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return fmt.Errorf("hello send: %w", err)
	}

	// the server hello carries our session id
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	var sm ServerMessage
	if err := conn.ReadJSON(&sm); err != nil {
		conn.Close()
		return fmt.Errorf("hello recv: %w", err)
	}
	if sm.Type != TypeHello {
		conn.Close()
		return fmt.Errorf("expected hello, got %q", sm.Type)
	}
	conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.sessionID = sm.SessionID
	a.pumpDone = done
	a.mu.Unlock()

	go a.readPump(conn, done)

	if a.GetChatMode() == agent.ChatModeAuto {
		if err := a.sendListen(ListenStart, "auto"); err != nil {
			a.Logger().Warnf("listen start failed: %v", err)
		}
	}
	a.Logger().Infof("session %s open", sm.SessionID)
	return nil
}

// OnShutdown tears the session down; safe from a partially started state.
func (a *Agent) OnShutdown(ctx context.Context) {
	a.mu.Lock()
	conn := a.conn
	done := a.pumpDone
	a.conn = nil
	a.sessionID = ""
	a.pumpDone = nil
	a.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		a.Logger().Debugf("close: %v", err)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			a.Logger().Warn("read pump did not exit in time")
		}
	}
}

// OnSleep keeps the socket but stops the uplink.
func (a *Agent) OnSleep(ctx context.Context) error {
	return a.sendListen(ListenStop, "")
}

// OnWakeup resumes the uplink on the existing socket.
func (a *Agent) OnWakeup(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errors.New("no session to resume")
	}
	return a.sendListen(ListenStart, "auto")
}

// OnInterruptSpeaking asks the server to abort the current TTS turn.
func (a *Agent) OnInterruptSpeaking(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	sid := a.sessionID
	a.mu.Unlock()
	if conn == nil {
		return errors.New("no active session")
	}
	return a.writeJSON(AbortMessage{Type: TypeAbort, SessionID: sid, Reason: "wake_word_detected"})
}

func (a *Agent) OnManualStartListening(ctx context.Context) error {
	return a.sendListen(ListenStart, "manual")
}

func (a *Agent) OnManualStopListening(ctx context.Context) error {
	return a.sendListen(ListenStop, "manual")
}

// OnEncoderDataReady pushes one encoded frame to the uplink unless
// listening is gated off.
func (a *Agent) OnEncoderDataReady(data []byte) {
	if a.IsListeningDisabled() {
		return
	}
	if err := a.writeMessage(websocket.BinaryMessage, data); err != nil && err != errNoConn {
		a.Logger().Debugf("frame send: %v", err)
	}
}

func (a *Agent) sendListen(state ListenState, mode string) error {
	a.mu.Lock()
	conn := a.conn
	sid := a.sessionID
	a.mu.Unlock()
	if conn == nil {
		return errors.New("no active session")
	}
	return a.writeJSON(ListenMessage{Type: TypeListen, SessionID: sid, State: state, Mode: mode})
}

// write helpers serialize socket writes: hooks and the encoder callback
// run on different goroutines

var errNoConn = errors.New("connection closed")

func (a *Agent) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.writeMessage(websocket.TextMessage, payload)
}

func (a *Agent) writeMessage(messageType int, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return errNoConn
	}
	return a.conn.WriteMessage(messageType, data)
}

// readPump consumes the session until the socket dies. It runs on its own
// goroutine and drives the state machine only through events.
func (a *Agent) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			active := a.conn == conn
			a.mu.Unlock()
			if active {
				a.Logger().Warnf("session lost: %v", err)
				a.TriggerGeneralEvent(agent.EventStopped)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			a.handleServerMessage(payload)
		case websocket.BinaryMessage:
			if !a.IsSpeakingDisabled() {
				a.Pipeline().PushPlayback(payload)
			}
		}
	}
}

func (a *Agent) handleServerMessage(payload []byte) {
	var sm ServerMessage
	if err := json.Unmarshal(payload, &sm); err != nil {
		a.Logger().Warnf("bad server message: %v", err)
		return
	}

	switch sm.Type {
	case TypeTTS:
		switch TTSState(sm.State) {
		case TTSStart:
			a.SetSpeaking(true)
		case TTSStop:
			a.SetSpeaking(false)
		case TTSSentenceStart:
			if sm.Text != "" {
				a.Logger().Debugf("tts: %s", sm.Text)
			}
		}
	case TypeSTT:
		if sm.Text != "" {
			a.Logger().Infof("stt: %s", sm.Text)
		}
	case TypeGoodbye:
		a.TriggerGeneralEvent(agent.EventStopped)
	default:
		a.Logger().Debugf("unhandled server message %q", sm.Type)
	}
}
