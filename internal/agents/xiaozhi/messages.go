package xiaozhi

// Wire messages for the XiaoZhi websocket protocol.

type MessageType string

const (
	TypeHello   MessageType = "hello"
	TypeListen  MessageType = "listen"
	TypeTTS     MessageType = "tts"
	TypeSTT     MessageType = "stt"
	TypeAbort   MessageType = "abort"
	TypeGoodbye MessageType = "goodbye"
)

type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
)

type TTSState string

const (
	TTSStart         TTSState = "start"
	TTSStop          TTSState = "stop"
	TTSSentenceStart TTSState = "sentence_start"
)

// AudioParams declares the uplink codec in the hello handshake.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// ClientHello opens the session and declares capabilities.
type ClientHello struct {
	Type        MessageType `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	AudioParams AudioParams `json:"audio_params"`
}

// ServerMessage is the envelope for everything the server sends on the
// text channel.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Transport string      `json:"transport,omitempty"`
	State     string      `json:"state,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// ListenMessage gates capture on the server side.
type ListenMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	State     ListenState `json:"state"`
	Mode      string      `json:"mode,omitempty"`
}

// AbortMessage asks the server to stop the current TTS turn.
type AbortMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// activateRequest is the OTA-style activation handshake body.
type activateRequest struct {
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id"`
	Version  int    `json:"version"`
}

// activateResponse carries the session credentials back.
type activateResponse struct {
	AccessToken  string `json:"access_token"`
	WebsocketURL string `json:"websocket_url,omitempty"`
}
