package audio

import "fmt"

// Codec identifies the frame payload format moving through the pipeline.
type Codec string

const (
	CodecOpus  Codec = "opus"
	CodecG711A Codec = "g711a"
	CodecG711U Codec = "g711u"
	CodecPCM   Codec = "pcm"
)

// OpusOptions carries the codec-specific extras for Opus streams.
type OpusOptions struct {
	Bitrate    int  `json:"bitrate" mapstructure:"bitrate"`
	VBR        bool `json:"vbr" mapstructure:"vbr"`
	Complexity int  `json:"complexity" mapstructure:"complexity"`
}

// StreamConfig describes one direction (encode or decode) of the audio
// session. Set at construction and read-only afterward: codec parameters
// are never mutated mid-session.
type StreamConfig struct {
	Codec           Codec       `json:"codec" mapstructure:"codec"`
	SampleRate      int         `json:"sample_rate" mapstructure:"sample_rate"`
	BitsPerSample   int         `json:"bits_per_sample" mapstructure:"bits_per_sample"`
	Channels        int         `json:"channels" mapstructure:"channels"`
	FrameDurationMs int         `json:"frame_duration" mapstructure:"frame_duration"`
	Opus            OpusOptions `json:"opus,omitempty" mapstructure:"opus"`
}

// Config bundles the encoder and decoder stream configs handed to the
// audio subsystem when a session opens.
type Config struct {
	Encoder StreamConfig `json:"encoder" mapstructure:"encoder"`
	Decoder StreamConfig `json:"decoder" mapstructure:"decoder"`
}

// DefaultConfig is the usual voice-session shape: 16k mono Opus uplink,
// 24k mono Opus downlink, 60ms frames.
func DefaultConfig() Config {
	return Config{
		Encoder: StreamConfig{
			Codec:           CodecOpus,
			SampleRate:      16000,
			BitsPerSample:   16,
			Channels:        1,
			FrameDurationMs: 60,
			Opus:            OpusOptions{Bitrate: 24000, VBR: true, Complexity: 5},
		},
		Decoder: StreamConfig{
			Codec:           CodecOpus,
			SampleRate:      24000,
			BitsPerSample:   16,
			Channels:        1,
			FrameDurationMs: 60,
		},
	}
}

// Validate rejects configs the pipeline cannot carry.
func (c StreamConfig) Validate() error {
	switch c.Codec {
	case CodecOpus, CodecG711A, CodecG711U, CodecPCM:
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	if c.FrameDurationMs <= 0 {
		return fmt.Errorf("invalid frame duration %dms", c.FrameDurationMs)
	}
	return nil
}
