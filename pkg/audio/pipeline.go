package audio

import (
	"fmt"
	"sync"

	"github.com/quieloop/sonus/pkg/Logger"
)

// Sink receives encoded frames ready for transport.
type Sink func(data []byte)

// Pipeline is the narrow contract the lifecycle core holds on the audio
// subsystem: start/stop the encoder and decoder streams and fan encoded
// frames out to the active agent. The DSP itself lives behind this
// boundary and is not part of this module.
//
// Start and stop are idempotent in both directions. Overlapping lifecycle
// transitions may race to request the same stream; starting an
// already-started stream or stopping an already-stopped one is a no-op
// success.
type Pipeline struct {
	logger *Logger.Logger

	mu         sync.Mutex
	encoderOn  bool
	decoderOn  bool
	encoderCfg StreamConfig
	decoderCfg StreamConfig

	buffer *FrameBuffer

	sinkMu        sync.RWMutex
	sinks         []Sink
	playbackSinks []Sink
}

// NewPipeline allocates a pipeline with bufferSize bytes of encoded-frame
// backlog.
func NewPipeline(bufferSize int, logger *Logger.Logger) *Pipeline {
	return &Pipeline{
		logger: logger,
		buffer: NewFrameBuffer(bufferSize),
	}
}

// StartEncoder opens the capture stream. No-op success when already open.
func (p *Pipeline) StartEncoder(cfg StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("encoder config: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encoderOn {
		p.logger.Debugf("encoder already running (%s %dHz), ignoring start", p.encoderCfg.Codec, p.encoderCfg.SampleRate)
		return nil
	}
	p.encoderCfg = cfg
	p.encoderOn = true
	p.logger.Infof("encoder started: %s %dHz ch=%d frame=%dms", cfg.Codec, cfg.SampleRate, cfg.Channels, cfg.FrameDurationMs)
	return nil
}

// StopEncoder closes the capture stream. No-op when already closed.
func (p *Pipeline) StopEncoder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.encoderOn {
		return
	}
	p.encoderOn = false
	p.logger.Info("encoder stopped")
}

// StartDecoder opens the playback stream. No-op success when already open.
func (p *Pipeline) StartDecoder(cfg StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decoderOn {
		p.logger.Debugf("decoder already running (%s %dHz), ignoring start", p.decoderCfg.Codec, p.decoderCfg.SampleRate)
		return nil
	}
	p.decoderCfg = cfg
	p.decoderOn = true
	p.logger.Infof("decoder started: %s %dHz ch=%d", cfg.Codec, cfg.SampleRate, cfg.Channels)
	return nil
}

// StopDecoder closes the playback stream. No-op when already closed.
func (p *Pipeline) StopDecoder() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.decoderOn {
		return
	}
	p.decoderOn = false
	p.logger.Info("decoder stopped")
}

func (p *Pipeline) EncoderRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoderOn
}

func (p *Pipeline) DecoderRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decoderOn
}

// AddSink registers a consumer for encoded frames.
func (p *Pipeline) AddSink(s Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sinks = append(p.sinks, s)
}

// AddPlaybackSink registers a consumer for frames headed to the speaker.
func (p *Pipeline) AddPlaybackSink(s Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.playbackSinks = append(p.playbackSinks, s)
}

// ClearSinks drops every registered consumer on both paths.
func (p *Pipeline) ClearSinks() {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sinks = nil
	p.playbackSinks = nil
}

// PushCaptured feeds one encoded frame from the capture side. Frames
// arriving while the encoder is stopped are dropped silently.
func (p *Pipeline) PushCaptured(f Frame) {
	p.mu.Lock()
	running := p.encoderOn
	p.mu.Unlock()
	if !running {
		return
	}

	if err := p.buffer.Enqueue(f); err != nil {
		p.logger.Warnf("dropping captured frame: %v", err)
		return
	}

	p.sinkMu.RLock()
	sinks := p.sinks
	p.sinkMu.RUnlock()
	for _, s := range sinks {
		s(f.Data)
	}
}

// PushPlayback feeds one encoded frame toward the speaker path. Returns
// false when the decoder is stopped and the frame was dropped.
func (p *Pipeline) PushPlayback(data []byte) bool {
	p.mu.Lock()
	running := p.decoderOn
	p.mu.Unlock()
	if !running {
		return false
	}

	p.sinkMu.RLock()
	sinks := p.playbackSinks
	p.sinkMu.RUnlock()
	for _, s := range sinks {
		s(data)
	}
	return true
}

// Backlog reports the queued encoded-frame bytes.
func (p *Pipeline) Backlog() int {
	return p.buffer.Len()
}
