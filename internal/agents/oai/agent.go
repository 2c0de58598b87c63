// Package oai implements a chat-completion backed agent: finalized
// transcripts go up as user turns, replies come back as assistant turns.
// It has no realtime audio downlink; speaking status brackets reply
// delivery.
package oai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/quieloop/sonus/internal/agent"
	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

// Name is the registry key for this agent.
const Name = "openai"

// Config carries the API credentials and model selection.
type Config struct {
	APIKey string
	Model  string
	Prompt string
}

// Reply is one assistant turn produced from a transcript.
type Reply struct {
	Text string
}

type Agent struct {
	*agent.Base
	cfg    Config
	client openai.Client

	transcripts chan string
	replies     chan Reply
	paused      atomic.Bool

	mu          sync.Mutex
	sessionStop context.CancelFunc
	turnCancel  context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfg Config, audioCfg audio.Config, pipeline *audio.Pipeline, logger *Logger.Logger) (*Agent, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("oai: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	attrs := agent.Attributes{
		Name:     Name,
		Timeouts: agent.DefaultTimeouts(),
		Functions: []agent.GeneralFunction{
			agent.FuncInterruptSpeaking,
		},
		Events: []agent.GeneralEvent{
			agent.EventSpeakingStatusChanged,
		},
	}
	a := &Agent{
		cfg:         cfg,
		transcripts: make(chan string, 8),
		replies:     make(chan Reply, 8),
	}
	a.Base = agent.NewBase(attrs, audioCfg, pipeline, logger.Named(Name))
	return a, nil
}

func (a *Agent) OnInit(ctx context.Context) error {
	a.client = openai.NewClient(option.WithAPIKey(a.cfg.APIKey))
	return nil
}

// OnStartup spins the turn loop. There is no session handshake to fail;
// credential problems surface on the first turn.
func (a *Agent) OnStartup(ctx context.Context) error {
	sctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.sessionStop = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.turnLoop(sctx)
	return nil
}

func (a *Agent) OnShutdown(ctx context.Context) {
	a.mu.Lock()
	stop := a.sessionStop
	a.sessionStop = nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	a.wg.Wait()
}

func (a *Agent) OnSleep(ctx context.Context) error {
	a.paused.Store(true)
	return nil
}

func (a *Agent) OnWakeup(ctx context.Context) error {
	a.mu.Lock()
	running := a.sessionStop != nil
	a.mu.Unlock()
	if !running {
		return errors.New("no session to resume")
	}
	a.paused.Store(false)
	return nil
}

// OnInterruptSpeaking cancels the in-flight completion, if any.
func (a *Agent) OnInterruptSpeaking(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// SubmitTranscript feeds one finalized user transcript. Drops when the
// queue is full or the session is paused; capture gating already happened
// upstream.
func (a *Agent) SubmitTranscript(text string) bool {
	if a.paused.Load() || a.IsListeningDisabled() {
		return false
	}
	select {
	case a.transcripts <- text:
		return true
	default:
		a.Logger().Warn("transcript queue full, dropping")
		return false
	}
}

// Replies exposes the assistant turns for whatever renders them.
func (a *Agent) Replies() <-chan Reply {
	return a.replies
}

func (a *Agent) turnLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.transcripts:
			a.runTurn(ctx, text)
		}
	}
}

func (a *Agent) runTurn(ctx context.Context, text string) {
	tctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.turnCancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.turnCancel = nil
		a.mu.Unlock()
	}()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if a.cfg.Prompt != "" {
		msgs = append(msgs, openai.SystemMessage(a.cfg.Prompt))
	}
	msgs = append(msgs, openai.UserMessage(text))

	completion, err := a.client.Chat.Completions.New(tctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(a.cfg.Model),
	})
	if err != nil {
		a.Logger().Errorf("completion failed: %v", err)
		return
	}
	if len(completion.Choices) == 0 {
		a.Logger().Warn("completion returned no choices")
		return
	}

	reply := completion.Choices[0].Message.Content

	// speaking brackets reply delivery so the playback guards apply
	a.SetSpeaking(true)
	defer a.SetSpeaking(false)
	if a.IsSpeakingDisabled() {
		return
	}
	select {
	case a.replies <- Reply{Text: reply}:
	default:
		a.Logger().Warn("reply channel full, dropping")
	}
}
