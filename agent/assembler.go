// Package agent turns a user's turn into a model call: it records the turn,
// replays the conversation behind a fixed preamble and records the reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/pkg/llm"
	"github.com/gliderlab/wagem/session"
)

var (
	// ErrModel wraps every failure of the model call itself
	ErrModel = errors.New("model call failed")
	// ErrMedia wraps failures preparing an attachment for the model
	ErrMedia = errors.New("media preparation failed")
)

const DefaultTimeout = 60 * time.Second

// Config holds assembler settings
type Config struct {
	Preamble    string        // empty uses DefaultPreamble
	Model       string        // empty uses the provider's model
	Timeout     time.Duration // per model call
	TempDir     string        // staging dir for media, empty uses os.TempDir()
	Temperature float64
	MaxTokens   int
}

// Stats are cumulative counters since start
type Stats struct {
	Calls            uint64 `json:"calls"`
	Failures         uint64 `json:"failures"`
	EstimatedTokens  int64  `json:"estimatedTokens"`
	PromptTokens     int64  `json:"promptTokens"`
	CompletionTokens int64  `json:"completionTokens"`
}

// Assembler builds model requests from session history
type Assembler struct {
	cfg      Config
	store    *session.Store
	provider llm.Provider
	logger   *zap.Logger

	calls            atomic.Uint64
	failures         atomic.Uint64
	estimatedTokens  atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// New creates an Assembler. A nil logger disables logging.
func New(store *session.Store, provider llm.Provider, cfg Config, logger *zap.Logger) *Assembler {
	if cfg.Preamble == "" {
		cfg.Preamble = DefaultPreamble
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("agent")
	initTokenCounter(logger)

	return &Assembler{
		cfg:      cfg,
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

// Reply records prompt as the user's turn, asks the model with the whole
// conversation and records the answer. media, when present, is attached to
// the newest user turn of this request only.
//
// On failure the user's turn stays in history and no assistant turn is added.
func (a *Assembler) Reply(ctx context.Context, userID, prompt string, media *types.Media) (string, error) {
	unlock := a.store.Lock(userID)
	defer unlock()

	if err := a.store.Append(userID, session.TextTurn(session.RoleUser, prompt)); err != nil {
		return "", err
	}

	var image *llm.InlineData
	if media != nil {
		data, path, err := stageMedia(a.cfg.TempDir, userID, media)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrMedia, err)
		}
		defer os.Remove(path)
		image = data
	}

	history, ok := a.store.Get(userID)
	if !ok {
		// expired between append and read
		history = []session.Turn{session.TextTurn(session.RoleUser, prompt)}
	}
	req := a.buildRequest(history, image)

	estimate := EstimateTokens(req)
	a.estimatedTokens.Add(int64(estimate))
	a.calls.Add(1)

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.provider.Chat(callCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		a.failures.Add(1)
		a.logger.Warn("model call failed",
			zap.String("user", userID),
			zap.Int("turns", len(req.Messages)),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrModel, err)
	}

	a.promptTokens.Add(int64(resp.Usage.PromptTokens))
	a.completionTokens.Add(int64(resp.Usage.CompletionTokens))

	if err := a.store.Append(userID, session.TextTurn(session.RoleAssistant, resp.Content)); err != nil {
		return "", err
	}

	a.logger.Debug("model replied",
		zap.String("user", userID),
		zap.Int("turns", len(req.Messages)),
		zap.Int("tokens", estimate),
		zap.Bool("image", image != nil),
		zap.Duration("duration", elapsed))
	return resp.Content, nil
}

// buildRequest maps history onto provider messages behind the preamble
func (a *Assembler) buildRequest(history []session.Turn, image *llm.InlineData) *llm.ChatRequest {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		msg := llm.Message{Role: llm.RoleUser}
		if t.Role == session.RoleAssistant {
			msg.Role = llm.RoleAssistant
		}
		for _, p := range t.Parts {
			if p.Text != "" {
				msg.Parts = append(msg.Parts, llm.Part{Text: p.Text})
			}
			if p.Image != nil {
				msg.Parts = append(msg.Parts, llm.Part{InlineData: &llm.InlineData{MIMEType: p.Image.MIMEType, Data: p.Image.Data}})
			}
		}
		msgs = append(msgs, msg)
	}

	if image != nil {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == llm.RoleUser {
				msgs[i].Parts = append(msgs[i].Parts, llm.Part{InlineData: image})
				break
			}
		}
	}

	return &llm.ChatRequest{
		Model:       a.cfg.Model,
		System:      a.cfg.Preamble,
		Messages:    msgs,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}
}

// Stats returns a snapshot of the counters
func (a *Assembler) Stats() Stats {
	return Stats{
		Calls:            a.calls.Load(),
		Failures:         a.failures.Load(),
		EstimatedTokens:  a.estimatedTokens.Load(),
		PromptTokens:     a.promptTokens.Load(),
		CompletionTokens: a.completionTokens.Load(),
	}
}
