package agent

import (
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/gliderlab/wagem/pkg/llm"
)

// imageTokens approximates what one inline image costs on Gemini
const imageTokens = 258

// tokenCounter is a package-level tiktoken instance for prompt estimates.
// It stays nil until the encoding has loaded; callers fall back meanwhile.
var (
	tokenCounter     atomic.Pointer[tiktoken.Tiktoken]
	tokenCounterOnce sync.Once
)

// initTokenCounter loads cl100k_base in the background. The first load may
// fetch the BPE ranks over the network, so it never blocks a reply.
func initTokenCounter(logger *zap.Logger) {
	tokenCounterOnce.Do(func() {
		go func() {
			// cl100k_base is not Gemini's tokenizer but tracks it closely enough for logs
			tk, err := tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				logger.Warn("token estimation will use fallback method", zap.Error(err))
				return
			}
			tokenCounter.Store(tk)
		}()
	})
}

// EstimateTokens approximates the prompt size of req
func EstimateTokens(req *llm.ChatRequest) int {
	total := countText(req.System)
	for _, m := range req.Messages {
		total += 4 // role framing
		for _, p := range m.Parts {
			total += countText(p.Text)
			if p.InlineData != nil {
				total += imageTokens
			}
		}
	}
	return total
}

func countText(s string) int {
	if s == "" {
		return 0
	}
	if tk := tokenCounter.Load(); tk != nil {
		return len(tk.Encode(s, nil, nil))
	}
	return fallbackCount(s)
}

// fallbackCount: ASCII ~4 chars/token, other runes ~2 tokens each
func fallbackCount(s string) int {
	ascii, other := 0, 0
	for _, r := range s {
		if r <= 127 {
			ascii++
		} else {
			other++
		}
	}
	return ascii/4 + other*2 + 1
}
