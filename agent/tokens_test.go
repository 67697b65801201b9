package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gliderlab/wagem/pkg/llm"
)

func TestEstimateTokens(t *testing.T) {
	text := &llm.ChatRequest{
		System:   "You are a helpful assistant.",
		Messages: []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{{Text: "Hello there"}}}},
	}
	withImage := &llm.ChatRequest{
		System: text.System,
		Messages: []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{
			{Text: "Hello there"},
			{InlineData: &llm.InlineData{MIMEType: "image/png", Data: []byte{1}}},
		}}},
	}

	// the encoding may finish loading mid-test; compare within one mode
	n := EstimateTokens(text)
	img := EstimateTokens(withImage)
	if n == EstimateTokens(text) {
		assert.Equal(t, n+imageTokens, img)
	}
	assert.Greater(t, n, 4)
	assert.Equal(t, 0, EstimateTokens(&llm.ChatRequest{}))
}

func TestFallbackCount(t *testing.T) {
	assert.Equal(t, 3, fallbackCount("abcdefgh"))
	assert.Equal(t, 5, fallbackCount("你好"))
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime string
		ext  string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
		{"IMAGE/PNG; charset=binary", ".png"},
		{"image/x-wagem", ".x-wagem"},
		{"", ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ext, extensionFor(tt.mime), tt.mime)
	}
}
