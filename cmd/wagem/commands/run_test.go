package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway"
	"github.com/gliderlab/wagem/pkg/config"
	"github.com/gliderlab/wagem/pkg/llm"
)

type sentText struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeAnswersWebhookMessage(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"Halo!"},"finish_reason":"stop"}]}`)
	}))
	defer model.Close()

	sent := make(chan sentText, 4)
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sendText":
			var s sentText
			_ = json.NewDecoder(r.Body).Decode(&s)
			sent <- s
		case "/api/sessions/default":
			_, _ = io.WriteString(w, `{"name":"default","status":"WORKING"}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	}))
	defer bridge.Close()

	port := freePort(t)
	cfg := &config.BotConfig{
		Provider:      llm.ProviderOpenAI,
		OpenAIAPIKey:  "test",
		OpenAIBaseURL: model.URL,
		Model:         "gpt-test",
		ModelTimeout:  5 * time.Second,
		OwnerPhone:    "6281234",
		BridgeURL:     bridge.URL,
		BridgeSession: "default",
		Mode:          config.ModeWebhook,
		Host:          "127.0.0.1",
		Port:          port,
		SessionIdle:   time.Minute,
		SessionGrace:  time.Second,
		ClearKeyword:  "clear",
		TempDir:       t.TempDir(),
		Workers:       2,
		QueueSize:     4,
		DedupTTL:      time.Minute,
		Persona: config.Persona{
			ImagePrompt: config.DefaultImagePrompt,
			Replies:     config.DefaultReplies(),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var serveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr = serve(ctx, cfg, zap.NewNop())
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	event := `{"event":"message","session":"default","payload":{"id":"m1","from":"111@c.us","body":"Hello"}}`
	resp, err := http.Post(base+gateway.WebhookPath, "application/json", bytes.NewBufferString(event))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case s := <-sent:
		assert.Equal(t, "111@c.us", s.ChatID)
		assert.Equal(t, "Halo!", strings.TrimSpace(s.Text))
	case <-time.After(5 * time.Second):
		t.Fatal("no reply sent to the bridge")
	}

	cancel()
	wg.Wait()
	assert.NoError(t, serveErr)
}
