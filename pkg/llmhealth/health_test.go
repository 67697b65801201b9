package llmhealth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/wagem/pkg/llm"
)

type stubProvider struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int32
	last  *llm.ChatRequest
}

func (s *stubProvider) Name() string           { return "stub" }
func (s *stubProvider) Type() llm.ProviderType { return llm.ProviderGoogle }
func (s *stubProvider) GetConfig() llm.Config  { return llm.Config{} }

func (s *stubProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Content: "hi"}, nil
}

func (s *stubProvider) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func TestCheckerThresholds(t *testing.T) {
	p := &stubProvider{}
	c := NewChecker(p, Config{FailureThreshold: 2, SuccessThreshold: 2}, nil)
	ctx := context.Background()

	assert.True(t, c.Status().Healthy, "healthy before the first check")

	p.fail(errors.New("quota"))
	c.Check(ctx)
	assert.True(t, c.Status().Healthy, "one failure is below the threshold")
	c.Check(ctx)
	assert.False(t, c.Status().Healthy)
	assert.Equal(t, "quota", c.Status().Error)
	assert.Equal(t, 2, c.Status().FailCount)

	p.fail(nil)
	c.Check(ctx)
	assert.False(t, c.Status().Healthy, "one success is below the recovery threshold")
	c.Check(ctx)
	assert.True(t, c.Status().Healthy)
	assert.Empty(t, c.Status().Error)
	assert.Equal(t, uint64(4), c.Status().Checks)
}

func TestCheckSendsTestPrompt(t *testing.T) {
	p := &stubProvider{}
	c := NewChecker(p, Config{TestPrompt: "ping"}, nil)
	c.Check(context.Background())

	require.NotNil(t, p.last)
	require.Len(t, p.last.Messages, 1)
	assert.Equal(t, "ping", p.last.Messages[0].Text())
	assert.Equal(t, llm.ProviderGoogle, c.Status().Provider)
}

func TestStartDisabled(t *testing.T) {
	p := &stubProvider{}
	c := NewChecker(p, Config{}, nil)
	c.Start(context.Background())
	c.Stop()
	assert.Zero(t, p.calls.Load())
}

func TestStartRunsPeriodically(t *testing.T) {
	p := &stubProvider{}
	c := NewChecker(p, Config{Interval: 10 * time.Millisecond}, nil)
	c.Start(context.Background())
	c.Start(context.Background())

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	n := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, p.calls.Load(), "no checks after Stop")
}
