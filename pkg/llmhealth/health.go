// Package llmhealth periodically probes the model provider so an outage shows
// up in /stats and the logs before users start getting apologies.
package llmhealth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/pkg/llm"
)

// Config holds health check configuration
type Config struct {
	Interval         time.Duration // Check interval, 0 disables checking
	FailureThreshold int           // Consecutive failures before unhealthy (default 3)
	SuccessThreshold int           // Consecutive successes before recovered (default 2)
	TestPrompt       string        // Test prompt (default "hello")
	Timeout          time.Duration // Request timeout (default 30s)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Interval:         time.Hour,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		TestPrompt:       "hello",
		Timeout:          30 * time.Second,
	}
}

// Status represents the health status of the provider
type Status struct {
	Provider     llm.ProviderType `json:"provider"`
	Healthy      bool             `json:"healthy"`
	Latency      string           `json:"latency,omitempty"`
	LastCheck    time.Time        `json:"lastCheck,omitempty"`
	FailCount    int              `json:"failCount"`
	SuccessCount int              `json:"successCount"`
	Checks       uint64           `json:"checks"`
	Error        string           `json:"error,omitempty"`
}

// Checker probes one provider on a fixed interval
type Checker struct {
	cfg      Config
	provider llm.Provider
	logger   *zap.Logger

	mu      sync.RWMutex
	status  Status
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChecker creates a checker for p. Zero config fields take defaults.
func NewChecker(p llm.Provider, cfg Config, logger *zap.Logger) *Checker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.TestPrompt == "" {
		cfg.TestPrompt = def.TestPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cfg:      cfg,
		provider: p,
		logger:   logger.Named("llmhealth"),
		// assume healthy until proven otherwise
		status: Status{Provider: p.Type(), Healthy: true},
	}
}

// Start runs an initial check and then one per interval until Stop.
// It is a no-op when the interval is not positive.
func (c *Checker) Start(ctx context.Context) {
	if c.cfg.Interval <= 0 {
		return
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting health check",
		zap.Duration("interval", c.cfg.Interval),
		zap.Int("failure_threshold", c.cfg.FailureThreshold))

	go c.runLoop(ctx)
}

// Stop ends checking and waits for an in-flight probe
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()
	<-done
}

// Status returns a snapshot of the provider's health
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Checker) runLoop(ctx context.Context) {
	defer close(c.done)

	c.Check(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check sends the test prompt once and records the outcome
func (c *Checker) Check(ctx context.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	_, err := c.provider.Chat(ctx, &llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{{Text: c.cfg.TestPrompt}}}},
		MaxTokens: 10,
	})
	c.record(err, time.Since(start))
}

func (c *Checker) record(err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.status
	s.Checks++
	s.LastCheck = time.Now()
	s.Latency = latency.Round(time.Millisecond).String()

	if err != nil {
		s.Error = err.Error()
		s.SuccessCount = 0
		s.FailCount++
		c.logger.Warn("provider check failed", zap.Int("failures", s.FailCount), zap.Error(err))
		if s.Healthy && s.FailCount >= c.cfg.FailureThreshold {
			s.Healthy = false
			c.logger.Error("provider marked unhealthy", zap.String("provider", string(s.Provider)))
		}
		return
	}

	s.Error = ""
	s.FailCount = 0
	s.SuccessCount++
	c.logger.Debug("provider check ok", zap.String("latency", s.Latency))
	if !s.Healthy && s.SuccessCount >= c.cfg.SuccessThreshold {
		s.Healthy = true
		c.logger.Info("provider recovered", zap.String("provider", string(s.Provider)))
	}
}
