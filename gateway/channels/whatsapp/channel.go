// Package whatsapp provides the WhatsApp channel, talking to a WAHA-compatible
// HTTP bridge that owns the WhatsApp Web session.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/pkg/config"
	"github.com/gliderlab/wagem/pkg/logger"
)

// ErrDropped is returned for a message the channel could not queue. Its id is
// not remembered, so a redelivery is processed.
var ErrDropped = errors.New("whatsapp: message dropped")

// Config for the bridge connection
type Config struct {
	BaseURL       string // bridge base URL, e.g. http://127.0.0.1:3000
	Session       string // bridge session name
	APIKey        string // sent as X-Api-Key when set
	Mode          string // config.ModeWebhook or config.ModeWebSocket
	Workers       int
	QueueSize     int
	DedupTTL      time.Duration
	MaxMediaBytes int64
	HTTPTimeout   time.Duration
}

// Deduper remembers message ids; kv.KV satisfies it
type Deduper interface {
	MarkSeen(key string, ttl time.Duration) (bool, error)
	Delete(key string) error
}

// Stats are cumulative intake counters
type Stats struct {
	Received   uint64 `json:"received"`
	Duplicates uint64 `json:"duplicates"`
	Dropped    uint64 `json:"dropped"`
	Ready      bool   `json:"ready"`
}

// WhatsAppChannel receives bridge events and implements types.Transport
type WhatsAppChannel struct {
	cfg     Config
	client  *http.Client
	dialer  *websocket.Dialer
	handler types.Handler
	dedup   Deduper
	logger  *zap.Logger

	// Worker pool for bounded concurrency
	msgCh      chan *types.InboundMessage
	workerCnt  int
	wg         sync.WaitGroup
	workCancel context.CancelFunc

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	intake  sync.WaitGroup

	ready      atomic.Bool
	received   atomic.Uint64
	duplicates atomic.Uint64
	dropped    atomic.Uint64
}

// Option configures a WhatsAppChannel
type Option func(*WhatsAppChannel)

// WithDeduper drops events whose message id was already seen
func WithDeduper(d Deduper) Option {
	return func(c *WhatsAppChannel) { c.dedup = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *WhatsAppChannel) { c.logger = logger.OrNop(l).Named("whatsapp") }
}

// WithHTTPClient replaces the bridge HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *WhatsAppChannel) { c.client = hc }
}

// NewWhatsAppChannel creates a channel delivering messages to handler
func NewWhatsAppChannel(cfg Config, handler types.Handler, opts ...Option) *WhatsAppChannel {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Session == "" {
		cfg.Session = config.DefaultBridgeSession
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeWebhook
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultQueueSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = config.DefaultDedupTTL
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = config.MaxMediaBytes
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = config.DefaultBridgeTimeout
	}

	c := &WhatsAppChannel{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.HTTPTimeout},
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handler:   handler,
		logger:    zap.NewNop(),
		workerCnt: cfg.Workers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the worker pool and, in websocket mode, the event stream.
// Handlers run with a child of ctx that Stop cancels only when its drain
// deadline passes.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if c.cfg.Mode != config.ModeWebhook && c.cfg.Mode != config.ModeWebSocket {
		return fmt.Errorf("unknown whatsapp mode %q", c.cfg.Mode)
	}

	intakeCtx, cancel := context.WithCancel(ctx)
	workCtx, workCancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.workCancel = workCancel
	c.msgCh = make(chan *types.InboundMessage, c.cfg.QueueSize)
	c.running = true

	c.logger.Info("starting whatsapp channel",
		zap.String("mode", c.cfg.Mode),
		zap.String("session", c.cfg.Session),
		zap.Int("workers", c.workerCnt))

	c.wg.Add(c.workerCnt)
	for i := 0; i < c.workerCnt; i++ {
		go c.messageWorker(workCtx, i)
	}

	if c.cfg.Mode == config.ModeWebSocket {
		c.intake.Add(1)
		go func() {
			defer c.intake.Done()
			c.runWebSocket(intakeCtx)
		}()
	}
	return nil
}

// Stop ends intake and lets queued messages drain until ctx is done. Past
// that, in-flight handlers are cancelled and messages not yet started are
// discarded; Stop then returns ctx's error.
func (c *WhatsAppChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.intake.Wait()

	// no enqueue can start now that running is false
	close(c.msgCh)

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		c.logger.Warn("drain deadline passed, cancelling pending messages", zap.Int("queued", len(c.msgCh)))
		c.workCancel()
		<-drained
	}
	c.workCancel()
	c.logger.Info("whatsapp channel stopped")
	return err
}

// messageWorker processes messages from the bounded queue
func (c *WhatsAppChannel) messageWorker(ctx context.Context, id int) {
	defer c.wg.Done()
	for msg := range c.msgCh {
		if ctx.Err() != nil {
			c.dropped.Add(1)
			c.logger.Warn("message dropped", zap.String("msg_id", msg.ID), zap.String("reason", "shutdown"))
			continue
		}
		c.handler.HandleMessage(ctx, msg)
	}
}

// enqueue hands msg to the pool. A duplicate returns nil without queueing;
// overflow returns ErrDropped and forgets the id again.
func (c *WhatsAppChannel) enqueue(msg *types.InboundMessage) error {
	c.received.Add(1)

	key := ""
	if c.dedup != nil && msg.ID != "" {
		key = "wa:msg:" + msg.ID
		first, err := c.dedup.MarkSeen(key, c.cfg.DedupTTL)
		if err != nil {
			c.logger.Warn("dedup check failed", zap.String("msg_id", msg.ID), zap.Error(err))
			key = ""
		} else if !first {
			c.duplicates.Add(1)
			c.logger.Debug("duplicate delivery ignored", zap.String("msg_id", msg.ID))
			return nil
		}
	}

	reason := c.tryQueue(msg)
	if reason == "" {
		return nil
	}

	c.dropped.Add(1)
	c.logger.Warn("message dropped", zap.String("msg_id", msg.ID), zap.String("reason", reason))
	if key != "" {
		if err := c.dedup.Delete(key); err != nil {
			c.logger.Warn("dedup forget failed", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
	return fmt.Errorf("%w: %s", ErrDropped, reason)
}

// tryQueue returns the drop reason, or "" once msg is queued
func (c *WhatsAppChannel) tryQueue(msg *types.InboundMessage) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running {
		return "stopped"
	}
	select {
	case c.msgCh <- msg:
		return ""
	default:
		return "queue_full"
	}
}

// Ready reports whether the bridge last said the session is WORKING
func (c *WhatsAppChannel) Ready() bool { return c.ready.Load() }

// Stats returns intake counters
func (c *WhatsAppChannel) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Duplicates: c.duplicates.Load(),
		Dropped:    c.dropped.Load(),
		Ready:      c.ready.Load(),
	}
}

var _ types.Transport = (*WhatsAppChannel)(nil)
