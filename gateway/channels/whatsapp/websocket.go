package whatsapp

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// eventsURL builds the bridge's websocket subscription URL
func (c *WhatsAppChannel) eventsURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	q := url.Values{}
	q.Set("session", c.cfg.Session)
	q.Add("events", EventMessage)
	q.Add("events", EventSessionStatus)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runWebSocket keeps an event stream open until ctx ends, redialing with
// exponential backoff.
func (c *WhatsAppChannel) runWebSocket(ctx context.Context) {
	backoff := minBackoff
	for {
		connected, err := c.streamEvents(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		c.logger.Warn("event stream closed, reconnecting", zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// streamEvents reads one websocket connection until it fails
func (c *WhatsAppChannel) streamEvents(ctx context.Context) (connected bool, err error) {
	target, err := c.eventsURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-Api-Key", c.cfg.APIKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// ReadJSON blocks; closing the conn is the only way to interrupt it
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c.logger.Info("event stream connected", zap.String("url", target))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return true, err
		}
		if err := c.handleEvent(&ev); err != nil {
			c.logger.Warn("event rejected", zap.String("event", ev.Event), zap.Error(err))
		}
	}
}
