package whatsapp

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway/channels/types"
)

// Bridge event names
const (
	EventMessage       = "message"
	EventSessionStatus = "session.status"
)

// Event is the envelope the bridge posts to webhooks and streams over websocket
type Event struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
}

type messagePayload struct {
	ID          string          `json:"id"`
	Timestamp   int64           `json:"timestamp"`
	From        string          `json:"from"`
	FromMe      bool            `json:"fromMe"`
	Participant string          `json:"participant,omitempty"`
	Body        string          `json:"body"`
	HasMedia    bool            `json:"hasMedia"`
	Media       *types.MediaRef `json:"media,omitempty"`
}

type statusPayload struct {
	Status string `json:"status"`
}

// handleEvent decodes ev and routes it. Unknown events are ignored.
// A message that could not be queued yields ErrDropped.
func (c *WhatsAppChannel) handleEvent(ev *Event) error {
	if ev.Session != "" && ev.Session != c.cfg.Session {
		c.logger.Debug("event for other session ignored", zap.String("session", ev.Session))
		return nil
	}

	switch ev.Event {
	case EventMessage:
		var p messagePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode message payload: %w", err)
		}
		if p.From == "" {
			return fmt.Errorf("message payload without sender")
		}
		return c.enqueue(&types.InboundMessage{
			ID:          p.ID,
			Channel:     types.ChannelWhatsApp,
			From:        p.From,
			Participant: p.Participant,
			FromMe:      p.FromMe,
			Body:        p.Body,
			HasMedia:    p.HasMedia,
			Media:       p.Media,
			Timestamp:   p.Timestamp,
		})

	case EventSessionStatus:
		var p statusPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}
		c.setReady(p.Status)
		if p.Status == StatusScanQR {
			c.logger.Warn("whatsapp session needs pairing; run `wagem status` for the pairing code")
		}

	default:
		c.logger.Debug("event ignored", zap.String("event", ev.Event))
	}
	return nil
}
