package whatsapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway/channels/types"
)

// HandleWebhook accepts bridge events posted to the gateway
func (c *WhatsAppChannel) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	types.LimitBody(w, r)

	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		c.logger.Warn("webhook decode failed", zap.Error(err))
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if err := c.handleEvent(&ev); err != nil {
		// 503 asks the bridge to redeliver
		if errors.Is(err, ErrDropped) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		c.logger.Warn("webhook event rejected", zap.String("event", ev.Event), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}
