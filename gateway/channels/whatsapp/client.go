package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway/channels/types"
)

// Session statuses reported by the bridge
const (
	StatusWorking  = "WORKING"
	StatusScanQR   = "SCAN_QR_CODE"
	StatusStarting = "STARTING"
	StatusFailed   = "FAILED"
	StatusStopped  = "STOPPED"
)

// SessionInfo is the bridge's view of the WhatsApp session
type SessionInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Me     *struct {
		ID       string `json:"id"`
		PushName string `json:"pushName"`
	} `json:"me,omitempty"`
}

type chatRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text,omitempty"`
}

// SendText sends a text message to chatID
func (c *WhatsAppChannel) SendText(ctx context.Context, chatID, text string) error {
	return c.post(ctx, "sendText", "/api/sendText", chatRequest{Session: c.cfg.Session, ChatID: chatID, Text: text})
}

// StartTyping shows the typing indicator in chatID
func (c *WhatsAppChannel) StartTyping(ctx context.Context, chatID string) error {
	return c.post(ctx, "startTyping", "/api/startTyping", chatRequest{Session: c.cfg.Session, ChatID: chatID})
}

// StopTyping clears the typing indicator in chatID
func (c *WhatsAppChannel) StopTyping(ctx context.Context, chatID string) error {
	return c.post(ctx, "stopTyping", "/api/stopTyping", chatRequest{Session: c.cfg.Session, ChatID: chatID})
}

// DownloadMedia fetches the complete attachment of msg
func (c *WhatsAppChannel) DownloadMedia(ctx context.Context, msg *types.InboundMessage) (*types.Media, error) {
	if msg.Media == nil || msg.Media.URL == "" {
		return nil, &types.TransportError{Op: "downloadMedia", Err: errors.New("message has no media url")}
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.resolve(msg.Media.URL), nil)
	if err != nil {
		return nil, &types.TransportError{Op: "downloadMedia", Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.TransportError{Op: "downloadMedia", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.TransportError{Op: "downloadMedia", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxMediaBytes+1))
	if err != nil {
		return nil, &types.TransportError{Op: "downloadMedia", Err: err}
	}
	if int64(len(data)) > c.cfg.MaxMediaBytes {
		return nil, &types.TransportError{Op: "downloadMedia", Err: fmt.Errorf("media exceeds %d bytes", c.cfg.MaxMediaBytes)}
	}
	if len(data) == 0 {
		return nil, &types.TransportError{Op: "downloadMedia", Err: errors.New("empty media body")}
	}

	mimeType := msg.Media.MIMEType
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	return &types.Media{MIMEType: mimeType, Data: data, Filename: msg.Media.Filename}, nil
}

// SessionStatus asks the bridge for the session state
func (c *WhatsAppChannel) SessionStatus(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.getJSON(ctx, "sessionStatus", "/api/sessions/"+url.PathEscape(c.cfg.Session), &info); err != nil {
		return nil, err
	}
	c.setReady(info.Status)
	return &info, nil
}

// PairingCode returns the raw QR pairing string while the session awaits a scan
func (c *WhatsAppChannel) PairingCode(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	path := "/api/" + url.PathEscape(c.cfg.Session) + "/auth/qr?format=raw"
	if err := c.getJSON(ctx, "pairingCode", path, &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

func (c *WhatsAppChannel) setReady(status string) {
	was := c.ready.Swap(status == StatusWorking)
	if was != (status == StatusWorking) {
		c.logger.Info("whatsapp session status", zap.String("session", c.cfg.Session), zap.String("status", status))
	}
}

func (c *WhatsAppChannel) post(ctx context.Context, op, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &types.TransportError{Op: op, Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &types.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &types.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &types.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(readError(resp.Body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *WhatsAppChannel) getJSON(ctx context.Context, op, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return &types.TransportError{Op: op, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &types.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &types.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(readError(resp.Body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.TransportError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func (c *WhatsAppChannel) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}
	return req, nil
}

// resolve makes bridge-relative media URLs absolute
func (c *WhatsAppChannel) resolve(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return c.cfg.BaseURL + "/" + strings.TrimLeft(raw, "/")
}

func readError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return "empty response"
	}
	return msg
}
