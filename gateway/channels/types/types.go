// Package types - Shared types and interfaces for channels
// This package is imported by the router, the assembler and the channel packages
package types

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ChannelType represents the type of communication channel
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "whatsapp"
)

const MaxWebhookBodyBytes int64 = 256 << 10

func LimitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes)
}

// WhatsApp addressing conventions
const (
	SuffixPrivate     = "@c.us"
	SuffixPrivateJID  = "@s.whatsapp.net"
	SuffixPrivateLID  = "@lid" // linked-identity address used for some direct chats
	SuffixGroup       = "@g.us"
	StatusBroadcastID = "status@broadcast"
)

// ChatKind distinguishes direct conversations from group conversations
type ChatKind int

const (
	KindPrivate ChatKind = iota
	KindGroup
)

func (k ChatKind) String() string {
	if k == KindPrivate {
		return "private"
	}
	return "group"
}

// Classify derives the conversation kind from a chat id. Anything that is not
// a direct-chat address counts as a group.
func Classify(chatID string) ChatKind {
	for _, suffix := range []string{SuffixPrivate, SuffixPrivateJID, SuffixPrivateLID} {
		if strings.HasSuffix(chatID, suffix) {
			return KindPrivate
		}
	}
	return KindGroup
}

// MediaRef points at media held by the bridge; the bytes are fetched on demand
type MediaRef struct {
	URL      string `json:"url"`
	MIMEType string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
}

// InboundMessage is one message event delivered by a channel
type InboundMessage struct {
	ID          string      `json:"id"`
	Channel     ChannelType `json:"channel"`
	From        string      `json:"from"`                  // chat id: user or group
	Participant string      `json:"participant,omitempty"` // group author
	FromMe      bool        `json:"fromMe"`
	Body        string      `json:"body"`
	HasMedia    bool        `json:"hasMedia"`
	Media       *MediaRef   `json:"media,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// Kind classifies the message's conversation
func (m *InboundMessage) Kind() ChatKind {
	return Classify(m.From)
}

// Media is a fully downloaded attachment
type Media struct {
	MIMEType string
	Data     []byte
	Filename string
}

// Transport is what the router needs from a messaging channel
type Transport interface {
	SendText(ctx context.Context, chatID, text string) error
	StartTyping(ctx context.Context, chatID string) error
	StopTyping(ctx context.Context, chatID string) error
	DownloadMedia(ctx context.Context, msg *InboundMessage) (*Media, error)
}

// Handler consumes inbound messages
type Handler interface {
	HandleMessage(ctx context.Context, msg *InboundMessage)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *InboundMessage)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *InboundMessage) { f(ctx, msg) }

// TransportError wraps a failed channel operation
type TransportError struct {
	Op     string
	Status int // HTTP status when the bridge answered, else 0
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
