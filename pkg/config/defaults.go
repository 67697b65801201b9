// Package config provides configuration types and defaults for the bot
// Centralized management of all constants and default values

package config

import "time"

// ===== Files =====

const (
	// DefaultEnvConfigFile is read from the working directory
	DefaultEnvConfigFile = "env.config"
	// FallbackEnvConfigFile is tried when env.config is absent
	FallbackEnvConfigFile = ".env"
)

// ===== Gateway =====

const (
	DefaultBotHost = "127.0.0.1"
	DefaultBotPort = 55010

	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
)

// ===== WhatsApp bridge =====

const (
	DefaultBridgeURL     = "http://127.0.0.1:3000"
	DefaultBridgeSession = "default"

	// DefaultBridgeTimeout bounds each bridge REST call
	DefaultBridgeTimeout = 30 * time.Second

	ModeWebhook   = "webhook"
	ModeWebSocket = "websocket"

	// Worker pool shape for inbound events
	DefaultWorkers   = 8
	DefaultQueueSize = 100

	// DefaultDedupTTL is how long a delivered message id is remembered
	DefaultDedupTTL = 10 * time.Minute

	// MaxMediaBytes caps downloaded media (32MB)
	MaxMediaBytes = 32 << 20
)

// ===== Model =====

const (
	DefaultModel        = "gemini-2.0-flash"
	DefaultModelTimeout = 60 * time.Second

	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o"
)

// ===== Conversation =====

const (
	DefaultSessionIdle  = 5 * time.Minute
	DefaultSessionGrace = time.Minute
	DefaultClearKeyword = "clear"
	DefaultImagePrompt  = "Describe this image."
)

// ===== Logging =====

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)
