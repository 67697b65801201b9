package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gliderlab/wagem/pkg/llm"
)

// ErrMissing marks a required setting that was not provided.
var ErrMissing = errors.New("missing required setting")

// BotConfig holds everything the bot needs at startup
type BotConfig struct {
	Provider      llm.ProviderType
	GoogleAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string
	ModelTimeout  time.Duration

	// HealthInterval between provider probes, 0 disables them
	HealthInterval time.Duration

	// OwnerPhone is the identifier group messages must contain to be addressed
	OwnerPhone string

	BridgeURL     string
	BridgeSession string
	BridgeAPIKey  string
	Mode          string // webhook or websocket

	Host string
	Port int

	SessionIdle  time.Duration
	SessionGrace time.Duration
	ClearKeyword string
	TempDir      string

	Workers   int
	QueueSize int
	DedupTTL  time.Duration

	LogLevel  string
	LogFormat string

	PersonaPath string
	Persona     Persona

	// EnvConfigPath is the KEY=VALUE file actually read, if any
	EnvConfigPath string
}

// Addr returns the gateway listen address
func (c *BotConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMConfig returns the provider settings for the selected provider
func (c *BotConfig) LLMConfig() llm.Config {
	cfg := llm.Config{
		Type:    c.Provider,
		Model:   c.Model,
		Timeout: c.ModelTimeout,
	}
	switch c.Provider {
	case llm.ProviderOpenAI:
		cfg.APIKey = c.OpenAIAPIKey
		cfg.BaseURL = c.OpenAIBaseURL
	default:
		cfg.APIKey = c.GoogleAPIKey
	}
	return cfg
}

// Load resolves the configuration from the process environment, then the
// KEY=VALUE file at envPath (env.config or .env when empty), then defaults.
// The persona file named by BOT_CONFIG is loaded last.
func Load(envPath string) (*BotConfig, error) {
	if envPath == "" {
		envPath = FindEnvConfig(DefaultEnvConfigFile, FallbackEnvConfigFile)
	}
	src := source{file: ReadEnvConfig(envPath)}

	provider, err := llm.ParseProviderType(src.get("LLM_PROVIDER"))
	if err != nil {
		return nil, err
	}

	c := &BotConfig{
		Provider:      provider,
		GoogleAPIKey:  src.get("GOOGLE_API_KEY"),
		OpenAIAPIKey:  src.get("OPENAI_API_KEY"),
		OpenAIBaseURL: or(src.get("OPENAI_BASE_URL"), DefaultOpenAIBaseURL),
		OwnerPhone:    strings.TrimPrefix(src.get("USER_PHONE"), "+"),
		BridgeURL:     strings.TrimRight(or(src.get("WHATSAPP_BRIDGE_URL"), DefaultBridgeURL), "/"),
		BridgeSession: or(src.get("WHATSAPP_SESSION"), DefaultBridgeSession),
		BridgeAPIKey:  src.get("WHATSAPP_API_KEY"),
		Mode:          strings.ToLower(or(src.get("WHATSAPP_MODE"), ModeWebhook)),
		Host:          or(src.get("BOT_HOST"), DefaultBotHost),
		ClearKeyword:  strings.ToLower(src.get("CLEAR_KEYWORD")),
		TempDir:       or(src.get("TEMP_DIR"), os.TempDir()),
		LogLevel:      or(src.get("LOG_LEVEL"), DefaultLogLevel),
		LogFormat:     or(src.get("LOG_FORMAT"), DefaultLogFormat),
		PersonaPath:   src.get("BOT_CONFIG"),
		EnvConfigPath: envPath,
	}

	c.Model = src.get("MODEL", "GOOGLE_MODEL")
	if c.Model == "" {
		if provider == llm.ProviderOpenAI {
			c.Model = or(src.get("OPENAI_MODEL"), DefaultOpenAIModel)
		} else {
			c.Model = DefaultModel
		}
	}

	if c.Port, err = parseInt(src.get("BOT_PORT"), DefaultBotPort); err != nil {
		return nil, fmt.Errorf("BOT_PORT: %w", err)
	}
	if c.Workers, err = parseInt(src.get("WORKERS"), DefaultWorkers); err != nil {
		return nil, fmt.Errorf("WORKERS: %w", err)
	}
	if c.QueueSize, err = parseInt(src.get("QUEUE_SIZE"), DefaultQueueSize); err != nil {
		return nil, fmt.Errorf("QUEUE_SIZE: %w", err)
	}
	if c.ModelTimeout, err = parseDuration(src.get("MODEL_TIMEOUT"), DefaultModelTimeout); err != nil {
		return nil, fmt.Errorf("MODEL_TIMEOUT: %w", err)
	}
	if c.SessionIdle, err = parseDuration(src.get("SESSION_IDLE"), DefaultSessionIdle); err != nil {
		return nil, fmt.Errorf("SESSION_IDLE: %w", err)
	}
	if c.SessionGrace, err = parseDuration(src.get("SESSION_GRACE"), DefaultSessionGrace); err != nil {
		return nil, fmt.Errorf("SESSION_GRACE: %w", err)
	}
	if c.DedupTTL, err = parseDuration(src.get("DEDUP_TTL"), DefaultDedupTTL); err != nil {
		return nil, fmt.Errorf("DEDUP_TTL: %w", err)
	}
	if c.HealthInterval, err = parseDuration(src.get("LLM_HEALTH_INTERVAL"), 0); err != nil {
		return nil, fmt.Errorf("LLM_HEALTH_INTERVAL: %w", err)
	}

	if c.PersonaPath != "" {
		p, err := LoadPersona(c.PersonaPath)
		if err != nil {
			return nil, err
		}
		c.Persona = *p
	}
	c.Persona.applyDefaults()

	// CLEAR_KEYWORD wins over the persona file
	if c.ClearKeyword == "" {
		c.ClearKeyword = strings.ToLower(or(c.Persona.ClearKeyword, DefaultClearKeyword))
	}

	return c, nil
}

// Validate fails fast on settings the bot cannot run without
func (c *BotConfig) Validate() error {
	switch c.Provider {
	case llm.ProviderGoogle:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY: %w", ErrMissing)
		}
	case llm.ProviderOpenAI:
		// a self-hosted compatible endpoint may run without a key
		base := strings.TrimRight(c.OpenAIBaseURL, "/")
		if c.OpenAIAPIKey == "" && (base == "" || base == DefaultOpenAIBaseURL) {
			return fmt.Errorf("OPENAI_API_KEY: %w", ErrMissing)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.OwnerPhone == "" {
		return fmt.Errorf("USER_PHONE: %w", ErrMissing)
	}
	if c.Mode != ModeWebhook && c.Mode != ModeWebSocket {
		return fmt.Errorf("WHATSAPP_MODE must be %q or %q, got %q", ModeWebhook, ModeWebSocket, c.Mode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("BOT_PORT out of range: %d", c.Port)
	}
	if c.SessionIdle <= 0 {
		return fmt.Errorf("SESSION_IDLE must be positive")
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return fmt.Errorf("WORKERS and QUEUE_SIZE must be positive")
	}
	return nil
}

// Helper functions
func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseInt(s string, defaultVal int) (int, error) {
	if s == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(s)
}

// parseDuration accepts Go durations ("90s") or bare seconds ("90")
func parseDuration(s string, defaultVal time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultVal, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
