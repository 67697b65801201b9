package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gliderlab/wagem/agent"
	"github.com/gliderlab/wagem/gateway"
	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/gateway/channels/whatsapp"
	"github.com/gliderlab/wagem/pkg/config"
	"github.com/gliderlab/wagem/pkg/kv"
	"github.com/gliderlab/wagem/pkg/llm/factory"
	"github.com/gliderlab/wagem/pkg/llmhealth"
	"github.com/gliderlab/wagem/session"
)

const shutdownTimeout = 15 * time.Second

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (default when no command is given)",
		Args:  cobra.NoArgs,
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// serve wires the bot and blocks until ctx is done
func serve(ctx context.Context, cfg *config.BotConfig, log *zap.Logger) error {
	log.Info("starting wagem",
		zap.String("version", Version),
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.Model),
		zap.String("mode", cfg.Mode),
		zap.String("config_file", cfg.EnvConfigPath))

	kvOpts := kv.DefaultOptions()
	kvOpts.Logger = log
	seen, err := kv.Open(kvOpts)
	if err != nil {
		return fmt.Errorf("open dedup cache: %w", err)
	}
	defer seen.Close()

	store := session.New(
		session.WithIdleWindow(cfg.SessionIdle),
		session.WithGrace(cfg.SessionGrace),
		session.WithLogger(log),
	)
	defer store.Close()

	provider, err := factory.NewProvider(ctx, cfg.LLMConfig())
	if err != nil {
		return err
	}

	health := llmhealth.NewChecker(provider, llmhealth.Config{Interval: cfg.HealthInterval}, log)
	health.Start(ctx)
	defer health.Stop()

	assembler := agent.New(store, provider, agent.Config{
		Preamble:    cfg.Persona.Preamble,
		Model:       cfg.Model,
		Timeout:     cfg.ModelTimeout,
		TempDir:     cfg.TempDir,
		Temperature: cfg.Persona.Temperature,
		MaxTokens:   cfg.Persona.MaxTokens,
	}, log)

	replies := cfg.Persona.Replies
	commands := gateway.NewInterpreter(cfg.ClearKeyword, store, replies, log)

	// the router needs the transport and the channel needs the router
	var router *gateway.Router
	channel := whatsapp.NewWhatsAppChannel(whatsapp.Config{
		BaseURL:       cfg.BridgeURL,
		Session:       cfg.BridgeSession,
		APIKey:        cfg.BridgeAPIKey,
		Mode:          cfg.Mode,
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		DedupTTL:      cfg.DedupTTL,
		MaxMediaBytes: config.MaxMediaBytes,
	}, types.HandlerFunc(func(ctx context.Context, msg *types.InboundMessage) {
		router.HandleMessage(ctx, msg)
	}),
		whatsapp.WithDeduper(seen),
		whatsapp.WithLogger(log))

	router = gateway.NewRouter(gateway.RouterConfig{
		OwnerID:     cfg.OwnerPhone,
		ImagePrompt: cfg.Persona.ImagePrompt,
		Replies:     replies,
	}, channel, assembler, commands, log)

	gw := gateway.New(gateway.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  config.DefaultReadTimeout,
		WriteTimeout: config.DefaultWriteTimeout,
		IdleTimeout:  config.DefaultIdleTimeout,
	}, store, log).
		WithReadiness(channel.Ready).
		WithStats("agent", func() interface{} { return assembler.Stats() }).
		WithStats("model", func() interface{} { return health.Status() }).
		WithStats("router", func() interface{} { return router.Stats() }).
		WithStats("whatsapp", func() interface{} { return channel.Stats() })
	if cfg.Mode == config.ModeWebhook {
		gw.WithWebhook(channel.HandleWebhook)
	}

	// handlers outlive the signal; Stop bounds how long they may drain
	if err := channel.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if info, err := channel.SessionStatus(probeCtx); err != nil {
		log.Warn("whatsapp bridge not reachable yet", zap.String("url", cfg.BridgeURL), zap.Error(err))
	} else if info.Status != whatsapp.StatusWorking {
		log.Warn("whatsapp session not ready", zap.String("status", info.Status))
	}
	cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelStop()
			_ = channel.Stop(stopCtx)
			return fmt.Errorf("gateway: %w", err)
		}
	}

	// one deadline covers the HTTP server and the message drain
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	gw.Stop(shutdownCtx)
	if err := channel.Stop(shutdownCtx); err != nil {
		log.Warn("pending messages abandoned at shutdown", zap.Error(err))
	}

	log.Info("stopped",
		zap.Any("sessions", store.Stats()),
		zap.Any("agent", assembler.Stats()),
		zap.Any("router", router.Stats()))
	return nil
}
