package gateway

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gliderlab/wagem/agent"
	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/pkg/config"
)

// Assistant produces model replies; agent.Assembler implements it
type Assistant interface {
	Reply(ctx context.Context, userID, prompt string, media *types.Media) (string, error)
}

// RouterConfig holds routing settings
type RouterConfig struct {
	OwnerID     string // phone identifier that addresses the bot in groups
	ImagePrompt string // prompt used for media without text
	Replies     config.Replies
	SendTimeout time.Duration // per transport call
}

// RouterStats are cumulative routing counters
type RouterStats struct {
	Received uint64 `json:"received"`
	Ignored  uint64 `json:"ignored"`
	Commands uint64 `json:"commands"`
	Replied  uint64 `json:"replied"`
	Failed   uint64 `json:"failed"`
}

// Router classifies inbound messages and dispatches them to the command
// interpreter or the assistant. It implements types.Handler.
type Router struct {
	cfg       RouterConfig
	transport types.Transport
	assistant Assistant
	commands  *Interpreter
	mention   *regexp.Regexp
	logger    *zap.Logger

	received atomic.Uint64
	ignored  atomic.Uint64
	cmds     atomic.Uint64
	replied  atomic.Uint64
	failed   atomic.Uint64
}

// NewRouter wires a Router
func NewRouter(cfg RouterConfig, transport types.Transport, assistant Assistant, commands *Interpreter, logger *zap.Logger) *Router {
	cfg.OwnerID = strings.TrimPrefix(strings.TrimSpace(cfg.OwnerID), "+")
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = config.DefaultImagePrompt
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		cfg:       cfg,
		transport: transport,
		assistant: assistant,
		commands:  commands,
		logger:    logger.Named("router"),
	}
	if cfg.OwnerID != "" {
		r.mention = regexp.MustCompile(`@?` + regexp.QuoteMeta(cfg.OwnerID))
	}
	return r
}

// HandleMessage routes one inbound message. It never panics and never
// returns an error: every failure ends in at most one message to the chat.
func (r *Router) HandleMessage(ctx context.Context, msg *types.InboundMessage) {
	r.received.Add(1)
	log := r.logger.With(
		zap.String("corr_id", uuid.NewString()),
		zap.String("msg_id", msg.ID),
		zap.String("chat", msg.From))

	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			log.Error("message handler panicked", zap.Any("panic", rec), zap.Stack("stack"))
			r.send(ctx, log, msg.From, r.cfg.Replies.Unexpected)
		}
	}()

	if msg.FromMe || msg.From == types.StatusBroadcastID {
		r.ignore(log, "own or broadcast")
		return
	}

	kind := msg.Kind()
	text := strings.TrimSpace(msg.Body)
	log = log.With(zap.Stringer("kind", kind))

	if kind == types.KindGroup {
		if !r.addressed(text) {
			r.ignore(log, "not addressed")
			return
		}
		text = r.stripMention(text)
	}

	r.typing(ctx, log, msg.From)
	defer r.stopTyping(ctx, log, msg.From)

	if r.commands.Parse(kind, text) == CommandClear {
		r.cmds.Add(1)
		r.send(ctx, log, msg.From, r.commands.Clear(msg.From))
		return
	}

	if !msg.HasMedia {
		if text == "" {
			r.send(ctx, log, msg.From, r.cfg.Replies.EmptyPrompt)
			return
		}
		r.handleText(ctx, log, msg, text)
		return
	}

	if text == "" {
		text = r.cfg.ImagePrompt
	}
	r.handleMedia(ctx, log, msg, text)
}

func (r *Router) handleText(ctx context.Context, log *zap.Logger, msg *types.InboundMessage, prompt string) {
	reply, err := r.assistant.Reply(ctx, msg.From, prompt, nil)
	if err != nil {
		r.failed.Add(1)
		log.Error("text reply failed", zap.Error(err))
		r.send(ctx, log, msg.From, r.cfg.Replies.ModelError)
		return
	}
	r.deliver(ctx, log, msg.From, reply)
}

func (r *Router) handleMedia(ctx context.Context, log *zap.Logger, msg *types.InboundMessage, prompt string) {
	media, err := r.transport.DownloadMedia(ctx, msg)
	if err != nil {
		r.failed.Add(1)
		log.Error("media download failed", zap.Error(err))
		r.send(ctx, log, msg.From, r.cfg.Replies.ImageError)
		return
	}

	reply, err := r.assistant.Reply(ctx, msg.From, prompt, media)
	if err != nil {
		r.failed.Add(1)
		if errors.Is(err, agent.ErrMedia) {
			log.Error("media preparation failed", zap.String("mime", media.MIMEType), zap.Error(err))
		} else {
			log.Error("image reply failed", zap.String("mime", media.MIMEType), zap.Error(err))
		}
		r.send(ctx, log, msg.From, r.cfg.Replies.ImageError)
		return
	}
	r.deliver(ctx, log, msg.From, reply)
}

// deliver sends a model reply, falling back to the generic message once
func (r *Router) deliver(ctx context.Context, log *zap.Logger, chatID, reply string) {
	if err := r.sendText(ctx, chatID, reply); err != nil {
		r.failed.Add(1)
		log.Error("reply send failed", zap.Error(err))
		r.send(ctx, log, chatID, r.cfg.Replies.Unexpected)
		return
	}
	r.replied.Add(1)
}

// send is best effort: failures are logged only
func (r *Router) send(ctx context.Context, log *zap.Logger, chatID, text string) {
	if err := r.sendText(ctx, chatID, text); err != nil {
		log.Warn("send failed", zap.Error(err))
	}
}

func (r *Router) sendText(ctx context.Context, chatID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	return r.transport.SendText(ctx, chatID, text)
}

func (r *Router) typing(ctx context.Context, log *zap.Logger, chatID string) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	if err := r.transport.StartTyping(ctx, chatID); err != nil {
		log.Debug("typing indicator failed", zap.Error(err))
	}
}

func (r *Router) stopTyping(ctx context.Context, log *zap.Logger, chatID string) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	if err := r.transport.StopTyping(ctx, chatID); err != nil {
		log.Debug("stop typing failed", zap.Error(err))
	}
}

func (r *Router) ignore(log *zap.Logger, reason string) {
	r.ignored.Add(1)
	log.Debug("message ignored", zap.String("reason", reason))
}

// addressed reports whether a group message mentions the owner
func (r *Router) addressed(text string) bool {
	return r.cfg.OwnerID != "" && strings.Contains(text, r.cfg.OwnerID)
}

// stripMention removes the owner mention from text
func (r *Router) stripMention(text string) string {
	if r.mention == nil {
		return text
	}
	return strings.TrimSpace(r.mention.ReplaceAllString(text, ""))
}

// Stats returns a snapshot of the counters
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Received: r.received.Load(),
		Ignored:  r.ignored.Load(),
		Commands: r.cmds.Load(),
		Replied:  r.replied.Load(),
		Failed:   r.failed.Load(),
	}
}

var _ types.Handler = (*Router)(nil)
