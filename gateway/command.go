package gateway

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/pkg/config"
	"github.com/gliderlab/wagem/session"
)

// Command is a recognized control command
type Command int

const (
	CommandNone Command = iota
	CommandClear
)

// MatchStrategy decides whether text invokes keyword. keyword is lower-case.
type MatchStrategy func(text, keyword string) bool

// MatchExact requires the whole normalized text to be the keyword.
// Used for private chats.
func MatchExact(text, keyword string) bool {
	return keyword != "" && normalize(text) == keyword
}

// MatchContains accepts the keyword anywhere in the normalized text.
// Used for group chats, after the mention is stripped.
func MatchContains(text, keyword string) bool {
	return keyword != "" && strings.Contains(normalize(text), keyword)
}

// StrategyFor picks the matching strategy for a conversation kind
func StrategyFor(kind types.ChatKind) MatchStrategy {
	if kind == types.KindPrivate {
		return MatchExact
	}
	return MatchContains
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Interpreter recognizes and executes control commands
type Interpreter struct {
	keyword string
	store   *session.Store
	replies config.Replies
	logger  *zap.Logger
}

// NewInterpreter creates an Interpreter for keyword
func NewInterpreter(keyword string, store *session.Store, replies config.Replies, logger *zap.Logger) *Interpreter {
	if keyword = normalize(keyword); keyword == "" {
		keyword = config.DefaultClearKeyword
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		keyword: keyword,
		store:   store,
		replies: replies,
		logger:  logger.Named("command"),
	}
}

// Keyword returns the clear keyword
func (i *Interpreter) Keyword() string { return i.keyword }

// Parse classifies text sent in a conversation of the given kind
func (i *Interpreter) Parse(kind types.ChatKind, text string) Command {
	if StrategyFor(kind)(text, i.keyword) {
		return CommandClear
	}
	return CommandNone
}

// Clear drops userID's conversation and returns the confirmation to send
func (i *Interpreter) Clear(userID string) string {
	unlock := i.store.Lock(userID)
	defer unlock()

	if i.store.Clear(userID) {
		i.logger.Info("cleared conversation history", zap.String("user", userID))
		return i.replies.Cleared
	}
	return i.replies.NoConversation
}
