package gateway

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gliderlab/wagem/agent"
	"github.com/gliderlab/wagem/gateway/channels/types"
	"github.com/gliderlab/wagem/pkg/config"
	"github.com/gliderlab/wagem/pkg/llm"
	"github.com/gliderlab/wagem/session"
)

type sentMessage struct {
	Chat string
	Text string
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []sentMessage
	presence  []string
	media     *types.Media
	mediaErr  error
	sendErrs  []error // consumed one per SendText
	downloads int
}

func (f *fakeTransport) SendText(ctx context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Chat: chatID, Text: text})
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) StartTyping(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, "start:"+chatID)
	return nil
}

func (f *fakeTransport) StopTyping(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, "stop:"+chatID)
	return nil
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, msg *types.InboundMessage) (*types.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media, nil
}

type fakeProvider struct {
	mu    sync.Mutex
	reqs  []*llm.ChatRequest
	reply string
	err   error
	// tempFiles records the staging dir contents seen during each call
	tempDir   string
	tempFiles [][]string
}

func (f *fakeProvider) Name() string           { return "fake" }
func (f *fakeProvider) Type() llm.ProviderType { return llm.ProviderGoogle }
func (f *fakeProvider) GetConfig() llm.Config  { return llm.Config{} }

func (f *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.tempDir != "" {
		var names []string
		entries, _ := os.ReadDir(f.tempDir)
		for _, e := range entries {
			names = append(names, e.Name())
		}
		f.tempFiles = append(f.tempFiles, names)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type harness struct {
	store     *session.Store
	provider  *fakeProvider
	transport *fakeTransport
	router    *Router
	tempDir   string
	replies   config.Replies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := session.New()
	t.Cleanup(store.Close)

	tempDir := t.TempDir()
	p := &fakeProvider{reply: "Hi there!", tempDir: tempDir}
	asm := agent.New(store, p, agent.Config{TempDir: tempDir}, nil)
	tr := &fakeTransport{}
	replies := config.DefaultReplies()
	cmds := NewInterpreter("clear", store, replies, nil)

	return &harness{
		store:     store,
		provider:  p,
		transport: tr,
		router:    NewRouter(RouterConfig{OwnerID: "+628999", Replies: replies}, tr, asm, cmds, nil),
		tempDir:   tempDir,
		replies:   replies,
	}
}

func (h *harness) handle(msg *types.InboundMessage) {
	h.router.HandleMessage(context.Background(), msg)
}

func TestPrivateHello(t *testing.T) {
	h := newHarness(t)

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", Body: "Hello"})

	require.Equal(t, 1, h.provider.calls())
	req := h.provider.reqs[0]
	assert.Equal(t, agent.DefaultPreamble, req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Hello", req.Messages[0].Text())

	turns, ok := h.store.Get("628111@c.us")
	require.True(t, ok)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)

	assert.Equal(t, []sentMessage{{Chat: "628111@c.us", Text: "Hi there!"}}, h.transport.sent)
	assert.Equal(t, []string{"start:628111@c.us", "stop:628111@c.us"}, h.transport.presence)
	assert.Equal(t, uint64(1), h.router.Stats().Replied)
}

func TestGroupClearWithSession(t *testing.T) {
	h := newHarness(t)
	group := "120363000@g.us"
	require.NoError(t, h.store.Append(group, session.TextTurn(session.RoleUser, "earlier")))

	h.handle(&types.InboundMessage{ID: "m1", From: group, Body: "@628999 clear"})

	_, ok := h.store.Get(group)
	assert.False(t, ok)
	assert.Equal(t, []sentMessage{{Chat: group, Text: h.replies.Cleared}}, h.transport.sent)
	assert.Zero(t, h.provider.calls())
	assert.Equal(t, uint64(1), h.router.Stats().Commands)
}

func TestGroupClearWithoutSession(t *testing.T) {
	h := newHarness(t)
	group := "120363000@g.us"

	h.handle(&types.InboundMessage{ID: "m1", From: group, Body: "@628999 clear"})

	assert.Equal(t, []sentMessage{{Chat: group, Text: h.replies.NoConversation}}, h.transport.sent)
	assert.Zero(t, h.provider.calls())
}

func TestCommandMatchingAsymmetry(t *testing.T) {
	h := newHarness(t)
	group := "120363000@g.us"
	require.NoError(t, h.store.Append(group, session.TextTurn(session.RoleUser, "earlier")))

	// groups: substring after the mention
	h.handle(&types.InboundMessage{ID: "g", From: group, Body: "@628999 please CLEAR everything"})
	_, ok := h.store.Get(group)
	assert.False(t, ok)
	assert.Zero(t, h.provider.calls())

	// private: must be exact, otherwise it is a prompt
	h.handle(&types.InboundMessage{ID: "p1", From: "628111@c.us", Body: "please clear"})
	require.Equal(t, 1, h.provider.calls())
	assert.Equal(t, "please clear", h.provider.reqs[0].Messages[0].Text())

	h.handle(&types.InboundMessage{ID: "p2", From: "628111@c.us", Body: "  Clear "})
	_, ok = h.store.Get("628111@c.us")
	assert.False(t, ok)
	assert.Equal(t, 1, h.provider.calls())
	assert.Equal(t, h.replies.Cleared, h.transport.sent[len(h.transport.sent)-1].Text)
}

func TestPrivateImageWithoutText(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("model unavailable")
	h.transport.media = &types.Media{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", HasMedia: true, Media: &types.MediaRef{URL: "/f"}})

	assert.Equal(t, 1, h.transport.downloads)
	require.Equal(t, 1, h.provider.calls())
	msg := h.provider.reqs[0].Messages[0]
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, "Describe this image.", msg.Parts[0].Text)
	require.NotNil(t, msg.Parts[1].InlineData)

	require.Len(t, h.provider.tempFiles, 1)
	assert.Len(t, h.provider.tempFiles[0], 1, "temp file exists during the model call")
	left, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, left, "temp file removed after failure")

	assert.Equal(t, []sentMessage{{Chat: "628111@c.us", Text: h.replies.ImageError}}, h.transport.sent)

	turns, ok := h.store.Get("628111@c.us")
	require.True(t, ok)
	assert.Len(t, turns, 1)
}

func TestGroupUnaddressedIgnored(t *testing.T) {
	h := newHarness(t)

	h.handle(&types.InboundMessage{ID: "m1", From: "120363000@g.us", Body: "hello everyone, clear skies today"})

	assert.Empty(t, h.transport.sent)
	assert.Empty(t, h.transport.presence)
	assert.Zero(t, h.provider.calls())
	assert.Zero(t, h.store.Len())
	assert.Equal(t, uint64(1), h.router.Stats().Ignored)
}

func TestOwnAndBroadcastIgnored(t *testing.T) {
	h := newHarness(t)

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", FromMe: true, Body: "Hello"})
	h.handle(&types.InboundMessage{ID: "m2", From: types.StatusBroadcastID, Body: "628999 story"})

	assert.Empty(t, h.transport.sent)
	assert.Empty(t, h.transport.presence)
	assert.Zero(t, h.provider.calls())
	assert.Equal(t, uint64(2), h.router.Stats().Ignored)
}

func TestEmptyPrivateText(t *testing.T) {
	h := newHarness(t)

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", Body: "   "})

	assert.Equal(t, []sentMessage{{Chat: "628111@c.us", Text: h.replies.EmptyPrompt}}, h.transport.sent)
	assert.Zero(t, h.provider.calls())
	assert.Zero(t, h.store.Len())
}

func TestGroupMentionStripped(t *testing.T) {
	h := newHarness(t)

	h.handle(&types.InboundMessage{ID: "m1", From: "120363000@g.us", Body: "@628999 what is Go?"})

	require.Equal(t, 1, h.provider.calls())
	assert.Equal(t, "what is Go?", h.provider.reqs[0].Messages[0].Text())
	_, ok := h.store.Get("120363000@g.us")
	assert.True(t, ok, "group conversations are keyed by the group id")
}

func TestModelFailureThenRecovery(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("quota")

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", Body: "first"})
	assert.Equal(t, h.replies.ModelError, h.transport.sent[0].Text)

	h.provider.mu.Lock()
	h.provider.err = nil
	h.provider.mu.Unlock()

	h.handle(&types.InboundMessage{ID: "m2", From: "628111@c.us", Body: "second"})
	req := h.provider.reqs[1]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "first", req.Messages[0].Text())
	assert.Equal(t, "second", req.Messages[1].Text())
	assert.Equal(t, "Hi there!", h.transport.sent[1].Text)

	turns, _ := h.store.Get("628111@c.us")
	assert.Len(t, turns, 3)
}

func TestMediaDownloadFailure(t *testing.T) {
	h := newHarness(t)
	h.transport.mediaErr = &types.TransportError{Op: "downloadMedia", Status: 404, Err: errors.New("gone")}

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", Body: "what is this", HasMedia: true})

	assert.Zero(t, h.provider.calls())
	assert.Equal(t, []sentMessage{{Chat: "628111@c.us", Text: h.replies.ImageError}}, h.transport.sent)
	assert.Equal(t, uint64(1), h.router.Stats().Failed)
}

func TestReplySendFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.transport.sendErrs = []error{&types.TransportError{Op: "sendText", Err: errors.New("reset")}}

	h.handle(&types.InboundMessage{ID: "m1", From: "628111@c.us", Body: "Hello"})

	require.Len(t, h.transport.sent, 2)
	assert.Equal(t, "Hi there!", h.transport.sent[0].Text)
	assert.Equal(t, h.replies.Unexpected, h.transport.sent[1].Text)
}

type panickingAssistant struct{}

func (panickingAssistant) Reply(ctx context.Context, userID, prompt string, media *types.Media) (string, error) {
	panic("boom")
}

func TestPanicRecovered(t *testing.T) {
	store := session.New()
	defer store.Close()
	tr := &fakeTransport{}
	replies := config.DefaultReplies()
	r := NewRouter(RouterConfig{OwnerID: "628999", Replies: replies}, tr, panickingAssistant{}, NewInterpreter("", store, replies, nil), nil)

	assert.NotPanics(t, func() {
		r.HandleMessage(context.Background(), &types.InboundMessage{ID: "m1", From: "628111@c.us", Body: "Hello"})
	})
	assert.Equal(t, []sentMessage{{Chat: "628111@c.us", Text: replies.Unexpected}}, tr.sent)
	assert.Equal(t, []string{"start:628111@c.us", "stop:628111@c.us"}, tr.presence)
}
