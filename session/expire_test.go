package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Long windows keep the real timers out of the way; expire is driven by hand.
func newManualStore(clock *fakeClock) *Store {
	return New(WithIdleWindow(time.Hour), WithGrace(time.Hour), withClock(clock.Now))
}

func TestExpire_StaleGenerationIsIgnored(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newManualStore(clock)
	defer s.Close()

	require.NoError(t, s.Append("u", TextTurn(RoleUser, "one")))
	firstGen := s.sessions["u"].gen

	clock.Advance(30 * time.Minute)
	require.NoError(t, s.Append("u", TextTurn(RoleUser, "two")))

	clock.Advance(2 * time.Hour)
	s.expire("u", firstGen)

	_, ok := s.Get("u")
	assert.True(t, ok, "a check armed before the latest update must not evict")
}

func TestExpire_CurrentGenerationEvicts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newManualStore(clock)
	defer s.Close()

	require.NoError(t, s.Append("u", TextTurn(RoleUser, "one")))
	gen := s.sessions["u"].gen

	clock.Advance(2 * time.Hour)
	s.expire("u", gen)

	_, ok := s.Get("u")
	assert.False(t, ok)
}

func TestExpire_WindowNotElapsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newManualStore(clock)
	defer s.Close()

	require.NoError(t, s.Append("u", TextTurn(RoleUser, "one")))
	gen := s.sessions["u"].gen

	clock.Advance(10 * time.Minute)
	s.expire("u", gen)

	_, ok := s.Get("u")
	assert.True(t, ok)
}

func TestExpire_AfterClearIsNoop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := newManualStore(clock)
	defer s.Close()

	require.NoError(t, s.Append("u", TextTurn(RoleUser, "one")))
	gen := s.sessions["u"].gen
	s.Clear("u")

	clock.Advance(2 * time.Hour)
	s.expire("u", gen)
	assert.Equal(t, uint64(0), s.Stats().Expired)
}

func TestTurnText(t *testing.T) {
	turn := Turn{Parts: []Part{{Text: "a"}, {Image: &Image{MIMEType: "image/png"}}, {Text: "b"}}}
	assert.Equal(t, "a\nb", turn.Text())
	assert.Equal(t, "", Turn{}.Text())
}
