package reply

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitDone(t *testing.T, tok *Token) {
	t.Helper()
	select {
	case <-tok.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("token never resolved")
	}
}

func TestSendOnce(t *testing.T) {
	tok := New(Config{Method: "ping"})

	require.NoError(t, tok.Send(nil, "pong"))
	waitDone(t, tok)

	result, err := tok.Result()
	assert.NoError(t, err)
	assert.Equal(t, "pong", result)
	assert.Equal(t, StateSent, tok.State())

	err = tok.Send(nil, "again")
	assert.True(t, errors.Is(err, ErrAlreadySent))

	// The first outcome is kept.
	result, _ = tok.Result()
	assert.Equal(t, "pong", result)
}

func TestSendError(t *testing.T) {
	tok := New(Config{Method: "ping"})
	require.NoError(t, tok.Send(errors.New("boom"), nil))

	_, err := tok.Result()
	assert.EqualError(t, err, "boom")
}

func TestExpire(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	tok := New(Config{Method: "slow", Timeout: time.Minute, Clock: clk})

	require.NoError(t, clk.WaitAdvance(time.Minute, time.Second, 1))
	waitDone(t, tok)

	assert.Equal(t, StateExpired, tok.State())
	_, err := tok.Result()
	assert.True(t, errors.Is(err, ErrExpired))

	// A late answer is reported as expired once, then as a reuse.
	assert.True(t, errors.Is(tok.Send(nil, "late"), ErrExpired))
	assert.True(t, errors.Is(tok.Send(nil, "later"), ErrAlreadySent))
}

func TestSendStopsDeadline(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	tok := New(Config{Method: "fast", Timeout: time.Minute, Clock: clk})

	require.NoError(t, tok.Send(nil, 1))
	clk.Advance(2 * time.Minute)

	assert.Equal(t, StateSent, tok.State())
	result, err := tok.Result()
	assert.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestAbandon(t *testing.T) {
	tok := New(Config{Method: "gone"})
	tok.Abandon()
	waitDone(t, tok)

	assert.Equal(t, StateAbandoned, tok.State())
	assert.NoError(t, tok.Send(nil, "nobody listens"))
	assert.True(t, errors.Is(tok.Send(nil, "twice"), ErrAlreadySent))

	// Abandon after resolution changes nothing.
	sent := New(Config{})
	require.NoError(t, sent.Send(nil, true))
	sent.Abandon()
	assert.Equal(t, StateSent, sent.State())
}

func TestUniqueIDs(t *testing.T) {
	a, b := New(Config{}), New(Config{})
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
