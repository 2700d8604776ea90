package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn implements Conn for tests.
type fakeConn struct {
	channelID string
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeConn(channelID string) *fakeConn {
	return &fakeConn{channelID: channelID, closed: make(chan struct{})}
}

func (c *fakeConn) ChannelID() string { return c.channelID }

func (c *fakeConn) Play(string) (<-chan error, error) {
	done := make(chan error, 1)
	return done, nil
}

func (c *fakeConn) Pause()          {}
func (c *fakeConn) Resume()         {}
func (c *fakeConn) SetVolume(int)   {}
func (c *fakeConn) Stop()           {}
func (c *fakeConn) Closed() <-chan struct{} { return c.closed }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// lose simulates an asynchronous transport loss.
func (c *fakeConn) lose() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// fakeDialer fails a configured number of times before succeeding.
type fakeDialer struct {
	mu        sync.Mutex
	failures  int
	dialErr   error
	attempts  int
	conns     []*fakeConn
	dialDelay time.Duration
}

func (d *fakeDialer) Dial(ctx context.Context, guildID, channelID string) (Conn, error) {
	d.mu.Lock()
	d.attempts++
	attempt := d.attempts
	d.mu.Unlock()

	if d.dialDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.dialDelay):
		}
	}

	if attempt <= d.failures {
		return nil, d.dialErr
	}

	conn := newFakeConn(channelID)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    time.Second,
	}
}

func TestManager_ConnectsFirstAttempt(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, fastPolicy(3), "guild-1", nil)

	conn, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)
	assert.Equal(t, "channel-1", conn.ChannelID())
	assert.Equal(t, 1, d.attemptCount())
	assert.True(t, m.Connected())
}

func TestManager_RetriesThenSucceeds(t *testing.T) {
	d := &fakeDialer{failures: 2, dialErr: assert.AnError}
	m := NewManager(d, fastPolicy(3), "guild-1", nil)

	conn, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, 3, d.attemptCount())
}

func TestManager_ExhaustsRetries(t *testing.T) {
	d := &fakeDialer{failures: 10, dialErr: assert.AnError}
	m := NewManager(d, fastPolicy(3), "guild-1", nil)

	_, err := m.EnsureConnected(context.Background(), "channel-1")
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 3, d.attemptCount())
	assert.False(t, m.Connected())
}

func TestManager_CancelPreemptsRetryLoop(t *testing.T) {
	d := &fakeDialer{failures: 10, dialErr: assert.AnError, dialDelay: 50 * time.Millisecond}
	policy := RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    time.Hour, // Cancellation must not wait this out
		BackoffMultiplier: 2.0,
		AttemptTimeout:    time.Second,
	}
	m := NewManager(d, policy, "guild-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.EnsureConnected(ctx, "channel-1")
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureConnected did not unwind after cancellation")
	}
	assert.Less(t, d.attemptCount(), 3, "cancellation should stop further attempts")
}

func TestManager_ReusesSameChannel(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, fastPolicy(3), "guild-1", nil)

	first, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)
	second, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, d.attemptCount())
}

func TestManager_MovesBetweenChannels(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, fastPolicy(3), "guild-1", nil)

	first, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)
	second, err := m.EnsureConnected(context.Background(), "channel-2")
	require.NoError(t, err)

	assert.Equal(t, "channel-2", second.ChannelID())
	assert.Equal(t, int32(1), first.(*fakeConn).closes.Load(), "old connection must be released")
	assert.Equal(t, 2, d.attemptCount())
}

func TestManager_ReportsLossExactlyOnce(t *testing.T) {
	d := &fakeDialer{}
	var losses atomic.Int32
	m := NewManager(d, fastPolicy(3), "guild-1", func(error) { losses.Add(1) })

	conn, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)

	conn.(*fakeConn).lose()
	assert.Eventually(t, func() bool { return losses.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Connected())

	// A second close of the same connection must not produce another report.
	_ = conn.Close()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), losses.Load())
}

func TestManager_ExplicitDisconnectIsNotALoss(t *testing.T) {
	d := &fakeDialer{}
	var losses atomic.Int32
	m := NewManager(d, fastPolicy(3), "guild-1", func(error) { losses.Add(1) })

	_, err := m.EnsureConnected(context.Background(), "channel-1")
	require.NoError(t, err)

	m.Disconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), losses.Load())
	assert.False(t, m.Connected())

	// Disconnecting again is a no-op.
	m.Disconnect()
	assert.Equal(t, int32(1), d.conns[0].closes.Load())
}
