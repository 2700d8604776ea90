package voice

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	ErrConnectionFailed = errors.New("voice connection failed")
	ErrConnectionLost   = errors.New("voice connection lost")
)

// RetryPolicy controls how connection attempts are retried.
type RetryPolicy struct {
	MaxAttempts       int           // Attempts before giving up
	InitialBackoff    time.Duration // Delay after the first failed attempt
	BackoffMultiplier float64       // Growth factor between attempts
	AttemptTimeout    time.Duration // Per-attempt deadline
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    20 * time.Second,
	}
}

// Manager obtains and maintains the transport connection for one guild's
// session. It is the only writer of the connection handle; the session only
// requests EnsureConnected and Disconnect.
type Manager struct {
	dialer  Dialer
	policy  RetryPolicy
	guildID string
	onLoss  func(error) // Called at most once per loss event

	mu   sync.Mutex
	conn Conn
}

// NewManager creates a connection manager for one guild. onLoss is invoked
// when the transport reports an asynchronous connection loss; it is never
// invoked for an explicit Disconnect.
func NewManager(dialer Dialer, policy RetryPolicy, guildID string, onLoss func(error)) *Manager {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Manager{
		dialer:  dialer,
		policy:  policy,
		guildID: guildID,
		onLoss:  onLoss,
	}
}

// EnsureConnected returns a live connection to channelID. An existing
// connection to the same channel is reused; a connection to a different
// channel is released first. A fresh connection is attempted up to
// MaxAttempts times with exponential backoff, each attempt bounded by
// AttemptTimeout. The context cancels the whole retry loop.
func (m *Manager) EnsureConnected(ctx context.Context, channelID string) (Conn, error) {
	m.mu.Lock()
	if m.conn != nil {
		if m.conn.ChannelID() == channelID {
			conn := m.conn
			m.mu.Unlock()
			return conn, nil
		}
		old := m.conn
		m.conn = nil
		m.mu.Unlock()
		zlog.Debug().Str("guild", m.guildID).Msg("voice: moving to another channel, releasing current connection")
		_ = old.Close()
	} else {
		m.mu.Unlock()
	}

	backoff := m.policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.policy.AttemptTimeout)
		conn, err := m.dialer.Dial(attemptCtx, m.guildID, channelID)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			go m.watchLoss(conn)
			zlog.Info().Str("guild", m.guildID).Str("channel", channelID).Int("attempt", attempt).Msg("voice: connected")
			return conn, nil
		}
		lastErr = err
		zlog.Warn().Str("guild", m.guildID).Str("channel", channelID).Int("attempt", attempt).Err(err).Msg("voice: connection attempt failed")

		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "voice connection cancelled")
		}
		if attempt == m.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "voice connection cancelled")
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * m.policy.BackoffMultiplier)
	}

	return nil, errors.Wrapf(ErrConnectionFailed, "after %d attempts: %v", m.policy.MaxAttempts, lastErr)
}

// Disconnect releases the current connection, if any. Safe to call when
// already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		zlog.Debug().Str("guild", m.guildID).Msg("voice: disconnecting")
		_ = conn.Close()
	}
}

// Connected reports whether a connection is currently held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// watchLoss waits for the transport to report loss of conn. The loss is
// forwarded only while conn is still the current connection, so an explicit
// Disconnect never produces a loss event.
func (m *Manager) watchLoss(conn Conn) {
	<-conn.Closed()

	m.mu.Lock()
	current := m.conn == conn
	if current {
		m.conn = nil
	}
	m.mu.Unlock()

	if current && m.onLoss != nil {
		zlog.Warn().Str("guild", m.guildID).Msg("voice: transport connection lost")
		m.onLoss(ErrConnectionLost)
	}
}
