// Package voice provides the connection manager for the voice transport.
package voice

import "context"

// Conn is a live voice transport connection. Implementations own the actual
// network connection; callers only request operations on it.
type Conn interface {
	// ChannelID returns the voice channel this connection is attached to.
	ChannelID() string

	// Play starts streaming the given audio URL, replacing any stream that is
	// currently playing. The returned channel receives exactly one value when
	// the stream ends: nil for a normal end, an error for a mid-stream failure.
	Play(streamURL string) (<-chan error, error)

	// Pause suspends frame transmission without dropping the connection.
	Pause()

	// Resume restarts frame transmission after Pause.
	Resume()

	// SetVolume adjusts the playback volume, 0-100.
	SetVolume(volume int)

	// Stop ends the current stream, if any, without disconnecting.
	Stop()

	// Closed is closed when the underlying transport connection is lost or
	// released.
	Closed() <-chan struct{}

	// Close releases the connection. Releasing an already-released connection
	// is a no-op.
	Close() error
}

// Dialer establishes transport connections. The context bounds a single
// connection attempt; implementations must unwind promptly on cancellation.
type Dialer interface {
	Dial(ctx context.Context, guildID, channelID string) (Conn, error)
}
