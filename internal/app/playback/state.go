// Package playback provides the per-guild playback session and its registry.
package playback

// State represents the playback session state.
type State int

const (
	StateIdle          State = iota // No track playing (may still hold a connection briefly)
	StateConnecting                 // Transport handshake in progress
	StatePlaying                    // Track is playing
	StatePaused                     // Track is paused
	StateDisconnecting              // Releasing the transport connection
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
