package playback

import "github.com/osa030/groovebox/internal/domain/track"

// EventType represents a session event type.
type EventType int

const (
	EventTrackStarted  EventType = iota // A track began playing
	EventTrackEnded                     // A track finished or was skipped
	EventPlaybackError                  // Mid-stream failure, progression continued
	EventQueueDrained                   // Queue became empty after the last track
	EventClosed                         // Session was torn down
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventPlaybackError:
		return "playback_error"
	case EventQueueDrained:
		return "queue_drained"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a session notification consumed by the command layer, e.g. for
// now-playing announcements.
type Event struct {
	Type  EventType
	Track *track.Track // Subject track (nil for some events)
	Err   error        // Set for EventPlaybackError
}
