// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"time"
)

// Track represents one playable item. It is created by the resolver and never
// mutated afterwards; StreamURL is a direct audio URL that is consumed by the
// transport exactly once when playback starts.
type Track struct {
	ID         string        // Internal UUID assigned at resolution time
	Title      string        // Track title
	Duration   time.Duration // Reported duration (zero when unknown)
	StreamURL  string        // Direct audio stream URL
	SourceURL  string        // Page URL the track was resolved from
	Thumbnail  string        // Thumbnail URL (optional)
	Requester  Requester     // Who asked for it
	EnqueuedAt time.Time     // Time when added to the queue
}

// Requester identifies the user who requested the track.
type Requester struct {
	ID   string // Platform user ID
	Name string // Display name
}

// FormatDuration renders the duration as m:ss, or "Unknown" when the source
// did not report one.
func (t Track) FormatDuration() string {
	if t.Duration <= 0 {
		return "Unknown"
	}
	total := int(t.Duration.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
