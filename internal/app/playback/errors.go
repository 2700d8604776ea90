package playback

import "errors"

// Errors
var (
	ErrResolutionFailed = errors.New("track resolution failed")
	ErrInvalidVolume    = errors.New("volume must be between 0 and 100")
	ErrNotPlaying       = errors.New("not playing")
	ErrNotPaused        = errors.New("not paused")
	ErrNothingPlaying   = errors.New("nothing is playing")
	ErrSessionClosed    = errors.New("session is closed")
	ErrStopped          = errors.New("playback stopped before it could start")
)
