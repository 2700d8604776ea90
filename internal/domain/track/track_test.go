package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_FormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{
			name:     "minutes and seconds",
			duration: 3*time.Minute + 25*time.Second,
			expected: "3:25",
		},
		{
			name:     "seconds padded",
			duration: 2*time.Minute + 5*time.Second,
			expected: "2:05",
		},
		{
			name:     "under a minute",
			duration: 42 * time.Second,
			expected: "0:42",
		},
		{
			name:     "over an hour stays in minutes",
			duration: 61*time.Minute + 1*time.Second,
			expected: "61:01",
		},
		{
			name:     "unknown duration",
			duration: 0,
			expected: "Unknown",
		},
		{
			name:     "sub-second rounds",
			duration: 900 * time.Millisecond,
			expected: "0:01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Track{Title: "test", Duration: tt.duration}
			assert.Equal(t, tt.expected, tr.FormatDuration())
		})
	}
}
