package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/groovebox/internal/domain/track"
)

func mkTrack(title string) track.Track {
	return track.Track{ID: title, Title: title}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := New(10)

	for i := 0; i < 5; i++ {
		pos, err := q.Enqueue(mkTrack(fmt.Sprintf("track-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
	}

	for i := 0; i < 5; i++ {
		head, err := q.DequeueNext()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("track-%d", i), head.Title)
	}

	_, err := q.DequeueNext()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_CapacityLimit(t *testing.T) {
	q := New(2)

	_, err := q.Enqueue(mkTrack("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(mkTrack("b"))
	require.NoError(t, err)

	_, err = q.Enqueue(mkTrack("c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_RemoveAt(t *testing.T) {
	tests := []struct {
		name      string
		length    int
		position  int
		wantErr   bool
		wantTitle string
		wantAfter []string
	}{
		{
			name:      "middle removal preserves order",
			length:    3,
			position:  2,
			wantTitle: "track-1",
			wantAfter: []string{"track-0", "track-2"},
		},
		{
			name:      "first position",
			length:    3,
			position:  1,
			wantTitle: "track-0",
			wantAfter: []string{"track-1", "track-2"},
		},
		{
			name:      "last position",
			length:    3,
			position:  3,
			wantTitle: "track-2",
			wantAfter: []string{"track-0", "track-1"},
		},
		{
			name:     "zero position rejected",
			length:   3,
			position: 0,
			wantErr:  true,
		},
		{
			name:     "negative position rejected",
			length:   3,
			position: -1,
			wantErr:  true,
		},
		{
			name:     "past the end rejected",
			length:   3,
			position: 4,
			wantErr:  true,
		},
		{
			name:     "empty queue rejected",
			length:   0,
			position: 1,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(10)
			for i := 0; i < tt.length; i++ {
				_, err := q.Enqueue(mkTrack(fmt.Sprintf("track-%d", i)))
				require.NoError(t, err)
			}

			removed, err := q.RemoveAt(tt.position)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPosition)
				assert.Equal(t, tt.length, q.Len())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, removed.Title)
			assert.Equal(t, tt.length-1, q.Len())

			var titles []string
			for _, item := range q.Snapshot() {
				titles = append(titles, item.Title)
			}
			assert.Equal(t, tt.wantAfter, titles)
		})
	}
}

func TestQueue_SnapshotIsACopy(t *testing.T) {
	q := New(10)
	_, err := q.Enqueue(mkTrack("a"))
	require.NoError(t, err)

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Title = "mutated"

	again := q.Snapshot()
	assert.Equal(t, "a", again[0].Title)
}

func TestQueue_Clear(t *testing.T) {
	q := New(10)
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(mkTrack(fmt.Sprintf("track-%d", i)))
		require.NoError(t, err)
	}

	q.Clear()
	assert.Equal(t, 0, q.Len())
	_, err := q.DequeueNext()
	assert.ErrorIs(t, err, ErrEmpty)
}
