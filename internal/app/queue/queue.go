// Package queue provides the per-guild session queue.
package queue

import (
	"errors"
	"sync"

	"github.com/osa030/groovebox/internal/domain/track"
)

// Errors
var (
	ErrQueueFull       = errors.New("queue is full")
	ErrInvalidPosition = errors.New("invalid queue position")
	ErrEmpty           = errors.New("queue is empty")
)

// Queue is an ordered list of tracks waiting to be played. Insertion order is
// play order. The currently playing track is never part of the queue; the
// session holds it separately.
type Queue struct {
	mu    sync.Mutex
	items []track.Track
	cap   int
}

// New creates an empty queue bounded to capacity tracks.
func New(capacity int) *Queue {
	return &Queue{
		items: make([]track.Track, 0),
		cap:   capacity,
	}
}

// Enqueue appends a track and returns its 1-based position.
// Returns ErrQueueFull when the capacity is reached.
func (q *Queue) Enqueue(t track.Track) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cap > 0 && len(q.items) >= q.cap {
		return 0, ErrQueueFull
	}
	q.items = append(q.items, t)
	return len(q.items), nil
}

// RemoveAt removes and returns the track at a 1-based position.
// The relative order of the remaining tracks is preserved.
func (q *Queue) RemoveAt(position int) (track.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if position < 1 || position > len(q.items) {
		return track.Track{}, ErrInvalidPosition
	}
	i := position - 1
	removed := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return removed, nil
}

// DequeueNext pops and returns the head of the queue.
func (q *Queue) DequeueNext() (track.Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return track.Track{}, ErrEmpty
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, nil
}

// Snapshot returns a copy of the queued tracks for display purposes.
func (q *Queue) Snapshot() []track.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]track.Track, len(q.items))
	copy(result, q.items)
	return result
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all queued tracks.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}
