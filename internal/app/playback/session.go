package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/groovebox/internal/app/queue"
	"github.com/osa030/groovebox/internal/app/voice"
	"github.com/osa030/groovebox/internal/domain/track"
)

// Resolver turns a search query or URL into a playable track descriptor.
type Resolver interface {
	Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error)
}

// Config holds per-session playback configuration.
type Config struct {
	QueueCap          int               // Maximum queued tracks
	DefaultVolume     int               // Initial volume, 0-100
	IdleTimeout       time.Duration     // Idle-but-connected time before the watchdog disconnects
	PauseCountsAsIdle bool              // Whether a paused session also arms the watchdog
	Retry             voice.RetryPolicy // Connection retry policy
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() Config {
	return Config{
		QueueCap:      500,
		DefaultVolume: 100,
		IdleTimeout:   5 * time.Minute,
		Retry:         voice.DefaultRetryPolicy(),
	}
}

// PlayResult reports the outcome of a Play call.
type PlayResult struct {
	Started  bool        // True when playback of Track began immediately
	Track    track.Track // The started track, or the enqueued one
	Position int         // 1-based queue position when not started
}

// Snapshot is a read-only view of the session for display purposes.
type Snapshot struct {
	State   State
	Volume  int
	Current *track.Track
	Queue   []track.Track
}

// Session coordinates one guild's playback lifecycle: it owns the queue, the
// current track, the volume, and a connection manager for the voice
// transport. All mutating operations are serialized on one mutex; blocking
// waits (connection handshake, end-of-track) happen with the mutex released
// and re-validate a generation counter afterwards, so stale async events
// never act on a state they no longer belong to.
type Session struct {
	guildID    string
	cfg        Config
	resolver   Resolver
	manager    *voice.Manager
	onTeardown func(guildID string) // Registry removal, used by the watchdog

	mu            sync.Mutex
	state         State
	queue         *queue.Queue
	current       *track.Track
	volume        int
	gen           uint64 // Bumped whenever a playback or connection cycle changes
	conn          voice.Conn
	connectCancel context.CancelFunc
	watchdog      *time.Timer
	closed        bool
	events        chan Event
}

func newSession(guildID string, cfg Config, resolver Resolver, dialer voice.Dialer, onTeardown func(string)) *Session {
	s := &Session{
		guildID:    guildID,
		cfg:        cfg,
		resolver:   resolver,
		onTeardown: onTeardown,
		state:      StateIdle,
		queue:      queue.New(cfg.QueueCap),
		volume:     cfg.DefaultVolume,
		events:     make(chan Event, 16),
	}
	s.manager = voice.NewManager(dialer, cfg.Retry, guildID, s.handleConnectionLoss)
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string { return s.guildID }

// Events returns the session event stream. The channel is closed when the
// session is torn down.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Play resolves the query, enqueues the result, and starts playback when the
// session is idle. It returns a Started result when a track began playing,
// or the queue position otherwise.
func (s *Session) Play(ctx context.Context, channelID, query string, requester track.Requester) (PlayResult, error) {
	if s.Closed() {
		return PlayResult{}, ErrSessionClosed
	}

	resolved, err := s.resolver.Resolve(ctx, query, requester)
	if err != nil {
		return PlayResult{}, errors.Wrapf(ErrResolutionFailed, "%q: %v", query, err)
	}
	resolved.EnqueuedAt = time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return PlayResult{}, ErrSessionClosed
	}

	pos, err := s.queue.Enqueue(resolved)
	if err != nil {
		s.mu.Unlock()
		return PlayResult{}, err
	}

	if s.state != StateIdle {
		s.mu.Unlock()
		return PlayResult{Track: resolved, Position: pos}, nil
	}

	if s.conn != nil {
		// Still connected from the previous cycle; no handshake needed.
		return s.startFromIdleLocked(resolved, pos)
	}
	return s.connectAndStart(ctx, channelID, resolved, pos)
}

// startFromIdleLocked begins playback of the queue head on the existing
// connection. Called with the mutex held; releases it.
func (s *Session) startFromIdleLocked(resolved track.Track, pos int) (PlayResult, error) {
	next, err := s.queue.DequeueNext()
	if err != nil {
		s.mu.Unlock()
		return PlayResult{}, errors.AssertionFailedf("idle session with empty queue after enqueue")
	}

	s.gen++
	gen := s.gen
	s.stopWatchdogLocked()
	s.current = &next
	s.state = StatePlaying
	conn := s.conn
	conn.SetVolume(s.volume)
	s.emitLocked(Event{Type: EventTrackStarted, Track: &next})
	s.mu.Unlock()

	go s.runTrack(conn, next, gen)

	if next.ID == resolved.ID {
		return PlayResult{Started: true, Track: next}, nil
	}
	// An older queue head resumed first; the new track stays queued.
	return PlayResult{Track: resolved, Position: pos - 1}, nil
}

// connectAndStart performs the transport handshake and starts the queue head.
// Called with the mutex held; releases it around the blocking connect.
func (s *Session) connectAndStart(ctx context.Context, channelID string, resolved track.Track, pos int) (PlayResult, error) {
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	connectCtx, cancel := context.WithCancel(ctx)
	s.connectCancel = cancel
	s.mu.Unlock()

	conn, connErr := s.manager.EnsureConnected(connectCtx, channelID)
	cancel()

	s.mu.Lock()
	s.connectCancel = nil
	if s.closed || gen != s.gen {
		// Stop or teardown preempted the handshake.
		s.mu.Unlock()
		if connErr == nil {
			s.manager.Disconnect()
		}
		return PlayResult{}, ErrStopped
	}
	if connErr != nil {
		s.state = StateIdle
		s.mu.Unlock()
		return PlayResult{}, connErr
	}

	s.conn = conn
	next, err := s.queue.DequeueNext()
	if err != nil {
		// Everything was removed while connecting; stay idle-but-connected.
		s.state = StateIdle
		s.gen++
		s.armWatchdogLocked()
		s.mu.Unlock()
		return PlayResult{}, queue.ErrEmpty
	}

	s.gen++
	genPlay := s.gen
	s.current = &next
	s.state = StatePlaying
	conn.SetVolume(s.volume)
	s.emitLocked(Event{Type: EventTrackStarted, Track: &next})
	s.mu.Unlock()

	go s.runTrack(conn, next, genPlay)

	if next.ID == resolved.ID {
		return PlayResult{Started: true, Track: next}, nil
	}
	return PlayResult{Track: resolved, Position: pos - 1}, nil
}

// runTrack hands the stream to the transport and waits for the end-of-track
// notification. One goroutine exists per started track; gen identifies the
// playback cycle it belongs to. Failures on a connection that is already
// gone are not track errors: they are left to the loss path, which keeps
// the queue.
func (s *Session) runTrack(conn voice.Conn, t track.Track, gen uint64) {
	done, err := conn.Play(t.StreamURL)
	if err != nil {
		if transportLost(conn) {
			// Loss is reported through the connection manager.
			return
		}
		s.onTrackDone(gen, errors.Wrap(err, "start stream"))
		return
	}
	select {
	case playErr := <-done:
		if playErr != nil && transportLost(conn) {
			return
		}
		s.onTrackDone(gen, playErr)
	case <-conn.Closed():
		// Connection loss is reported through the connection manager.
	}
}

// transportLost reports whether the connection has been closed out from
// under the session.
func transportLost(conn voice.Conn) bool {
	if conn == nil {
		return false
	}
	select {
	case <-conn.Closed():
		return true
	default:
		return false
	}
}

// onTrackDone advances the queue after an end-of-track notification. A
// non-nil playErr is a transient playback error: the track is discarded and
// progression continues.
func (s *Session) onTrackDone(gen uint64, playErr error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}

	ended := s.current
	if transportLost(s.conn) {
		// The transport died at the track boundary. Progression on a dead
		// connection would fail every queued track in turn; leave the queue
		// to the loss handler, which preserves it for the next play.
		if ended != nil {
			s.emitLocked(Event{Type: EventTrackEnded, Track: ended})
		}
		s.mu.Unlock()
		return
	}
	if playErr != nil {
		zlog.Warn().Str("guild", s.guildID).Err(playErr).Msg("playback: track failed mid-stream, continuing with queue")
		s.emitLocked(Event{Type: EventPlaybackError, Track: ended, Err: playErr})
	}
	if ended != nil {
		s.emitLocked(Event{Type: EventTrackEnded, Track: ended})
	}

	next, err := s.queue.DequeueNext()
	if err != nil {
		// Queue drained: idle-but-connected, watchdog armed.
		s.gen++
		s.current = nil
		s.state = StateIdle
		s.armWatchdogLocked()
		s.emitLocked(Event{Type: EventQueueDrained})
		s.mu.Unlock()
		return
	}

	// Queue progression: Playing -> Playing, never through Idle.
	s.gen++
	genNext := s.gen
	s.current = &next
	s.state = StatePlaying
	conn := s.conn
	s.emitLocked(Event{Type: EventTrackStarted, Track: &next})
	s.mu.Unlock()

	go s.runTrack(conn, next, genNext)
}

// Skip discards the current track and starts the next queued one. It returns
// the next track, or (nil, nil) when the queue was empty and the session went
// idle.
func (s *Session) Skip() (*track.Track, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.current == nil || (s.state != StatePlaying && s.state != StatePaused) {
		s.mu.Unlock()
		return nil, ErrNothingPlaying
	}

	s.emitLocked(Event{Type: EventTrackEnded, Track: s.current})

	next, err := s.queue.DequeueNext()
	if err != nil {
		s.gen++
		s.current = nil
		s.state = StateIdle
		conn := s.conn
		s.armWatchdogLocked()
		s.emitLocked(Event{Type: EventQueueDrained})
		s.mu.Unlock()
		if conn != nil {
			conn.Stop()
		}
		return nil, nil
	}

	s.gen++
	gen := s.gen
	s.current = &next
	s.state = StatePlaying
	conn := s.conn
	s.emitLocked(Event{Type: EventTrackStarted, Track: &next})
	s.mu.Unlock()

	go s.runTrack(conn, next, gen)
	return &next, nil
}

// Stop clears the queue, discards the current track, and releases the
// transport connection. The session stays usable for later plays.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.teardownLocked()
	s.mu.Unlock()
	return nil
}

// teardownLocked cancels all in-flight work and releases the connection.
// Must be called with the mutex held.
func (s *Session) teardownLocked() {
	s.gen++
	if s.connectCancel != nil {
		s.connectCancel()
		s.connectCancel = nil
	}
	s.stopWatchdogLocked()
	s.queue.Clear()
	s.current = nil
	s.state = StateDisconnecting
	s.manager.Disconnect()
	s.conn = nil
	s.state = StateIdle
}

// Pause suspends playback.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StatePlaying {
		return ErrNotPlaying
	}

	s.conn.Pause()
	s.state = StatePaused
	if s.cfg.PauseCountsAsIdle {
		s.armWatchdogLocked()
	}
	return nil
}

// Resume restarts paused playback.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StatePaused {
		return ErrNotPaused
	}

	s.stopWatchdogLocked()
	s.conn.SetVolume(s.volume)
	s.conn.Resume()
	s.state = StatePlaying
	return nil
}

// SetVolume stores the volume and applies it immediately when playing.
func (s *Session) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return ErrInvalidVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.volume = volume
	if s.conn != nil && s.state == StatePlaying {
		s.conn.SetVolume(volume)
	}
	return nil
}

// Volume returns the configured volume.
func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// RemoveAt removes the queued track at a 1-based position. The currently
// playing track is not part of the queue and cannot be removed this way.
func (s *Session) RemoveAt(position int) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return track.Track{}, ErrSessionClosed
	}
	return s.queue.RemoveAt(position)
}

// Snapshot returns a read-only view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *track.Track
	if s.current != nil {
		c := *s.current
		current = &c
	}
	return Snapshot{
		State:   s.state,
		Volume:  s.volume,
		Current: current,
		Queue:   s.queue.Snapshot(),
	}
}

// Close tears the session down permanently, releasing the connection before
// the registry drops its reference. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closeLocked()
	s.mu.Unlock()
}

// closeLocked performs the permanent teardown. Must be called with the mutex
// held and closed still false.
func (s *Session) closeLocked() {
	s.emitLocked(Event{Type: EventClosed})
	s.closed = true
	close(s.events)
	s.teardownLocked()
}

// closeIfGen closes the session only while gen is still current and the
// session is in a watchdog-eligible state. Check and close happen under one
// lock acquisition, so a play that slips in after the watchdog fires cannot
// be torn down.
func (s *Session) closeIfGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return false
	}
	idle := s.state == StateIdle || (s.cfg.PauseCountsAsIdle && s.state == StatePaused)
	if !idle {
		return false
	}
	s.closeLocked()
	return true
}

// handleConnectionLoss reacts to an asynchronous transport loss reported by
// the connection manager. The current track is discarded; the queue is kept
// so a later play can pick it up.
func (s *Session) handleConnectionLoss(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	zlog.Warn().Str("guild", s.guildID).Err(err).Msg("playback: connection lost, session going idle")
	s.gen++
	lost := s.current
	s.current = nil
	s.conn = nil
	s.stopWatchdogLocked()
	s.state = StateIdle
	if lost != nil {
		s.emitLocked(Event{Type: EventPlaybackError, Track: lost, Err: err})
	}
	s.mu.Unlock()
}

// armWatchdogLocked schedules the inactivity watchdog for the current
// generation. Must be called with the mutex held, after the transition that
// makes the session idle-but-connected.
func (s *Session) armWatchdogLocked() {
	s.stopWatchdogLocked()
	if s.conn == nil || s.cfg.IdleTimeout <= 0 {
		return
	}
	gen := s.gen
	s.watchdog = time.AfterFunc(s.cfg.IdleTimeout, func() { s.watchdogFire(gen) })
}

// stopWatchdogLocked cancels a pending watchdog, if any.
func (s *Session) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

// watchdogFire tears the session down after sustained inactivity. A fire
// carrying a stale generation lost the race against a new play and is
// ignored; the close itself re-validates the generation so the race cannot
// reopen between the check and the teardown.
func (s *Session) watchdogFire(gen uint64) {
	if !s.closeIfGen(gen) {
		return
	}

	zlog.Info().Str("guild", s.guildID).Dur("idle_timeout", s.cfg.IdleTimeout).Msg("playback: idle timeout, tearing session down")
	if s.onTeardown != nil {
		s.onTeardown(s.guildID)
	}
}

// emitLocked sends a session event without blocking. Must be called with the
// mutex held and before closed is set, so no send can race the channel close.
func (s *Session) emitLocked(e Event) {
	select {
	case s.events <- e:
	default:
		zlog.Debug().Str("guild", s.guildID).Str("event", e.Type.String()).Msg("playback: event dropped, slow consumer")
	}
}
