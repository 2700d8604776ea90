package playback

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/groovebox/internal/app/voice"
)

// Registry is the process-wide map from guild ID to its playback session.
// Sessions are created lazily on first use and removed on teardown; at most
// one session object exists per guild, even under concurrent first access.
type Registry struct {
	cfg      Config
	resolver Resolver
	dialer   voice.Dialer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg Config, resolver Resolver, dialer voice.Dialer) *Registry {
	return &Registry{
		cfg:      cfg,
		resolver: resolver,
		dialer:   dialer,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the guild's session, creating it when absent. The
// second return value is true when a new session was created.
func (r *Registry) GetOrCreate(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		if !s.Closed() {
			return s, false
		}
		// A closed session still in the map violates the one-session
		// invariant. Drop it and recreate; the damage stays local to this
		// guild.
		zlog.Error().Str("guild", guildID).Msg("playback: closed session found in registry, recreating")
		delete(r.sessions, guildID)
	}

	s := newSession(guildID, r.cfg, r.resolver, r.dialer, r.Remove)
	r.sessions[guildID] = s
	return s, true
}

// Get returns the guild's session without creating one.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove tears the guild's session down and drops it from the registry. The
// connection is released before the map entry disappears.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.Close()

	r.mu.Lock()
	if current, stillThere := r.sessions[guildID]; stillThere && current == s {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every session, releasing all transport connections.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
