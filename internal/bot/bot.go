// Package bot exposes playback sessions to Discord through slash commands.
package bot

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/groovebox/internal/app/playback"
)

// Config holds the bot's own settings, separate from playback behaviour.
type Config struct {
	// PlayRatePerMinute caps /play invocations per guild.
	PlayRatePerMinute int
}

// Bot wires gateway events to per-guild playback sessions.
type Bot struct {
	session  *discordgo.Session
	registry *playback.Registry
	cfg      Config

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter // guildID -> /play limiter
	announceC map[string]string        // guildID -> text channel for announcements
}

// New creates a bot bound to an unopened gateway session.
func New(session *discordgo.Session, registry *playback.Registry, cfg Config) *Bot {
	if cfg.PlayRatePerMinute <= 0 {
		cfg.PlayRatePerMinute = 10
	}
	return &Bot{
		session:   session,
		registry:  registry,
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
		announceC: make(map[string]string),
	}
}

// Start registers gateway handlers, opens the session, and registers the
// slash commands globally.
func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteraction)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open gateway session")
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefinitions())
	if err != nil {
		return errors.Wrap(err, "failed to register slash commands")
	}
	zlog.Info().Int("commands", len(registered)).Msg("slash commands registered")
	return nil
}

// Stop tears down all sessions and closes the gateway connection.
func (b *Bot) Stop() {
	b.registry.Shutdown()
	if err := b.session.Close(); err != nil {
		zlog.Warn().Err(err).Msg("gateway close failed")
	}
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("gateway ready")
}

// onVoiceStateUpdate tears the guild's session down when the bot itself is
// removed from a voice channel, e.g. by a server moderator.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.UserID != s.State.User.ID || e.ChannelID != "" {
		return
	}
	if _, ok := b.registry.Get(e.GuildID); !ok {
		return
	}
	zlog.Info().Str("guild_id", e.GuildID).Msg("bot removed from voice channel, tearing down session")
	b.registry.Remove(e.GuildID)
}

// playLimiter returns the guild's /play rate limiter, creating it on first
// use.
func (b *Bot) playLimiter(guildID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[guildID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.cfg.PlayRatePerMinute)), b.cfg.PlayRatePerMinute)
		b.limiters[guildID] = l
	}
	return l
}

// rememberAnnounceChannel records where playback events for the guild should
// be announced. The most recent /play channel wins.
func (b *Bot) rememberAnnounceChannel(guildID, channelID string) {
	b.mu.Lock()
	b.announceC[guildID] = channelID
	b.mu.Unlock()
}

func (b *Bot) announceChannel(guildID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.announceC[guildID]
	return c, ok
}

// watchEvents consumes a session's event stream and posts now-playing and
// error announcements. Runs until the session is closed.
func (b *Bot) watchEvents(sess *playback.Session) {
	guildID := sess.GuildID()
	for ev := range sess.Events() {
		channelID, ok := b.announceChannel(guildID)
		if !ok {
			continue
		}
		var embed *discordgo.MessageEmbed
		switch ev.Type {
		case playback.EventTrackStarted:
			embed = nowPlayingEmbed(ev.Track, sess.Volume())
		case playback.EventPlaybackError:
			embed = errorEmbed(ev)
		default:
			continue
		}
		if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
			zlog.Warn().Err(err).Str("guild_id", guildID).Msg("announcement failed")
		}
	}
}

// guildSession fetches or creates the guild's playback session, starting the
// event watcher on creation.
func (b *Bot) guildSession(guildID string) *playback.Session {
	sess, created := b.registry.GetOrCreate(guildID)
	if created {
		go b.watchEvents(sess)
	}
	return sess
}

// userVoiceChannel returns the voice channel the interaction's user is in.
func (b *Bot) userVoiceChannel(guildID, userID string) (string, error) {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", errors.New("user is not in a voice channel")
	}
	return vs.ChannelID, nil
}
