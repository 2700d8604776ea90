package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/groovebox/internal/app/playback"
	"github.com/osa030/groovebox/internal/app/queue"
	"github.com/osa030/groovebox/internal/domain/track"
)

const playTimeout = 60 * time.Second

func commandDefinitions() []*discordgo.ApplicationCommand {
	minVolume := float64(0)
	minPosition := float64(1)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a track, or queue it if something is already playing",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Link or search query",
					Required:    true,
				},
			},
		},
		{Name: "skip", Description: "Skip to the next track"},
		{Name: "stop", Description: "Stop playback, clear the queue, and leave the channel"},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume the paused track"},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Volume, 0-100",
					Required:    true,
					MinValue:    &minVolume,
					MaxValue:    100,
				},
			},
		},
		{Name: "queue", Description: "Show the queue"},
		{
			Name:        "remove",
			Description: "Remove a track from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "position",
					Description: "Queue position to remove",
					Required:    true,
					MinValue:    &minPosition,
				},
			},
		},
		{Name: "nowplaying", Description: "Show the current track"},
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Type != discordgo.InteractionApplicationCommand || e.GuildID == "" {
		return
	}

	data := e.ApplicationCommandData()
	zlog.Debug().Str("guild_id", e.GuildID).Str("command", data.Name).Msg("interaction received")

	switch data.Name {
	case "play":
		b.handlePlay(s, e)
	case "skip":
		b.handleSkip(s, e)
	case "stop":
		b.handleStop(s, e)
	case "pause":
		b.handlePause(s, e)
	case "resume":
		b.handleResume(s, e)
	case "volume":
		b.handleVolume(s, e)
	case "queue":
		b.handleQueue(s, e)
	case "remove":
		b.handleRemove(s, e)
	case "nowplaying":
		b.handleNowPlaying(s, e)
	}
}

func interactionRequester(e *discordgo.InteractionCreate) track.Requester {
	u := e.Member.User
	name := u.Username
	if e.Member.Nick != "" {
		name = e.Member.Nick
	}
	return track.Requester{ID: u.ID, Name: name}
}

func (b *Bot) handlePlay(s *discordgo.Session, e *discordgo.InteractionCreate) {
	query := e.ApplicationCommandData().Options[0].StringValue()
	requester := interactionRequester(e)

	if !b.playLimiter(e.GuildID).Allow() {
		respondEphemeral(s, e, "Slow down, too many play requests. Try again in a bit.")
		return
	}

	channelID, err := b.userVoiceChannel(e.GuildID, requester.ID)
	if err != nil {
		respondEphemeral(s, e, "Join a voice channel first.")
		return
	}

	// Resolution can take several seconds; defer so the interaction token
	// does not expire.
	if err := s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		zlog.Warn().Err(err).Msg("interaction defer failed")
		return
	}

	b.rememberAnnounceChannel(e.GuildID, e.ChannelID)
	sess := b.guildSession(e.GuildID)

	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()
	res, err := sess.Play(ctx, channelID, query, requester)
	if err != nil {
		followUpError(s, e, playErrorMessage(err))
		return
	}

	if res.Started {
		followUpEmbed(s, e, nowPlayingEmbed(&res.Track, sess.Volume()))
		return
	}
	followUpEmbed(s, e, enqueuedEmbed(&res.Track, res.Position))
}

func playErrorMessage(err error) string {
	switch {
	case errors.Is(err, playback.ErrResolutionFailed):
		return "Could not find anything playable for that query."
	case errors.Is(err, queue.ErrQueueFull):
		return "The queue is full."
	case errors.Is(err, playback.ErrStopped):
		return "Playback was stopped before the track could start."
	default:
		return "Could not start playback: " + err.Error()
	}
}

func (b *Bot) handleSkip(s *discordgo.Session, e *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "Nothing is playing.")
		return
	}
	next, err := sess.Skip()
	switch {
	case errors.Is(err, playback.ErrNothingPlaying), errors.Is(err, playback.ErrSessionClosed):
		respondEphemeral(s, e, "Nothing is playing.")
	case err != nil:
		respondEphemeral(s, e, "Skip failed: "+err.Error())
	case next == nil:
		respondEmbed(s, e, simpleEmbed("Skipped. The queue is empty."))
	default:
		respondEmbed(s, e, nowPlayingEmbed(next, sess.Volume()))
	}
}

func (b *Bot) handleStop(s *discordgo.Session, e *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "Nothing is playing.")
		return
	}
	if err := sess.Stop(); err != nil {
		respondEphemeral(s, e, "Stop failed: "+err.Error())
		return
	}
	respondEmbed(s, e, simpleEmbed("Stopped and cleared the queue."))
}

func (b *Bot) handlePause(s *discordgo.Session, e *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "Nothing is playing.")
		return
	}
	if err := sess.Pause(); err != nil {
		respondEphemeral(s, e, "Nothing to pause.")
		return
	}
	respondEmbed(s, e, simpleEmbed("Paused."))
}

func (b *Bot) handleResume(s *discordgo.Session, e *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "Nothing is paused.")
		return
	}
	if err := sess.Resume(); err != nil {
		respondEphemeral(s, e, "Nothing to resume.")
		return
	}
	respondEmbed(s, e, simpleEmbed("Resumed."))
}

func (b *Bot) handleVolume(s *discordgo.Session, e *discordgo.InteractionCreate) {
	level := int(e.ApplicationCommandData().Options[0].IntValue())
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "Nothing is playing.")
		return
	}
	if err := sess.SetVolume(level); err != nil {
		respondEphemeral(s, e, "Volume must be between 0 and 100.")
		return
	}
	respondEmbed(s, e, simpleEmbed(fmt.Sprintf("Volume set to %d%%.", level)))
}

func (b *Bot) handleQueue(s *discordgo.Session, e *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "The queue is empty.")
		return
	}
	respondEmbed(s, e, queueEmbed(sess.Snapshot()))
}

func (b *Bot) handleRemove(s *discordgo.Session, e *discordgo.InteractionCreate) {
	position := int(e.ApplicationCommandData().Options[0].IntValue())
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "The queue is empty.")
		return
	}
	removed, err := sess.RemoveAt(position)
	if err != nil {
		respondEphemeral(s, e, fmt.Sprintf("No track at position %d.", position))
		return
	}
	respondEmbed(s, e, simpleEmbed(fmt.Sprintf("Removed **%s** from the queue.", removed.Title)))
}

func (b *Bot) handleNowPlaying(s *discordgo.Session, e *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(e.GuildID)
	if !ok {
		respondEphemeral(s, e, "Nothing is playing.")
		return
	}
	snap := sess.Snapshot()
	if snap.Current == nil {
		respondEphemeral(s, e, "Nothing is playing.")
		return
	}
	respondEmbed(s, e, nowPlayingEmbed(snap.Current, snap.Volume))
}

func respondEmbed(s *discordgo.Session, e *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("interaction response failed")
	}
}

func respondEphemeral(s *discordgo.Session, e *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("interaction response failed")
	}
}

func followUpEmbed(s *discordgo.Session, e *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, err := s.FollowupMessageCreate(e.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("interaction followup failed")
	}
}

func followUpError(s *discordgo.Session, e *discordgo.InteractionCreate, msg string) {
	_, err := s.FollowupMessageCreate(e.Interaction, true, &discordgo.WebhookParams{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("interaction followup failed")
	}
}
