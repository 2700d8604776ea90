package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/osa030/groovebox/internal/app/playback"
	"github.com/osa030/groovebox/internal/domain/track"
)

const (
	embedColor      = 0x5865F2
	embedColorError = 0xED4245

	queueDisplayLimit = 10
)

func simpleEmbed(description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: description, Color: embedColor}
}

func nowPlayingEmbed(t *track.Track, volume int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: trackLine(t),
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: t.FormatDuration(), Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%d%%", volume), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Requested by " + t.Requester.Name},
	}
	if t.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
	}
	return embed
}

func enqueuedEmbed(t *track.Track, position int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Added to Queue",
		Description: fmt.Sprintf("%s\nPosition: %d", trackLine(t), position),
		Color:       embedColor,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Requested by " + t.Requester.Name},
	}
}

func queueEmbed(snap playback.Snapshot) *discordgo.MessageEmbed {
	var sb strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&sb, "**Now:** %s [%s]\n\n", trackLine(snap.Current), snap.Current.FormatDuration())
	}
	if len(snap.Queue) == 0 {
		if snap.Current == nil {
			sb.WriteString("The queue is empty.")
		} else {
			sb.WriteString("The queue is empty after this track.")
		}
	}
	for i, t := range snap.Queue {
		if i >= queueDisplayLimit {
			fmt.Fprintf(&sb, "... and %d more", len(snap.Queue)-queueDisplayLimit)
			break
		}
		fmt.Fprintf(&sb, "%d. %s [%s] by %s\n", i+1, trackLine(&t), t.FormatDuration(), t.Requester.Name)
	}
	return &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: sb.String(),
		Color:       embedColor,
	}
}

func errorEmbed(ev playback.Event) *discordgo.MessageEmbed {
	description := "Playback hit an error."
	if ev.Track != nil {
		description = fmt.Sprintf("Playback of **%s** hit an error.", ev.Track.Title)
	}
	return &discordgo.MessageEmbed{Description: description, Color: embedColorError}
}

// trackLine renders a track as a markdown link when a source URL is known.
func trackLine(t *track.Track) string {
	if t.SourceURL != "" {
		return fmt.Sprintf("[%s](%s)", t.Title, t.SourceURL)
	}
	return t.Title
}
