// Package voicegw adapts Discord voice connections to the transport
// interfaces used by the playback layer. Audio is decoded with ffmpeg and
// encoded to Opus before transmission.
package voicegw

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/osa030/groovebox/internal/app/voice"
)

// Dialer joins Discord voice channels through an open gateway session.
type Dialer struct {
	session *discordgo.Session
}

// NewDialer creates a dialer bound to the given gateway session.
func NewDialer(session *discordgo.Session) *Dialer {
	return &Dialer{session: session}
}

// Dial joins the voice channel and returns a live connection. The join is
// abandoned when the context expires; a join that completes after abandonment
// is disconnected immediately so no connection leaks.
func (d *Dialer) Dial(ctx context.Context, guildID, channelID string) (voice.Conn, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joinResult, 1)
	go func() {
		vc, err := d.session.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- joinResult{vc: vc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, errors.Wrap(ctx.Err(), "voice join abandoned")
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "voice join failed for channel %s", channelID)
		}
		return newConn(r.vc, channelID), nil
	}
}
