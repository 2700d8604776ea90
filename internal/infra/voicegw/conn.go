package voicegw

import (
	"encoding/binary"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"layeh.com/gopus"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz

	// readyPollInterval and readyLossThreshold control loss detection: the
	// connection is considered lost after this many consecutive not-ready
	// polls, giving the gateway time to recover on its own first.
	readyPollInterval  = time.Second
	readyLossThreshold = 10
)

// conn is a live voice channel connection. One PCM stream plays at a time;
// starting a new stream stops the previous one.
type conn struct {
	vc        *discordgo.VoiceConnection
	channelID string

	mu   sync.Mutex
	stop chan struct{} // stops the current stream, nil when idle

	paused atomic.Bool
	volume atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(vc *discordgo.VoiceConnection, channelID string) *conn {
	c := &conn{
		vc:        vc,
		channelID: channelID,
		closed:    make(chan struct{}),
	}
	c.volume.Store(100)
	go c.watchReady()
	return c
}

func (c *conn) ChannelID() string { return c.channelID }

func (c *conn) Play(streamURL string) (<-chan error, error) {
	select {
	case <-c.closed:
		return nil, errors.New("connection is closed")
	default:
	}

	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	c.paused.Store(false)

	done := make(chan error, 1)
	go c.stream(streamURL, stop, done)
	return done, nil
}

func (c *conn) Pause()  { c.paused.Store(true) }
func (c *conn) Resume() { c.paused.Store(false) }

func (c *conn) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	c.volume.Store(int32(volume))
}

func (c *conn) Stop() {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()
}

func (c *conn) Closed() <-chan struct{} { return c.closed }

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.Stop()
		if err := c.vc.Disconnect(); err != nil {
			zlog.Debug().Err(err).Str("channel_id", c.channelID).Msg("voice disconnect failed")
		}
	})
	return nil
}

// stream decodes the source with ffmpeg and pushes Opus frames until the
// stream ends, is stopped, or the connection goes away. Exactly one value is
// sent on done.
func (c *conn) stream(streamURL string, stop <-chan struct{}, done chan<- error) {
	cmd := exec.Command("ffmpeg",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", streamURL,
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-vn",
		"-loglevel", "warning",
		"pipe:1",
	)
	pcm, err := cmd.StdoutPipe()
	if err != nil {
		done <- errors.Wrap(err, "ffmpeg stdout pipe")
		return
	}
	if err := cmd.Start(); err != nil {
		done <- errors.Wrap(err, "ffmpeg start")
		return
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		done <- errors.Wrap(err, "opus encoder")
		return
	}

	if err := c.vc.Speaking(true); err != nil {
		zlog.Debug().Err(err).Msg("speaking(true) failed")
	}
	defer func() {
		if err := c.vc.Speaking(false); err != nil {
			zlog.Debug().Err(err).Msg("speaking(false) failed")
		}
	}()

	pcmBuf := make([]byte, frameSize*channels*2)
	frame := make([]int16, frameSize*channels)

	for {
		select {
		case <-stop:
			done <- nil
			return
		case <-c.closed:
			done <- errors.New("connection closed mid-stream")
			return
		default:
		}

		if c.paused.Load() {
			select {
			case <-stop:
				done <- nil
				return
			case <-c.closed:
				done <- errors.New("connection closed mid-stream")
				return
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}

		if _, err := io.ReadFull(pcm, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				done <- nil
			} else {
				done <- errors.Wrap(err, "pcm read")
			}
			return
		}

		vol := c.volume.Load()
		for i := range frame {
			s := int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
			frame[i] = scaleSample(s, vol)
		}

		opus, err := encoder.Encode(frame, frameSize, len(pcmBuf))
		if err != nil {
			done <- errors.Wrap(err, "opus encode")
			return
		}

		select {
		case c.vc.OpusSend <- opus:
		case <-stop:
			done <- nil
			return
		case <-c.closed:
			done <- errors.New("connection closed mid-stream")
			return
		}
	}
}

// scaleSample applies a linear volume factor to one sample. Arithmetic is
// done in int32 so intermediate values cannot overflow.
func scaleSample(s int16, volume int32) int16 {
	return int16(int32(s) * volume / 100)
}

// watchReady marks the connection lost once the gateway stays not-ready for
// long enough. Brief drops are left to discordgo's own reconnection.
func (c *conn) watchReady() {
	notReady := 0
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.vc.RLock()
			ready := c.vc.Ready
			c.vc.RUnlock()
			if ready {
				notReady = 0
				continue
			}
			notReady++
			if notReady >= readyLossThreshold {
				zlog.Warn().Str("channel_id", c.channelID).Msg("voice connection lost")
				c.closeOnce.Do(func() {
					close(c.closed)
					c.Stop()
					_ = c.vc.Disconnect()
				})
				return
			}
		}
	}
}
