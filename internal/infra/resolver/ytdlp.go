// Package resolver resolves free-form user queries into playable tracks
// using yt-dlp, with a YouTube search fallback for non-URL queries.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/groovebox/internal/domain/track"
)

// Settings represents the free-form resolver settings from the config file.
type Settings struct {
	// CookiesFile is passed to yt-dlp for age-restricted or throttled content.
	CookiesFile       string `mapstructure:"cookies_file"`
	SearchTimeoutSec  int    `mapstructure:"search_timeout_sec" default:"10" validate:"gte=1"`
	ResolveTimeoutSec int    `mapstructure:"resolve_timeout_sec" default:"30" validate:"gte=1"`
}

// YTDLP resolves queries through yt-dlp. Plain text queries are first turned
// into a watch URL via YouTube search.
type YTDLP struct {
	settings Settings
	search   *ytsearch.Client
}

// New creates a new yt-dlp backed resolver.
func New(settings Settings) *YTDLP {
	return &YTDLP{
		settings: settings,
		search:   ytsearch.NewClient(nil),
	}
}

// Resolve implements the playback resolver interface.
func (r *YTDLP) Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error) {
	u := query
	if !isURL(query) {
		resolved, err := r.searchURL(ctx, query)
		if err != nil {
			return track.Track{}, err
		}
		u = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.settings.ResolveTimeoutSec)*time.Second)
	defer cancel()

	meta, err := r.extractMetadata(ctx, u)
	if err != nil {
		return track.Track{}, err
	}

	return track.Track{
		ID:         uuid.NewString(),
		Title:      meta.Title,
		Duration:   meta.Duration,
		StreamURL:  meta.StreamURL,
		SourceURL:  u,
		Thumbnail:  meta.Thumbnail,
		Requester:  requester,
		EnqueuedAt: time.Now(),
	}, nil
}

// searchURL turns a plain text query into a watch URL via YouTube search.
func (r *YTDLP) searchURL(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.settings.SearchTimeoutSec)*time.Second)
	defer cancel()

	res, err := r.search.Search(ctx, query)
	if err != nil {
		return "", errors.Wrapf(err, "search failed for %q", query)
	}
	if len(res.Results) == 0 {
		return "", errors.Newf("no results for %q", query)
	}
	return "https://www.youtube.com/watch?v=" + res.Results[0].VideoID, nil
}

type metadata struct {
	StreamURL string
	Title     string
	Duration  time.Duration
	Thumbnail string
}

// extractMetadata asks yt-dlp for the direct audio stream URL and display
// metadata in a single invocation.
func (r *YTDLP) extractMetadata(ctx context.Context, u string) (*metadata, error) {
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoPlaylist().
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Print("%(url)s\t%(title)s\t%(duration)s\t%(thumbnail)s").
		SkipDownload()
	if r.settings.CookiesFile != "" {
		cmd = cmd.Cookies(r.settings.CookiesFile)
	}

	res, err := cmd.Run(ctx, u)
	if err != nil {
		if res != nil {
			zlog.Debug().Str("url", u).Str("stderr", res.Stderr).Msg("yt-dlp metadata extraction failed")
		}
		return nil, errors.Wrapf(err, "yt-dlp failed for %q", u)
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if m, ok := parseMetadataLine(l); ok {
			return m, nil
		}
	}
	return nil, errors.Newf("no usable metadata for %q", u)
}

// parseMetadataLine parses one tab-separated print line from yt-dlp.
func parseMetadataLine(l string) (*metadata, bool) {
	ps := strings.Split(l, "\t")
	if len(ps) < 4 || ps[0] == "" || ps[0] == "NA" {
		return nil, false
	}
	d, _ := time.ParseDuration(ps[2] + "s")
	m := &metadata{StreamURL: ps[0], Title: ps[1], Duration: d}
	if ps[3] != "NA" {
		m.Thumbnail = ps[3]
	}
	return m, true
}

func isURL(q string) bool {
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}
