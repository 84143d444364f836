package subtitle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/reader"
)

// DefaultCueDuration is used for subtitle packets without a duration.
const DefaultCueDuration = 5.0

// maxRemoteSubtitle bounds downloaded subtitle files.
const maxRemoteSubtitle = 32 << 20

var errNotSubtitle = errors.New("subtitle: not a subtitle track")

// ContainerFetcher reads cues for one subtitle track of the open container.
type ContainerFetcher struct {
	opener reader.Opener
	track  media.Track
	ass    bool
}

// NewContainerFetcher returns a fetcher for track, which must be a text
// subtitle track.
func NewContainerFetcher(opener reader.Opener, track media.Track) (*ContainerFetcher, error) {
	if track.Kind != media.KindSubtitle {
		return nil, fmt.Errorf("%w: track %d is %s", errNotSubtitle, track.ID, track.Kind)
	}
	if !matroska.IsTextSubtitle(track.Codec) && !matroska.IsASS(track.Codec) {
		return nil, fmt.Errorf("subtitle: track %d codec %s is not text", track.ID, track.Codec)
	}
	return &ContainerFetcher{opener: opener, track: track, ass: matroska.IsASS(track.Codec)}, nil
}

// Track returns the subtitle track.
func (f *ContainerFetcher) Track() media.Track { return f.track }

// Fetch seeks to from and converts packets until one starts after to.
func (f *ContainerFetcher) Fetch(ctx context.Context, from, to float64) ([]Cue, error) {
	seq, err := f.opener.OpenSequence(ctx, f.track, from)
	if err != nil {
		return nil, err
	}
	defer seq.Release()

	var cues []Cue
	for {
		p, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cues, err
		}
		if p.Timestamp > to {
			break
		}
		if c, ok := f.cue(p); ok {
			cues = append(cues, c)
		}
	}
	sortCues(cues)
	return cues, nil
}

func (f *ContainerFetcher) cue(p media.Packet) (Cue, bool) {
	end := p.End()
	if p.Duration <= 0 {
		end = p.Timestamp + DefaultCueDuration
	}
	text := decodeText(p.Data)
	if f.ass {
		c := CueFromEvent(ParseDialogue(text), p.Timestamp, end)
		return c, c.Text != ""
	}
	text = strings.TrimSpace(text)
	return Cue{Start: p.Timestamp, End: end, Text: text}, text != ""
}

// decodeText returns b as a string, replacing invalid UTF-8 as Latin-1.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

// RemoteFetcher serves cues from a subtitle file that is downloaded and
// parsed once. Concurrent first fetches share one download.
type RemoteFetcher struct {
	load func(ctx context.Context) ([]byte, error)

	group singleflight.Group
	mu    sync.Mutex
	cues  []Cue
	done  bool
}

// NewRemoteFetcher creates a fetcher that calls load on first use.
func NewRemoteFetcher(load func(ctx context.Context) ([]byte, error)) *RemoteFetcher {
	return &RemoteFetcher{load: load}
}

// HTTPLoader returns a load function that GETs url with client.
func HTTPLoader(client *http.Client, url string) func(ctx context.Context) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("subtitle: GET %s: %s", url, resp.Status)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxRemoteSubtitle))
	}
}

// Fetch returns the cues overlapping [from, to].
func (f *RemoteFetcher) Fetch(ctx context.Context, from, to float64) ([]Cue, error) {
	cues, err := f.all(ctx)
	if err != nil {
		return nil, err
	}
	lo := 0
	for lo < len(cues) && cues[lo].End < from {
		lo++
	}
	var out []Cue
	for _, c := range cues[lo:] {
		if c.Start > to {
			break
		}
		if c.End >= from {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *RemoteFetcher) all(ctx context.Context) ([]Cue, error) {
	f.mu.Lock()
	if f.done {
		cues := f.cues
		f.mu.Unlock()
		return cues, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do("load", func() (any, error) {
		f.mu.Lock()
		if f.done {
			cues := f.cues
			f.mu.Unlock()
			return cues, nil
		}
		f.mu.Unlock()
		data, err := f.load(ctx)
		if err != nil {
			return nil, err
		}
		cues := Parse(data)
		f.mu.Lock()
		f.cues, f.done = cues, true
		f.mu.Unlock()
		return cues, nil
	})
	if err != nil {
		// Failed downloads are retried on the next fetch.
		return nil, err
	}
	return v.([]Cue), nil
}

// Parse detects the format of a subtitle file and returns its cues sorted
// by start. ASS/SSA scripts are recognized by their [Events] section,
// anything else is parsed as SRT.
func Parse(data []byte) []Cue {
	if strings.Contains(strings.ToLower(string(data)), "[events]") {
		return ParseASS(data)
	}
	return ParseSRT(data)
}
