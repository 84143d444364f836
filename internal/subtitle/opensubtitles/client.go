// Package opensubtitles is a small client for the OpenSubtitles REST API,
// used to find and download external subtitles for a title.
package opensubtitles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/lumen/internal/metrics"
)

const (
	defaultBaseURL     = "https://api.opensubtitles.com/api/v1"
	defaultUserAgent   = "Lumen/dev"
	defaultHTTPTimeout = 45 * time.Second
	maxSubtitleSize    = 16 << 20
	maxErrorBody       = 4096
)

// DefaultRequestsPerSecond matches the API's documented anonymous limit.
const DefaultRequestsPerSecond = 1.0

// ErrNoAPIKey is returned by New without an API key.
var ErrNoAPIKey = errors.New("opensubtitles: api key is required")

// Config holds the client settings. Zero values take the defaults.
type Config struct {
	APIKey            string
	UserAgent         string
	UserToken         string
	BaseURL           string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client talks to the REST API. All calls share one token bucket.
type Client struct {
	header  http.Header
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrNoAPIKey
	}
	base, err := url.Parse(orDefault(strings.TrimSpace(cfg.BaseURL), defaultBaseURL))
	if err != nil {
		return nil, fmt.Errorf("opensubtitles: parse base url: %w", err)
	}

	h := http.Header{}
	h.Set("Api-Key", key)
	h.Set("User-Agent", orDefault(strings.TrimSpace(cfg.UserAgent), defaultUserAgent))
	h.Set("Accept", "application/json")
	if tok := strings.TrimSpace(cfg.UserToken); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}

	c := &Client{header: h, base: base, http: cfg.HTTPClient}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SearchRequest filters a subtitle search. Season or Episode select
// episode results; a TMDB or IMDB id alone selects movies.
type SearchRequest struct {
	TMDBID          int64
	ParentTMDBID    int64
	IMDBID          string
	Query           string
	Languages       []string
	Season          int
	Episode         int
	HearingImpaired bool
}

func (r SearchRequest) values() url.Values {
	v := url.Values{}
	setInt := func(k string, n int64) {
		if n > 0 {
			v.Set(k, strconv.FormatInt(n, 10))
		}
	}
	setInt("tmdb_id", r.TMDBID)
	setInt("parent_tmdb_id", r.ParentTMDBID)
	setInt("season_number", int64(r.Season))
	setInt("episode_number", int64(r.Episode))
	if id := sanitizeIMDBID(r.IMDBID); id != "" {
		v.Set("imdb_id", id)
	}
	if q := strings.TrimSpace(r.Query); q != "" {
		v.Set("query", q)
	}
	if len(r.Languages) > 0 {
		v.Set("languages", strings.Join(r.Languages, ","))
	}
	if r.HearingImpaired {
		v.Set("hearing_impaired", "include")
	}
	switch {
	case r.Season > 0 || r.Episode > 0:
		v.Set("type", "episode")
	case r.TMDBID > 0 || v.Has("imdb_id"):
		v.Set("type", "movie")
	}
	v.Set("order_by", "download_count")
	v.Set("order_direction", "desc")
	return v
}

// Subtitle is one search result.
type Subtitle struct {
	ID              string
	FileID          int64
	Language        string
	Release         string
	Downloads       int
	HearingImpaired bool
	AITranslated    bool
}

// DownloadResult is a fetched subtitle file.
type DownloadResult struct {
	Data     []byte
	FileName string
}

// hit is the subset of a search result this package reads.
type hit struct {
	ID    string `json:"id"`
	Attrs struct {
		Language  string `json:"language"`
		Release   string `json:"release"`
		Downloads int    `json:"download_count"`
		HI        bool   `json:"hearing_impaired"`
		AI        bool   `json:"ai_translated"`
		MT        bool   `json:"machine_translated"`
		Files     []struct {
			FileID int64 `json:"file_id"`
		} `json:"files"`
	} `json:"attributes"`
}

// subtitle converts h, reporting false when it has no language or file.
func (h hit) subtitle() (Subtitle, bool) {
	a := h.Attrs
	if a.Language == "" || len(a.Files) == 0 || a.Files[0].FileID == 0 {
		return Subtitle{}, false
	}
	return Subtitle{
		ID:              h.ID,
		FileID:          a.Files[0].FileID,
		Language:        a.Language,
		Release:         a.Release,
		Downloads:       a.Downloads,
		HearingImpaired: a.HI,
		AITranslated:    a.AI || a.MT,
	}, true
}

// Search returns the results with a language and a downloadable file.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Subtitle, error) {
	u := c.base.JoinPath("subtitles")
	u.RawQuery = req.values().Encode()

	var page struct {
		Data []hit `json:"data"`
	}
	if err := c.send(ctx, "search", http.MethodGet, u, nil, &page); err != nil {
		return nil, err
	}
	subs := make([]Subtitle, 0, len(page.Data))
	for _, h := range page.Data {
		if s, ok := h.subtitle(); ok {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// Download asks the API for a link to fileID in format ("srt" when empty)
// and fetches it.
func (c *Client) Download(ctx context.Context, fileID int64, format string) (DownloadResult, error) {
	if fileID <= 0 {
		return DownloadResult{}, errors.New("opensubtitles: invalid file id")
	}
	body := struct {
		FileID int64  `json:"file_id"`
		Format string `json:"sub_format"`
	}{fileID, orDefault(strings.TrimSpace(format), "srt")}

	u := c.base.JoinPath("download")
	var ticket struct {
		Link     string `json:"link"`
		FileName string `json:"file_name"`
	}
	if err := c.send(ctx, "download", http.MethodPost, u, body, &ticket); err != nil {
		return DownloadResult{}, err
	}
	if ticket.Link == "" {
		return DownloadResult{}, errors.New("opensubtitles: download response missing link")
	}
	link, err := u.Parse(ticket.Link)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("opensubtitles: parse download link: %w", err)
	}

	var data []byte
	if err := c.send(ctx, "file", http.MethodGet, link, nil, &data); err != nil {
		return DownloadResult{}, err
	}
	return DownloadResult{Data: data, FileName: ticket.FileName}, nil
}

// Loader returns a function that downloads fileID on demand, suitable for
// subtitle.NewRemoteFetcher.
func (c *Client) Loader(fileID int64, format string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		res, err := c.Download(ctx, fileID, format)
		if err != nil {
			return nil, err
		}
		return res.Data, nil
	}
}

// send performs one rate-limited call. A non-nil in is sent as JSON. out
// is decoded as JSON unless it is a *[]byte, which receives the raw body.
// Only the User-Agent header goes to hosts other than the API's.
func (c *Client) send(ctx context.Context, op, method string, u *url.URL, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("opensubtitles: encode %s: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("opensubtitles: build %s: %w", op, err)
	}
	if u.Host == c.base.Host {
		req.Header = c.header.Clone()
	} else {
		req.Header.Set("User-Agent", c.header.Get("User-Agent"))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.OpenSubtitlesRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("opensubtitles: %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.OpenSubtitlesRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(io.LimitReader(resp.Body, maxSubtitleSize))
		if err != nil {
			return fmt.Errorf("opensubtitles: read %s: %w", op, err)
		}
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opensubtitles: decode %s: %w", op, err)
	}
	return nil
}

// StatusError is an HTTP failure from the API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("opensubtitles: %s failed (%d): %s", e.Op, e.Status, e.Body)
}

// sanitizeIMDBID strips the "tt" prefix and rejects non-numeric ids.
func sanitizeIMDBID(id string) string {
	id = strings.TrimPrefix(strings.TrimSpace(id), "tt")
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return ""
	}
	return id
}
