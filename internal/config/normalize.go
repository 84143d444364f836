package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeDemux()
	c.normalizeAudio()
	c.normalizeSubtitles()
	c.normalizeOpenSubtitles()
	c.Inspect.Bind = strings.TrimSpace(c.Inspect.Bind)
	if c.Inspect.Bind == "" {
		c.Inspect.Bind = defaultInspectBind
	}
	if strings.TrimSpace(c.Fonts.Dir) == "" {
		c.Fonts.Dir = defaultFontsDir
	}
	dir, err := ExpandPath(strings.TrimSpace(c.Fonts.Dir))
	if err != nil {
		return fmt.Errorf("fonts.dir: %w", err)
	}
	c.Fonts.Dir = dir
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeDemux() {
	if c.Demux.MaxVideoPackets == 0 {
		c.Demux.MaxVideoPackets = defaultMaxVideoPackets
	}
	if c.Demux.MaxAudioPackets == 0 {
		c.Demux.MaxAudioPackets = defaultMaxAudioPackets
	}
	if c.Demux.MaxSubtitlePackets == 0 {
		c.Demux.MaxSubtitlePackets = defaultMaxSubtitlePackets
	}
	if c.Demux.ChunkSize == 0 {
		c.Demux.ChunkSize = defaultChunkSize
	}
	if c.Demux.CacheChunks == 0 {
		c.Demux.CacheChunks = defaultCacheChunks
	}
	if c.Demux.MetadataCacheSize == 0 {
		c.Demux.MetadataCacheSize = defaultMetadataCacheSize
	}
}

func (c *Config) normalizeAudio() {
	c.Audio.AACFraming = strings.ToLower(strings.TrimSpace(c.Audio.AACFraming))
	if c.Audio.AACFraming == "" {
		c.Audio.AACFraming = defaultAACFraming
	}
	c.Audio.PreferredLanguage = strings.TrimSpace(c.Audio.PreferredLanguage)
}

func (c *Config) normalizeSubtitles() {
	if c.Subtitles.WindowBefore == 0 {
		c.Subtitles.WindowBefore = defaultWindowBefore
	}
	if c.Subtitles.WindowAfter == 0 {
		c.Subtitles.WindowAfter = defaultWindowAfter
	}
	if c.Subtitles.CoverTolerance == 0 {
		c.Subtitles.CoverTolerance = defaultCoverTolerance
	}
	if c.Subtitles.DebounceMS == 0 {
		c.Subtitles.DebounceMS = defaultDebounceMS
	}
	if c.Subtitles.SeekThreshold == 0 {
		c.Subtitles.SeekThreshold = defaultSeekThreshold
	}
	if c.Subtitles.DedupeTolerance == 0 {
		c.Subtitles.DedupeTolerance = defaultDedupeTolerance
	}
	c.Subtitles.PreferredLanguage = strings.TrimSpace(c.Subtitles.PreferredLanguage)
}

func (c *Config) normalizeOpenSubtitles() {
	c.OpenSubtitles.APIKey = strings.TrimSpace(c.OpenSubtitles.APIKey)
	if c.OpenSubtitles.APIKey == "" {
		if value, ok := os.LookupEnv("OPENSUBTITLES_API_KEY"); ok {
			c.OpenSubtitles.APIKey = strings.TrimSpace(value)
		}
	}
	c.OpenSubtitles.UserToken = strings.TrimSpace(c.OpenSubtitles.UserToken)
	if c.OpenSubtitles.UserToken == "" {
		if value, ok := os.LookupEnv("OPENSUBTITLES_USER_TOKEN"); ok {
			c.OpenSubtitles.UserToken = strings.TrimSpace(value)
		}
	}
	c.OpenSubtitles.UserAgent = strings.TrimSpace(c.OpenSubtitles.UserAgent)
	if c.OpenSubtitles.UserAgent == "" {
		c.OpenSubtitles.UserAgent = defaultOpenSubtitlesUserAgent
	}
	c.OpenSubtitles.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenSubtitles.BaseURL), "/")
	if c.OpenSubtitles.BaseURL == "" {
		c.OpenSubtitles.BaseURL = defaultOpenSubtitlesBaseURL
	}
	if c.OpenSubtitles.RequestsPerSecond == 0 {
		c.OpenSubtitles.RequestsPerSecond = defaultOpenSubtitlesRequestsPerS
	}

	langs := make([]string, 0, len(c.OpenSubtitles.Languages))
	seen := make(map[string]struct{}, len(c.OpenSubtitles.Languages))
	for _, lang := range c.OpenSubtitles.Languages {
		normalized := strings.ToLower(strings.TrimSpace(lang))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		langs = append(langs, normalized)
	}
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	c.OpenSubtitles.Languages = langs
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "text", "console":
		c.Logging.Format = "text"
	case "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
