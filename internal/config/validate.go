package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDemux(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateSubtitles(); err != nil {
		return err
	}
	if c.OpenSubtitles.RequestsPerSecond < 0 {
		return errors.New("opensubtitles.requests_per_second must not be negative")
	}
	return c.validateLogging()
}

func (c *Config) validateDemux() error {
	if err := ensurePositiveMap(map[string]int{
		"demux.max_video_packets":    c.Demux.MaxVideoPackets,
		"demux.max_audio_packets":    c.Demux.MaxAudioPackets,
		"demux.max_subtitle_packets": c.Demux.MaxSubtitlePackets,
		"demux.cache_chunks":         c.Demux.CacheChunks,
		"demux.metadata_cache_size":  c.Demux.MetadataCacheSize,
	}); err != nil {
		return err
	}
	if c.Demux.ChunkSize < 4096 {
		return errors.New("demux.chunk_size must be at least 4096 bytes")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.SwitchGraceMS < 0 {
		return errors.New("audio.switch_grace_ms must not be negative")
	}
	switch c.Audio.AACFraming {
	case "adts", "raw":
	default:
		return fmt.Errorf("audio.aac_framing must be adts or raw, got %q", c.Audio.AACFraming)
	}
	return nil
}

func (c *Config) validateSubtitles() error {
	s := c.Subtitles
	if s.WindowBefore < 0 || s.WindowAfter <= 0 {
		return errors.New("subtitles.window_before must be >= 0 and subtitles.window_after positive")
	}
	if s.CoverTolerance < 0 {
		return errors.New("subtitles.cover_tolerance must be >= 0")
	}
	if s.DebounceMS < 0 {
		return errors.New("subtitles.debounce_ms must be >= 0")
	}
	if s.SeekThreshold <= 0 {
		return errors.New("subtitles.seek_threshold must be positive")
	}
	if s.DedupeTolerance < 0 {
		return errors.New("subtitles.dedupe_tolerance must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
