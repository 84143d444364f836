package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Demux contains container parsing and byte source settings.
type Demux struct {
	MaxVideoPackets    int   `toml:"max_video_packets"`
	MaxAudioPackets    int   `toml:"max_audio_packets"`
	MaxSubtitlePackets int   `toml:"max_subtitle_packets"`
	ChunkSize          int64 `toml:"chunk_size"`
	CacheChunks        int   `toml:"cache_chunks"`
	MetadataCacheSize  int   `toml:"metadata_cache_size"`
}

// Audio contains audio scheduler settings.
type Audio struct {
	SwitchGraceMS     int    `toml:"switch_grace_ms"`
	AACFraming        string `toml:"aac_framing"`
	PreferredLanguage string `toml:"preferred_language"`
}

// Subtitles contains subtitle window cache settings. Times are seconds
// unless the key says otherwise.
type Subtitles struct {
	WindowBefore      float64 `toml:"window_before"`
	WindowAfter       float64 `toml:"window_after"`
	CoverTolerance    float64 `toml:"cover_tolerance"`
	DebounceMS        int     `toml:"debounce_ms"`
	SeekThreshold     float64 `toml:"seek_threshold"`
	DedupeTolerance   float64 `toml:"dedupe_tolerance"`
	Offset            float64 `toml:"offset"`
	PreferredLanguage string  `toml:"preferred_language"`
}

// OpenSubtitles contains configuration for the remote subtitle provider.
type OpenSubtitles struct {
	APIKey            string   `toml:"api_key"`
	UserAgent         string   `toml:"user_agent"`
	UserToken         string   `toml:"user_token"`
	BaseURL           string   `toml:"base_url"`
	Languages         []string `toml:"languages"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// Inspect contains the HTTP inspection server settings.
type Inspect struct {
	Bind string `toml:"bind"`
	// TLS serves over HTTPS with a generated self-signed certificate.
	TLS bool `toml:"tls"`
}

// Fonts contains the font export directory.
type Fonts struct {
	Dir string `toml:"dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for lumen.
type Config struct {
	Demux         Demux         `toml:"demux"`
	Audio         Audio         `toml:"audio"`
	Subtitles     Subtitles     `toml:"subtitles"`
	OpenSubtitles OpenSubtitles `toml:"opensubtitles"`
	Inspect       Inspect       `toml:"inspect"`
	Fonts         Fonts         `toml:"fonts"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/lumen/config.toml")
}

// Load locates, parses, and validates a configuration file. A missing file
// yields the defaults; the returned bool reports whether a file was read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Parse decodes TOML data on top of the defaults, then normalizes and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lumen.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// ExpandPath resolves a leading ~ and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SwitchGrace returns the audio track switch grace period.
func (c *Config) SwitchGrace() time.Duration {
	return time.Duration(c.Audio.SwitchGraceMS) * time.Millisecond
}

// Debounce returns the subtitle window debounce interval.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Subtitles.DebounceMS) * time.Millisecond
}
