package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zsiec/lumen/internal/audio"
	"github.com/zsiec/lumen/internal/config"
	"github.com/zsiec/lumen/internal/logging"
	"github.com/zsiec/lumen/internal/player"
	"github.com/zsiec/lumen/internal/reader"
	"github.com/zsiec/lumen/internal/session"
	"github.com/zsiec/lumen/internal/source"
	"github.com/zsiec/lumen/internal/subtitle"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// logger writes to the command's stderr so stdout stays machine readable.
func (c *commandContext) logger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg, cmd.ErrOrStderr())
}

func (c *commandContext) sourceOptions(log *slog.Logger) []source.HTTPOption {
	cfg := c.config
	return []source.HTTPOption{
		source.WithChunkSize(cfg.Demux.ChunkSize),
		source.WithCacheChunks(cfg.Demux.CacheChunks),
		source.WithLogger(log),
	}
}

func (c *commandContext) newManager(log *slog.Logger) *session.Manager {
	return session.NewManager(session.NewMetadataCache(c.config.Demux.MetadataCacheSize), log)
}

// openSession opens location in a fresh manager. The caller closes the
// manager.
func (c *commandContext) openSession(ctx context.Context, cmd *cobra.Command, location, hintsURL string) (*session.Manager, *session.Session, *slog.Logger, error) {
	log, err := c.logger(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	mgr := c.newManager(log)
	sess, err := mgr.Open(ctx, location, session.OpenOptions{
		HintsURL: hintsURL,
		Source:   c.sourceOptions(log),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s: %w", location, err)
	}
	return mgr, sess, log, nil
}

func (c *commandContext) playerOptions(log *slog.Logger) (player.Options, error) {
	cfg := c.config
	framing, err := audio.ParseFraming(cfg.Audio.AACFraming)
	if err != nil {
		return player.Options{}, err
	}
	return player.Options{
		Audio: audio.Options{
			SwitchGrace: cfg.SwitchGrace(),
			Framing:     framing,
			Reader:      reader.Options{MaxPackets: cfg.Demux.MaxAudioPackets},
		},
		Window: subtitle.WindowConfig{
			Before:          cfg.Subtitles.WindowBefore,
			After:           cfg.Subtitles.WindowAfter,
			CoverTolerance:  cfg.Subtitles.CoverTolerance,
			Debounce:        cfg.Debounce(),
			SeekThreshold:   cfg.Subtitles.SeekThreshold,
			DedupeTolerance: cfg.Subtitles.DedupeTolerance,
			Offset:          cfg.Subtitles.Offset,
		},
		Preferences: player.Preferences{
			AudioLanguage:    cfg.Audio.PreferredLanguage,
			SubtitleLanguage: cfg.Subtitles.PreferredLanguage,
		},
		Reader: reader.Options{MaxPackets: cfg.Demux.MaxVideoPackets},
		Logger: log,
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return writeFile(path, data)
}
