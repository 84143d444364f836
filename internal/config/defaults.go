package config

const (
	defaultMaxVideoPackets           = 500000
	defaultMaxAudioPackets           = 1000000
	defaultMaxSubtitlePackets        = 100000
	defaultChunkSize                 = 256 << 10
	defaultCacheChunks               = 64
	defaultMetadataCacheSize         = 32
	defaultSwitchGraceMS             = 50
	defaultAACFraming                = "adts"
	defaultWindowBefore              = 60.0
	defaultWindowAfter               = 120.0
	defaultCoverTolerance            = 10.0
	defaultDebounceMS                = 500
	defaultSeekThreshold             = 2.0
	defaultDedupeTolerance           = 0.1
	defaultOpenSubtitlesBaseURL      = "https://api.opensubtitles.com/api/v1"
	defaultOpenSubtitlesUserAgent    = "lumen/dev"
	defaultOpenSubtitlesRequestsPerS = 4.0
	defaultInspectBind               = "127.0.0.1:7480"
	defaultFontsDir                  = "~/.local/share/lumen/fonts"
	defaultLogFormat                 = "text"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Demux: Demux{
			MaxVideoPackets:    defaultMaxVideoPackets,
			MaxAudioPackets:    defaultMaxAudioPackets,
			MaxSubtitlePackets: defaultMaxSubtitlePackets,
			ChunkSize:          defaultChunkSize,
			CacheChunks:        defaultCacheChunks,
			MetadataCacheSize:  defaultMetadataCacheSize,
		},
		Audio: Audio{
			SwitchGraceMS: defaultSwitchGraceMS,
			AACFraming:    defaultAACFraming,
		},
		Subtitles: Subtitles{
			WindowBefore:    defaultWindowBefore,
			WindowAfter:     defaultWindowAfter,
			CoverTolerance:  defaultCoverTolerance,
			DebounceMS:      defaultDebounceMS,
			SeekThreshold:   defaultSeekThreshold,
			DedupeTolerance: defaultDedupeTolerance,
		},
		OpenSubtitles: OpenSubtitles{
			BaseURL:           defaultOpenSubtitlesBaseURL,
			UserAgent:         defaultOpenSubtitlesUserAgent,
			Languages:         []string{"en"},
			RequestsPerSecond: defaultOpenSubtitlesRequestsPerS,
		},
		Inspect: Inspect{
			Bind: defaultInspectBind,
		},
		Fonts: Fonts{
			Dir: defaultFontsDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
