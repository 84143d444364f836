// Package config loads, normalizes, and validates lumen configuration.
//
// It supplies defaults for the demuxer, audio scheduler, subtitle window,
// OpenSubtitles client, inspect server, and logging, reads TOML files, and
// honours the OPENSUBTITLES_API_KEY environment fallback. Zero or missing
// values are replaced with defaults during normalization so callers never
// see a half-filled config.
package config
