package player

import (
	"github.com/zsiec/lumen/internal/language"
	"github.com/zsiec/lumen/internal/media"
)

// Preferences choose the initial tracks. Track ids win over languages;
// zero values mean no preference.
type Preferences struct {
	AudioTrack       int
	AudioLanguage    string
	SubtitleTrack    int
	SubtitleLanguage string
}

// SelectAudio picks the audio track to start with: the preferred id, then
// the best language match, then the default-flagged track, then the first.
func SelectAudio(tracks []media.Track, prefs Preferences) (media.Track, bool) {
	if len(tracks) == 0 {
		return media.Track{}, false
	}
	if t, ok := byID(tracks, prefs.AudioTrack); ok {
		return t, true
	}
	if i := language.Match(prefs.AudioLanguage, languages(tracks)); i >= 0 {
		return tracks[i], true
	}
	for _, t := range tracks {
		if t.Default {
			return t, true
		}
	}
	return tracks[0], true
}

// SelectSubtitle picks the subtitle track to start with, if any: the
// preferred id, then the best language match, then a forced track.
// Without a preference or a forced track subtitles stay off.
func SelectSubtitle(tracks []media.Track, prefs Preferences) (media.Track, bool) {
	if t, ok := byID(tracks, prefs.SubtitleTrack); ok {
		return t, true
	}
	if i := language.Match(prefs.SubtitleLanguage, languages(tracks)); i >= 0 {
		return tracks[i], true
	}
	for _, t := range tracks {
		if t.Forced {
			return t, true
		}
	}
	return media.Track{}, false
}

func byID(tracks []media.Track, id int) (media.Track, bool) {
	if id <= 0 {
		return media.Track{}, false
	}
	for _, t := range tracks {
		if t.ID == id {
			return t, true
		}
	}
	return media.Track{}, false
}

func languages(tracks []media.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Language
	}
	return out
}
