package player

import (
	"context"
	"fmt"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/subtitle"
)

// SelectSubtitleTrack shows subtitle track id. An id <= 0 turns subtitles
// off. ASS tracks go to a script-capable renderer as a whole script; every
// other text track is windowed around the playhead.
func (p *Player) SelectSubtitleTrack(ctx context.Context, id int) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if err := p.runningLocked(); err != nil {
		return err
	}
	return p.selectSubtitleLocked(ctx, id)
}

func (p *Player) selectSubtitleLocked(ctx context.Context, id int) error {
	if id <= 0 {
		p.setSubtitles(nil, nil, nil, false)
		return nil
	}
	track, ok := byID(p.info.SubtitleTracks, id)
	if !ok {
		return fmt.Errorf("%w: subtitle %d", matroska.ErrUnknownTrack, id)
	}
	fetcher, err := subtitle.NewContainerFetcher(p.opener, track)
	if err != nil {
		return err
	}
	return p.useFetcher(ctx, &track, fetcher)
}

// LoadExternalSubtitles replaces the subtitle source with f, typically a
// subtitle.RemoteFetcher for a downloaded file.
func (p *Player) LoadExternalSubtitles(ctx context.Context, f subtitle.Fetcher) error {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	if err := p.runningLocked(); err != nil {
		return err
	}
	return p.useFetcher(ctx, nil, f)
}

func (p *Player) useFetcher(ctx context.Context, track *media.Track, f subtitle.Fetcher) error {
	cfg := p.opts.Window
	cfg.Duration = p.info.Duration
	p.mu.Lock()
	cfg.Offset = p.offset
	p.mu.Unlock()
	window := subtitle.NewWindowCache(f, cfg)

	var presenter *subtitle.Presenter
	scripted := false
	if p.opts.Renderer != nil {
		presenter = subtitle.NewPresenter(window, p.opts.Renderer, p.log)
		if track != nil && matroska.IsASS(track.Codec) {
			if _, ok := p.opts.Renderer.(subtitle.ScriptRenderer); ok {
				script, _, err := subtitle.Extract(ctx, p.opener, *track)
				if err != nil {
					return err
				}
				scripted = presenter.LoadScript(script)
			}
		}
	}
	p.setSubtitles(track, window, presenter, scripted)

	name := "external"
	if track != nil {
		name = fmt.Sprint(track.ID)
	}
	p.log.Info("subtitles selected", "track", name, "script", scripted)
	return nil
}

func (p *Player) setSubtitles(track *media.Track, window *subtitle.WindowCache, next *subtitle.Presenter, scripted bool) {
	if scripted {
		// The renderer times ASS events itself.
		next = nil
	}
	p.mu.Lock()
	old := p.presenter
	p.subTrack, p.window, p.presenter, p.scripted = track, window, next, scripted
	p.mu.Unlock()
	if old != nil {
		old.Reset()
	}
}

// SubtitleTrack returns the selected container subtitle track.
func (p *Player) SubtitleTrack() (media.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subTrack == nil {
		return media.Track{}, false
	}
	return *p.subTrack, true
}

// SetSubtitleOffset shifts subtitle timing by offset seconds.
func (p *Player) SetSubtitleOffset(offset float64) {
	p.mu.Lock()
	p.offset = offset
	window := p.window
	p.mu.Unlock()
	if window != nil {
		window.SetOffset(offset)
	}
}

// ActiveCue returns the cue shown at t from the current window.
func (p *Player) ActiveCue(t float64) (subtitle.Cue, bool) {
	p.mu.Lock()
	window := p.window
	p.mu.Unlock()
	if window == nil {
		return subtitle.Cue{}, false
	}
	return window.Active(t)
}

// SubtitleWindow returns a snapshot of the cached subtitle window.
func (p *Player) SubtitleWindow() (subtitle.Window, bool) {
	p.mu.Lock()
	window := p.window
	p.mu.Unlock()
	if window == nil {
		return subtitle.Window{}, false
	}
	return window.Window(), true
}

// UpdateSubtitles refreshes the subtitle window around t without touching
// the presenter, for callers that render cues themselves.
func (p *Player) UpdateSubtitles(ctx context.Context, t float64, force bool) (subtitle.UpdateResult, error) {
	p.mu.Lock()
	window := p.window
	p.mu.Unlock()
	if window == nil {
		return subtitle.Covered, nil
	}
	return window.Update(ctx, t, force)
}

// ExtractSubtitleTrack renders subtitle track id as one text file. The
// boolean reports whether the text is an ASS script (SRT otherwise). An id
// that is not a subtitle track yields "", false and a nil error, like
// ExtractAttachment.
func (p *Player) ExtractSubtitleTrack(ctx context.Context, id int) (string, bool, error) {
	track, ok := p.container.Track(id)
	if !ok || track.Kind != media.KindSubtitle {
		return "", false, nil
	}
	return subtitle.Extract(ctx, p.opener, track)
}

// SubtitleScripted reports whether the current track was handed to the
// renderer as a whole ASS script.
func (p *Player) SubtitleScripted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scripted
}
