package subtitle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/reader"
)

// Extract reads a whole text subtitle track and renders it as a single
// file: a full ASS script for ASS/SSA tracks, SRT otherwise. The boolean
// reports whether the result is ASS.
func Extract(ctx context.Context, opener reader.Opener, track media.Track) (string, bool, error) {
	return extract(ctx, opener, track, reader.MaxSubtitlePackets, slog.Default())
}

// extract stops after limit packets and logs the truncation.
func extract(ctx context.Context, opener reader.Opener, track media.Track, limit int, log *slog.Logger) (string, bool, error) {
	if track.Kind != media.KindSubtitle {
		return "", false, fmt.Errorf("%w: track %d is %s", errNotSubtitle, track.ID, track.Kind)
	}
	if !matroska.IsTextSubtitle(track.Codec) && !matroska.IsASS(track.Codec) {
		return "", false, fmt.Errorf("subtitle: track %d codec %s cannot be extracted as text", track.ID, track.Codec)
	}
	isASS := matroska.IsASS(track.Codec)

	seq, err := opener.OpenSequence(ctx, track, 0)
	if err != nil {
		return "", false, err
	}
	defer seq.Release()

	var (
		lines []string
		cues  []Cue
	)
	for n := 0; ; n++ {
		if n == limit {
			log.Warn("subtitle extraction stopped at packet limit", "track", track.ID, "limit", limit)
			break
		}
		p, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", false, err
		}
		end := p.End()
		if p.Duration <= 0 {
			end = p.Timestamp + DefaultCueDuration
		}
		text := decodeText(p.Data)
		if isASS {
			lines = append(lines, DialogueLine(ParseDialogue(text), p.Timestamp, end))
			continue
		}
		c := Cue{Start: p.Timestamp, End: end, Text: strings.TrimSpace(text)}
		if c.Text != "" {
			cues = append(cues, c)
		}
	}

	if isASS {
		return BuildScript(string(track.Extradata), lines), true, nil
	}
	sortCues(cues)
	return FormatSRT(cues), false, nil
}
