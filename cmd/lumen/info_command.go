package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zsiec/lumen/internal/language"
	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/session"
)

type infoTrack struct {
	ID       int     `json:"id"`
	Kind     string  `json:"kind"`
	Codec    string  `json:"codec"`
	Language string  `json:"language"`
	Name     string  `json:"name,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Rate     int     `json:"sampleRate,omitempty"`
	Channels int     `json:"channels,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
	Default  bool    `json:"default"`
	Forced   bool    `json:"forced"`
}

type infoChapter struct {
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type infoAttachment struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Font     bool   `json:"font"`
}

type infoResult struct {
	Location    string            `json:"location"`
	Title       string            `json:"title,omitempty"`
	Duration    float64           `json:"duration"`
	Tracks      []infoTrack      `json:"tracks"`
	Chapters    []infoChapter    `json:"chapters"`
	Attachments []infoAttachment `json:"attachments"`
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var hintsURL string

	cmd := &cobra.Command{
		Use:   "info <file-or-url>",
		Short: "Show tracks, chapters and attachments of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, sess, _, err := ctx.openSession(cmd.Context(), cmd, args[0], hintsURL)
			if err != nil {
				return err
			}
			defer mgr.CloseAll()

			res := buildInfo(sess)
			if jsonOut {
				return writeJSON(cmd, res)
			}
			printInfo(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	cmd.Flags().StringVar(&hintsURL, "hints", "", "URL of backend metadata hints for the file")
	return cmd
}

func buildInfo(sess *session.Session) infoResult {
	c := sess.Container
	res := infoResult{
		Location:    sess.Location,
		Title:       c.Title(),
		Duration:    c.Duration(),
		Tracks:      []infoTrack{},
		Chapters:    []infoChapter{},
		Attachments: []infoAttachment{},
	}
	for _, t := range sess.Tracks.All() {
		pt := infoTrack{
			ID:       t.ID,
			Kind:     t.Kind.String(),
			Codec:    t.Codec,
			Language: t.Language,
			Name:     t.Name,
			Width:    t.Width,
			Height:   t.Height,
			Rate:     t.SampleRate,
			Channels: t.Channels,
			Default:  t.Default,
			Forced:   t.Forced,
		}
		if t.Kind == media.KindVideo && t.DefaultDuration > 0 {
			pt.FPS = 1 / t.DefaultDuration
		}
		res.Tracks = append(res.Tracks, pt)
	}
	for _, ch := range c.Chapters() {
		res.Chapters = append(res.Chapters, infoChapter{Title: ch.Title, Start: ch.Start, End: ch.End})
	}
	for _, a := range c.Attachments() {
		res.Attachments = append(res.Attachments, infoAttachment{
			Index:    a.Index,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size,
			Font:     matroska.IsFont(a.MimeType, a.Filename),
		})
	}
	return res
}

func printInfo(cmd *cobra.Command, res infoResult) {
	out := cmd.OutOrStdout()
	title := res.Title
	if title == "" {
		title = res.Location
	}
	heading(out, title)
	fmt.Fprintf(out, "Duration: %s\n\n", formatClock(res.Duration))

	rows := make([][]string, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		rows = append(rows, []string{
			strconv.Itoa(t.ID),
			t.Kind,
			t.Codec,
			language.DisplayName(t.Language),
			t.Name,
			trackDetails(t),
			trackFlags(t),
		})
	}
	heading(out, "Tracks")
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Kind", "Codec", "Language", "Name", "Details", "Flags"},
		rows,
		[]columnAlignment{alignRight},
	))

	if len(res.Chapters) > 0 {
		rows = rows[:0]
		for i, ch := range res.Chapters {
			rows = append(rows, []string{strconv.Itoa(i + 1), ch.Title, formatClock(ch.Start), formatClock(ch.End)})
		}
		fmt.Fprintln(out)
		heading(out, "Chapters")
		fmt.Fprintln(out, renderTable([]string{"#", "Title", "Start", "End"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
	}

	if len(res.Attachments) > 0 {
		rows = rows[:0]
		for _, a := range res.Attachments {
			rows = append(rows, []string{strconv.Itoa(a.Index), a.Filename, a.MimeType, formatBytes(a.Size), yesNo(a.Font)})
		}
		fmt.Fprintln(out)
		heading(out, "Attachments")
		fmt.Fprintln(out, renderTable([]string{"#", "File", "MIME", "Size", "Font"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	}
}

func trackDetails(t infoTrack) string {
	switch t.Kind {
	case media.KindVideo.String():
		s := fmt.Sprintf("%dx%d", t.Width, t.Height)
		if t.FPS > 0 {
			s += fmt.Sprintf(" @ %.3g fps", t.FPS)
		}
		return s
	case media.KindAudio.String():
		return fmt.Sprintf("%d Hz, %d ch", t.Rate, t.Channels)
	case media.KindSubtitle.String():
		if matroska.IsASS(t.Codec) {
			return "ASS"
		}
		return "text"
	}
	return ""
}

func trackFlags(t infoTrack) string {
	var flags []string
	if t.Default {
		flags = append(flags, "default")
	}
	if t.Forced {
		flags = append(flags, "forced")
	}
	return strings.Join(flags, ",")
}
