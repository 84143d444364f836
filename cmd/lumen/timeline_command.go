package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/lumen/internal/media"
	"github.com/zsiec/lumen/internal/player"
	"github.com/zsiec/lumen/internal/subtitle"
)

type trackStats struct {
	Track     int     `json:"track"`
	Kind      string  `json:"kind"`
	Packets   int     `json:"packets"`
	Keyframes int     `json:"keyframes"`
	Bytes     int64   `json:"bytes"`
	First     float64 `json:"first"`
	Last      float64 `json:"last"`
	Error     string  `json:"error,omitempty"`
}

type timelineReport struct {
	From           float64      `json:"from"`
	Tracks         []trackStats `json:"tracks"`
	AudioScheduled float64      `json:"audioScheduled"`
	CuesShown      int          `json:"cuesShown"`
}

// timelineRecorder is the headless playback sink.
type timelineRecorder struct {
	mu    sync.Mutex
	stats map[int]*trackStats
	last  time.Time
	head  float64
	cues  int
}

func newTimelineRecorder() *timelineRecorder {
	return &timelineRecorder{stats: make(map[int]*trackStats), last: time.Now()}
}

func (r *timelineRecorder) record(kind media.TrackKind, pkts []media.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = time.Now()
	for _, p := range pkts {
		st, ok := r.stats[p.TrackID]
		if !ok {
			st = &trackStats{Track: p.TrackID, Kind: kind.String(), First: p.Timestamp}
			r.stats[p.TrackID] = st
		}
		st.Packets++
		st.Bytes += int64(len(p.Data))
		if p.IsKeyframe {
			st.Keyframes++
		}
		if p.Timestamp > st.Last {
			st.Last = p.Timestamp
		}
		if kind == media.KindVideo && p.Timestamp > r.head {
			r.head = p.Timestamp
		}
	}
}

func (r *timelineRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[int]*trackStats)
	r.head = 0
	r.last = time.Now()
}

func (r *timelineRecorder) sink() player.Callbacks {
	return player.Callbacks{
		VideoSamples: func(pkts []media.Packet) { r.record(media.KindVideo, pkts) },
		AudioSamples: func(_ int, pkts []media.Packet) { r.record(media.KindAudio, pkts) },
		TrackError: func(id int, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			st, ok := r.stats[id]
			if !ok {
				st = &trackStats{Track: id}
				r.stats[id] = st
			}
			st.Error = err.Error()
		},
	}
}

func (r *timelineRecorder) CueActive(subtitle.Cue) {
	r.mu.Lock()
	r.cues++
	r.mu.Unlock()
}

func (r *timelineRecorder) CueInactive(subtitle.Cue) {}

func (r *timelineRecorder) idle(d time.Duration) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head, time.Since(r.last) >= d
}

func (r *timelineRecorder) report(from, scheduled float64) timelineReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := timelineReport{From: from, AudioScheduled: scheduled, CuesShown: r.cues, Tracks: []trackStats{}}
	for _, st := range r.stats {
		rep.Tracks = append(rep.Tracks, *st)
	}
	sort.Slice(rep.Tracks, func(i, j int) bool { return rep.Tracks[i].Track < rep.Tracks[j].Track })
	return rep
}

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	var (
		from          float64
		audioTrack    int
		audioLang     string
		subtitleTrack int
		subtitleLang  string
		idle          time.Duration
		jsonOut       bool
	)

	cmd := &cobra.Command{
		Use:   "timeline <file-or-url>",
		Short: "Replay the packet timeline headlessly and summarize each track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, sess, log, err := ctx.openSession(cmd.Context(), cmd, args[0], "")
			if err != nil {
				return err
			}
			defer mgr.CloseAll()

			opts, err := ctx.playerOptions(log)
			if err != nil {
				return err
			}
			if audioTrack > 0 {
				opts.Preferences.AudioTrack = audioTrack
			}
			if audioLang != "" {
				opts.Preferences.AudioLanguage = audioLang
			}
			if subtitleTrack > 0 {
				opts.Preferences.SubtitleTrack = subtitleTrack
			}
			if subtitleLang != "" {
				opts.Preferences.SubtitleLanguage = subtitleLang
			}

			rec := newTimelineRecorder()
			opts.Renderer = rec
			p := player.New(sess.Container, rec.sink(), opts)
			defer p.Close()

			runCtx := cmd.Context()
			if err := p.Start(runCtx); err != nil {
				return err
			}
			if from > 0 {
				if err := p.Seek(runCtx, from); err != nil {
					return err
				}
				rec.reset()
			}
			if err := waitIdle(runCtx, p, rec, idle); err != nil {
				return err
			}

			rep := rec.report(from, p.ScheduledAudioTime())
			if err := p.Close(); err != nil {
				log.Warn("player close", "error", err)
			}
			if jsonOut {
				return writeJSON(cmd, rep)
			}
			printTimeline(cmd, rep)
			return nil
		},
	}
	cmd.Flags().Float64Var(&from, "from", 0, "Start position in seconds")
	cmd.Flags().IntVar(&audioTrack, "audio-track", 0, "Audio track id")
	cmd.Flags().StringVar(&audioLang, "audio-lang", "", "Preferred audio language")
	cmd.Flags().IntVar(&subtitleTrack, "subtitle-track", 0, "Subtitle track id")
	cmd.Flags().StringVar(&subtitleLang, "subtitle-lang", "", "Preferred subtitle language")
	cmd.Flags().DurationVar(&idle, "idle", 750*time.Millisecond, "Stop after no packets arrive for this long")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

// waitIdle advances the subtitle clock with the video head until no
// packets have arrived for d.
func waitIdle(ctx context.Context, p *player.Player, rec *timelineRecorder, d time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			head, done := rec.idle(d)
			p.Tick(ctx, head)
			if done {
				return nil
			}
		}
	}
}

func printTimeline(cmd *cobra.Command, rep timelineReport) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(rep.Tracks))
	for _, st := range rep.Tracks {
		rows = append(rows, []string{
			strconv.Itoa(st.Track),
			st.Kind,
			strconv.Itoa(st.Packets),
			strconv.Itoa(st.Keyframes),
			formatBytes(st.Bytes),
			formatClock(st.First),
			formatClock(st.Last),
			st.Error,
		})
	}
	heading(out, fmt.Sprintf("Timeline from %s", formatClock(rep.From)))
	fmt.Fprintln(out, renderTable(
		[]string{"Track", "Kind", "Packets", "Keyframes", "Bytes", "First", "Last", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintf(out, "Audio scheduled through %.3fs, %d subtitle cues shown\n", rep.AudioScheduled, rep.CuesShown)
}
