package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zsiec/lumen/internal/captions"
	"github.com/zsiec/lumen/internal/language"
	"github.com/zsiec/lumen/internal/reader"
	"github.com/zsiec/lumen/internal/subtitle"
	"github.com/zsiec/lumen/internal/subtitle/opensubtitles"
)

func newSubtitlesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtitles",
		Short: "Extract embedded subtitles or fetch remote ones",
	}
	cmd.AddCommand(newSubtitlesExtractCommand(ctx))
	cmd.AddCommand(newSubtitlesCaptionsCommand(ctx))
	cmd.AddCommand(newSubtitlesSearchCommand(ctx))
	cmd.AddCommand(newSubtitlesDownloadCommand(ctx))
	return cmd
}

func newSubtitlesExtractCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract <file-or-url> <track-id>",
		Short: "Write a subtitle track as one ASS or SRT file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("track id %q: %w", args[1], err)
			}
			mgr, sess, log, err := ctx.openSession(cmd.Context(), cmd, args[0], "")
			if err != nil {
				return err
			}
			defer mgr.CloseAll()

			track, ok := sess.Container.Track(id)
			if !ok {
				return fmt.Errorf("track %d not found", id)
			}
			text, isASS, err := subtitle.Extract(cmd.Context(), reader.SessionOpener(sess.Container), track)
			if err != nil {
				return err
			}
			log.Debug("subtitle extracted", "track", id, "ass", isASS, "bytes", len(text))
			return writeOutput(cmd, output, []byte(text))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (stdout when empty)")
	return cmd
}

func newSubtitlesCaptionsCommand(ctx *commandContext) *cobra.Command {
	var output string
	var channel int

	cmd := &cobra.Command{
		Use:   "captions <file-or-url>",
		Short: "Decode CEA-608 closed captions carried in the video track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, sess, _, err := ctx.openSession(cmd.Context(), cmd, args[0], "")
			if err != nil {
				return err
			}
			defer mgr.CloseAll()

			if len(sess.Tracks.Video) == 0 {
				return errors.New("no video track")
			}
			byChannel, err := captions.Scan(cmd.Context(), reader.SessionOpener(sess.Container), sess.Tracks.Video[0])
			if err != nil {
				return err
			}
			channels := captions.Channels(byChannel)
			if len(channels) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No captions found")
				return nil
			}
			if channel == 0 {
				channel = channels[0]
			}
			cues, ok := byChannel[channel]
			if !ok {
				return fmt.Errorf("caption channel %d not present (have %v)", channel, channels)
			}
			return writeOutput(cmd, output, []byte(subtitle.FormatSRT(cues)))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (stdout when empty)")
	cmd.Flags().IntVar(&channel, "channel", 0, "Caption channel (first present when 0)")
	return cmd
}

func (c *commandContext) openSubtitlesClient() (*opensubtitles.Client, error) {
	cfg := c.config.OpenSubtitles
	client, err := opensubtitles.New(opensubtitles.Config{
		APIKey:            cfg.APIKey,
		UserAgent:         cfg.UserAgent,
		UserToken:         cfg.UserToken,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if errors.Is(err, opensubtitles.ErrNoAPIKey) {
		return nil, fmt.Errorf("%w (set opensubtitles.api_key or OPENSUBTITLES_API_KEY)", err)
	}
	return client, err
}

func newSubtitlesSearchCommand(ctx *commandContext) *cobra.Command {
	var req opensubtitles.SearchRequest
	var langs []string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search OpenSubtitles by TMDB/IMDB id or title",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.TMDBID == 0 && req.ParentTMDBID == 0 && req.IMDBID == "" && req.Query == "" {
				return errors.New("one of --tmdb, --parent-tmdb, --imdb or --query is required")
			}
			client, err := ctx.openSubtitlesClient()
			if err != nil {
				return err
			}
			if len(langs) == 0 {
				langs = ctx.config.OpenSubtitles.Languages
			}
			req.Languages = langs
			results, err := client.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			results = opensubtitles.Rank(results, langs)
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}
			if jsonOut {
				return writeJSON(cmd, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subtitles found")
				return nil
			}
			rows := make([][]string, 0, len(results))
			for _, s := range results {
				rows = append(rows, []string{
					strconv.FormatInt(s.FileID, 10),
					language.DisplayName(s.Language),
					s.Release,
					strconv.Itoa(s.Downloads),
					yesNo(s.HearingImpaired),
					yesNo(s.AITranslated),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"File ID", "Language", "Release", "Downloads", "HI", "AI"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().Int64Var(&req.TMDBID, "tmdb", 0, "TMDB id of the movie or episode")
	cmd.Flags().Int64Var(&req.ParentTMDBID, "parent-tmdb", 0, "TMDB id of the show")
	cmd.Flags().StringVar(&req.IMDBID, "imdb", "", "IMDB id (tt0133093)")
	cmd.Flags().StringVar(&req.Query, "query", "", "Free-text title query")
	cmd.Flags().IntVar(&req.Season, "season", 0, "Season number")
	cmd.Flags().IntVar(&req.Episode, "episode", 0, "Episode number")
	cmd.Flags().BoolVar(&req.HearingImpaired, "hi", false, "Only hearing-impaired subtitles")
	cmd.Flags().StringSliceVar(&langs, "lang", nil, "Preferred languages (defaults to config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func newSubtitlesDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string
	var format string
	var shift float64

	cmd := &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download a subtitle file from OpenSubtitles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("file id %q: %w", args[0], err)
			}
			client, err := ctx.openSubtitlesClient()
			if err != nil {
				return err
			}
			res, err := client.Download(cmd.Context(), fileID, format)
			if err != nil {
				return err
			}
			data := res.Data
			if shift != 0 {
				data = []byte(subtitle.FormatSRT(shiftCues(subtitle.Parse(data), shift)))
			}
			if err := writeOutput(cmd, output, data); err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%s)\n", output, res.FileName)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (stdout when empty)")
	cmd.Flags().StringVar(&format, "format", "srt", "Subtitle format requested from the API")
	cmd.Flags().Float64Var(&shift, "shift", 0, "Shift cues by seconds and re-render as SRT")
	return cmd
}

func shiftCues(cues []subtitle.Cue, by float64) []subtitle.Cue {
	out := make([]subtitle.Cue, 0, len(cues))
	for _, c := range cues {
		c.Start += by
		c.End += by
		if c.End <= 0 {
			continue
		}
		if c.Start < 0 {
			c.Start = 0
		}
		out = append(out, c)
	}
	return out
}
