// Command lumen opens Matroska and WebM files or URLs without a native
// demuxer: it lists tracks, extracts subtitles and fonts, replays the
// packet timeline headlessly and serves an inspection API.
//
// Usage:
//
//	lumen info movie.mkv
//	lumen subtitles extract https://host/movie.mkv 3 -o movie.ass
//	lumen attachments export movie.mkv
//	lumen timeline movie.mkv --audio-lang ja
//	lumen serve --open movie.mkv
package main
