// Package audio decodes one audio track at a time and schedules the decoded
// buffers onto a gap-free output timeline.
//
// The Scheduler owns the timeline cursor. Each decoded buffer is placed at
// the cursor and the cursor advances by the buffer duration; when the cursor
// has fallen behind the output clock it snaps forward to the clock first.
// Switching tracks or seeking stops the current reader and bumps a
// configuration generation so late decoder output is discarded.
package audio
