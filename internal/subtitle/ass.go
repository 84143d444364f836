package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultStyle is used for dialogue payloads without style information.
const DefaultStyle = "Default"

// eventsFormat is the column order used for synthesized [Events] sections
// and for every Dialogue line this package writes.
const eventsFormat = "Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text"

// Event is one ASS dialogue entry as stored in a Matroska block:
// ReadOrder, Layer, Style, Name, MarginL, MarginR, MarginV, Effect, Text.
// Timing lives in the block, not in the payload.
type Event struct {
	ReadOrder int
	Layer     int
	Style     string
	Name      string
	MarginL   string
	MarginR   string
	MarginV   string
	Effect    string
	Text      string
}

// ParseDialogue splits a Matroska ASS block payload. Only the first eight
// commas separate fields; the text may contain more. A payload with fewer
// than eight commas is taken as plain text in the default style.
func ParseDialogue(payload string) Event {
	payload = strings.TrimRight(payload, "\r\n")
	fields := strings.SplitN(payload, ",", 9)
	if len(fields) < 9 {
		return Event{Style: DefaultStyle, MarginL: "0", MarginR: "0", MarginV: "0", Text: payload}
	}
	ev := Event{
		Style:   strings.TrimSpace(fields[2]),
		Name:    fields[3],
		MarginL: fields[4],
		MarginR: fields[5],
		MarginV: fields[6],
		Effect:  fields[7],
		Text:    fields[8],
	}
	ev.ReadOrder, _ = strconv.Atoi(strings.TrimSpace(fields[0]))
	ev.Layer, _ = strconv.Atoi(strings.TrimSpace(fields[1]))
	if ev.Style == "" {
		ev.Style = DefaultStyle
	}
	return ev
}

// FormatASSTime renders seconds as H:MM:SS.CC, truncating to centiseconds.
func FormatASSTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	// The epsilon keeps values like 1.23 from truncating to 1.22.
	cs := int64(math.Floor(seconds*100 + 1e-6))
	h := cs / 360000
	cs %= 360000
	m := cs / 6000
	cs %= 6000
	s := cs / 100
	cs %= 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// DialogueLine renders ev as a Dialogue line of an [Events] section.
func DialogueLine(ev Event, start, end float64) string {
	margin := func(v string) string {
		if v == "" {
			return "0"
		}
		return v
	}
	style := ev.Style
	if style == "" {
		style = DefaultStyle
	}
	return fmt.Sprintf("Dialogue: %d,%s,%s,%s,%s,%s,%s,%s,%s,%s",
		ev.Layer, FormatASSTime(start), FormatASSTime(end), style, ev.Name,
		margin(ev.MarginL), margin(ev.MarginR), margin(ev.MarginV), ev.Effect, ev.Text)
}

// EnsureEventsSection returns header with an [Events] section and Format
// line appended when it has none.
func EnsureEventsSection(header string) string {
	header = strings.ReplaceAll(header, "\r\n", "\n")
	header = strings.TrimRight(header, "\n")
	if strings.Contains(strings.ToLower(header), "[events]") {
		return header + "\n"
	}
	if header != "" {
		header += "\n\n"
	}
	return header + "[Events]\n" + eventsFormat + "\n"
}

// minimalHeader is used for tracks without CodecPrivate.
const minimalHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,0,2,10,10,10,1`

// BuildScript joins an ASS header and dialogue lines into a full script.
func BuildScript(header string, lines []string) string {
	if strings.TrimSpace(header) == "" {
		header = minimalHeader
	}
	var sb strings.Builder
	sb.WriteString(EnsureEventsSection(header))
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return sb.String()
}

// CueFromEvent converts a dialogue event with block timing into a cue.
func CueFromEvent(ev Event, start, end float64) Cue {
	return Cue{Start: start, End: end, Text: PlainText(ev.Text), Style: ev.Style, Layer: ev.Layer}
}

// ParseASSTime parses H:MM:SS.CC.
func ParseASSTime(v string) (float64, error) {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid ass time %q", v)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	s, errS := strconv.ParseFloat(parts[2], 64)
	if errH != nil || errM != nil || errS != nil || h < 0 || m < 0 || m > 59 || s < 0 || s >= 60 {
		return 0, fmt.Errorf("invalid ass time %q", v)
	}
	return float64(h*3600+m*60) + s, nil
}

// ParseASS extracts cues from the [Events] section of an ASS/SSA script.
// Column order comes from the section's Format line.
func ParseASS(data []byte) []Cue {
	content := strings.ReplaceAll(strings.TrimPrefix(string(data), "\ufeff"), "\r\n", "\n")

	var (
		inEvents bool
		columns  []string
	)
	var cues []Cue
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") {
			inEvents = strings.EqualFold(line, "[events]")
			continue
		}
		if !inEvents {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Format":
			columns = columns[:0]
			for _, c := range strings.Split(value, ",") {
				columns = append(columns, strings.ToLower(strings.TrimSpace(c)))
			}
		case "Dialogue":
			if c, ok := dialogueCue(value, columns); ok {
				cues = append(cues, c)
			}
		}
	}
	sortCues(cues)
	return cues
}

func dialogueCue(value string, columns []string) (Cue, bool) {
	if len(columns) == 0 {
		columns = strings.Split("layer,start,end,style,name,marginl,marginr,marginv,effect,text", ",")
	}
	fields := strings.SplitN(strings.TrimSpace(value), ",", len(columns))
	if len(fields) != len(columns) {
		return Cue{}, false
	}
	var c Cue
	var err error
	for i, col := range columns {
		f := fields[i]
		switch col {
		case "layer":
			c.Layer, _ = strconv.Atoi(strings.TrimSpace(f))
		case "start":
			if c.Start, err = ParseASSTime(f); err != nil {
				return Cue{}, false
			}
		case "end":
			if c.End, err = ParseASSTime(f); err != nil {
				return Cue{}, false
			}
		case "style":
			c.Style = strings.TrimSpace(f)
		case "text":
			c.Text = PlainText(f)
		}
	}
	if c.Text == "" || c.End < c.Start {
		return Cue{}, false
	}
	return c, true
}
