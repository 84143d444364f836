package subtitle

import (
	"sort"
	"strings"
)

// Cue is a timed subtitle entry. Times are in seconds.
type Cue struct {
	Start float64
	End   float64
	Text  string

	// Set for cues that came from ASS dialogue.
	Style string
	Layer int
}

// Contains reports whether t falls inside the cue.
func (c Cue) Contains(t float64) bool {
	return t >= c.Start && t < c.End
}

// sortCues orders cues by start time, keeping input order for ties.
func sortCues(cues []Cue) {
	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
}

// PlainText strips ASS override blocks and converts ASS line breaks.
func PlainText(text string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case ch == '{':
			depth++
		case ch == '}' && depth > 0:
			depth--
		case depth > 0:
		case ch == '\\' && i+1 < len(text) && (text[i+1] == 'N' || text[i+1] == 'n'):
			b.WriteByte('\n')
			i++
		case ch == '\\' && i+1 < len(text) && text[i+1] == 'h':
			b.WriteByte(' ')
			i++
		default:
			b.WriteByte(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
