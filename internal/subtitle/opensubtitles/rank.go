package opensubtitles

import (
	"sort"

	"github.com/zsiec/lumen/internal/language"
)

// Rank orders candidates by language preference, then by download count.
// Languages earlier in preferred rank higher; candidates in none of them
// go last. Machine-translated subtitles sort after human ones of the same
// language. The input slice is not modified.
func Rank(subs []Subtitle, preferred []string) []Subtitle {
	prefs := language.NormalizeList(preferred)
	rank := func(s Subtitle) int {
		base := language.Base(s.Language)
		for i, p := range prefs {
			if language.Base(p) == base {
				return i
			}
		}
		return len(prefs)
	}

	out := append([]Subtitle(nil), subs...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		if out[i].AITranslated != out[j].AITranslated {
			return !out[i].AITranslated
		}
		return out[i].Downloads > out[j].Downloads
	})
	return out
}
