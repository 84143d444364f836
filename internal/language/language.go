package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Undetermined is the tag used when no language is known.
const Undetermined = "und"

// ISO 639-2/B codes that x/text does not map; the T forms are handled by
// language.Parse directly.
var bibliographic = map[string]string{
	"alb": "sq",
	"arm": "hy",
	"baq": "eu",
	"bur": "my",
	"chi": "zh",
	"cze": "cs",
	"dut": "nl",
	"fre": "fr",
	"geo": "ka",
	"ger": "de",
	"gre": "el",
	"ice": "is",
	"mac": "mk",
	"mao": "mi",
	"may": "ms",
	"per": "fa",
	"rum": "ro",
	"slo": "sk",
	"tib": "bo",
	"wel": "cy",
}

// Word forms occasionally used by backends instead of codes.
var words = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"dutch":      "nl",
	"polish":     "pl",
	"swedish":    "sv",
	"danish":     "da",
	"norwegian":  "no",
	"finnish":    "fi",
}

// Parse returns the BCP 47 tag for code, or language.Und.
func Parse(code string) language.Tag {
	code = strings.TrimSpace(strings.ReplaceAll(code, "\u0000", ""))
	if code == "" {
		return language.Und
	}
	lower := strings.ToLower(code)
	if mapped, ok := bibliographic[lower]; ok {
		code = mapped
	} else if mapped, ok := words[lower]; ok {
		code = mapped
	}
	tag, err := language.Parse(strings.ReplaceAll(code, "_", "-"))
	if err != nil {
		return language.Und
	}
	return tag
}

// Canonical returns the canonical BCP 47 string for code, "und" when the
// code is empty or unparseable.
func Canonical(code string) string {
	return Parse(code).String()
}

// Base returns the two or three letter base language of code.
func Base(code string) string {
	base, _ := Parse(code).Base()
	return base.String()
}

// DisplayName returns an English name for code. Unknown input is echoed
// upper-cased, empty input is "Unknown".
func DisplayName(code string) string {
	tag := Parse(code)
	if tag == language.Und {
		if strings.TrimSpace(code) == "" || strings.EqualFold(code, Undetermined) {
			return "Unknown"
		}
		return strings.ToUpper(strings.TrimSpace(code))
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// Match returns the index of the candidate that best matches preferred, or
// -1 if none matches. Empty preference never matches.
func Match(preferred string, candidates []string) int {
	if strings.TrimSpace(preferred) == "" || len(candidates) == 0 {
		return -1
	}
	want := Parse(preferred)
	if want == language.Und {
		return -1
	}
	tags := make([]language.Tag, len(candidates))
	for i, c := range candidates {
		tags[i] = Parse(c)
	}
	_, idx, conf := language.NewMatcher(tags).Match(want)
	if conf == language.No || tags[idx] == language.Und {
		return -1
	}
	return idx
}

// NormalizeList canonicalizes and de-duplicates codes to their base
// language, dropping unknown entries.
func NormalizeList(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		base := Base(c)
		if base == Undetermined {
			continue
		}
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		out = append(out, base)
	}
	return out
}
