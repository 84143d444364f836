// Package language normalizes the language codes found in track metadata
// (ISO 639-2 in Matroska Language elements, BCP 47 in LanguageIETF, free
// text from backend hints) to BCP 47 tags, and matches user preferences
// against them.
package language
