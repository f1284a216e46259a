package relay

import (
	"strings"
	"unicode/utf8"
)

// breakPreferences orders the separators Split looks for, best first.
// Paragraph and sentence coherence win over raw packing, at the cost
// of segments landing somewhat under the ceiling.
var breakPreferences = []string{"\n\n", "\n", ". ", " "}

// Split partitions text into ordered segments of at most
// maxSegmentChars characters each, breaking at the latest safe
// boundary at or before the ceiling. A candidate boundary is only
// taken if it falls past the halfway point of the ceiling; otherwise
// the next preference is tried, and as a last resort the text is cut
// at a hard character boundary. Every segment is trimmed of
// surrounding whitespace.
//
// Concatenating the segments reproduces the input modulo the
// whitespace dropped at the boundaries; non-empty input always yields
// at least one segment.
func Split(text string, maxSegmentChars int) []string {
	if maxSegmentChars <= 0 {
		maxSegmentChars = 4000
	}

	rest := strings.TrimSpace(text)
	if rest == "" {
		return nil
	}
	if utf8.RuneCountInString(rest) <= maxSegmentChars {
		return []string{rest}
	}

	half := maxSegmentChars / 2
	var segments []string

	for utf8.RuneCountInString(rest) > maxSegmentChars {
		window := firstRunes(rest, maxSegmentChars)

		cut := len(window) // hard boundary fallback, in bytes
		for _, sep := range breakPreferences {
			idx := strings.LastIndex(window, sep)
			if idx < 0 {
				continue
			}
			if utf8.RuneCountInString(window[:idx]) >= half {
				cut = idx + len(sep)
				break
			}
		}

		if seg := strings.TrimSpace(rest[:cut]); seg != "" {
			segments = append(segments, seg)
		}
		rest = strings.TrimSpace(rest[cut:])
	}

	if rest != "" {
		segments = append(segments, rest)
	}
	return segments
}

// firstRunes returns the prefix of s holding at most n runes.
func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
