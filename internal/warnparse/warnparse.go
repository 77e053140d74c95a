// Package warnparse extracts user-warning severity levels and warning history
// from talk-page wikitext. All functions are total: malformed or missing
// input yields level 0 and an empty history.
package warnparse

import (
	"regexp"
	"strings"
	"time"
)

// Level is a warning severity tier. Comparison is ordinal: Level4im outranks
// Level4 even though the wikitext markers sort the other way as strings.
type Level int

const (
	Level0 Level = iota
	Level1
	Level2
	Level3
	Level4
	Level4im // "level 4-immediate", a final warning with no prior escalation
)

// String returns the marker form of the level ("0".."4", "4im").
func (l Level) String() string {
	switch l {
	case Level1:
		return "1"
	case Level2:
		return "2"
	case Level3:
		return "3"
	case Level4:
		return "4"
	case Level4im:
		return "4im"
	default:
		return "0"
	}
}

// FromMarker maps a marker suffix to a Level. Returns Level0 and false for
// anything unrecognized.
func FromMarker(s string) (Level, bool) {
	switch s {
	case "1":
		return Level1, true
	case "2":
		return Level2, true
	case "3":
		return Level3, true
	case "4":
		return Level4, true
	case "4im":
		return Level4im, true
	default:
		return Level0, false
	}
}

// Record is one warning found in the current-month section.
type Record struct {
	Level     Level
	Article   string // first wikilink after the marker, usually the offending page
	SignedBy  string // username from the signer's user-link
	Timestamp string // raw signature timestamp, e.g. "14:03, 12 August 2026 (UTC)"
}

var (
	headingRe = regexp.MustCompile(`(?m)^==\s*([^=\n][^\n]*?)\s*==\s*$`)

	// Substituted user-warning templates leave an HTML comment naming the
	// template; the trailing suffix is the severity marker.
	markerRe = regexp.MustCompile(`<!--\s*Template:[Uu]w-[a-z]+(4im|[1-4])\s*-->`)

	wikilinkRe  = regexp.MustCompile(`\[\[([^\]|#]+)(?:[|#][^\]]*)?\]\]`)
	signatureRe = regexp.MustCompile(`\[\[[Uu]ser(?:[ _][Tt]alk)?:([^\]|/]+)`)
	timestampRe = regexp.MustCompile(`\d{1,2}:\d{2}, \d{1,2} [A-Z][a-z]+ \d{4} \(UTC\)`)
)

// Parse returns the effective warning level for the current month: the
// maximum level among markers in the section headed by now's month/year.
// Older sections do not count toward current severity.
func Parse(text string, now time.Time) Level {
	section := currentMonthSection(text, now)
	if section == "" {
		return Level0
	}

	level := Level0
	for _, m := range markerRe.FindAllStringSubmatch(section, -1) {
		if l, ok := FromMarker(m[1]); ok && l > level {
			level = l
		}
	}
	return level
}

// ParseHistory returns every warning found in the current-month section, in
// the order it appears on the page.
func ParseHistory(text string, now time.Time) []Record {
	section := currentMonthSection(text, now)
	if section == "" {
		return nil
	}

	locs := markerRe.FindAllStringSubmatchIndex(section, -1)
	records := make([]Record, 0, len(locs))
	for i, loc := range locs {
		level, ok := FromMarker(section[loc[2]:loc[3]])
		if !ok {
			continue
		}

		// A warning's details live between this marker and the next one.
		end := len(section)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		span := section[loc[1]:end]

		rec := Record{Level: level}
		if m := wikilinkRe.FindStringSubmatch(span); m != nil && !strings.HasPrefix(strings.ToLower(m[1]), "user") {
			rec.Article = strings.TrimSpace(m[1])
		}
		if m := signatureRe.FindStringSubmatch(span); m != nil {
			rec.SignedBy = strings.TrimSpace(m[1])
		}
		if m := timestampRe.FindString(span); m != "" {
			rec.Timestamp = m
		}
		records = append(records, rec)
	}
	return records
}

// currentMonthSection returns the body of the section whose heading matches
// now's month and year ("August 2026"), or "" if no such section exists.
func currentMonthSection(text string, now time.Time) string {
	if text == "" {
		return ""
	}
	want := now.Format("January 2006")

	headings := headingRe.FindAllStringSubmatchIndex(text, -1)
	for i, h := range headings {
		title := strings.TrimSpace(text[h[2]:h[3]])
		if title != want {
			continue
		}
		start := h[1]
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		return text[start:end]
	}
	return ""
}
