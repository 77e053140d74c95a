package warnparse

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)

func talkPage(sections ...string) string {
	out := "Welcome to the wiki!\n\n"
	for _, s := range sections {
		out += s + "\n"
	}
	return out
}

func TestParse_MaxOfCurrentMonth(t *testing.T) {
	t.Parallel()

	text := talkPage(
		"== August 2026 ==",
		"Please stop. <!-- Template:uw-vandalism1 --> [[Sandbox]] [[User:PatrollerA|A]] 09:15, 2 August 2026 (UTC)",
		"Final-ish. <!-- Template:uw-vandalism3 --> [[Sandbox]] [[User:PatrollerB|B]] 10:20, 3 August 2026 (UTC)",
	)

	if got := Parse(text, testNow); got != Level3 {
		t.Errorf("Parse = %v, want %v", got, Level3)
	}
}

func TestParse_ImmediateOutranksFour(t *testing.T) {
	t.Parallel()

	text := talkPage(
		"== August 2026 ==",
		"<!-- Template:uw-vandalism4 --> sig 09:15, 2 August 2026 (UTC)",
		"<!-- Template:uw-vandalism4im --> sig 10:20, 3 August 2026 (UTC)",
	)

	got := Parse(text, testNow)
	if got != Level4im {
		t.Errorf("Parse = %v, want %v", got, Level4im)
	}
	// Ordinal, not lexicographic: the string "4" sorts after "4im"'s prefix
	// but the level must still compare lower.
	if !(Level4 < Level4im) {
		t.Error("Level4 should order below Level4im")
	}
}

func TestParse_OlderMonthsIgnored(t *testing.T) {
	t.Parallel()

	text := talkPage(
		"== March 2026 ==",
		"<!-- Template:uw-vandalism4im --> old warning",
		"== August 2026 ==",
		"<!-- Template:uw-spam2 --> current",
	)

	if got := Parse(text, testNow); got != Level2 {
		t.Errorf("Parse = %v, want %v", got, Level2)
	}
}

func TestParse_NoCurrentSection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no sections", "just some chatter with no headings"},
		{"only old sections", talkPage("== January 2020 ==", "<!-- Template:uw-vandalism4 -->")},
		{"current section no markers", talkPage("== August 2026 ==", "thanks for your edit!")},
		{"malformed markers", talkPage("== August 2026 ==", "<!-- Template:uw-vandalism9 --> <!-- Template:something -->")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.text, testNow); got != Level0 {
				t.Errorf("Parse = %v, want Level0", got)
			}
			if h := ParseHistory(tt.text, testNow); len(h) != 0 {
				t.Errorf("ParseHistory returned %d records, want 0", len(h))
			}
		})
	}
}

func TestParseHistory_CapturesDetails(t *testing.T) {
	t.Parallel()

	text := talkPage(
		"== August 2026 ==",
		"Please stop editing disruptively. <!-- Template:uw-vandalism2 --> Your edit to [[Elm (tree)|Elm]] was reverted. [[User:PatrollerA|A]] ([[User talk:PatrollerA|talk]]) 09:15, 2 August 2026 (UTC)",
		"This is your last warning. <!-- Template:uw-vandalism4 --> [[Oak]] [[User:PatrollerB|B]] 10:20, 3 August 2026 (UTC)",
	)

	records := ParseHistory(text, testNow)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Level != Level2 {
		t.Errorf("first level = %v, want %v", first.Level, Level2)
	}
	if first.Article != "Elm (tree)" {
		t.Errorf("first article = %q, want %q", first.Article, "Elm (tree)")
	}
	if first.SignedBy != "PatrollerA" {
		t.Errorf("first signer = %q, want %q", first.SignedBy, "PatrollerA")
	}
	if first.Timestamp != "09:15, 2 August 2026 (UTC)" {
		t.Errorf("first timestamp = %q", first.Timestamp)
	}

	second := records[1]
	if second.Level != Level4 {
		t.Errorf("second level = %v, want %v", second.Level, Level4)
	}
	if second.Article != "Oak" {
		t.Errorf("second article = %q, want %q", second.Article, "Oak")
	}
	if second.SignedBy != "PatrollerB" {
		t.Errorf("second signer = %q, want %q", second.SignedBy, "PatrollerB")
	}
}

func TestParseHistory_PreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	text := talkPage(
		"== August 2026 ==",
		"<!-- Template:uw-vandalism3 --> sig 09:15, 2 August 2026 (UTC)",
		"<!-- Template:uw-vandalism1 --> sig 10:20, 3 August 2026 (UTC)",
		"<!-- Template:uw-vandalism2 --> sig 11:25, 4 August 2026 (UTC)",
	)

	records := ParseHistory(text, testNow)
	want := []Level{Level3, Level1, Level2}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, w := range want {
		if records[i].Level != w {
			t.Errorf("records[%d].Level = %v, want %v", i, records[i].Level, w)
		}
	}
}

func TestFromMarker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		marker string
		want   Level
		ok     bool
	}{
		{"1", Level1, true},
		{"2", Level2, true},
		{"3", Level3, true},
		{"4", Level4, true},
		{"4im", Level4im, true},
		{"0", Level0, false},
		{"5", Level0, false},
		{"", Level0, false},
	}
	for _, tt := range tests {
		got, ok := FromMarker(tt.marker)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FromMarker(%q) = (%v, %v), want (%v, %v)", tt.marker, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		level Level
		want  string
	}{
		{Level0, "0"}, {Level1, "1"}, {Level4, "4"}, {Level4im, "4im"},
	} {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
