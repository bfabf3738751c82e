package narrative

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// OutlineEntry is one chapter slot of a novel outline.
type OutlineEntry struct {
	Chapter int    `json:"chapter"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// ParseFailureOutline is the one-element outline emitted when no array can
// be recovered from model output. The title itself signals the failure so
// it surfaces wherever the outline is rendered.
func ParseFailureOutline() []OutlineEntry {
	return []OutlineEntry{{
		Chapter: 1,
		Title:   "❌ Outline parsing failed",
		Summary: "Could not parse array. Model may have returned malformed or incomplete JSON.",
	}}
}

// FallbackOutlineEntry stands in when a chapter has no entry in an
// otherwise usable outline. Downstream chapter nodes still get a label.
func FallbackOutlineEntry(chapter int) OutlineEntry {
	return OutlineEntry{
		Chapter: chapter,
		Title:   fmt.Sprintf("Chapter %d", chapter),
		Summary: "",
	}
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractOutline recovers an outline array from raw model output. The text
// may wrap the JSON in a markdown code fence or surround it with prose, so
// the extractor strips fences, isolates the outermost array brackets, and
// repairs near-JSON before giving up.
func ExtractOutline(raw string) ([]OutlineEntry, bool) {
	candidate := raw
	if m := codeFenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}
	start := strings.Index(candidate, "[")
	end := strings.LastIndex(candidate, "]")
	if start >= 0 && end > start {
		candidate = candidate[start : end+1]
	}

	var entries []OutlineEntry
	if err := json.Unmarshal([]byte(candidate), &entries); err == nil && len(entries) > 0 {
		return entries, true
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err == nil {
		if err := json.Unmarshal([]byte(repaired), &entries); err == nil && len(entries) > 0 {
			return entries, true
		}
	}
	return nil, false
}

// OutlineEntryForChapter picks the entry for a 1-based chapter number from
// outline text. The text may itself be double-encoded (a JSON string that
// contains the outline JSON), which happens when an outline node's output
// passed through stringification upstream.
func OutlineEntryForChapter(outlineText string, chapter int) OutlineEntry {
	text := outlineText
	var inner string
	if err := json.Unmarshal([]byte(text), &inner); err == nil && inner != "" {
		text = inner
	}
	entries, ok := ExtractOutline(text)
	if !ok {
		return FallbackOutlineEntry(chapter)
	}
	for _, e := range entries {
		if e.Chapter == chapter {
			return e
		}
	}
	if chapter >= 1 && chapter <= len(entries) {
		return entries[chapter-1]
	}
	return FallbackOutlineEntry(chapter)
}

var chapterLabelRe = regexp.MustCompile(`(?i)(?:chapter|ch)\s*(\d+)`)

// ChapterNumberFromLabel reads an ordinal out of a node label such as
// "Chapter 3" or "ch2". Labels without a number default to chapter 1.
func ChapterNumberFromLabel(label string) int {
	m := chapterLabelRe.FindStringSubmatch(label)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
