// Package narrative holds the story-state machinery for novel-mode flows:
// memory merging, per-node-kind prompt templates, and the best-effort
// extractors that recover structured data from free-form model output.
package narrative

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rmead777/agentflow/pkg/schema"
)

// Merge combines upstream memory snapshots into one. Later arguments win
// per top-level field (shallow override, not a deep union), so
// Merge(Merge(a, b), c) equals Merge(a, b, c). Zero arguments return the
// all-defaults memory. Pure: inputs are never modified.
func Merge(memories ...schema.NarrativeMemory) schema.NarrativeMemory {
	if len(memories) == 0 {
		return schema.DefaultMemory()
	}

	merged := memories[0]
	for _, m := range memories[1:] {
		merged.CharacterArcs = m.CharacterArcs
		merged.EmotionalTone = m.EmotionalTone
		merged.OpenThreads = m.OpenThreads
		merged.WorldState = m.WorldState
		if m.Fallback != "" {
			merged.Fallback = m.Fallback
		}
	}
	return merged.Normalize()
}

// ComposeMemoryText renders a memory as the prose block embedded in
// chapter prompts.
func ComposeMemoryText(m schema.NarrativeMemory) string {
	arcs, err := json.MarshalIndent(m.CharacterArcs, "", "  ")
	if err != nil {
		arcs = []byte("{}")
	}

	tone := m.EmotionalTone
	if tone == "" {
		tone = "neutral"
	}
	threads := strings.Join(m.OpenThreads, ", ")
	if threads == "" {
		threads = "none"
	}
	world := m.WorldState
	if world == "" {
		world = "unchanged"
	}

	return fmt.Sprintf(
		"Character Arcs: %s\nEmotional Tone: %s\nOpen Threads: %s\nWorld State: %s",
		arcs, tone, threads, world)
}
