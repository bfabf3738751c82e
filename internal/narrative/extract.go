package narrative

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rmead777/agentflow/pkg/schema"
)

// ExtractMemory parses a retroinject node's model output into narrative
// memory. The model is instructed to answer with strict JSON, but outputs
// still arrive fenced or slightly malformed, so parsing mirrors the outline
// extractor: strip fences, isolate the braces, repair, then fall back to a
// default memory carrying the raw text.
func ExtractMemory(raw string) schema.NarrativeMemory {
	candidate := raw
	if m := codeFenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		candidate = candidate[start : end+1]
	}

	var mem schema.NarrativeMemory
	if err := json.Unmarshal([]byte(candidate), &mem); err == nil {
		return mem.Normalize()
	}
	if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
		if err := json.Unmarshal([]byte(repaired), &mem); err == nil {
			return mem.Normalize()
		}
	}

	fallback := schema.DefaultMemory()
	fallback.Fallback = strings.TrimSpace(raw)
	return fallback
}
