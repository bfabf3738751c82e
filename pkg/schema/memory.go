package schema

// Default narrative memory field values. Every field of a NarrativeMemory
// produced by the core is populated, so merge and prompt composition never
// operate on absent data.
const (
	DefaultEmotionalTone = "unknown"
	DefaultOpenThread    = "Unclear what the next step is."
	DefaultWorldState    = "unknown change"
)

// NarrativeMemory is the accumulated story state threaded between
// narrative-mode nodes. Values are immutable by convention: each node
// produces a fresh memory rather than mutating its inputs.
type NarrativeMemory struct {
	CharacterArcs map[string]string `json:"characterArcs"`
	EmotionalTone string            `json:"emotionalTone"`
	OpenThreads   []string          `json:"openThreads"`
	WorldState    string            `json:"worldState"`
	// Fallback retains the raw model text when structured extraction fails.
	Fallback string `json:"fallback,omitempty"`
}

// DefaultMemory returns the all-defaults memory value.
func DefaultMemory() NarrativeMemory {
	return NarrativeMemory{
		CharacterArcs: map[string]string{},
		EmotionalTone: DefaultEmotionalTone,
		OpenThreads:   []string{DefaultOpenThread},
		WorldState:    DefaultWorldState,
	}
}

// Normalize fills any zero-valued field with its default and returns the
// result. The receiver is not modified.
func (m NarrativeMemory) Normalize() NarrativeMemory {
	if m.CharacterArcs == nil {
		m.CharacterArcs = map[string]string{}
	}
	if m.EmotionalTone == "" {
		m.EmotionalTone = DefaultEmotionalTone
	}
	if len(m.OpenThreads) == 0 {
		m.OpenThreads = []string{DefaultOpenThread}
	}
	if m.WorldState == "" {
		m.WorldState = DefaultWorldState
	}
	return m
}
