package narrative

import (
	"fmt"
	"strings"

	"github.com/rmead777/agentflow/pkg/schema"
)

// PromptInput carries the shaped inputs a prompt builder may draw on.
// Builders ignore fields that do not apply to their node kind.
type PromptInput struct {
	ChapterNumber  int
	OutlineTitle   string
	OutlineSummary string
	ChapterText    string
	Context        string
	Characters     []string
	Summary        string
	Prompt         string
	Memory         schema.NarrativeMemory
}

// PromptBuilder composes the model prompt for one node kind.
type PromptBuilder func(in PromptInput) string

// defaultCharacters is the scene pair used when a dialogue node does not
// override its cast.
var defaultCharacters = []string{"Elena", "Dmitri"}

// promptBuilders maps node kinds to their builders. Unrecognized kinds
// fall through to fallbackPrompt.
var promptBuilders = map[string]PromptBuilder{
	schema.NodeKindChapter:     ChapterPrompt,
	schema.NodeKindDialogue:    DialoguePrompt,
	schema.NodeKindSummary:     SummaryPrompt,
	schema.NodeKindRetroinject: RetroinjectPrompt,
	schema.NodeKindOutline:     outlinePassthrough,
}

// PromptFor returns the prompt for the given node kind, using a generic
// fallback builder for unknown kinds.
func PromptFor(nodeKind string, in PromptInput) string {
	if builder, ok := promptBuilders[nodeKind]; ok {
		return builder(in)
	}
	return fallbackPrompt(in)
}

func outlinePassthrough(in PromptInput) string { return in.Prompt }

func fallbackPrompt(PromptInput) string { return "Write something creative." }

// ChapterPrompt composes the chapter-writing prompt, embedding the outline
// entry and the textual rendering of narrative memory.
func ChapterPrompt(in PromptInput) string {
	return strings.TrimSpace(fmt.Sprintf(`
You are writing Chapter %d: %s of a nonlinear sci-fi novel.

Goal for this chapter:
%s

Narrative memory from prior chapters:
%s

Write the full chapter.
`, in.ChapterNumber, in.OutlineTitle, in.OutlineSummary, ComposeMemoryText(in.Memory)))
}

// DialoguePrompt composes a scene prompt from the upstream context.
func DialoguePrompt(in PromptInput) string {
	characters := in.Characters
	if len(characters) == 0 {
		characters = defaultCharacters
	}
	return fmt.Sprintf(`
Write a dialogue scene based on the following situation:

Context: %s
Characters: %s

Let them argue, reveal fears, or uncover clues through tense, realistic dialogue.
`, in.Context, strings.Join(characters, ", "))
}

// SummaryPrompt composes the fixed chapter-summarization prompt.
func SummaryPrompt(in PromptInput) string {
	return fmt.Sprintf(`
You are a helpful summarization assistant.

Task: Summarize the following novel chapter in 3 paragraphs or less.

---

Chapter Content:
%s

---

Please begin the summary below:
`, in.ChapterText)
}

// RetroinjectPrompt instructs the model to distill a chapter summary into
// a strict JSON memory object.
func RetroinjectPrompt(in PromptInput) string {
	return strings.TrimSpace(fmt.Sprintf(`
Extract the following information from this chapter summary and return a strict JSON object with these fields:

characterArcs: map of character names to how they evolved (emotionally, psychologically)
emotionalTone: dominant emotion felt by the protagonist
openThreads: array of unresolved plot threads or mysteries
worldState: how the world changed, materially or thematically

Example:
{
  "characterArcs": {
    "Elara": "Shifts from detached scientific observer to determined investigator after learning of the neural fracture",
    "Cassian": "Evolves from confident expert to concerned realist confronting system instability"
  },
  "emotionalTone": "urgency mixed with quiet resolve",
  "openThreads": [
    "What is causing the neural fracture?",
    "Can the anomaly be repaired?",
    "Is it a symptom or a signal?"
  ],
  "worldState": "A subtle but destabilizing anomaly has been discovered in the global neural network, threatening collective consciousness"
}

Respond ONLY with valid JSON. Do NOT include explanations, comments, or markdown.

Chapter Summary:
%s
`, in.Summary))
}
