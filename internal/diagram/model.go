package diagram

// Shape classifies a diagram node by its flow node type.
type Shape string

const (
	ShapeInput  Shape = "input"
	ShapeModel  Shape = "model"
	ShapeAction Shape = "action"
	ShapeOutput Shape = "output"
	ShapeError  Shape = "error"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single flow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Shape  Shape
	Status *StatusOverlay
}

// StatusOverlay carries per-node run results onto the diagram.
type StatusOverlay struct {
	Status     string // "completed" or "failed"
	DurationMs int64
}

// Edge is a dependency from one node to another.
type Edge struct {
	From string
	To   string
}
