package graph

// EdgeDoc is the on-disk shape of one edge entry in a result's outcome list.
// Mirrors §3 of the specification: a mandatory outcome name, an optional
// container label, and an optional next-act name.
type EdgeDoc struct {
	Name string `toml:"name" yaml:"name" json:"name"`
	In   string `toml:"in,omitempty" yaml:"in,omitempty" json:"in,omitempty"`
	Next string `toml:"next,omitempty" yaml:"next,omitempty" json:"next,omitempty"`
}

// NodeDoc is the on-disk shape of one workflow graph node.
type NodeDoc struct {
	Label    string               `toml:"label" yaml:"label" json:"label"`
	Executor string               `toml:"executor" yaml:"executor" json:"executor"`
	Group    string               `toml:"group,omitempty" yaml:"group,omitempty" json:"group,omitempty"`
	Results  map[string][]EdgeDoc `toml:"results" yaml:"results" json:"results"`
}

// GraphDocument is the top-level on-disk shape of a workflow graph file: an
// ordered mapping from act name to node, plus the states table, plus the
// name of the initial act. TOML and YAML loaders both decode into this same
// struct so the validator and analysis stages are format-agnostic.
type GraphDocument struct {
	InitialAct string             `toml:"initial_act" yaml:"initial_act" json:"initial_act"`
	Nodes      map[string]NodeDoc `toml:"nodes" yaml:"nodes" json:"nodes"`
	States     map[string]string  `toml:"states" yaml:"states" json:"states"`
}

// Edge is the compiled, validated form of EdgeDoc: Next is resolved to an
// ActName with an explicit presence flag instead of relying on empty-string.
type Edge struct {
	Name    OutcomeName
	In      string
	Next    ActName
	HasNext bool
}

// Node is the compiled, validated form of NodeDoc.
type Node struct {
	Name     ActName
	Label    string
	Executor string // NoneExecutor for phase-group nodes
	Group    string
	Results  map[string][]Edge // result type -> ordered edge list
}

// IsPhaseGroup reports whether n has no registered executor implementation —
// i.e. it creates a sub-container and auto-transitions via "created".
func (n *Node) IsPhaseGroup() bool {
	return n.Executor == NoneExecutor
}

// Graph is the compiled, validated workflow graph: the typed form of
// GraphDocument, with nodes keyed by typed ActName values.
type Graph struct {
	InitialAct ActName
	Nodes      map[ActName]*Node
	States     map[OutcomeName]BoardColumn
}

// Node looks up a node by act name, returning (nil, false) when absent.
func (g *Graph) Node(name ActName) (*Node, bool) {
	n, ok := g.Nodes[name]
	return n, ok
}
