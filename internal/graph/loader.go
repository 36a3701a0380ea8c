package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a workflow graph document from path, choosing the decoder
// by file extension: ".toml" uses BurntSushi/toml (the format the shipped
// default graph is authored in), anything else (".yaml"/".yml") uses
// gopkg.in/yaml.v3 for a user-supplied alternate format. Both decode into
// the same GraphDocument so downstream compilation is format-agnostic.
func LoadFile(path string) (*GraphDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}

	var doc GraphDocument
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("graph: decode toml %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("graph: decode yaml %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("graph: unrecognised graph document extension %q (want .toml, .yaml, or .yml)", ext)
	}
	return &doc, nil
}

// Compile converts a GraphDocument into a Graph with interior ActName/
// OutcomeName pointers, performing the structural (non-registry-dependent)
// checks described in §4.2: non-empty labels, "none" or named executor,
// non-empty results, exactly one "created" result for phase-group nodes,
// every edge has a name, every `next` names an existing node (forward
// reference permitted — the whole document is decoded before this check
// runs), every `in` is "Issue" or an existing label.
//
// Registry-dependent checks (declared result types subset/coverage) and
// reachability analysis are performed separately by Validate and the
// analysis package, since they require information Compile does not have
// (an executor registry) or are warnings rather than fatal structural
// errors.
func Compile(doc *GraphDocument) (*Graph, error) {
	if doc == nil {
		return nil, fmt.Errorf("graph: nil document")
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("graph: document has no nodes")
	}

	g := &Graph{
		InitialAct: ActName(doc.InitialAct),
		Nodes:      make(map[ActName]*Node, len(doc.Nodes)),
		States:     make(map[OutcomeName]BoardColumn, len(doc.States)),
	}

	for name, col := range doc.States {
		g.States[OutcomeName(name)] = BoardColumn(col)
	}

	// Collect labels so `in` references can be checked against them.
	labels := make(map[string]bool, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		if nd.Label != "" {
			labels[nd.Label] = true
		}
	}

	for rawName, nd := range doc.Nodes {
		name := ActName(rawName)
		if nd.Label == "" {
			return nil, fmt.Errorf("graph: node %q has an empty label", rawName)
		}
		if nd.Executor == "" {
			return nil, fmt.Errorf("graph: node %q has an empty executor reference", rawName)
		}
		if len(nd.Results) == 0 {
			return nil, fmt.Errorf("graph: node %q declares no results", rawName)
		}
		if nd.Executor == NoneExecutor {
			if _, ok := nd.Results[CreatedResultType]; !ok || len(nd.Results) != 1 {
				return nil, fmt.Errorf("graph: phase-group node %q must declare exactly one result named %q", rawName, CreatedResultType)
			}
		}

		compiled := &Node{
			Name:     name,
			Label:    nd.Label,
			Executor: nd.Executor,
			Group:    nd.Group,
			Results:  make(map[string][]Edge, len(nd.Results)),
		}

		for resultType, edgeDocs := range nd.Results {
			if len(edgeDocs) == 0 {
				return nil, fmt.Errorf("graph: node %q result %q has no edges", rawName, resultType)
			}
			edges := make([]Edge, 0, len(edgeDocs))
			for i, ed := range edgeDocs {
				if ed.Name == "" {
					return nil, fmt.Errorf("graph: node %q result %q edge %d has an empty outcome name", rawName, resultType, i)
				}
				if ed.In != "" && ed.In != IssueContainer && !labels[ed.In] {
					return nil, fmt.Errorf("graph: node %q result %q edge %d has unknown container %q", rawName, resultType, i, ed.In)
				}
				e := Edge{Name: OutcomeName(ed.Name), In: ed.In}
				if ed.Next != "" {
					e.Next = ActName(ed.Next)
					e.HasNext = true
				}
				edges = append(edges, e)
			}
			compiled.Results[resultType] = edges
		}

		g.Nodes[name] = compiled
	}

	// `next` targets must name an existing node now that every node is
	// compiled.
	for name, n := range g.Nodes {
		for resultType, edges := range n.Results {
			for i, e := range edges {
				if e.HasNext {
					if _, ok := g.Nodes[e.Next]; !ok {
						return nil, fmt.Errorf("graph: node %q result %q edge %d targets unknown act %q", name, resultType, i, e.Next)
					}
				}
				if e.Name == "" {
					return nil, fmt.Errorf("graph: node %q result %q edge %d has no outcome name", name, resultType, i)
				}
				if _, ok := g.States[e.Name]; !ok {
					return nil, fmt.Errorf("graph: outcome %q (node %q, result %q) has no entry in the states table", e.Name, name, resultType)
				}
			}
		}
	}

	if g.InitialAct == "" {
		return nil, fmt.Errorf("graph: initial_act is empty")
	}
	if _, ok := g.Nodes[g.InitialAct]; !ok {
		return nil, fmt.Errorf("graph: initial_act %q is not a defined node", g.InitialAct)
	}

	return g, nil
}

// LoadAndCompile is the convenience path used by the CLI: read a document
// from disk and compile it in one call.
func LoadAndCompile(path string) (*Graph, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(doc)
}
