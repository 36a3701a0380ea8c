package graph

// TransitionKind classifies one flattened transition edge for diagnostics.
type TransitionKind string

const (
	// TransitionNormal is an edge with a `next`: the graph continues.
	TransitionNormal TransitionKind = "transition"
	// TransitionTerminal is an edge with no `next`: the run stops advancing
	// until the next poll (or is closed, if the outcome is terminal).
	TransitionTerminal TransitionKind = "terminal"
	// TransitionAuto is the single edge of a phase-group node's "created"
	// result: it fires automatically, without an executor invocation.
	TransitionAuto TransitionKind = "auto"
)

// TransitionEdge is one flattened {from, via, to, outcome, inLabel, type}
// record, per §4.3.
type TransitionEdge struct {
	From   ActName
	Via    string // result type key
	To     ActName
	HasTo  bool
	Outcome OutcomeName
	InLabel string
	Kind    TransitionKind
}

// RetryTarget tells the scheduler which act to re-emit, on which container,
// and which board state to sync to, when an operator moves a card out of
// Blocked after a terminal-result outcome.
type RetryTarget struct {
	ActName     ActName
	GroupLabel  string
	BoardState  BoardColumn
}

// Analysis holds the four pure derived structures described in §4.3,
// computed once after a Graph is compiled and validated.
type Analysis struct {
	ActExecutor           map[ActName]string
	ResultTypesByExecutor map[string]map[string]bool
	TransitionEdges       []TransitionEdge
	RetryTargets          map[OutcomeName]RetryTarget
}

// Build computes the Analysis for g. registry is used to populate
// ResultTypesByExecutor for declared-type caching; it may be nil, in which
// case ResultTypesByExecutor is derived purely from what the graph uses
// (useful for offline `debug`/dry-run rendering without a live registry).
func Build(g *Graph, registry ResultTypesProvider) *Analysis {
	a := &Analysis{
		ActExecutor:           make(map[ActName]string, len(g.Nodes)),
		ResultTypesByExecutor: make(map[string]map[string]bool),
		RetryTargets:          make(map[OutcomeName]RetryTarget),
	}

	// Group label -> the node that created it, so retry targets can look up
	// the phase-group's "created" edge for a board state.
	groupCreatedState := make(map[string]BoardColumn)
	for _, n := range g.Nodes {
		if !n.IsPhaseGroup() {
			continue
		}
		for _, e := range n.Results[CreatedResultType] {
			if col, ok := g.States[e.Name]; ok {
				groupCreatedState[n.Label] = col
			}
		}
	}

	for name, n := range g.Nodes {
		if !n.IsPhaseGroup() {
			a.ActExecutor[name] = n.Executor
			set := a.ResultTypesByExecutor[n.Executor]
			if set == nil {
				set = make(map[string]bool)
				a.ResultTypesByExecutor[n.Executor] = set
			}
			if registry != nil {
				if declared, ok := registry.ResultTypes(n.Executor); ok {
					for _, d := range declared {
						set[d] = true
					}
				}
			}
			for rt := range n.Results {
				set[rt] = true
			}
		}

		for resultType, edges := range n.Results {
			for _, e := range edges {
				kind := TransitionNormal
				if n.IsPhaseGroup() {
					kind = TransitionAuto
				} else if !e.HasNext {
					kind = TransitionTerminal
				}
				te := TransitionEdge{
					From:    name,
					Via:     resultType,
					To:      e.Next,
					HasTo:   e.HasNext,
					Outcome: e.Name,
					InLabel: e.In,
					Kind:    kind,
				}
				a.TransitionEdges = append(a.TransitionEdges, te)

				// A terminal edge whose outcome classifies as failure is a
				// candidate retry target: re-emitting the *source* work-act
				// (not a `next`, since there is none) is the retry action.
				if kind == TransitionTerminal && !n.IsPhaseGroup() && ClassificationOf(e.Name) == ClassificationFailure {
					a.RetryTargets[e.Name] = RetryTarget{
						ActName:    name,
						GroupLabel: n.Group,
						BoardState: groupCreatedState[n.Group],
					}
				}
			}
		}
	}

	return a
}

// FindReachableActs returns the set of act names reachable from start via
// `next` transitions (BFS), per §4.3 / invariant 5. Mirrors the teacher
// validator's reachability walk.
func FindReachableActs(g *Graph, start ActName) map[ActName]bool {
	reachable := map[ActName]bool{start: true}
	queue := []ActName{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, ok := g.Nodes[cur]
		if !ok {
			continue
		}
		for _, edges := range n.Results {
			for _, e := range edges {
				if e.HasNext && !reachable[e.Next] {
					reachable[e.Next] = true
					queue = append(queue, e.Next)
				}
			}
		}
	}
	return reachable
}

// FindOrphanOutcomes returns outcome names present in the states table that
// are produced by no edge in the graph — e.g. Started/Resumed/Aborted,
// which are emitted directly by the scheduler rather than via a graph edge.
func FindOrphanOutcomes(g *Graph) map[OutcomeName]bool {
	produced := make(map[OutcomeName]bool)
	for _, n := range g.Nodes {
		for _, edges := range n.Results {
			for _, e := range edges {
				produced[e.Name] = true
			}
		}
	}
	orphans := make(map[OutcomeName]bool)
	for name := range g.States {
		if !produced[name] {
			orphans[name] = true
		}
	}
	return orphans
}
