package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpmetrics/coder/internal/graph"
)

// minimalDoc builds a tiny two-act graph: a phase-group "Build" that
// transitions into a work-act "Implement", which has a terminal "success"
// edge and a terminal failure edge used to exercise retry-target
// derivation.
func minimalDoc() *graph.GraphDocument {
	return &graph.GraphDocument{
		InitialAct: "Build",
		States: map[string]string{
			"Started":              "todo",
			"Building":             "inProgress",
			"PrCreated":            "inReview",
			"ImplementationFailed": "blocked",
		},
		Nodes: map[string]graph.NodeDoc{
			"Build": {
				Label:    "Build",
				Executor: graph.NoneExecutor,
				Results: map[string][]graph.EdgeDoc{
					"created": {{Name: "Building", Next: "Implement"}},
				},
			},
			"Implement": {
				Label:    "Build",
				Executor: "implement",
				Group:    "Build",
				Results: map[string][]graph.EdgeDoc{
					"success": {{Name: "PrCreated"}},
					"error":   {{Name: "ImplementationFailed"}},
				},
			},
		},
	}
}

type fakeRegistry map[string][]string

func (f fakeRegistry) ResultTypes(name string) ([]string, bool) {
	rt, ok := f[name]
	return rt, ok
}

func TestCompile_Valid(t *testing.T) {
	g, err := graph.Compile(minimalDoc())
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, graph.ActName("Build"), g.InitialAct)
	assert.Len(t, g.Nodes, 2)

	n, ok := g.Node("Build")
	require.True(t, ok)
	assert.True(t, n.IsPhaseGroup())
}

func TestCompile_RejectsUnknownNext(t *testing.T) {
	doc := minimalDoc()
	impl := doc.Nodes["Implement"]
	impl.Results["success"] = []graph.EdgeDoc{{Name: "PrCreated", Next: "DoesNotExist"}}
	doc.Nodes["Implement"] = impl

	_, err := graph.Compile(doc)
	assert.Error(t, err)
}

func TestCompile_RejectsUnknownOutcomeInStatesTable(t *testing.T) {
	doc := minimalDoc()
	delete(doc.States, "PrCreated")

	_, err := graph.Compile(doc)
	assert.Error(t, err)
}

func TestCompile_PhaseGroupMustHaveExactlyOneCreatedResult(t *testing.T) {
	doc := minimalDoc()
	build := doc.Nodes["Build"]
	build.Results["extra"] = []graph.EdgeDoc{{Name: "Building"}}
	doc.Nodes["Build"] = build

	_, err := graph.Compile(doc)
	assert.Error(t, err)
}

func TestValidate_UndeclaredResultType(t *testing.T) {
	g, err := graph.Compile(minimalDoc())
	require.NoError(t, err)

	reg := fakeRegistry{"implement": {"success"}} // missing "error"
	result := graph.Validate(g, reg)
	assert.False(t, result.IsValid())
	assert.Contains(t, result.String(), graph.IssueUndeclaredResult)
}

func TestValidate_MatchingResultTypes(t *testing.T) {
	g, err := graph.Compile(minimalDoc())
	require.NoError(t, err)

	reg := fakeRegistry{"implement": {"success", "error"}}
	result := graph.Validate(g, reg)
	assert.True(t, result.IsValid())
}

func TestFindReachableActs(t *testing.T) {
	g, err := graph.Compile(minimalDoc())
	require.NoError(t, err)

	reachable := graph.FindReachableActs(g, g.InitialAct)
	assert.True(t, reachable["Build"])
	assert.True(t, reachable["Implement"])
}

func TestFindReachableActs_UnreachableWarns(t *testing.T) {
	doc := minimalDoc()
	doc.States["Merged"] = "readyForDeploy"
	doc.Nodes["Merge"] = graph.NodeDoc{
		Label:    "Build",
		Executor: "merge",
		Results: map[string][]graph.EdgeDoc{
			"success": {{Name: "Merged"}},
		},
	}
	g, err := graph.Compile(doc)
	require.NoError(t, err)

	result := graph.Validate(g, nil)
	assert.True(t, result.IsValid()) // unreachable is a warning, not fatal
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, graph.IssueUnreachableAct, result.Warnings[0].Code)
}

func TestBuild_RetryTargets(t *testing.T) {
	g, err := graph.Compile(minimalDoc())
	require.NoError(t, err)

	a := graph.Build(g, nil)
	target, ok := a.RetryTargets["ImplementationFailed"]
	require.True(t, ok)
	assert.Equal(t, graph.ActName("Implement"), target.ActName)
	assert.Equal(t, "Build", target.GroupLabel)
	assert.Equal(t, graph.ColumnInProgress, target.BoardState)
}

func TestBuild_ActExecutor(t *testing.T) {
	g, err := graph.Compile(minimalDoc())
	require.NoError(t, err)

	a := graph.Build(g, nil)
	assert.Equal(t, "implement", a.ActExecutor["Implement"])
	_, isWorkAct := a.ActExecutor["Build"]
	assert.False(t, isWorkAct, "phase-group nodes have no executor entry")
}

func TestFindOrphanOutcomes(t *testing.T) {
	doc := minimalDoc()
	doc.States["Started"] = "todo" // produced by no edge in this minimal doc
	g, err := graph.Compile(doc)
	require.NoError(t, err)

	orphans := graph.FindOrphanOutcomes(g)
	assert.True(t, orphans["Started"])
	assert.False(t, orphans["PrCreated"])
}

func TestClassificationOf_DefaultsToNeutral(t *testing.T) {
	assert.Equal(t, graph.ClassificationFailure, graph.ClassificationOf(graph.OutcomeAborted))
	assert.Equal(t, graph.ClassificationNeutral, graph.ClassificationOf(graph.OutcomeName("CustomUnregistered")))
}
