package graph

import (
	"fmt"
	"strings"
)

// Issue code constants classify each ValidationIssue, mirroring the
// structure (and several codes) of the workflow-engine validator this
// package generalizes.
const (
	IssueUnreachableAct      = "UNREACHABLE_ACT"
	IssueUndeclaredResult    = "UNDECLARED_RESULT_TYPE"
	IssueUnusedDeclaredResult = "UNUSED_DECLARED_RESULT_TYPE"
	IssueMissingExecutor     = "MISSING_EXECUTOR"
)

// ValidationIssue describes a single problem found in a compiled Graph.
type ValidationIssue struct {
	Code    string
	Act     string
	Message string
}

// ValidationResult holds the outcome of validating a Graph. Errors are
// fatal; Warnings are not.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// IsValid reports whether the graph has no fatal errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d):\n", len(r.Errors))
	for _, i := range r.Errors {
		fmt.Fprintf(&b, "  [%s] act %q: %s\n", i.Code, i.Act, i.Message)
	}
	fmt.Fprintf(&b, "Warnings (%d):\n", len(r.Warnings))
	for _, i := range r.Warnings {
		fmt.Fprintf(&b, "  [%s] act %q: %s\n", i.Code, i.Act, i.Message)
	}
	return b.String()
}

// ResultTypesProvider supplies the declared result types for a registered
// executor name, letting Validate enforce invariant 4 (a work-act node's
// result types must exactly match its executor's declared types) without
// this package importing the executor registry directly.
type ResultTypesProvider interface {
	ResultTypes(executorName string) ([]string, bool)
}

// Validate checks a compiled Graph for the fatal and warning conditions in
// §4.2/§4.3/invariant 4, mirroring the phase structure of the workflow
// engine's ValidateDefinition: basic structural checks already happened in
// Compile, so here we run (1) executor/result-type cross-checks against the
// registry, (2) BFS reachability from InitialAct, producing warnings for any
// unreachable node — exactly as the teacher's validator treats unreachable
// steps as non-fatal.
func Validate(g *Graph, registry ResultTypesProvider) *ValidationResult {
	result := &ValidationResult{}
	if g == nil {
		result.Errors = append(result.Errors, ValidationIssue{Code: IssueMissingExecutor, Message: "nil graph"})
		return result
	}

	if registry != nil {
		for name, n := range g.Nodes {
			if n.IsPhaseGroup() {
				continue
			}
			declared, ok := registry.ResultTypes(n.Executor)
			if !ok {
				result.Errors = append(result.Errors, ValidationIssue{
					Code:    IssueMissingExecutor,
					Act:     string(name),
					Message: fmt.Sprintf("executor %q is not registered", n.Executor),
				})
				continue
			}
			declaredSet := make(map[string]bool, len(declared))
			for _, d := range declared {
				declaredSet[d] = true
			}
			used := make(map[string]bool, len(n.Results))
			for rt := range n.Results {
				used[rt] = true
				if !declaredSet[rt] {
					result.Errors = append(result.Errors, ValidationIssue{
						Code:    IssueUndeclaredResult,
						Act:     string(name),
						Message: fmt.Sprintf("node declares result type %q, not in executor %q's declared types %v", rt, n.Executor, declared),
					})
				}
			}
			for _, d := range declared {
				if d == WaitingResultType {
					continue // waiting need not appear in every node that uses this executor
				}
				if !used[d] {
					result.Errors = append(result.Errors, ValidationIssue{
						Code:    IssueUnusedDeclaredResult,
						Act:     string(name),
						Message: fmt.Sprintf("executor %q declares result type %q, which this node never uses", n.Executor, d),
					})
				}
			}
		}
	}

	// Reachability (invariant 5 / BFS) — warning only, matching the
	// teacher's "unreachable step" treatment: a fixed graph with a dead
	// branch still runs, it just never visits that branch.
	reachable := FindReachableActs(g, g.InitialAct)
	for name := range g.Nodes {
		if !reachable[name] {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Code:    IssueUnreachableAct,
				Act:     string(name),
				Message: fmt.Sprintf("act %q cannot be reached from initial act %q", name, g.InitialAct),
			})
		}
	}

	return result
}
