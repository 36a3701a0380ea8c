package graph

// DefaultDocument returns the workflow graph document shipped with the
// daemon: the twelve-act happy path described in SPEC_FULL.md §4.1,
// wiring every builtin executor's declared result types to the States
// Table. Operators may override it entirely with a TOML/YAML file named
// by the `workflow` config key; this is only the zero-config default.
func DefaultDocument() *GraphDocument {
	return &GraphDocument{
		InitialAct: "Build",
		Nodes: map[string]NodeDoc{
			"Build": {
				Label:    "Build",
				Executor: NoneExecutor,
				Results: map[string][]EdgeDoc{
					"created": {{Name: "Building", In: "Issue", Next: "Implement"}},
				},
			},
			"Implement": {
				Label:    "Implement",
				Executor: "implement",
				Results: map[string][]EdgeDoc{
					"success":   {{Name: "PrCreated", In: "Issue", Next: "Review"}},
					"failure":   {{Name: "ImplementationFailed", In: "Issue"}},
					"ask_user":  {{Name: "NeedsClarification", In: "Issue", Next: "AwaitReply"}},
					"max_turns": {{Name: "Paused", In: "Issue", Next: "Implement"}},
					"error":     {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"AwaitReply": {
				Label:    "AwaitReply",
				Executor: "await_reply",
				Results: map[string][]EdgeDoc{
					"waiting": {{Name: "Paused", In: "Issue"}},
					"replied": {{Name: "Clarified", In: "Issue", Next: "Implement"}},
					"error":   {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"Review": {
				Label:    "Review",
				Executor: "review",
				Results: map[string][]EdgeDoc{
					"success": {{Name: "Reviewing", In: "Issue", Next: "Evaluate"}},
					"failure": {{Name: "ImplementationFailed", In: "Issue"}},
					"error":   {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"Evaluate": {
				Label:    "Evaluate",
				Executor: "evaluate",
				Results: map[string][]EdgeDoc{
					"approved":          {{Name: "Approved", In: "Issue", Next: "Merge"}},
					"changes_requested": {{Name: "ChangesRequested", In: "Issue", Next: "Revise"}},
					"waiting":           {{Name: "Reviewing", In: "Issue"}},
					"error":             {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"Revise": {
				Label:    "Revise",
				Executor: "revise",
				Results: map[string][]EdgeDoc{
					"success": {{Name: "FixesApplied", In: "Issue", Next: "Evaluate"}},
					"failure": {{Name: "ImplementationFailed", In: "Issue"}},
					"error":   {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"Merge": {
				Label:    "Merge",
				Executor: "merge",
				Results: map[string][]EdgeDoc{
					"success": {{Name: "Merged", In: "Issue", Next: "Deploy"}},
					"failure": {{Name: "MergeFailed", In: "Issue"}},
					"error":   {{Name: "MergeFailed", In: "Issue"}},
				},
			},
			"Deploy": {
				Label:    "Deploy",
				Executor: NoneExecutor,
				Results: map[string][]EdgeDoc{
					"created": {{Name: "AwaitingDeploy", In: "Issue", Next: "AwaitDeploy"}},
				},
			},
			"AwaitDeploy": {
				Label:    "AwaitDeploy",
				Executor: "await_deploy",
				Results: map[string][]EdgeDoc{
					"waiting": {{Name: "AwaitingDeploy", In: "Issue"}},
					"success": {{Name: "AwaitingDeploy", In: "Issue", Next: "RunDeploy"}},
					"error":   {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"RunDeploy": {
				Label:    "RunDeploy",
				Executor: "run_deploy",
				Results: map[string][]EdgeDoc{
					"success": {{Name: "Deployed", In: "Issue", Next: "Release"}},
					"failure": {{Name: "ImplementationFailed", In: "Issue"}},
					"error":   {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
			"Release": {
				Label:    "Release",
				Executor: "release",
				Results: map[string][]EdgeDoc{
					"success": {{Name: "Released", In: "Issue", Next: "Publish"}},
					"failure": {{Name: "RELEASE_FAILED", In: "Issue"}},
					"error":   {{Name: "RELEASE_FAILED", In: "Issue"}},
				},
			},
			"Publish": {
				Label:    "Publish",
				Executor: "publish",
				Results: map[string][]EdgeDoc{
					"success": {{Name: "ManualRelease", In: "Issue"}},
					"error":   {{Name: "ImplementationFailed", In: "Issue"}},
				},
			},
		},
		States: map[string]string{
			"Building":              "inProgress",
			"PrCreated":             "inReview",
			"NeedsClarification":    "waiting",
			"Clarified":             "inProgress",
			"Paused":                "inProgress",
			"ImplementationFailed":  "blocked",
			"Reviewing":             "inReview",
			"Approved":              "readyForDeploy",
			"ChangesRequested":      "inReview",
			"FixesApplied":          "inReview",
			"Merged":                "readyForDeploy",
			"MergeFailed":           "blocked",
			"AwaitingDeploy":        "deploy",
			"Deployed":              "deploy",
			"Released":              "deploy",
			"RELEASE_FAILED":        "blocked",
			"ManualRelease":         "done",
		},
	}
}

// Default compiles DefaultDocument, returning the graph the daemon runs
// when no `workflow` override file is configured.
func Default() (*Graph, error) {
	return Compile(DefaultDocument())
}
