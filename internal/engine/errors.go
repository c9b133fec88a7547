package engine

import "errors"

// Sentinel errors surfaced as run failure reasons.
var (
	// ErrNoSources means the graph has no node without incoming edges, so
	// there is nothing to seed the run with.
	ErrNoSources = errors.New("workflow has no source nodes")

	// ErrDependencyStall means a node was re-enqueued past the safety
	// bound without its dependencies settling, which indicates a broken
	// graph rather than a slow one.
	ErrDependencyStall = errors.New("dependency stall: node never became ready")

	// ErrCycle means the graph contains a cycle not mediated by a Loop
	// node.
	ErrCycle = errors.New("workflow graph contains a non-loop cycle")
)
