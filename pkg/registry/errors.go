package registry

import "errors"

var (
	// ErrAgentNotFound is returned by getAgent-style lookups.
	ErrAgentNotFound = errors.New("registry: agent not found")
	// ErrAgentExists names the duplicate-id case. CreateAgent does not
	// return it: an insert over an existing id fails with the wrapped driver
	// error. The Lifecycle Manager deletes a stale terminal row first.
	ErrAgentExists = errors.New("registry: agent already exists")
	// ErrBlockerCycle is returned by AddBlocker when the new edge would
	// create a cycle in the blocks-on graph.
	ErrBlockerCycle = errors.New("registry: adding blocker would create a cycle")
	// ErrPipelineRunNotFound is returned by pipeline run lookups.
	ErrPipelineRunNotFound = errors.New("registry: pipeline run not found")
	// ErrStageRunNotFound is returned by stage run lookups.
	ErrStageRunNotFound = errors.New("registry: stage run not found")
)
