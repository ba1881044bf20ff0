package aikit

import (
	"errors"
	"fmt"
)

// ErrMaxTurns reports that a run exhausted its turn budget before the model
// produced a terminal answer.
type ErrMaxTurns struct {
	// Limit is the configured maximum number of turns.
	Limit int
	// Completed is the number of turns actually completed.
	Completed int
}

func (e *ErrMaxTurns) Error() string {
	return fmt.Sprintf("max turns exceeded: limit %d, completed %d", e.Limit, e.Completed)
}

// ErrToolFailure wraps an unexpected tool failure with the tool's name.
// Unlike a declared tool failure (which becomes an error-flagged ToolResult),
// an ErrToolFailure propagates and aborts the run.
type ErrToolFailure struct {
	Tool string
	Err  error
}

func (e *ErrToolFailure) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ErrToolFailure) Unwrap() error { return e.Err }

// ErrIncompleteStream is returned when a model event stream ends without a
// completed or error event, which violates the LLMClient contract.
var ErrIncompleteStream = errors.New("model stream ended without a terminal event")

// ErrUnknownTool is returned by the executor when no registered tool matches
// the requested name. It surfaces as a declared failure, not an abort.
var ErrUnknownTool = errors.New("unknown tool")

// ErrNoAgents is returned by a Router with an empty agent set.
var ErrNoAgents = errors.New("no agents registered")
