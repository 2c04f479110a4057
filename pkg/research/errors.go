package research

import (
	"errors"
	"fmt"
)

var (
	ErrNoPendingSuspension = errors.New("no pending clarification")
	ErrAlreadySuspended    = errors.New("run is already suspended")
	ErrEmptyClarification  = errors.New("clarified intent is empty")
	ErrEmptyQuery          = errors.New("initial query is empty")
	ErrRunBusy             = errors.New("run is being driven by another caller")
	ErrRunFinished         = errors.New("run already finished")
)

// ProviderError reports a failed search call. The engine only distinguishes
// success from failure; Status carries the provider code for logs.
type ProviderError struct {
	Provider string
	Query    string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s search %q failed with status %d: %v", e.Provider, e.Query, e.Status, e.Err)
	}
	return fmt.Sprintf("%s search %q failed: %v", e.Provider, e.Query, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// GenerationError reports a text-generation capability that failed or
// returned output violating its schema.
type GenerationError struct {
	Role string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Role, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ProtocolError signals caller misuse of a run. It is never retried.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PhaseError is the run-failure outcome: the phase that failed and why.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("research failed in %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func protocolErr(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}
