package models

import "fmt"

// AgentErrorKind classifies agent fetch failures.
type AgentErrorKind int

const (
	AgentUnreachable AgentErrorKind = iota
	AgentTimeout
	AgentMalformed
)

func (k AgentErrorKind) String() string {
	switch k {
	case AgentTimeout:
		return "timeout"
	case AgentMalformed:
		return "malformed"
	case AgentUnreachable:
		return "unreachable"
	default:
		return "unreachable"
	}
}

// AgentError is the structured outcome of a failed agent request. The client
// returns it instead of letting transport errors cross component boundaries.
type AgentError struct {
	Kind    AgentErrorKind
	AgentID string
	Err     error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s %s: %v", e.AgentID, e.Kind, e.Err)
	}

	return fmt.Sprintf("agent %s %s", e.AgentID, e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Err }

// StoreErrorKind classifies store write failures.
type StoreErrorKind int

const (
	StoreUnreachable StoreErrorKind = iota
	StorePartialWrite
)

func (k StoreErrorKind) String() string {
	if k == StorePartialWrite {
		return "partial_write"
	}

	return "unreachable"
}

// StoreError is the structured outcome of a failed store write. A partial
// write carries the per-point failures in the accompanying WriteResult, not
// here.
type StoreError struct {
	Kind StoreErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("store %s", e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }
