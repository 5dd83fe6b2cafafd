// Package dialog implements the multi-turn dialog engine: a persisted dialog
// stack, waterfall dialogs, and the skill dialog that hands a conversation
// off to a remote skill process.
package dialog

import (
	"context"
	"fmt"
)

// Status is the outcome of running a dialog for one turn.
type Status int

const (
	// StatusEmpty means no dialog was active.
	StatusEmpty Status = iota
	// StatusWaiting means the dialog is suspended awaiting the next turn.
	StatusWaiting
	// StatusComplete means the dialog finished and produced a result.
	StatusComplete
	// StatusCancelled means the dialog was removed without completing.
	StatusCancelled
)

// Reason tells a dialog's teardown hook why it is ending.
type Reason int

const (
	ReasonEndCalled Reason = iota
	ReasonCancelCalled
	ReasonReplaceCalled
)

// TurnResult is what the engine reports after processing one turn.
type TurnResult struct {
	Status Status
	Result any
}

// Dialog is one unit of conversation logic. The engine drives the lifecycle
// deterministically: Begin once, Continue per turn while active, Resume when
// a child dialog ends, End exactly once on the way off the stack.
type Dialog interface {
	ID() string
	Begin(ctx context.Context, dc *Context, options any) (TurnResult, error)
	Continue(ctx context.Context, dc *Context) (TurnResult, error)
	Resume(ctx context.Context, dc *Context, result any) (TurnResult, error)
	End(ctx context.Context, dc *Context, reason Reason) error
}

// Base provides default Resume and End implementations.
type Base struct{}

// Resume ends the dialog with the child's result by default.
func (Base) Resume(ctx context.Context, dc *Context, result any) (TurnResult, error) {
	return dc.End(ctx, result)
}

// End is a no-op teardown.
func (Base) End(ctx context.Context, dc *Context, reason Reason) error { return nil }

// Set is the registry of dialogs a bot can run.
type Set struct {
	dialogs map[string]Dialog
}

// NewSet creates an empty dialog set.
func NewSet() *Set {
	return &Set{dialogs: make(map[string]Dialog)}
}

// Add registers a dialog. Registering two dialogs with the same id is a
// programming error.
func (s *Set) Add(d Dialog) *Set {
	if _, ok := s.dialogs[d.ID()]; ok {
		panic(fmt.Sprintf("dialog %q registered twice", d.ID()))
	}
	s.dialogs[d.ID()] = d
	return s
}

// Find looks a dialog up by id.
func (s *Set) Find(id string) (Dialog, bool) {
	d, ok := s.dialogs[id]
	return d, ok
}
