package dialog

import (
	"context"
	"fmt"

	"vassist/internal/domain"
)

// Instance is one stack entry: which dialog is active and its persisted
// per-conversation state.
type Instance struct {
	ID    string         `json:"id"`
	State map[string]any `json:"state,omitempty"`
}

// State is the persisted dialog stack for one conversation.
type State struct {
	Stack []*Instance `json:"stack,omitempty"`
}

// Context drives the dialog stack for one turn.
type Context struct {
	Dialogs *Set
	Turn    *domain.TurnContext

	state *State
}

// NewContext binds the dialog set and the turn to a loaded stack state.
func NewContext(dialogs *Set, turn *domain.TurnContext, state *State) *Context {
	if state == nil {
		state = &State{}
	}
	return &Context{Dialogs: dialogs, Turn: turn, state: state}
}

// ActiveInstance returns the instance on top of the stack, or nil.
func (dc *Context) ActiveInstance() *Instance {
	if len(dc.state.Stack) == 0 {
		return nil
	}
	return dc.state.Stack[len(dc.state.Stack)-1]
}

// Depth returns the number of dialogs on the stack.
func (dc *Context) Depth() int { return len(dc.state.Stack) }

// Begin pushes the dialog onto the stack and runs its Begin.
func (dc *Context) Begin(ctx context.Context, dialogID string, options any) (TurnResult, error) {
	d, ok := dc.Dialogs.Find(dialogID)
	if !ok {
		return TurnResult{}, fmt.Errorf("dialog %q not registered", dialogID)
	}
	dc.state.Stack = append(dc.state.Stack, &Instance{ID: dialogID, State: make(map[string]any)})
	return d.Begin(ctx, dc, options)
}

// Continue routes the turn to the active dialog. With an empty stack it
// reports StatusEmpty so the caller can begin its root dialog.
func (dc *Context) Continue(ctx context.Context) (TurnResult, error) {
	inst := dc.ActiveInstance()
	if inst == nil {
		return TurnResult{Status: StatusEmpty}, nil
	}
	d, ok := dc.Dialogs.Find(inst.ID)
	if !ok {
		// state refers to a dialog this process no longer registers
		dc.state.Stack = dc.state.Stack[:len(dc.state.Stack)-1]
		return TurnResult{}, fmt.Errorf("active dialog %q not registered", inst.ID)
	}
	return d.Continue(ctx, dc)
}

// End pops the active dialog, runs its teardown, and resumes the parent
// with the result. Called by a dialog on itself when it finishes.
func (dc *Context) End(ctx context.Context, result any) (TurnResult, error) {
	inst := dc.ActiveInstance()
	if inst == nil {
		return TurnResult{Status: StatusComplete, Result: result}, nil
	}
	dc.state.Stack = dc.state.Stack[:len(dc.state.Stack)-1]
	if d, ok := dc.Dialogs.Find(inst.ID); ok {
		if err := d.End(ctx, dc, ReasonEndCalled); err != nil {
			return TurnResult{}, fmt.Errorf("end dialog %q: %w", inst.ID, err)
		}
	}

	if parent := dc.ActiveInstance(); parent != nil {
		d, ok := dc.Dialogs.Find(parent.ID)
		if !ok {
			return TurnResult{}, fmt.Errorf("parent dialog %q not registered", parent.ID)
		}
		return d.Resume(ctx, dc, result)
	}
	return TurnResult{Status: StatusComplete, Result: result}, nil
}

// CancelActive removes the active dialog with a cancel teardown, without
// resuming its parent. Used when a dialog must leave the stack before an
// error propagates.
func (dc *Context) CancelActive(ctx context.Context) error {
	inst := dc.ActiveInstance()
	if inst == nil {
		return nil
	}
	dc.state.Stack = dc.state.Stack[:len(dc.state.Stack)-1]
	if d, ok := dc.Dialogs.Find(inst.ID); ok {
		return d.End(ctx, dc, ReasonCancelCalled)
	}
	return nil
}

// CancelAll unwinds the whole stack, giving every dialog its cancel
// teardown. Teardown hooks run even when an earlier one fails; the first
// error is returned.
func (dc *Context) CancelAll(ctx context.Context) (TurnResult, error) {
	if len(dc.state.Stack) == 0 {
		return TurnResult{Status: StatusEmpty}, nil
	}
	var firstErr error
	for len(dc.state.Stack) > 0 {
		inst := dc.state.Stack[len(dc.state.Stack)-1]
		dc.state.Stack = dc.state.Stack[:len(dc.state.Stack)-1]
		if d, ok := dc.Dialogs.Find(inst.ID); ok {
			if err := d.End(ctx, dc, ReasonCancelCalled); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("cancel dialog %q: %w", inst.ID, err)
			}
		}
	}
	return TurnResult{Status: StatusCancelled}, firstErr
}

// Replace swaps the active dialog for another, running the cancel-style
// teardown of the outgoing dialog first.
func (dc *Context) Replace(ctx context.Context, dialogID string, options any) (TurnResult, error) {
	if inst := dc.ActiveInstance(); inst != nil {
		dc.state.Stack = dc.state.Stack[:len(dc.state.Stack)-1]
		if d, ok := dc.Dialogs.Find(inst.ID); ok {
			if err := d.End(ctx, dc, ReasonReplaceCalled); err != nil {
				return TurnResult{}, fmt.Errorf("replace dialog %q: %w", inst.ID, err)
			}
		}
	}
	return dc.Begin(ctx, dialogID, options)
}

// State returns the stack state for persistence.
func (dc *Context) State() *State { return dc.state }
