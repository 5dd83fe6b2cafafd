package dialog

import (
	"context"
	"fmt"
)

// StepContext is passed to each waterfall step.
type StepContext struct {
	*Context

	// Options are the options the waterfall was begun with.
	Options any
	// Result is the result of the previous step or of a child dialog that
	// just completed.
	Result any

	wf   *Waterfall
	step int
}

// Next advances to the following step, carrying result forward. The last
// step's Next ends the waterfall.
func (sc *StepContext) Next(ctx context.Context, result any) (TurnResult, error) {
	return sc.wf.runStep(ctx, sc.Context, sc.step+1, sc.Options, result)
}

// WaitNext suspends the waterfall with the cursor on the following step, so
// the next turn's input is delivered there. A step that prompted the user
// returns this.
func (sc *StepContext) WaitNext() (TurnResult, error) {
	if inst := sc.ActiveInstance(); inst != nil {
		inst.State["step"] = sc.step + 1
	}
	return TurnResult{Status: StatusWaiting}, nil
}

// Waterfall runs a fixed sequence of steps, one per turn unless a step
// advances explicitly. A step that begins a child dialog is resumed with the
// child's result when the child ends.
type Waterfall struct {
	Base
	id    string
	steps []WaterfallStep
}

// WaterfallStep is one step of a waterfall.
type WaterfallStep func(ctx context.Context, sc *StepContext) (TurnResult, error)

// NewWaterfall builds a waterfall dialog.
func NewWaterfall(id string, steps ...WaterfallStep) *Waterfall {
	return &Waterfall{id: id, steps: steps}
}

func (w *Waterfall) ID() string { return w.id }

func (w *Waterfall) Begin(ctx context.Context, dc *Context, options any) (TurnResult, error) {
	inst := dc.ActiveInstance()
	inst.State["options"] = options
	return w.runStep(ctx, dc, 0, options, nil)
}

func (w *Waterfall) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	inst := dc.ActiveInstance()
	step := stateInt(inst.State, "step")
	// a turn arriving at the current step re-runs it with the user's input
	return w.runStep(ctx, dc, step, inst.State["options"], dc.Turn.Activity.Text)
}

func (w *Waterfall) Resume(ctx context.Context, dc *Context, result any) (TurnResult, error) {
	inst := dc.ActiveInstance()
	step := stateInt(inst.State, "step")
	return w.runStep(ctx, dc, step+1, inst.State["options"], result)
}

func (w *Waterfall) runStep(ctx context.Context, dc *Context, step int, options, result any) (TurnResult, error) {
	if step >= len(w.steps) {
		return dc.End(ctx, result)
	}
	inst := dc.ActiveInstance()
	if inst == nil || inst.ID != w.id {
		return TurnResult{}, fmt.Errorf("waterfall %q is not the active dialog", w.id)
	}
	inst.State["step"] = step

	sc := &StepContext{Context: dc, Options: options, Result: result, wf: w, step: step}
	return w.steps[step](ctx, sc)
}

// stateInt reads an int out of persisted instance state. JSON round-trips
// store numbers as float64.
func stateInt(state map[string]any, key string) int {
	switch v := state[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
