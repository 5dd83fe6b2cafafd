package activity

import (
	"encoding/json"
	"fmt"
)

// ActionState tracks the lifecycle of a skill invocation. For one invocation
// it moves start -> continue* -> done and never regresses.
type ActionState string

const (
	StateStart    ActionState = "start"
	StateContinue ActionState = "continue"
	StateDone     ActionState = "done"
)

// SemanticAction names the skill action being invoked and carries slot
// values. It is set once by the initiating skill dialog and threaded through
// by both sides of the invocation.
type SemanticAction struct {
	ID       string            `json:"id,omitempty"`
	State    ActionState       `json:"state,omitempty"`
	Entities map[string]Entity `json:"entities,omitempty"`
}

// Entity is a structured slot value.
type Entity struct {
	Properties json.RawMessage `json:"properties,omitempty"`
}

// NewEntity marshals v into an Entity.
func NewEntity(v any) (Entity, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Entity{}, fmt.Errorf("encode entity: %w", err)
	}
	return Entity{Properties: data}, nil
}

// Decode unmarshals the entity's properties into out.
func (e Entity) Decode(out any) error {
	if len(e.Properties) == 0 {
		return fmt.Errorf("entity has no properties")
	}
	return json.Unmarshal(e.Properties, out)
}

// Clone returns a deep copy of the semantic action.
func (sa *SemanticAction) Clone() *SemanticAction {
	c := &SemanticAction{ID: sa.ID, State: sa.State}
	if sa.Entities != nil {
		c.Entities = make(map[string]Entity, len(sa.Entities))
		for k, v := range sa.Entities {
			c.Entities[k] = Entity{Properties: append(json.RawMessage(nil), v.Properties...)}
		}
	}
	return c
}
