// Package manifest describes a skill's actions and slots and routes
// dispatch intents to registered skills.
package manifest

import "fmt"

// Slot is a named input parameter a skill action accepts. Two slots are
// the same slot when their names match; types are disregarded.
type Slot struct {
	Name  string   `json:"name" yaml:"name"`
	Types []string `json:"types,omitempty" yaml:"types,omitempty"`
}

// Trigger describes how an action is activated.
type Trigger struct {
	Events     []string `json:"events,omitempty" yaml:"events,omitempty"`
	Utterances []string `json:"utterances,omitempty" yaml:"utterances,omitempty"`
}

// ActionDefinition is the contract of a single skill action.
type ActionDefinition struct {
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Slots       []Slot  `json:"slots,omitempty" yaml:"slots,omitempty"`
	Triggers    Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// Action is one invokable operation of a skill.
type Action struct {
	ID         string           `json:"id" yaml:"id"`
	Definition ActionDefinition `json:"definition" yaml:"definition"`
}

// Manifest is the static descriptor of a skill. Loaded at startup and
// immutable afterward.
type Manifest struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Endpoint    string   `json:"endpoint" yaml:"endpoint"`
	MSAAppID    string   `json:"msaAppId,omitempty" yaml:"msaAppId,omitempty"`
	Actions     []Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Action returns the action with the given id, or nil.
func (m *Manifest) Action(id string) *Action {
	for i := range m.Actions {
		if m.Actions[i].ID == id {
			return &m.Actions[i]
		}
	}
	return nil
}

// DistinctSlots returns the union of all slots across the manifest's
// actions, deduplicated by name. Order follows first appearance.
func (m *Manifest) DistinctSlots() []Slot {
	seen := make(map[string]bool)
	var out []Slot
	for _, a := range m.Actions {
		for _, s := range a.Definition.Slots {
			if seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the fields a host needs to invoke the skill.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest missing id")
	}
	if m.Endpoint == "" {
		return fmt.Errorf("manifest %q missing endpoint", m.ID)
	}
	for _, a := range m.Actions {
		if a.ID == "" {
			return fmt.Errorf("manifest %q has an action without an id", m.ID)
		}
	}
	return nil
}
