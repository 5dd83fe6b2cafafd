package manifest

import "fmt"

// Router matches a dispatch intent to a registered skill. Action-id matches
// take precedence over a skill whose top-level id equals the intent.
//
// Ambiguity (the same action id declared by two skills, or two skills with
// the same id) is rejected at construction time rather than surfacing as a
// crash at dispatch time.
type Router struct {
	manifests []*Manifest
	byAction  map[string]*Manifest
	byID      map[string]*Manifest
}

// NewRouter indexes the manifests. Returns an error on duplicate skill ids
// or on an action id claimed by more than one skill.
func NewRouter(manifests []*Manifest) (*Router, error) {
	r := &Router{
		manifests: manifests,
		byAction:  make(map[string]*Manifest),
		byID:      make(map[string]*Manifest),
	}
	for _, m := range manifests {
		if prev, ok := r.byID[m.ID]; ok {
			return nil, fmt.Errorf("skill id %q declared by two manifests (%s, %s)", m.ID, prev.Name, m.Name)
		}
		r.byID[m.ID] = m
		for _, a := range m.Actions {
			if prev, ok := r.byAction[a.ID]; ok && prev != m {
				return nil, fmt.Errorf("action id %q claimed by skills %q and %q", a.ID, prev.ID, m.ID)
			}
			r.byAction[a.ID] = m
		}
	}
	return r, nil
}

// FindSkill resolves a dispatch intent to a skill manifest. The returned
// action id is non-empty when the intent matched one of the skill's actions
// rather than the skill's own id. Returns nil when no skill owns the intent.
func (r *Router) FindSkill(dispatchIntent string) (*Manifest, string) {
	if m, ok := r.byAction[dispatchIntent]; ok {
		return m, dispatchIntent
	}
	if m, ok := r.byID[dispatchIntent]; ok {
		return m, ""
	}
	return nil, ""
}

// Manifests returns all registered manifests.
func (r *Router) Manifests() []*Manifest {
	return r.manifests
}
