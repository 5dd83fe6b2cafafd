package manifest

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func calendarManifest() *Manifest {
	return &Manifest{
		ID:       "calendar",
		Name:     "Calendar",
		Endpoint: "ws://localhost:8082/api/skill/messages",
		Actions: []Action{
			{ID: "timeRemaining", Definition: ActionDefinition{
				Slots:    []Slot{{Name: "date"}},
				Triggers: Trigger{Utterances: []string{"how long until", "days until"}},
			}},
			{ID: "createEvent", Definition: ActionDefinition{
				Slots: []Slot{{Name: "title"}, {Name: "date"}},
			}},
		},
	}
}

func TestDistinctSlots_DeduplicatesByName(t *testing.T) {
	slots := calendarManifest().DistinctSlots()
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2: %+v", len(slots), slots)
	}
	if slots[0].Name != "date" || slots[1].Name != "title" {
		t.Errorf("order should follow first appearance: %+v", slots)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr bool
	}{
		{"valid", func(m *Manifest) {}, false},
		{"missing id", func(m *Manifest) { m.ID = "" }, true},
		{"missing endpoint", func(m *Manifest) { m.Endpoint = "" }, true},
		{"action without id", func(m *Manifest) { m.Actions[0].ID = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := calendarManifest()
			tc.mutate(m)
			err := m.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRouter_ActionBeatsSkillID(t *testing.T) {
	weather := &Manifest{ID: "timeRemaining", Name: "Impostor", Endpoint: "ws://x"}
	r, err := NewRouter([]*Manifest{calendarManifest(), weather})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	m, action := r.FindSkill("timeRemaining")
	if m == nil || m.ID != "calendar" {
		t.Fatalf("resolved to %+v, want calendar via action match", m)
	}
	if action != "timeRemaining" {
		t.Errorf("action = %q", action)
	}

	m, action = r.FindSkill("calendar")
	if m == nil || m.ID != "calendar" || action != "" {
		t.Errorf("skill-id match = %v action %q", m, action)
	}

	if m, _ := r.FindSkill("unknown"); m != nil {
		t.Errorf("unknown intent resolved to %q", m.ID)
	}
}

func TestRouter_RejectsAmbiguity(t *testing.T) {
	a := calendarManifest()
	b := calendarManifest()
	b.ID = "calendar2"
	b.Actions = []Action{{ID: "timeRemaining"}}
	if _, err := NewRouter([]*Manifest{a, b}); err == nil {
		t.Error("expected error for action id claimed by two skills")
	}

	c := calendarManifest()
	if _, err := NewRouter([]*Manifest{a, c}); err == nil {
		t.Error("expected error for duplicate skill id")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.yaml")
	data := []byte(`
name: Calendar
endpoint: ws://localhost:8082/api/skill/messages
actions:
  - id: timeRemaining
    definition:
      slots:
        - name: date
      triggers:
        utterances:
          - how long until
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	// id falls back to the file name
	if m.ID != "calendar" {
		t.Errorf("ID = %q", m.ID)
	}
	if len(m.Actions) != 1 || m.Actions[0].ID != "timeRemaining" {
		t.Errorf("actions = %+v", m.Actions)
	}
	if got := m.Actions[0].Definition.Triggers.Utterances; len(got) != 1 || got[0] != "how long until" {
		t.Errorf("utterances = %v", got)
	}
}

func TestLoadDirectory_SkipsBrokenManifests(t *testing.T) {
	dir := t.TempDir()
	good := []byte("id: calendar\nendpoint: ws://x\n")
	bad := []byte("id: broken\n") // no endpoint
	if err := os.WriteFile(filepath.Join(dir, "calendar.yaml"), good, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), bad, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore"), 0o644); err != nil {
		t.Fatal(err)
	}

	ms, err := LoadDirectory(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(ms) != 1 || ms[0].ID != "calendar" {
		t.Errorf("loaded %+v", ms)
	}
}

func TestLoadDirectory_MissingDirIsEmpty(t *testing.T) {
	ms, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(ms) != 0 {
		t.Errorf("got %d manifests", len(ms))
	}
}
