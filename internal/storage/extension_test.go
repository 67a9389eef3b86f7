package storage

import (
	"testing"

	"github.com/pixil98/go-testutil"
)

type questProgress struct {
	Step    string `json:"step"`
	Visited int    `json:"visited"`
}

func TestExtensionState_Set(t *testing.T) {
	tests := map[string]struct {
		initial ExtensionState
		key     string
		value   any
		expErr  bool
	}{
		"set on nil map": {
			initial: nil,
			key:     "quest",
			value:   questProgress{Step: "found_key", Visited: 2},
			expErr:  false,
		},
		"set on existing map": {
			initial: ExtensionState{},
			key:     "visited",
			value:   map[string]int{"glade": 3},
			expErr:  false,
		},
		"set string value": {
			initial: ExtensionState{},
			key:     "mood",
			value:   "curious",
			expErr:  false,
		},
		"overwrite existing key": {
			initial: ExtensionState{"mood": []byte(`"bored"`)},
			key:     "mood",
			value:   "curious",
			expErr:  false,
		},
		"unmarshalable value": {
			initial: ExtensionState{},
			key:     "bad",
			value:   make(chan int),
			expErr:  true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := tt.initial
			err := e.Set(tt.key, tt.value)

			if tt.expErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if e == nil {
				t.Errorf("map should not be nil after Set")
				return
			}

			if _, ok := e[tt.key]; !ok {
				t.Errorf("key %q not found after Set", tt.key)
			}
		})
	}
}

func TestExtensionState_Get(t *testing.T) {
	preloaded := ExtensionState{}
	if err := preloaded.Set("quest", questProgress{Step: "found_key", Visited: 2}); err != nil {
		t.Fatalf("failed to set quest progress: %v", err)
	}
	if err := preloaded.Set("mood", "curious"); err != nil {
		t.Fatalf("failed to set mood: %v", err)
	}

	tests := map[string]struct {
		state    ExtensionState
		key      string
		expFound bool
		expValue any
	}{
		"get from nil map": {
			state:    nil,
			key:      "anything",
			expFound: false,
		},
		"get missing key": {
			state:    preloaded,
			key:      "nonexistent",
			expFound: false,
		},
		"get existing struct": {
			state:    preloaded,
			key:      "quest",
			expFound: true,
			expValue: questProgress{Step: "found_key", Visited: 2},
		},
		"get existing string": {
			state:    preloaded,
			key:      "mood",
			expFound: true,
			expValue: "curious",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			switch exp := tt.expValue.(type) {
			case questProgress:
				var v questProgress
				found, err := tt.state.Get(tt.key, &v)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				testutil.AssertEqual(t, "found", found, tt.expFound)
				testutil.AssertEqual(t, "value", v, exp)
			case string:
				var v string
				found, err := tt.state.Get(tt.key, &v)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				testutil.AssertEqual(t, "found", found, tt.expFound)
				testutil.AssertEqual(t, "value", v, exp)
			default:
				var v any
				found, err := tt.state.Get(tt.key, &v)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				testutil.AssertEqual(t, "found", found, tt.expFound)
			}
		})
	}
}

func TestExtensionState_Get_UnmarshalError(t *testing.T) {
	e := ExtensionState{
		"bad": []byte(`{"invalid json`),
	}

	var out questProgress
	found, err := e.Get("bad", &out)

	testutil.AssertEqual(t, "found", found, true)
	testutil.AssertErrorContains(t, err, "unmarshal extension")
}

func TestExtensionState_Delete(t *testing.T) {
	tests := map[string]struct {
		initial ExtensionState
		key     string
	}{
		"delete from nil map": {
			initial: nil,
			key:     "anything",
		},
		"delete missing key": {
			initial: ExtensionState{"mood": []byte(`"curious"`)},
			key:     "nonexistent",
		},
		"delete existing key": {
			initial: ExtensionState{"quest": []byte(`{}`), "mood": []byte(`"curious"`)},
			key:     "quest",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := tt.initial
			e.Delete(tt.key)

			if e != nil {
				if _, ok := e[tt.key]; ok {
					t.Errorf("key %q should have been deleted", tt.key)
				}
			}
		})
	}
}
