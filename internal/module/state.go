package module

import (
	"fmt"
	"mmrl/internal/fileops"
	"path"
	"strings"
)

// State is the lifecycle state of an installed module as encoded by the
// marker files in its directory.
type State int

const (
	Enabled State = iota
	Disabled
	PendingRemoval
	Updating
)

var stateNames = []string{"ENABLE", "DISABLE", "REMOVE", "UPDATE"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid module state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if strings.EqualFold(string(text), name) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown module state %q", text)
}

// Marker file names inside a module directory.
const (
	MarkerRemove  = "remove"
	MarkerDisable = "disable"
	MarkerUpdate  = "update"
)

// Markers is the on-disk representation of a module's state.
type Markers struct {
	Remove  bool
	Disable bool
	Update  bool
}

// State returns the state the markers encode. A pending removal wins
// over a disable, which wins over a pending update.
func (m Markers) State() State {
	switch {
	case m.Remove:
		return PendingRemoval
	case m.Disable:
		return Disabled
	case m.Update:
		return Updating
	}
	return Enabled
}

// MarkersFor returns the markers a transition to s leaves behind. The
// update marker belongs to the installer and is never touched here.
func MarkersFor(s State) Markers {
	switch s {
	case Disabled:
		return Markers{Disable: true}
	case PendingRemoval:
		return Markers{Remove: true}
	}
	return Markers{}
}

// ReadMarkers inspects dir.
func ReadMarkers(fm fileops.FileManager, dir string) Markers {
	return Markers{
		Remove:  fm.Exists(path.Join(dir, MarkerRemove)),
		Disable: fm.Exists(path.Join(dir, MarkerDisable)),
		Update:  fm.Exists(path.Join(dir, MarkerUpdate)),
	}
}

// WriteMarkers makes the remove and disable markers of dir match m.
// Markers are cleared before any is created. Existing markers are left in
// place, so repeating a transition is a no-op.
func WriteMarkers(fm fileops.FileManager, dir string, m Markers) error {
	set := []struct {
		name string
		want bool
	}{
		{MarkerRemove, m.Remove},
		{MarkerDisable, m.Disable},
	}

	for _, mk := range set {
		if !mk.want {
			if err := fm.Delete(path.Join(dir, mk.name)); err != nil {
				return fmt.Errorf("delete %s marker: %w", mk.name, err)
			}
		}
	}
	for _, mk := range set {
		if mk.want {
			if _, err := fm.CreateNewFile(path.Join(dir, mk.name)); err != nil {
				return fmt.Errorf("create %s marker: %w", mk.name, err)
			}
		}
	}
	return nil
}
