// Package navigation models map drill-down (department, municipality,
// locality) as an explicit state value and a pure transition function.
package navigation

import (
	"github.com/rotisserie/eris"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/normalize"
)

// ErrInvalidTransition is returned, wrapped, for events the current state
// does not accept.
var ErrInvalidTransition = eris.New("navigation: invalid transition")

// Level is the current drill-down depth.
type Level string

const (
	LevelDepartment   Level = "department"
	LevelMunicipality Level = "municipality"
	LevelLocality     Level = "locality"
)

// DepartmentName labels the top level.
const DepartmentName = "Tolima"

// Selection is a selected place: its display name and comparison key.
type Selection struct {
	Display string `json:"display"`
	Key     string `json:"key"`
}

// State is one point in the drill-down. The zero value is not valid; start
// from Initial.
type State struct {
	Level        Level        `json:"level"`
	Municipality *Selection   `json:"municipality,omitempty"`
	Locality     *Selection   `json:"locality,omitempty"`
	Zoom         *model.Point `json:"zoom,omitempty"`
	// FilterChanged is set when a navigation event moved the map so the
	// next filter sync does not move it back.
	FilterChanged bool `json:"filter_changed,omitempty"`
}

// Initial returns the department view.
func Initial() State {
	return State{Level: LevelDepartment}
}

// EventType names a navigation event.
type EventType string

const (
	EventSelectMunicipality EventType = "select_municipality"
	EventSelectLocality     EventType = "select_locality"
	EventBack               EventType = "back"
	EventReset              EventType = "reset"
	EventSyncFilters        EventType = "sync_filters"
)

// Filters mirrors the sidebar filters. Empty names mean "all".
type Filters struct {
	Municipality    string `json:"municipality"`
	MunicipalityKey string `json:"municipality_key,omitempty"`
	Locality        string `json:"locality"`
	LocalityKey     string `json:"locality_key,omitempty"`
}

// Event is an input to Transition. Name, Key and Zoom apply to the select
// events; Filters applies to EventSyncFilters. An empty Key is derived from
// Name with normalize.Key.
type Event struct {
	Type    EventType    `json:"type"`
	Name    string       `json:"name,omitempty"`
	Key     string       `json:"key,omitempty"`
	Zoom    *model.Point `json:"zoom,omitempty"`
	Filters Filters      `json:"filters,omitempty"`
}

// Transition applies e to s. It never mutates s; on error the returned state
// equals s.
func Transition(s State, e Event) (State, error) {
	switch e.Type {
	case EventSelectMunicipality:
		if e.Name == "" {
			return s, eris.Wrap(ErrInvalidTransition, "select municipality: empty name")
		}
		return State{
			Level:         LevelMunicipality,
			Municipality:  selection(e.Name, e.Key),
			Zoom:          e.Zoom,
			FilterChanged: true,
		}, nil

	case EventSelectLocality:
		if e.Name == "" {
			return s, eris.Wrap(ErrInvalidTransition, "select locality: empty name")
		}
		if s.Municipality == nil {
			return s, eris.Wrapf(ErrInvalidTransition, "select locality %q: no municipality selected", e.Name)
		}
		return State{
			Level:         LevelLocality,
			Municipality:  s.Municipality,
			Locality:      selection(e.Name, e.Key),
			Zoom:          e.Zoom,
			FilterChanged: true,
		}, nil

	case EventBack:
		switch s.Level {
		case LevelLocality:
			return State{Level: LevelMunicipality, Municipality: s.Municipality, FilterChanged: true}, nil
		case LevelMunicipality:
			return State{Level: LevelDepartment, FilterChanged: true}, nil
		default:
			return s, eris.Wrapf(ErrInvalidTransition, "back from %s", s.Level)
		}

	case EventReset:
		return State{Level: LevelDepartment, FilterChanged: true}, nil

	case EventSyncFilters:
		return syncFilters(s, e.Filters), nil

	default:
		return s, eris.Wrapf(ErrInvalidTransition, "unknown event %q", e.Type)
	}
}

// syncFilters moves the map to match the sidebar. A sync right after a map
// event only clears FilterChanged.
func syncFilters(s State, f Filters) State {
	if s.FilterChanged {
		s.FilterChanged = false
		return s
	}

	switch {
	case f.Locality != "":
		if s.Locality != nil && s.Locality.Display == f.Locality {
			return s
		}
		mun := s.Municipality
		if f.Municipality != "" && (mun == nil || mun.Display != f.Municipality) {
			mun = selection(f.Municipality, f.MunicipalityKey)
		}
		// A locality needs a municipality, same as EventSelectLocality.
		if mun == nil {
			return s
		}
		return State{
			Level:         LevelLocality,
			Municipality:  mun,
			Locality:      selection(f.Locality, f.LocalityKey),
			FilterChanged: true,
		}
	case f.Municipality != "":
		if s.Level == LevelMunicipality && s.Municipality != nil && s.Municipality.Display == f.Municipality {
			return s
		}
		return State{
			Level:         LevelMunicipality,
			Municipality:  selection(f.Municipality, f.MunicipalityKey),
			FilterChanged: true,
		}
	default:
		if s.Level == LevelDepartment {
			return s
		}
		return State{Level: LevelDepartment, FilterChanged: true}
	}
}

func selection(name, key string) *Selection {
	if key == "" {
		key = normalize.Key(name)
	}
	return &Selection{Display: name, Key: key}
}

// Breadcrumbs returns the path from the department to the current selection.
func (s State) Breadcrumbs() []string {
	out := []string{DepartmentName}
	if s.Municipality != nil {
		out = append(out, s.Municipality.Display)
	}
	if s.Level == LevelLocality && s.Locality != nil {
		out = append(out, s.Locality.Display)
	}
	return out
}

// Filters returns the sidebar filters that match s.
func (s State) Filters() Filters {
	var f Filters
	if s.Municipality != nil {
		f.Municipality, f.MunicipalityKey = s.Municipality.Display, s.Municipality.Key
	}
	if s.Level == LevelLocality && s.Locality != nil {
		f.Locality, f.LocalityKey = s.Locality.Display, s.Locality.Key
	}
	return f
}

// Instructions returns the user hint for a level.
func Instructions(l Level) string {
	switch l {
	case LevelDepartment:
		return "Click a municipality to filter its data and zoom to its veredas"
	case LevelMunicipality:
		return "Click a vereda to filter data for that vereda"
	case LevelLocality:
		return "Detailed vereda view; go back or reset to explore other levels"
	default:
		return "Navigate the map to explore the data"
	}
}
