package engine

import (
	"unicode/utf8"

	"gassentry/internal/model"
)

const (
	StatusConnected = "Connected"
	AIReady         = "ready"
	AIUnavailable   = "unavailable"

	transportDetailLen = 30
	aiDetailLen        = 50
)

// State is everything the poll loop mutates. Only the engine writes it;
// readers get copies through Snapshot.
type State struct {
	Health       model.ConnectionHealth
	Status       string
	AIStatus     string
	AIError      string
	PersistError string
	Location     model.Location
	Reading      *model.Reading
	Prediction   *model.Prediction
}

type Snapshot struct {
	Health       model.ConnectionHealth `json:"health"`
	Status       string                 `json:"status"`
	AIStatus     string                 `json:"ai_status"`
	AIError      string                 `json:"ai_error,omitempty"`
	PersistError string                 `json:"persist_error,omitempty"`
	Location     model.Location         `json:"location"`
	Reading      *model.Reading         `json:"reading,omitempty"`
	Prediction   *model.Prediction      `json:"prediction,omitempty"`
	Overall      model.Verdict          `json:"overall,omitempty"`
	AlertCount   int                    `json:"alert_count"`
	Samples      []model.GeoSample      `json:"samples"`
	Alerts       []model.AlertRecord    `json:"alerts"`
}

func (s State) snapshot() Snapshot {
	snap := Snapshot{
		Health:       s.Health,
		Status:       s.Status,
		AIStatus:     s.AIStatus,
		AIError:      s.AIError,
		PersistError: s.PersistError,
		Location:     s.Location,
	}
	// Reading and Prediction are replaced, never modified, so sharing the
	// pointee is safe; copy anyway to keep callers from writing through.
	if s.Reading != nil {
		r := *s.Reading
		snap.Reading = &r
	}
	if s.Prediction != nil {
		p := *s.Prediction
		snap.Prediction = &p
		snap.Overall = p.Overall()
	}
	return snap
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func waitingStatus(detail string) string {
	return "Waiting for sensor... (" + truncate(detail, transportDetailLen) + ")"
}

func aiErrorStatus(detail string) string {
	return "AI error: " + truncate(detail, aiDetailLen)
}
