package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"gassentry/internal/model"
)

// Store holds every DANGER alert raised since the process started.
// Nothing is evicted.
// TODO: bound this with a ring or a rotated file once long-running
// deployments need it; storage mirroring covers durability today.
type Store struct {
	mu  sync.RWMutex
	buf []model.AlertRecord
}

func NewStore() *Store {
	return &Store{}
}

// Record appends one alert when any verdict in p is DANGER.
func (s *Store) Record(p model.Prediction, at time.Time) (model.AlertRecord, bool) {
	if !p.Danger() {
		return model.AlertRecord{}, false
	}
	rec := model.AlertRecord{
		ID:                  uuid.NewString(),
		Time:                at,
		Kind:                model.AlertKindDanger,
		MethaneForecast:     p.MethaneForecast,
		COForecast:          p.COForecast,
		TemperatureForecast: p.TemperatureForecast,
	}
	s.mu.Lock()
	s.buf = append(s.buf, rec)
	s.mu.Unlock()
	return rec, true
}

func (s *Store) All() []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, len(s.buf))
	copy(out, s.buf)
	return out
}

func (s *Store) Since(ts time.Time) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AlertRecord, 0)
	for _, a := range s.buf {
		if !a.Time.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}
