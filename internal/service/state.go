package service

import (
	"sync"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
)

// AppState tracks what the UI needs to know about the service: whether
// the country list is available and whether the rate API is reachable
type AppState struct {
	mu     sync.RWMutex
	status model.AppStatus
	now    func() time.Time
}

// NewAppState creates a state that starts online with no countries loaded
func NewAppState() *AppState {
	s := &AppState{now: time.Now}
	s.status.Online = true
	s.status.UpdatedAt = s.now()
	return s
}

// Snapshot returns a copy of the current state
func (s *AppState) Snapshot() model.AppStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CountriesLoaded records a successful country load
func (s *AppState) CountriesLoaded(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CountriesLoaded = true
	s.status.CountriesError = false
	s.status.CountryCount = count
	s.status.UpdatedAt = s.now()
}

// CountriesFailed records a failed country load. The list counts as
// loaded so the UI stops waiting and shows the error instead.
func (s *AppState) CountriesFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CountriesLoaded = true
	s.status.CountriesError = true
	s.status.LastError = ClientMessage(err)
	s.status.UpdatedAt = s.now()
}

// SetOnline records whether the last provider request reached the network
func (s *AppState) SetOnline(online bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Online = online
	if err != nil {
		s.status.LastError = ClientMessage(err)
	} else if online {
		s.status.LastError = ""
	}
	s.status.UpdatedAt = s.now()
}
