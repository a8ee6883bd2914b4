// Package appstate holds the session's mutable state: the signed-in user,
// the last loaded entries and the degraded-mode flag. One State is owned by
// the session controller and handed to every component that needs it.
package appstate

import (
	"sync"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
)

// Connectivity is the part of the connectivity monitor the rest of the
// client depends on.
type Connectivity interface {
	IsOnline() bool
}

type State struct {
	conn Connectivity

	mu       sync.RWMutex
	user     *models.User
	entries  []models.Entry
	source   string
	degraded error
}

func New(conn Connectivity) *State {
	return &State{conn: conn}
}

// IsOnline reports the last real probe result; false when no monitor is set.
func (s *State) IsOnline() bool {
	if s.conn == nil {
		return false
	}
	return s.conn.IsOnline()
}

func (s *State) SetUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
}

func (s *State) ClearUser() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
}

func (s *State) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

func (s *State) IsAdmin() bool {
	u, ok := s.User()
	return ok && u.IsAdmin()
}

// SetEntries replaces the cached list. source is "remote" or "local".
func (s *State) SetEntries(list []models.Entry, source string) {
	cp := make([]models.Entry, len(list))
	for i, e := range list {
		cp[i] = e.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cp
	s.source = source
}

// Entries returns a copy of the cached list and where it was loaded from.
func (s *State) Entries() ([]models.Entry, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]models.Entry, len(s.entries))
	for i, e := range s.entries {
		cp[i] = e.Clone()
	}
	return cp, s.source
}

// PutEntry inserts or replaces one cached entry, keeping the rest.
func (s *State) PutEntry(e models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = e.Clone()
			return
		}
	}
	s.entries = append([]models.Entry{e.Clone()}, s.entries...)
}

func (s *State) RemoveEntry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

// SetDegraded records that the local store is unavailable. A nil err
// clears the flag.
func (s *State) SetDegraded(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = err
}

func (s *State) Degraded() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}
