// Package store holds the in-memory multi-session conversation state.
// It owns session and message data exclusively, performs no I/O, and
// publishes one change notification per mutating operation for the
// persistence collaborator to consume.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomasky/ccbridge/internal/core/event"
	"github.com/tomasky/ccbridge/internal/core/models"
)

// Store tracks every local session and which one is current. Once any
// session exists there is always exactly one current session, and the
// store is never empty after first use.
type Store struct {
	mu        sync.Mutex
	bus       *event.Bus
	sessions  []*models.Session
	currentID string
	seq       int // counts created sessions, for default names
}

// New creates an empty store publishing on bus.
func New(bus *event.Bus) *Store {
	return &Store{bus: bus}
}

// Create appends a new session and makes it current.
func (s *Store) Create(name string) *models.Session {
	s.mu.Lock()
	sess := s.createLocked(name)
	s.mu.Unlock()

	s.publish(event.SessionCreated, sess)
	return sess.Clone()
}

func (s *Store) createLocked(name string) *models.Session {
	s.seq++
	if name == "" {
		name = fmt.Sprintf("Chat %d", s.seq)
	}
	now := time.Now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions = append(s.sessions, sess)
	s.currentID = sess.ID
	return sess
}

// Current returns the current session, creating a default one if the
// store has never been used.
func (s *Store) Current() *models.Session {
	s.mu.Lock()
	if len(s.sessions) == 0 {
		sess := s.createLocked("")
		s.mu.Unlock()
		s.publish(event.SessionCreated, sess)
		return sess.Clone()
	}
	sess := s.findLocked(s.currentID)
	s.mu.Unlock()
	return sess.Clone()
}

// Get returns a copy of the session with the given id, or false.
func (s *Store) Get(id string) (*models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.findLocked(id)
	if sess == nil {
		return nil, false
	}
	return sess.Clone(), true
}

// List returns copies of all sessions in creation order.
func (s *Store) List() []*models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// CurrentID returns the current session id ("" if the store is empty).
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Switch changes the current pointer. Unknown ids are a soft failure.
func (s *Store) Switch(id string) bool {
	s.mu.Lock()
	if s.findLocked(id) == nil {
		s.mu.Unlock()
		return false
	}
	s.currentID = id
	s.mu.Unlock()

	s.bus.PublishSync(event.Event{
		Type: event.CurrentChanged,
		Data: event.CurrentChangedData{CurrentID: id},
	})
	return true
}

// Delete removes a session. If it was current, an arbitrary remaining
// session becomes current; if none remain a fresh default session is
// created so the store is never left empty.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, sess := range s.sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)

	var created *models.Session
	if s.currentID == id {
		if len(s.sessions) > 0 {
			s.currentID = s.sessions[len(s.sessions)-1].ID
		} else {
			created = s.createLocked("").Clone()
		}
	}
	currentID := s.currentID
	s.mu.Unlock()

	// One notification per logical operation: the replacement default
	// session rides along with the deletion instead of a second event.
	s.bus.PublishSync(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionDeletedData{ID: id, CurrentID: currentID, Created: created},
	})
	return true
}

// Rename updates a session's display name. No-op on unknown ids.
func (s *Store) Rename(id, newName string) bool {
	s.mu.Lock()
	sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return false
	}
	sess.Name = newName
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.publish(event.SessionUpdated, sess)
	return true
}

// AddMessage appends to the current session's history, creating the
// default session first if needed.
func (s *Store) AddMessage(msg models.Message) *models.Session {
	s.mu.Lock()
	created := false
	if len(s.sessions) == 0 {
		s.createLocked("")
		created = true
	}
	sess := s.findLocked(s.currentID)
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	// A first-use append is one logical operation; the created session
	// already carries the message, so a single event covers both.
	if created {
		s.publish(event.SessionCreated, sess)
	} else {
		s.publish(event.SessionUpdated, sess)
	}
	return sess.Clone()
}

// Clear empties a session's message history in place; the session
// itself survives. id == "" clears the current session.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	if id == "" {
		id = s.currentID
	}
	sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return false
	}
	sess.Messages = nil
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.publish(event.SessionUpdated, sess)
	return true
}

// UpdateExternalSessionID mirrors the manager's session-id-changed
// notification onto a session. id == "" targets the current session;
// extID == "" clears the external id after a conflict.
func (s *Store) UpdateExternalSessionID(id, extID string) bool {
	s.mu.Lock()
	if id == "" {
		id = s.currentID
	}
	sess := s.findLocked(id)
	if sess == nil {
		s.mu.Unlock()
		return false
	}
	sess.ExternalSessionID = extID
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.publish(event.SessionUpdated, sess)
	return true
}

// EditMessage rewrites the message at index in the current session and
// discards everything after it: edits invalidate the exchanges that
// followed, which must be gone before a new response is appended.
func (s *Store) EditMessage(index int, content string) bool {
	s.mu.Lock()
	sess := s.findLocked(s.currentID)
	if sess == nil || index < 0 || index >= len(sess.Messages) {
		s.mu.Unlock()
		return false
	}
	sess.Messages[index].Content = content
	sess.Messages[index].Timestamp = time.Now()
	sess.Messages = sess.Messages[:index+1]
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.publish(event.SessionUpdated, sess)
	return true
}

// TruncateFrom drops all messages at or after index in the current
// session.
func (s *Store) TruncateFrom(index int) bool {
	s.mu.Lock()
	sess := s.findLocked(s.currentID)
	if sess == nil || index < 0 || index > len(sess.Messages) {
		s.mu.Unlock()
		return false
	}
	sess.Messages = sess.Messages[:index]
	sess.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.publish(event.SessionUpdated, sess)
	return true
}

// Snapshot produces the persisted-state document.
func (s *Store) Snapshot() *models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &models.State{
		Sessions:         make([]*models.Session, len(s.sessions)),
		CurrentSessionID: s.currentID,
	}
	for i, sess := range s.sessions {
		state.Sessions[i] = sess.Clone()
	}
	return state
}

// Load replaces the store contents with a persisted snapshot. If the
// snapshot names no valid current session, the last session wins; an
// empty snapshot leaves the store ready to auto-create on first use.
func (s *Store) Load(state *models.State) {
	s.mu.Lock()
	s.sessions = make([]*models.Session, len(state.Sessions))
	for i, sess := range state.Sessions {
		s.sessions[i] = sess.Clone()
	}
	s.seq = len(s.sessions)
	s.currentID = ""
	for _, sess := range s.sessions {
		if sess.ID == state.CurrentSessionID {
			s.currentID = sess.ID
			break
		}
	}
	if s.currentID == "" && len(s.sessions) > 0 {
		s.currentID = s.sessions[len(s.sessions)-1].ID
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.bus.PublishSync(event.Event{
		Type: event.StoreReplaced,
		Data: event.StoreReplacedData{State: snapshot},
	})
}

func (s *Store) snapshotLocked() *models.State {
	state := &models.State{
		Sessions:         make([]*models.Session, len(s.sessions)),
		CurrentSessionID: s.currentID,
	}
	for i, sess := range s.sessions {
		state.Sessions[i] = sess.Clone()
	}
	return state
}

// Hydrate fills the store from persistence without publishing, used at
// startup so loading does not echo back into the persister.
func (s *Store) Hydrate(state *models.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make([]*models.Session, len(state.Sessions))
	for i, sess := range state.Sessions {
		s.sessions[i] = sess.Clone()
	}
	s.seq = len(s.sessions)
	s.currentID = ""
	for _, sess := range s.sessions {
		if sess.ID == state.CurrentSessionID {
			s.currentID = sess.ID
			break
		}
	}
	if s.currentID == "" && len(s.sessions) > 0 {
		s.currentID = s.sessions[len(s.sessions)-1].ID
	}
}

func (s *Store) findLocked(id string) *models.Session {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func (s *Store) publish(t event.Type, sess *models.Session) {
	s.mu.Lock()
	data := event.SessionData{Session: sess.Clone(), CurrentID: s.currentID}
	s.mu.Unlock()
	s.bus.PublishSync(event.Event{Type: t, Data: data})
}
