package models

import (
	"errors"
	"time"
)

// Session is one locally tracked conversation with the claude CLI.
//
// ID is generated locally and stable for the session's lifetime.
// ExternalSessionID is the opaque identifier the claude process assigns
// to a resumable conversation context; it is empty until the first run
// announces one and may be cleared again after a session conflict.
type Session struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ExternalSessionID string    `json:"externalSessionId"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Messages          []Message `json:"messages"`
}

// Validate checks the session has required fields.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if s.Name == "" {
		return errors.New("session name is required")
	}
	return nil
}

// History returns the conversational messages, excluding transient
// system annotations.
func (s *Session) History() []Message {
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// HistoryCount counts user and assistant messages only.
func (s *Session) HistoryCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role != RoleSystem {
			n++
		}
	}
	return n
}

// Clone returns a deep copy, used when handing sessions across the
// event bus so subscribers never alias store-owned slices.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// State is the persisted-state schema shared with external collaborators:
// everything needed to rebuild the store, as one JSON document.
type State struct {
	Sessions         []*Session `json:"sessions"`
	CurrentSessionID string     `json:"currentSessionId"`
}
