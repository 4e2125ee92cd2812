package models

import (
	"errors"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks transient annotations (conflict notices, "stopped
	// by user" markers). System messages are never sent to the claude
	// process and are excluded from history counts.
	RoleSystem Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a single conversation entry within a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the message has a known role.
func (m *Message) Validate() error {
	if !m.Role.Valid() {
		return errors.New("unknown message role: " + string(m.Role))
	}
	return nil
}

// NewMessage builds a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}
