package db

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomasky/ccbridge/internal/core/event"
	"github.com/tomasky/ccbridge/internal/core/logging"
	"github.com/tomasky/ccbridge/internal/core/models"
)

// Persister mirrors store mutations into SQLite. It subscribes to the
// event bus and writes each notification as it arrives; failures are
// logged and never propagated back into the store.
type Persister struct {
	db          *DB
	log         zerolog.Logger
	unsubscribe func()
}

// NewPersister creates a persister backed by the given database.
func NewPersister(db *DB) *Persister {
	return &Persister{
		db:  db,
		log: logging.With("persister"),
	}
}

// Attach subscribes the persister to all store notifications.
func (p *Persister) Attach(bus *event.Bus) {
	p.unsubscribe = bus.SubscribeAll(p.handle)
}

// Detach stops the persister from receiving notifications.
func (p *Persister) Detach() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Persister) handle(ev event.Event) {
	var err error
	switch data := ev.Data.(type) {
	case event.SessionData:
		err = p.SaveSession(data.Session, data.CurrentID)
	case event.SessionDeletedData:
		err = p.DeleteSession(data.ID, data.CurrentID, data.Created)
	case event.CurrentChangedData:
		err = p.SetCurrent(data.CurrentID)
	case event.StoreReplacedData:
		err = p.ReplaceAll(data.State)
	}
	if err != nil {
		p.log.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to persist store change")
	}
}

// SaveSession upserts a session and rewrites its messages. The current
// marker is refreshed in the same transaction.
func (p *Persister) SaveSession(sess *models.Session, currentID string) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveSessionTx(tx, sess); err != nil {
		return err
	}
	if err := setCurrentTx(tx, currentID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteSession removes a session. When the deletion forced a fresh
// session into existence, it is written in the same transaction.
func (p *Persister) DeleteSession(id, currentID string, created *models.Session) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if created != nil {
		if err := saveSessionTx(tx, created); err != nil {
			return err
		}
	}
	if err := setCurrentTx(tx, currentID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetCurrent moves the current marker.
func (p *Persister) SetCurrent(id string) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := setCurrentTx(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceAll discards everything and writes the given state, used when
// the whole store is swapped out by an import.
func (p *Persister) ReplaceAll(state *models.State) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	for _, sess := range state.Sessions {
		if err := saveSessionTx(tx, sess); err != nil {
			return err
		}
	}
	if err := setCurrentTx(tx, state.CurrentSessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads the persisted state for startup hydration. An empty
// database yields an empty state, never an error.
func (p *Persister) Load() (*models.State, error) {
	rows, err := p.db.conn.Query(`
		SELECT id, name, external_session_id, is_current, created_at, updated_at
		FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	state := &models.State{}
	byID := make(map[string]*models.Session)
	for rows.Next() {
		var sess models.Session
		var isCurrent int
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.ExternalSessionID, &isCurrent, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if isCurrent == 1 {
			state.CurrentSessionID = sess.ID
		}
		state.Sessions = append(state.Sessions, &sess)
		byID[sess.ID] = &sess
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := p.db.conn.Query(`
		SELECT session_id, role, content, timestamp
		FROM messages ORDER BY session_id, sequence`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var sessionID string
		var msg models.Message
		if err := msgRows.Scan(&sessionID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if sess, ok := byID[sessionID]; ok {
			sess.Messages = append(sess.Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	return state, nil
}

func saveSessionTx(tx *sql.Tx, sess *models.Session) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (id, name, external_session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			external_session_id = excluded.external_session_id,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Name, sess.ExternalSessionID, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	for i, msg := range sess.Messages {
		_, err := tx.Exec(`
			INSERT INTO messages (session_id, sequence, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ID, i, msg.Role, msg.Content, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return nil
}

func setCurrentTx(tx *sql.Tx, currentID string) error {
	_, err := tx.Exec(`UPDATE sessions SET is_current = CASE WHEN id = ? THEN 1 ELSE 0 END`, currentID)
	if err != nil {
		return fmt.Errorf("failed to set current session: %w", err)
	}
	return nil
}
