package event

import "github.com/tomasky/ccbridge/internal/core/models"

// SessionData accompanies SessionCreated and SessionUpdated. The session
// is a deep copy: subscribers may read it without racing the store.
type SessionData struct {
	Session   *models.Session `json:"session"`
	CurrentID string          `json:"currentSessionId"`
}

// SessionDeletedData accompanies SessionDeleted. Created is set when
// deleting the last session forced a fresh default session into
// existence; it rides along so deletion stays a single notification.
type SessionDeletedData struct {
	ID        string          `json:"id"`
	CurrentID string          `json:"currentSessionId"`
	Created   *models.Session `json:"created,omitempty"`
}

// CurrentChangedData accompanies CurrentChanged.
type CurrentChangedData struct {
	CurrentID string `json:"currentSessionId"`
}

// StoreReplacedData accompanies StoreReplaced, published when the whole
// store is rebuilt from an imported snapshot.
type StoreReplacedData struct {
	State *models.State `json:"state"`
}
