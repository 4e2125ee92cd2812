package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasky/ccbridge/internal/core/event"
	"github.com/tomasky/ccbridge/internal/core/models"
)

// newTestStore returns a store plus a pointer to the slice of events it
// has published, for asserting the one-notification-per-operation rule.
func newTestStore(t *testing.T) (*Store, *[]event.Event) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	var events []event.Event
	bus.SubscribeAll(func(ev event.Event) {
		events = append(events, ev)
	})
	return New(bus), &events
}

func TestCurrent_AutoCreatesOnFirstUse(t *testing.T) {
	s, events := newTestStore(t)

	sess := s.Current()
	require.NotNil(t, sess)
	assert.Equal(t, "Chat 1", sess.Name)
	assert.Equal(t, sess.ID, s.CurrentID())

	require.Len(t, *events, 1)
	assert.Equal(t, event.SessionCreated, (*events)[0].Type)

	// Second call reuses the session, no new event.
	again := s.Current()
	assert.Equal(t, sess.ID, again.ID)
	assert.Len(t, *events, 1)
}

func TestCreate_MakesCurrent(t *testing.T) {
	s, events := newTestStore(t)

	first := s.Create("work")
	second := s.Create("")

	assert.Equal(t, "work", first.Name)
	assert.Equal(t, "Chat 2", second.Name)
	assert.Equal(t, second.ID, s.CurrentID())
	assert.Len(t, s.List(), 2)
	assert.Len(t, *events, 2)
}

func TestAddMessage_FirstUseIsSingleNotification(t *testing.T) {
	s, events := newTestStore(t)

	sess := s.AddMessage(models.NewMessage(models.RoleUser, "hello"))

	require.Len(t, *events, 1)
	assert.Equal(t, event.SessionCreated, (*events)[0].Type)

	data, ok := (*events)[0].Data.(event.SessionData)
	require.True(t, ok)
	require.Len(t, data.Session.Messages, 1)
	assert.Equal(t, "hello", data.Session.Messages[0].Content)
	assert.Equal(t, sess.ID, data.Session.ID)
}

func TestAddMessage_ConversationFlow(t *testing.T) {
	s, _ := newTestStore(t)

	s.AddMessage(models.NewMessage(models.RoleUser, "hello"))
	first := s.Current()
	s.AddMessage(models.NewMessage(models.RoleAssistant, "hi there"))
	s.AddMessage(models.NewMessage(models.RoleUser, "how are you"))
	sess := s.AddMessage(models.NewMessage(models.RoleAssistant, "fine, thanks"))

	assert.Equal(t, 4, sess.HistoryCount())
	assert.Equal(t, models.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, sess.Messages[3].Role)
	assert.False(t, sess.UpdatedAt.Before(first.UpdatedAt))
}

func TestSwitch(t *testing.T) {
	s, events := newTestStore(t)
	a := s.Create("a")
	s.Create("b")

	before := len(*events)
	require.True(t, s.Switch(a.ID))
	assert.Equal(t, a.ID, s.CurrentID())

	require.Len(t, *events, before+1)
	assert.Equal(t, event.CurrentChanged, (*events)[before].Type)
}

func TestSwitch_UnknownIsSoftFailure(t *testing.T) {
	s, events := newTestStore(t)
	a := s.Create("a")

	before := len(*events)
	assert.False(t, s.Switch("nope"))
	assert.Equal(t, a.ID, s.CurrentID())
	assert.Len(t, *events, before)
}

func TestDelete_CurrentFallsBackToRemaining(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Create("a")
	b := s.Create("b")

	require.True(t, s.Delete(b.ID))
	assert.Equal(t, a.ID, s.CurrentID())
	assert.Len(t, s.List(), 1)
}

// Deleting the last session must leave a fresh one behind, reported in
// the same notification as the deletion.
func TestDelete_LastAutoCreatesReplacement(t *testing.T) {
	s, events := newTestStore(t)
	a := s.Create("only")

	before := len(*events)
	require.True(t, s.Delete(a.ID))

	sessions := s.List()
	require.Len(t, sessions, 1)
	assert.NotEqual(t, a.ID, sessions[0].ID)
	assert.Equal(t, sessions[0].ID, s.CurrentID())

	require.Len(t, *events, before+1)
	data, ok := (*events)[before].Data.(event.SessionDeletedData)
	require.True(t, ok)
	assert.Equal(t, a.ID, data.ID)
	require.NotNil(t, data.Created)
	assert.Equal(t, sessions[0].ID, data.Created.ID)
}

func TestDelete_NonCurrentKeepsCurrent(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Create("a")
	b := s.Create("b")

	require.True(t, s.Delete(a.ID))
	assert.Equal(t, b.ID, s.CurrentID())
}

func TestDelete_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	s.Create("a")
	assert.False(t, s.Delete("nope"))
}

func TestRename(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Create("old")

	require.True(t, s.Rename(a.ID, "new"))
	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "new", got.Name)

	assert.False(t, s.Rename("nope", "x"))
}

func TestClear_KeepsSession(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddMessage(models.NewMessage(models.RoleUser, "hello"))
	id := s.CurrentID()

	require.True(t, s.Clear(""))
	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Empty(t, got.Messages)
	assert.Equal(t, id, s.CurrentID())
}

func TestUpdateExternalSessionID(t *testing.T) {
	s, _ := newTestStore(t)
	s.Create("a")

	require.True(t, s.UpdateExternalSessionID("", "ext-1"))
	assert.Equal(t, "ext-1", s.Current().ExternalSessionID)

	// A conflict clears the id again.
	require.True(t, s.UpdateExternalSessionID("", ""))
	assert.Empty(t, s.Current().ExternalSessionID)
}

func TestEditMessage_TruncatesTail(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddMessage(models.NewMessage(models.RoleUser, "q1"))
	s.AddMessage(models.NewMessage(models.RoleAssistant, "a1"))
	s.AddMessage(models.NewMessage(models.RoleUser, "q2"))
	s.AddMessage(models.NewMessage(models.RoleAssistant, "a2"))

	require.True(t, s.EditMessage(1, "a1 revised"))

	sess := s.Current()
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "q1", sess.Messages[0].Content)
	assert.Equal(t, "a1 revised", sess.Messages[1].Content)
}

func TestEditMessage_OutOfRange(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddMessage(models.NewMessage(models.RoleUser, "q1"))

	assert.False(t, s.EditMessage(5, "x"))
	assert.False(t, s.EditMessage(-1, "x"))
}

func TestTruncateFrom(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddMessage(models.NewMessage(models.RoleUser, "q1"))
	s.AddMessage(models.NewMessage(models.RoleAssistant, "a1"))

	require.True(t, s.TruncateFrom(1))
	sess := s.Current()
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "q1", sess.Messages[0].Content)
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	a := s.Create("a")
	s.AddMessage(models.NewMessage(models.RoleUser, "hello"))
	s.Create("b")
	require.True(t, s.Switch(a.ID))

	state := s.Snapshot()

	s2, events := newTestStore(t)
	s2.Load(state)

	require.Len(t, *events, 1)
	assert.Equal(t, event.StoreReplaced, (*events)[0].Type)

	assert.Len(t, s2.List(), 2)
	assert.Equal(t, a.ID, s2.CurrentID())
	got, ok := s2.Get(a.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestLoad_InvalidCurrentFallsBack(t *testing.T) {
	s, _ := newTestStore(t)
	s.Load(&models.State{
		Sessions: []*models.Session{
			{ID: "s1", Name: "one", CreatedAt: time.Now(), UpdatedAt: time.Now()},
			{ID: "s2", Name: "two", CreatedAt: time.Now(), UpdatedAt: time.Now()},
		},
		CurrentSessionID: "missing",
	})
	assert.Equal(t, "s2", s.CurrentID())
}

func TestHydrate_PublishesNothing(t *testing.T) {
	s, events := newTestStore(t)
	s.Hydrate(&models.State{
		Sessions:         []*models.Session{{ID: "s1", Name: "one"}},
		CurrentSessionID: "s1",
	})

	assert.Empty(t, *events)
	assert.Equal(t, "s1", s.CurrentID())
}

// Mutating a returned session must not leak back into the store.
func TestReturnedSessionsAreCopies(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddMessage(models.NewMessage(models.RoleUser, "original"))

	sess := s.Current()
	sess.Messages[0].Content = "tampered"
	sess.Name = "tampered"

	fresh := s.Current()
	assert.Equal(t, "original", fresh.Messages[0].Content)
	assert.NotEqual(t, "tampered", fresh.Name)
}
