package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/events"
)

// storeUnderTest runs the shared behavior suite against any Store.
func storeUnderTest(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	session := &Session{WorkspaceRoot: "/tmp/ws", Title: "demo"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("Create must assign an id")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WorkspaceRoot != "/tmp/ws" || got.Title != "demo" {
		t.Errorf("Get = %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	user := &events.UserMessageObservation{
		Envelope: events.Envelope{ID: 1, Time: time.Now().UTC().Truncate(time.Second), Source: events.SourceUser},
		Content:  "hello",
	}
	action := &events.MessageAction{
		Envelope: events.Envelope{ID: 2, Time: time.Now().UTC().Truncate(time.Second), Source: events.SourceAgent},
		Content:  "hi",
	}
	for _, ev := range []events.Event{user, action} {
		if err := store.Append(ctx, session.ID, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Replaying an append is a no-op.
	if err := store.Append(ctx, session.ID, action); err != nil {
		t.Fatalf("replay Append: %v", err)
	}

	cp := &Checkpoint{AgentState: "COMPLETED", NextEventID: 3, Outputs: map[string]any{"final_answer": "hi"}}
	if err := store.SaveState(ctx, session.ID, cp); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	log, state, err := store.Load(ctx, session.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("log length = %d, want 2 (append must be idempotent)", len(log))
	}
	if log[0].Header().ID != 1 || log[1].Header().ID != 2 {
		t.Errorf("log order wrong: %d, %d", log[0].Header().ID, log[1].Header().ID)
	}
	if msg, ok := log[0].(*events.UserMessageObservation); !ok || msg.Content != "hello" {
		t.Errorf("log[0] = %#v", log[0])
	}
	if state == nil || state.AgentState != "COMPLETED" || state.NextEventID != 3 {
		t.Errorf("checkpoint = %+v", state)
	}
	if state.Outputs["final_answer"] != "hi" {
		t.Errorf("outputs = %+v", state.Outputs)
	}

	list, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != session.ID {
		t.Errorf("List = %+v", list)
	}

	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if _, _, err := store.Load(ctx, session.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/sessions.db")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	storeUnderTest(t, store)
}

func TestMemoryStoreChecksSessionOnAppend(t *testing.T) {
	store := NewMemoryStore()
	err := store.Append(context.Background(), "nope", &events.MessageAction{
		Envelope: events.Envelope{ID: 1, Source: events.SourceAgent},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Append to unknown session = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCheckpointIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := &Session{}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	cp := &Checkpoint{AgentState: "THINKING", Outputs: map[string]any{"k": "v"}}
	if err := store.SaveState(ctx, session.ID, cp); err != nil {
		t.Fatal(err)
	}
	cp.Outputs["k"] = "mutated"

	_, state, err := store.Load(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Outputs["k"] != "v" {
		t.Error("stored checkpoint shares memory with the caller's map")
	}
}
