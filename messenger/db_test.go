package messenger

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	})
	return store
}

func TestStore_SaveAndRetrieveInOrder(t *testing.T) {
	store := openTestStore(t)

	for _, msg := range []string{"first", "second", "third"} {
		if err := store.Save("alice", msg, time.Hour); err != nil {
			t.Fatalf("failed to save %q: %v", msg, err)
		}
	}
	if err := store.Save("bob", "for bob", time.Hour); err != nil {
		t.Fatalf("failed to save bob's message: %v", err)
	}

	got, err := store.Retrieve("alice")
	if err != nil {
		t.Fatalf("failed to retrieve: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("retrieved %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d = %q, want %q", i, got[i], want[i])
		}
	}

	empty, err := store.Retrieve("nobody")
	if err != nil {
		t.Fatalf("failed to retrieve empty inbox: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown key returned %d messages", len(empty))
	}
}

func TestStore_ExpiredMessagesAreHidden(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save("alice", "short-lived", time.Millisecond); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.Save("alice", "long-lived", time.Hour); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	got, err := store.Retrieve("alice")
	if err != nil {
		t.Fatalf("failed to retrieve: %v", err)
	}
	if len(got) != 1 || got[0] != "long-lived" {
		t.Fatalf("retrieved %v, want only the long-lived message", got)
	}
}

func TestStore_CleanupReclaimsExpired(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save("alice", "doomed", time.Millisecond); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := store.cleanup(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	got, err := store.Retrieve("alice")
	if err != nil {
		t.Fatalf("failed to retrieve after cleanup: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cleanup left %d messages behind", len(got))
	}
}

func TestStore_RejectsBadInput(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save("", "message", time.Hour); err == nil {
		t.Fatalf("empty recipient accepted")
	}

	huge := make([]byte, MaxMessageSize+1)
	if err := store.Save("alice", string(huge), time.Hour); err == nil {
		t.Fatalf("oversized message accepted")
	}
}
