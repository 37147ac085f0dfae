package bot

import (
	"sync"
	"testing"

	"github.com/dcervantes/sprintbot/internal/domain"
)

func TestSessionStoreGetCreates(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	sess := store.Get("chat-1")
	if sess == nil {
		t.Fatal("Get should create a session")
	}
	if sess.AuthState != StateUnauthenticated {
		t.Errorf("new session should be unauthenticated, got %v", sess.AuthState)
	}
	if store.Get("chat-1") != sess {
		t.Error("Get should return the same session for the same conversation")
	}
	if store.Get("chat-2") == sess {
		t.Error("different conversations must not share sessions")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestSessionStoreConcurrent(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Get("shared")
			store.Get("shared")
		}()
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Errorf("concurrent Get created %d sessions, want 1", store.Len())
	}
}

func TestSessionResetAuth(t *testing.T) {
	t.Parallel()

	sess := &Session{
		ConversationID:      "chat-1",
		AuthState:           StateAuthenticated,
		User:                &domain.User{ID: 1},
		PendingUsername:     "alice",
		Proposal:            &TaskProposal{Title: "draft"},
		AwaitingDescription: true,
	}
	sess.resetAuth()

	if sess.AuthState != StateUnauthenticated || sess.User != nil ||
		sess.PendingUsername != "" || sess.Proposal != nil || sess.AwaitingDescription {
		t.Errorf("resetAuth left state behind: %+v", sess)
	}
	if sess.ConversationID != "chat-1" {
		t.Error("resetAuth must keep the conversation id")
	}
}
