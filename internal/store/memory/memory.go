// Package memory is an in-process implementation of store.Store, used
// as the zero-config default and by the transport package's tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sitost/jota-orchestrator/internal/clientauth"
	"github.com/sitost/jota-orchestrator/internal/store"
)

type message struct {
	Role    store.MessageRole
	Content string
}

type conversation struct {
	id        string
	sessionID string
	errored   bool
	messages  []message
}

// Store is a mutex-guarded map of client identifiers to their single
// active conversation. It never persists anything to disk; restarting
// the process loses all history, which is acceptable for tests and for
// local/dev runs without DATABASE_URL configured.
type Store struct {
	mu            sync.Mutex
	validator     *clientauth.Validator
	conversations map[string]*conversation
}

// New returns an empty in-memory store. When jwtSecret is non-empty,
// ValidateClientKey decodes the key as a signed client token; with an
// empty secret (the zero-config default) any non-empty key is accepted
// as its own client id, which is convenient for local runs and tests.
func New(jwtSecret string) *Store {
	var v *clientauth.Validator
	if jwtSecret != "" {
		v = clientauth.NewValidator(jwtSecret)
	}
	return &Store{
		validator:     v,
		conversations: make(map[string]*conversation),
	}
}

func (s *Store) ValidateClientKey(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty client key")
	}
	if s.validator == nil {
		return key, nil
	}
	return s.validator.Validate(key)
}

func (s *Store) GetOrCreateConversation(_ context.Context, clientID string) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[clientID]; ok {
		return store.Conversation{ID: c.id, InferenceSessionID: c.sessionID}, nil
	}

	c := &conversation{id: uuid.NewString()}
	s.conversations[clientID] = c
	return store.Conversation{ID: c.id}, nil
}

func (s *Store) UpdateConversationSession(_ context.Context, conversationID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findByID(conversationID)
	if c == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	c.sessionID = sessionID
	return nil
}

func (s *Store) SaveMessage(_ context.Context, conversationID string, role store.MessageRole, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findByID(conversationID)
	if c == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	c.messages = append(c.messages, message{Role: role, Content: content})
	return nil
}

func (s *Store) MarkConversationError(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findByID(conversationID)
	if c == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	c.errored = true
	return nil
}

func (s *Store) Health(_ context.Context) error {
	return nil
}

// findByID is O(n) in the number of distinct clients. The in-memory
// store exists for tests and dev, not scale.
func (s *Store) findByID(conversationID string) *conversation {
	for _, c := range s.conversations {
		if c.id == conversationID {
			return c
		}
	}
	return nil
}
