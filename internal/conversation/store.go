package conversation

import (
	"sync"

	"persona-relay/internal/domain"
)

// Store maps a conversation id to its selected persona. Absence means the
// conversation is still waiting for a persona selection.
//
// Entries are never evicted and live for the whole process.
type Store struct {
	mu       sync.Mutex
	personas map[int64]domain.PersonaTag
}

func NewStore() *Store {
	return &Store{personas: make(map[int64]domain.PersonaTag)}
}

// Get returns the selected persona, if any.
func (s *Store) Get(conversationID int64) (domain.PersonaTag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, ok := s.personas[conversationID]
	return tag, ok
}

// Set records tag for the conversation, replacing any earlier selection.
func (s *Store) Set(conversationID int64, tag domain.PersonaTag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[conversationID] = tag
}

// Len reports the number of conversations with a selected persona.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.personas)
}
