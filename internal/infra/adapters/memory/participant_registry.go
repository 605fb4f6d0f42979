package memory

import (
	"sync"

	"github.com/classmesh/classmesh/internal/domain"
)

// ParticipantRegistry maps connection ids to joined participants.
type ParticipantRegistry interface {
	Add(p domain.Participant)
	Get(connID string) (domain.Participant, bool)
	Remove(connID string)
	Count() int
}

type participantRegistry struct {
	participants map[string]domain.Participant
	mu           sync.RWMutex
}

func NewParticipantRegistry() ParticipantRegistry {
	return &participantRegistry{
		participants: make(map[string]domain.Participant),
	}
}

func (r *participantRegistry) Add(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants[p.ConnID] = p
}

func (r *participantRegistry) Get(connID string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[connID]
	return p, ok
}

func (r *participantRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.participants, connID)
}

func (r *participantRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.participants)
}
