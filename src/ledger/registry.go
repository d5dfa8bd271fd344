package ledger

import (
	"fmt"
	"sort"
)

// Register records a new participant. Only the admin may register, and a
// participant's role is fixed once registered.
func (e *Engine) Register(caller, participant Address, role Role, ratingCommitment Digest) error {
	defer e.mutation()()
	caller = canon(caller)
	if caller != e.admin {
		return e.reject("register", caller, 0, fmt.Errorf("%w: only the admin registers participants", ErrNotAuthorized))
	}
	addr, err := ParseAddress(string(participant))
	if err != nil {
		return e.reject("register", caller, 0, err)
	}
	if !role.Valid() {
		return e.reject("register", caller, 0, fmt.Errorf("%w: %s", ErrInvalidRole, role))
	}

	e.participantsMu.Lock()
	defer e.participantsMu.Unlock()

	if existing, ok := e.participants[addr]; ok && existing.IsActive {
		return e.reject("register", caller, 0, fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr))
	}

	p := Participant{
		Address:      addr,
		Role:         role,
		HashedRating: ratingCommitment,
		IsActive:     true,
		RegisteredAt: e.now(),
	}
	e.participants[addr] = p

	e.emit(Event{
		Kind:        EventParticipantRegistered,
		Participant: addr,
		Role:        ptr(role),
		At:          p.RegisteredAt,
	})
	e.logger.Info("Registered participant", "participant", addr, "role", role.String())
	return nil
}

// GetParticipant returns the participant's record, or the zero record for
// unknown addresses. Callers must treat an inactive record as unregistered.
func (e *Engine) GetParticipant(addr Address) Participant {
	addr = canon(addr)
	e.participantsMu.RLock()
	defer e.participantsMu.RUnlock()
	return e.participants[addr]
}

// ParticipantCount returns the number of registered participants.
func (e *Engine) ParticipantCount() int {
	e.participantsMu.RLock()
	defer e.participantsMu.RUnlock()
	return len(e.participants)
}

// Participants returns all registered participants ordered by registration
// time, then address.
func (e *Engine) Participants() []Participant {
	e.participantsMu.RLock()
	out := make([]Participant, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, p)
	}
	e.participantsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].Address < out[j].Address
	})
	return out
}
