package state

import (
	"fmt"
	"time"

	"monsterline/internal/domain"
)

// transitions is the canonical legal-transition table. Any (from, to) pair
// not present here is illegal. Every layer consults this table; no other
// package encodes lifecycle rules.
var transitions = map[domain.State][]domain.State{
	domain.StateGenerated:     {domain.StatePendingReview},
	domain.StateDefective:     {domain.StateCorrected, domain.StateRejected},
	domain.StateCorrected:     {domain.StatePendingReview},
	domain.StatePendingReview: {domain.StateApproved, domain.StateRejected},
	domain.StateApproved:      {domain.StateTransmitted, domain.StatePendingReview},
	domain.StateTransmitted:   {},
	domain.StateRejected:      {},
}

// IllegalTransitionError reports a (from, to) pair outside the table.
type IllegalTransitionError struct {
	From domain.State
	To   domain.State
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to domain.State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from the given state.
func NextStates(from domain.State) []domain.State {
	next := transitions[from]
	out := make([]domain.State, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s domain.State) bool {
	return len(transitions[s]) == 0
}

// Apply moves the monster to the target state in memory: sets the state,
// bumps updated-at and appends one history record with the prior state.
// No persistence happens here; that is the caller's job.
func Apply(m *domain.Monster, to domain.State, actor string, note string, now time.Time) error {
	if !CanTransition(m.State, to) {
		return IllegalTransitionError{From: m.State, To: to}
	}
	from := m.State
	m.State = to
	m.UpdatedAt = now.UTC().Format(time.RFC3339)
	m.History = append(m.History, domain.Transition{
		MonsterID: m.ID,
		FromState: &from,
		ToState:   to,
		Timestamp: m.UpdatedAt,
		Actor:     actor,
		Note:      optionalNote(note),
	})
	return nil
}

// Replay folds a transition history into the state it produces. The first
// record's to-state is the initial state; every later record must continue
// from where the previous one ended.
func Replay(history []domain.Transition) (domain.State, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("empty history")
	}
	if history[0].FromState != nil {
		return "", fmt.Errorf("first transition has non-nil from-state %s", *history[0].FromState)
	}
	current := history[0].ToState
	for _, t := range history[1:] {
		if t.FromState == nil {
			return "", fmt.Errorf("transition to %s missing from-state", t.ToState)
		}
		if *t.FromState != current {
			return "", fmt.Errorf("history gap: at %s but transition claims from %s", current, *t.FromState)
		}
		current = t.ToState
	}
	return current, nil
}

func optionalNote(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}
