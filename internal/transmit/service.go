package transmit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"monsterline/internal/domain"
	"monsterline/internal/repo"
	"monsterline/internal/state"
)

const (
	defaultMaxAttempts = 3
	retryDelayStep     = 2 * time.Second
)

// Error is a terminal transmission failure: every attempt was used up and
// the monster stays APPROVED.
type Error struct {
	MonsterID string
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transmission of %s failed after %d attempt(s): %v", e.MonsterID, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Service drives transmissions: precondition checks, the retry loop and the
// state change once the downstream call lands.
type Service struct {
	Repo        repo.Repo
	Client      *Client
	Log         *slog.Logger
	Now         func() time.Time
	MaxAttempts int

	// Sleep waits between attempts. Swapped out in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewService(r repo.Repo, client *Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Repo:        r,
		Client:      client,
		Log:         log,
		Now:         time.Now,
		MaxAttempts: defaultMaxAttempts,
		Sleep:       ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

// Transmit sends one approved monster downstream. Each run makes up to
// MaxAttempts calls with a growing wait in between (2s after the first
// attempt, 4s after the second). The attempt counter on the monster grows by
// the number of calls actually made; a run that fails its precondition does
// not touch the counter. With force set, an already transmitted monster is
// sent again.
func (s *Service) Transmit(ctx context.Context, id string, force bool) (*domain.Monster, error) {
	m, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	retransmit := force && m.State == domain.StateTransmitted
	if m.State != domain.StateApproved && !retransmit {
		return nil, &domain.WorkflowStateError{
			MonsterID: m.ID, State: m.State,
			Expected: []domain.State{domain.StateApproved}, Op: "transmit",
		}
	}
	if m.Card == nil {
		return nil, fmt.Errorf("monster %s has no structured card to transmit", m.ID)
	}

	externalID, attempts, callErr := s.attemptLoop(ctx, m)
	now := s.now().UTC()
	ts := now.Format(time.RFC3339)
	m.TransmissionAttempts += attempts

	if callErr != nil {
		msg := callErr.Error()
		m.LastTransmissionErr = &msg
		m.UpdatedAt = ts
		if saveErr := s.Repo.Save(ctx, m); saveErr != nil {
			return nil, saveErr
		}
		s.Log.Warn("transmission failed", "id", m.ID, "attempts", attempts, "error", callErr)
		return m, &Error{MonsterID: m.ID, Attempts: attempts, Err: callErr}
	}

	m.ExternalID = &externalID
	m.TransmittedAt = &ts
	m.LastTransmissionErr = nil
	if retransmit {
		m.UpdatedAt = ts
	} else {
		if err := state.Apply(m, domain.StateTransmitted, domain.ActorSystem, "transmitted downstream", now); err != nil {
			return nil, err
		}
	}
	if err := s.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	s.Log.Info("monster transmitted", "id", m.ID, "external_id", externalID, "attempts", attempts)
	return m, nil
}

// attemptLoop runs the downstream calls. It returns the external id on
// success, plus how many calls were made either way.
func (s *Service) attemptLoop(ctx context.Context, m *domain.Monster) (string, int, error) {
	max := s.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		externalID, err := s.Client.Create(ctx, m.Card)
		if err == nil {
			return externalID, attempt, nil
		}
		lastErr = err
		s.Log.Warn("transmission attempt failed", "id", m.ID, "attempt", attempt, "error", err)
		if attempt == max || ctx.Err() != nil {
			return "", attempt, lastErr
		}
		if err := s.Sleep(ctx, time.Duration(attempt)*retryDelayStep); err != nil {
			return "", attempt, err
		}
	}
	return "", max, lastErr
}

// BatchResult summarizes a batch transmission run.
type BatchResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Details   []BatchDetail `json:"details"`
}

type BatchDetail struct {
	MonsterID  string `json:"monster_id"`
	Name       string `json:"name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TransmitBatch sends approved monsters, at most maxCount of them (0 means
// no limit). One failing monster does not stop the run; each outcome is
// reported in the result.
func (s *Service) TransmitBatch(ctx context.Context, maxCount int) (BatchResult, error) {
	list, err := s.Repo.List(ctx, domain.StateApproved, maxCount, 0)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Total: len(list)}
	for i := range list {
		detail := BatchDetail{MonsterID: list[i].ID}
		m, err := s.Transmit(ctx, list[i].ID, false)
		if err != nil {
			detail.Error = err.Error()
			res.Failed++
		} else {
			detail.Name = m.DisplayName()
			if m.ExternalID != nil {
				detail.ExternalID = *m.ExternalID
			}
			res.Succeeded++
		}
		res.Details = append(res.Details, detail)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, nil
}

// HealthCheck probes the downstream service. Returns nil when reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.Client.HealthCheck(ctx)
}
