package memory

import (
	"context"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/google/uuid"
)

// AttemptStore is an in-memory implementation of app.AttemptStore, used by
// tests and as the fallback when no database is configured. Answers are kept
// one logical record per (attempt, question), which makes the
// replace-by-question contract a plain map write.
type AttemptStore struct {
	clock func() time.Time

	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	answers  map[string]map[string]domain.Answer // attemptID -> questionID -> answer
}

func NewAttemptStore() *AttemptStore {
	return NewAttemptStoreWithClock(time.Now)
}

// NewAttemptStoreWithClock is test-only for deterministic timestamps.
func NewAttemptStoreWithClock(clock func() time.Time) *AttemptStore {
	return &AttemptStore{
		clock:    clock,
		attempts: make(map[string]domain.Attempt),
		answers:  make(map[string]map[string]domain.Answer),
	}
}

// Seed installs an attempt record directly, for tests and demo wiring.
func (s *AttemptStore) Seed(attempt domain.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = attempt
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptStore) EnsureAttempt(_ context.Context, userID, testID, eventID string) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attempt := range s.attempts {
		if attempt.UserID == userID && attempt.TestID == testID && attempt.EventID == eventID {
			return attempt, nil
		}
	}
	attempt := domain.Attempt{
		ID:        uuid.NewString(),
		UserID:    userID,
		TestID:    testID,
		EventID:   eventID,
		Status:    domain.AttemptInProgress,
		StartTime: s.clock(),
	}
	s.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (s *AttemptStore) LoadAnswers(_ context.Context, attemptID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byQuestion := s.answers[attemptID]
	out := make([]domain.Answer, 0, len(byQuestion))
	for _, ans := range byQuestion {
		out = append(out, ans)
	}
	return out, nil
}

func (s *AttemptStore) SaveAnswer(_ context.Context, attemptID string, ans domain.Answer) error {
	if !ans.Filled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attemptID]; !ok {
		return domain.ErrAttemptNotFound
	}
	byQuestion, ok := s.answers[attemptID]
	if !ok {
		byQuestion = make(map[string]domain.Answer)
		s.answers[attemptID] = byQuestion
	}
	byQuestion[ans.QuestionID] = ans
	return nil
}

func (s *AttemptStore) ClearAnswers(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.answers, attemptID)
	return nil
}

func (s *AttemptStore) CompleteAttempt(_ context.Context, attemptID string, score int, pendingReview bool, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Status != domain.AttemptInProgress {
		return domain.ErrAlreadyCompleted
	}
	attempt.Status = domain.AttemptCompleted
	attempt.Score = &score
	attempt.PendingReview = pendingReview
	attempt.EndTime = &endedAt
	s.attempts[attemptID] = attempt
	return nil
}
