package app

import (
	"context"
	"time"

	"exam-attempt-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

// CatalogRepository is the read-only test/question catalog boundary.
// Implementations may cache; content is immutable for a session's lifetime.
type CatalogRepository interface {
	GetTestContent(ctx context.Context, testID string) (domain.TestContent, error)
}

// AttemptStore is the durable persistence contract for attempts and their
// answers. SaveAnswer has replace-by-question semantics: all rows for
// (attempt, question) are deleted before the new representation is inserted,
// so redundant calls with an unchanged draft are a no-op in effect and
// last-write-wins is the documented concurrency policy.
type AttemptStore interface {
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	// EnsureAttempt returns the existing attempt for (user, test, event) or
	// creates a fresh in_progress one. At most one attempt exists per triple.
	EnsureAttempt(ctx context.Context, userID, testID, eventID string) (domain.Attempt, error)
	LoadAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error)
	SaveAnswer(ctx context.Context, attemptID string, ans domain.Answer) error
	ClearAnswers(ctx context.Context, attemptID string) error
	// CompleteAttempt writes the terminal status, score, and end time,
	// guarded by a status=in_progress precondition; a lost race returns
	// domain.ErrAlreadyCompleted without overwriting anything.
	CompleteAttempt(ctx context.Context, attemptID string, score int, pendingReview bool, endedAt time.Time) error
}

// SessionRegistry tracks which attempts have a live session. It is an
// advisory guard against a second tab driving the same attempt; the
// CompleteAttempt precondition remains the hard safety net.
type SessionRegistry interface {
	Acquire(attemptID string) bool
	Release(attemptID string)
}

// SessionService begins attempt sessions.
type SessionService struct {
	catalog  CatalogRepository
	store    AttemptStore
	registry SessionRegistry
	now      func() time.Time
	tick     time.Duration
}

func NewSessionService(catalog CatalogRepository, store AttemptStore, registry SessionRegistry) *SessionService {
	return NewSessionServiceWithClock(catalog, store, registry, time.Now, time.Second)
}

// NewSessionServiceWithClock allows deterministic time and a fast countdown
// tick in tests.
func NewSessionServiceWithClock(catalog CatalogRepository, store AttemptStore, registry SessionRegistry,
	now func() time.Time, tick time.Duration) *SessionService {
	return &SessionService{
		catalog:  catalog,
		store:    store,
		registry: registry,
		now:      now,
		tick:     tick,
	}
}

// Begin opens a session for one participant's attempt. When attemptID is
// empty the attempt for (user, test, event) is resolved or created. The test
// content and any persisted answers are fetched concurrently; any fetch
// failure aborts the session, a partial catalog must never be scored
// against.
func (s *SessionService) Begin(ctx context.Context, userID, testID, eventID, attemptID string) (*Session, error) {
	var attempt domain.Attempt
	var err error
	if attemptID != "" {
		attempt, err = s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		if attempt.UserID != userID {
			return nil, domain.ErrNotOwner
		}
		if attempt.TestID != testID {
			return nil, domain.ErrTestNotFound
		}
	} else {
		attempt, err = s.store.EnsureAttempt(ctx, userID, testID, eventID)
		if err != nil {
			return nil, err
		}
	}
	if attempt.Status == domain.AttemptCompleted {
		return nil, domain.ErrAlreadyCompleted
	}

	if !s.registry.Acquire(attempt.ID) {
		return nil, domain.ErrSessionActive
	}

	var content domain.TestContent
	var persisted []domain.Answer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		content, err = s.catalog.GetTestContent(gctx, testID)
		return err
	})
	g.Go(func() error {
		var err error
		persisted, err = s.store.LoadAnswers(gctx, attempt.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.registry.Release(attempt.ID)
		return nil, err
	}

	return newSession(s.store, s.registry, attempt, content, persisted, s.now, s.tick), nil
}
