package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"exam-attempt-service/internal/domain"
)

// Phase is the lifecycle state of an attempt session. Loading happens inside
// SessionService.Begin, so a constructed session starts in either
// restore_decision or in_progress.
type Phase string

const (
	PhaseRestoreDecision Phase = "restore_decision"
	PhaseInProgress      Phase = "in_progress"
	PhaseSubmitting      Phase = "submitting"
	PhaseCompleted       Phase = "completed"
	PhaseError           Phase = "error"
)

// Snapshot is a watcher-friendly view of the session.
type Snapshot struct {
	Phase            Phase  `json:"phase"`
	TestTitle        string `json:"testTitle"`
	QuestionIndex    int    `json:"questionIndex"`
	QuestionCount    int    `json:"questionCount"`
	ResumeIndex      int    `json:"resumeIndex"`
	RemainingSeconds int    `json:"remainingSeconds"` // -1 when unlimited
	Score            *int   `json:"score,omitempty"`
	Passed           *bool  `json:"passed,omitempty"`
	PendingReview    bool   `json:"pendingReview"`
	Cause            string `json:"cause,omitempty"`
}

// OptionView is an option as presented to the participant. Correctness flags
// never leave the engine.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the currently displayed question plus its draft. Options
// appear in display order, which for sequence questions is the shuffled
// presentation order, not the canonical one.
type QuestionView struct {
	Index   int                 `json:"index"`
	ID      string              `json:"id"`
	Type    domain.QuestionType `json:"type"`
	Text    string              `json:"text"`
	Points  int                 `json:"points"`
	Options []OptionView        `json:"options"`
	Draft   domain.Answer       `json:"draft"`
}

// Session owns one in-progress attempt: the question pointer, per-question
// drafts, the countdown, and the terminal transition. Every operation takes
// the session mutex, and the conditional status update in
// AttemptStore.CompleteAttempt is the only guard against a second process
// (e.g. a stale browser tab) finishing the same attempt.
type Session struct {
	store    AttemptStore
	registry SessionRegistry
	now      func() time.Time
	tick     time.Duration
	rnd      *rand.Rand

	mu        sync.Mutex
	attempt   domain.Attempt
	content   domain.TestContent
	phase     Phase
	cause     error
	idx       int
	resumeIdx int
	drafts    []domain.Answer
	display   [][]domain.Option
	countdown *Countdown
	score     int
	passed    *bool
	pending   bool
	closed    bool
	watchers  map[chan Snapshot]struct{}
}

func newSession(store AttemptStore, registry SessionRegistry, attempt domain.Attempt,
	content domain.TestContent, persisted []domain.Answer,
	now func() time.Time, tick time.Duration) *Session {

	s := &Session{
		store:    store,
		registry: registry,
		now:      now,
		tick:     tick,
		rnd:      rand.New(rand.NewSource(now().UnixNano())),
		attempt:  attempt,
		content:  content,
		watchers: make(map[chan Snapshot]struct{}),
	}
	s.resetDrafts()
	restored := s.seedDrafts(persisted)

	if restored >= 0 {
		s.phase = PhaseRestoreDecision
		s.resumeIdx = restored + 1
		if s.resumeIdx > len(content.Questions)-1 {
			s.resumeIdx = len(content.Questions) - 1
		}
	} else {
		s.phase = PhaseInProgress
		s.startCountdownLocked()
	}
	return s
}

// resetDrafts initializes every per-question draft, shuffling the sequence
// presentation order and pre-filling sequence drafts with it.
func (s *Session) resetDrafts() {
	n := len(s.content.Questions)
	s.drafts = make([]domain.Answer, n)
	s.display = make([][]domain.Option, n)
	for i, q := range s.content.Questions {
		s.drafts[i] = domain.Answer{QuestionID: q.ID, Type: q.Type}
		s.display[i] = append([]domain.Option(nil), q.Options...)
		if q.Type == domain.Sequence {
			s.rnd.Shuffle(len(s.display[i]), func(a, b int) {
				s.display[i][a], s.display[i][b] = s.display[i][b], s.display[i][a]
			})
			ids := make([]string, len(s.display[i]))
			for j, opt := range s.display[i] {
				ids[j] = opt.ID
			}
			s.drafts[i].Ordering = ids
		}
	}
}

// seedDrafts overlays persisted answers onto fresh drafts and returns the
// index of the furthest answered question, or -1 when nothing was persisted.
func (s *Session) seedDrafts(persisted []domain.Answer) int {
	furthest := -1
	indexByQuestion := make(map[string]int, len(s.content.Questions))
	for i, q := range s.content.Questions {
		indexByQuestion[q.ID] = i
	}
	for _, a := range persisted {
		i, ok := indexByQuestion[a.QuestionID]
		if !ok || a.Type != s.content.Questions[i].Type {
			continue
		}
		if a.Type == domain.Sequence {
			// A stored ordering of the wrong length is unscorable; keep the
			// fresh shuffle instead.
			if len(a.Ordering) != len(s.content.Questions[i].Options) {
				continue
			}
			s.applyOrdering(i, a.Ordering)
		}
		s.drafts[i] = a
		if i > furthest {
			furthest = i
		}
	}
	return furthest
}

// applyOrdering makes the display order follow a restored draft ordering.
func (s *Session) applyOrdering(i int, ordering []string) {
	byID := make(map[string]domain.Option, len(s.display[i]))
	for _, opt := range s.display[i] {
		byID[opt.ID] = opt
	}
	reordered := make([]domain.Option, 0, len(ordering))
	for _, id := range ordering {
		opt, ok := byID[id]
		if !ok {
			return
		}
		reordered = append(reordered, opt)
	}
	s.display[i] = reordered
}

func (s *Session) startCountdownLocked() {
	if s.content.Test.TimeLimitMinutes <= 0 || s.countdown != nil {
		return
	}
	s.countdown = startCountdown(s.content.Test.TimeLimitMinutes*60, s.tick, s.expire)
}

// expire is the countdown's terminal callback. It routes through the same
// submission path as an explicit user action; the phase check under the
// mutex makes the two race-safe, whichever fires first wins and the loser
// sees ErrAlreadyCompleted.
func (s *Session) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase != PhaseInProgress {
		return
	}
	if err := s.submitLocked(context.Background()); err != nil && !errors.Is(err, domain.ErrAlreadyCompleted) {
		log.Printf("attempt %s: auto-submit on expiry failed: %v", s.attempt.ID, err)
	}
}

// ChooseRestore resolves the restore-or-restart decision. restore keeps the
// seeded drafts and jumps to the furthest unanswered question; restart
// deletes every persisted answer, reshuffles sequence presentation, and
// starts over at question zero. Asked at most once per load.
func (s *Session) ChooseRestore(ctx context.Context, restore bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.phase != PhaseRestoreDecision {
		return domain.ErrNoRestorePending
	}

	if restore {
		s.idx = s.resumeIdx
	} else {
		if err := s.store.ClearAnswers(ctx, s.attempt.ID); err != nil {
			return fmt.Errorf("clear answers for restart: %w", err)
		}
		s.resetDrafts()
		s.idx = 0
	}
	s.phase = PhaseInProgress
	s.startCountdownLocked()
	s.broadcastLocked()
	return nil
}

// SetDraft replaces the draft for a question after validating it against the
// question's shape. Drafts are in-memory only; persistence happens on
// navigation and at submission.
func (s *Session) SetDraft(index int, ans domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.phase != PhaseInProgress {
		return s.phaseError()
	}
	if index < 0 || index >= len(s.content.Questions) {
		return domain.ErrQuestionNotFound
	}

	q := s.content.Questions[index]
	normalized, err := normalizeDraft(q, ans)
	if err != nil {
		return err
	}
	s.drafts[index] = normalized
	if q.Type == domain.Sequence {
		s.applyOrdering(index, normalized.Ordering)
	}
	return nil
}

// Next persists the current draft and advances the pointer. On the last
// question it triggers submission instead of navigating.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.phase != PhaseInProgress {
		return s.phaseError()
	}
	if s.idx == len(s.content.Questions)-1 {
		return s.submitLocked(ctx)
	}
	s.persistDraftLocked(ctx, s.idx)
	s.idx++
	s.broadcastLocked()
	return nil
}

// Previous persists the current draft and moves the pointer back.
func (s *Session) Previous(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.phase != PhaseInProgress {
		return s.phaseError()
	}
	s.persistDraftLocked(ctx, s.idx)
	if s.idx > 0 {
		s.idx--
	}
	s.broadcastLocked()
	return nil
}

// persistDraftLocked is the debounced per-question save on navigation.
// Unfilled drafts are skipped (nothing exists to replace); a transient
// failure is logged and superseded by the next save or the final flush.
func (s *Session) persistDraftLocked(ctx context.Context, i int) {
	d := s.drafts[i]
	if !d.Filled() {
		return
	}
	if err := s.store.SaveAnswer(ctx, s.attempt.ID, d); err != nil {
		log.Printf("attempt %s: save answer for question %s failed, will be superseded: %v",
			s.attempt.ID, d.QuestionID, err)
	}
}

// Submit runs the terminal transition and returns the computed percentage.
func (s *Session) Submit(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, domain.ErrSessionClosed
	}
	if err := s.submitLocked(ctx); err != nil {
		return s.score, err
	}
	return s.score, nil
}

// submitLocked coordinates submission: final flush, re-read of persisted
// answers (in-memory state is not trusted after partial save failures),
// scoring, and the conditional status write. Runs exactly once; later calls
// fail fast with ErrAlreadyCompleted and perform no writes.
func (s *Session) submitLocked(ctx context.Context) error {
	switch s.phase {
	case PhaseCompleted, PhaseSubmitting:
		return domain.ErrAlreadyCompleted
	case PhaseError:
		return domain.ErrSessionClosed
	case PhaseRestoreDecision:
		return domain.ErrRestorePending
	}

	s.phase = PhaseSubmitting
	if s.countdown != nil {
		s.countdown.Stop()
	}

	// Final flush: what scoring reads must match the last draft state.
	if d := s.drafts[s.idx]; d.Filled() {
		if err := s.store.SaveAnswer(ctx, s.attempt.ID, d); err != nil {
			return s.failLocked(fmt.Errorf("final answer flush: %w", err))
		}
	}

	answers, err := s.store.LoadAnswers(ctx, s.attempt.ID)
	if err != nil {
		return s.failLocked(fmt.Errorf("load answers for scoring: %w", err))
	}

	report := ScoreAttempt(s.content, answers)
	for _, note := range report.Inconsistencies {
		log.Printf("attempt %s: data integrity warning: %s", s.attempt.ID, note)
	}

	endedAt := s.now()
	if err := s.store.CompleteAttempt(ctx, s.attempt.ID, report.Percent, report.PendingReview, endedAt); err != nil {
		return s.failLocked(fmt.Errorf("complete attempt: %w", err))
	}

	s.attempt.Status = domain.AttemptCompleted
	s.attempt.EndTime = &endedAt
	score := report.Percent
	s.attempt.Score = &score
	s.attempt.PendingReview = report.PendingReview
	s.score = report.Percent
	s.passed = report.Passed
	s.pending = report.PendingReview
	s.phase = PhaseCompleted
	s.registry.Release(s.attempt.ID)
	s.broadcastLocked()
	return nil
}

// failLocked parks the session in its terminal error state. The only
// recovery is to discard the session and begin again.
func (s *Session) failLocked(err error) error {
	s.phase = PhaseError
	s.cause = err
	if s.countdown != nil {
		s.countdown.Stop()
	}
	s.registry.Release(s.attempt.ID)
	s.broadcastLocked()
	return err
}

// Cancel tears the session down: the countdown stops, the registry slot is
// released, watchers are closed, and no further writes are issued.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.countdown != nil {
		s.countdown.Stop()
	}
	if s.phase != PhaseCompleted && s.phase != PhaseError {
		s.registry.Release(s.attempt.ID)
	}
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}

// Watch returns a channel of snapshots plus a cancel function. The caller
// must invoke cancel to avoid leaks.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	initial := s.snapshotLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() {
	snap := s.snapshotLocked()
	for ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow watcher never blocks the engine.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:            s.phase,
		TestTitle:        s.content.Test.Title,
		QuestionIndex:    s.idx,
		QuestionCount:    len(s.content.Questions),
		ResumeIndex:      s.resumeIdx,
		RemainingSeconds: -1,
		PendingReview:    s.pending,
	}
	if s.countdown != nil {
		snap.RemainingSeconds = s.countdown.Remaining()
	} else if s.content.Test.TimeLimitMinutes > 0 {
		snap.RemainingSeconds = s.content.Test.TimeLimitMinutes * 60
	}
	if s.phase == PhaseCompleted {
		score := s.score
		snap.Score = &score
		snap.Passed = s.passed
	}
	if s.cause != nil {
		snap.Cause = s.cause.Error()
	}
	return snap
}

// CurrentQuestion returns the displayed question with its draft.
func (s *Session) CurrentQuestion() (QuestionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return QuestionView{}, domain.ErrSessionClosed
	}
	if s.phase != PhaseInProgress {
		return QuestionView{}, s.phaseError()
	}
	return s.questionViewLocked(s.idx), nil
}

func (s *Session) questionViewLocked(i int) QuestionView {
	q := s.content.Questions[i]
	view := QuestionView{
		Index:   i,
		ID:      q.ID,
		Type:    q.Type,
		Text:    q.Text,
		Points:  q.Points,
		Options: make([]OptionView, len(s.display[i])),
		Draft:   s.drafts[i],
	}
	for j, opt := range s.display[i] {
		view.Options[j] = OptionView{ID: opt.ID, Text: opt.Text}
	}
	return view
}

// Attempt returns the attempt as the session last knew it.
func (s *Session) Attempt() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) phaseError() error {
	switch s.phase {
	case PhaseRestoreDecision:
		return domain.ErrRestorePending
	case PhaseCompleted, PhaseSubmitting:
		return domain.ErrAlreadyCompleted
	default:
		return domain.ErrSessionClosed
	}
}

// normalizeDraft validates an incoming draft against the question shape and
// returns the canonical representation that drafts and stores carry.
func normalizeDraft(q domain.Question, ans domain.Answer) (domain.Answer, error) {
	if ans.Type != "" && ans.Type != q.Type {
		return domain.Answer{}, domain.ErrInvalidDraft
	}
	known := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		known[opt.ID] = true
	}

	out := domain.Answer{QuestionID: q.ID, Type: q.Type}
	switch q.Type {
	case domain.SingleChoice:
		if ans.OptionID != "" && !known[ans.OptionID] {
			return domain.Answer{}, domain.ErrInvalidDraft
		}
		out.OptionID = ans.OptionID
	case domain.MultipleChoice:
		seen := make(map[string]bool, len(ans.OptionIDs))
		for _, id := range ans.OptionIDs {
			if !known[id] {
				return domain.Answer{}, domain.ErrInvalidDraft
			}
			if !seen[id] {
				seen[id] = true
				out.OptionIDs = append(out.OptionIDs, id)
			}
		}
	case domain.Sequence:
		if len(ans.Ordering) != len(q.Options) {
			return domain.Answer{}, domain.ErrInvalidDraft
		}
		seen := make(map[string]bool, len(ans.Ordering))
		for _, id := range ans.Ordering {
			if !known[id] || seen[id] {
				return domain.Answer{}, domain.ErrInvalidDraft
			}
			seen[id] = true
		}
		out.Ordering = append([]string(nil), ans.Ordering...)
	case domain.Text:
		out.Text = strings.TrimSpace(ans.Text)
	}
	return out, nil
}
