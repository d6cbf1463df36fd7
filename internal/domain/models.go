package domain

import (
	"strings"
	"time"
)

// QuestionType discriminates the four answer-comparison algorithms.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	Sequence       QuestionType = "sequence"
	Text           QuestionType = "text"
)

// Test is the immutable metadata of an examination.
// Type (entry/final/annual) is informational only to the engine.
type Test struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	TimeLimitMinutes int    `json:"timeLimitMinutes"` // 0 = unlimited
	PassingScore     int    `json:"passingScore"`     // 0 = no threshold
}

// Option is a selectable answer for choice questions, or one element of a
// sequence question. Correct is meaningful for choice types only; Order is
// the canonical position for sequence elements.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
	Order   int    `json:"order"`
}

// Question owns its options. Order is the stable presentation index within
// the test; Points is the all-or-nothing weight.
type Question struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Points  int          `json:"points"`
	Order   int          `json:"order"`
	Options []Option     `json:"options"`
}

// TestContent is everything the engine needs to run and score an attempt:
// the test, its questions in presentation order, and (for sequence
// questions) the canonical option ordering keyed by question ID. The
// canonical ordering is authored data and must never be conflated with the
// shuffled order shown to the participant.
type TestContent struct {
	Test      Test                `json:"test"`
	Questions []Question          `json:"questions"`
	Canonical map[string][]string `json:"canonical"`
}

// AttemptStatus transitions in_progress -> completed exactly once.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// Attempt is one participant's run through a test inside an event scope.
// Score stays nil until completion; PendingReview marks attempts whose text
// answers await out-of-band human grading.
type Attempt struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	TestID        string        `json:"testId"`
	EventID       string        `json:"eventId"`
	Status        AttemptStatus `json:"status"`
	Score         *int          `json:"score,omitempty"`
	PendingReview bool          `json:"pendingReview"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       *time.Time    `json:"endTime,omitempty"`
}

// Answer is the tagged union holding one logical answer per question. Only
// the field matching Type carries data:
//
//	SingleChoice   -> OptionID
//	MultipleChoice -> OptionIDs (a set; order irrelevant)
//	Sequence       -> Ordering (full permutation of the option IDs)
//	Text           -> Text
//
// Consumers switch exhaustively on Type.
type Answer struct {
	QuestionID string       `json:"questionId"`
	Type       QuestionType `json:"type"`
	OptionID   string       `json:"optionId,omitempty"`
	OptionIDs  []string     `json:"optionIds,omitempty"`
	Ordering   []string     `json:"ordering,omitempty"`
	Text       string       `json:"text,omitempty"`
}

// Filled reports whether the answer carries anything worth persisting or
// scoring. Sequence drafts are pre-populated at session init, so a sequence
// answer counts as filled once its ordering is fully present.
func (a Answer) Filled() bool {
	switch a.Type {
	case SingleChoice:
		return a.OptionID != ""
	case MultipleChoice:
		return len(a.OptionIDs) > 0
	case Sequence:
		return len(a.Ordering) > 0
	case Text:
		return strings.TrimSpace(a.Text) != ""
	}
	return false
}
