package app

import (
	"fmt"
	"math"
	"strings"

	"exam-attempt-service/internal/domain"
)

// QuestionScore is the per-question outcome of a scoring run.
type QuestionScore struct {
	QuestionID    string              `json:"questionId"`
	Type          domain.QuestionType `json:"type"`
	Earned        int                 `json:"earned"`
	Possible      int                 `json:"possible"`
	Answered      bool                `json:"answered"`
	PendingReview bool                `json:"pendingReview"`
}

// ScoreReport is the result of scoring one attempt's final answer set.
// Percent is round(100 * Earned / Possible), 0 when Possible is 0.
// PendingReview is set when the test contains at least one text question,
// whose credit can only be assigned by a human reviewer downstream.
// Passed is nil when the test carries no passing threshold.
type ScoreReport struct {
	Earned          int             `json:"earned"`
	Possible        int             `json:"possible"`
	Percent         int             `json:"percent"`
	PendingReview   bool            `json:"pendingReview"`
	Passed          *bool           `json:"passed,omitempty"`
	Questions       []QuestionScore `json:"questions"`
	Inconsistencies []string        `json:"-"`
}

// ScoreAttempt maps the final answer set to a deterministic score. Pure
// function: no I/O, no clock, callers log any Inconsistencies. Credit is
// all-or-nothing per question:
//
//	single_choice:   the one selected option is flagged correct.
//	multiple_choice: the selected set equals the correct set exactly, and the
//	                 correct set is non-empty (a question authored with zero
//	                 correct options never awards points).
//	sequence:        the submitted ordering equals the canonical ordering,
//	                 same length, same order.
//	text:            never auto-scored; contributes 0 and flags the report
//	                 for manual review.
func ScoreAttempt(content domain.TestContent, answers []domain.Answer) ScoreReport {
	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	report := ScoreReport{Questions: make([]QuestionScore, 0, len(content.Questions))}
	for _, q := range content.Questions {
		ans, answered := byQuestion[q.ID]
		qs := QuestionScore{QuestionID: q.ID, Type: q.Type, Possible: q.Points, Answered: answered}
		report.Possible += q.Points

		switch q.Type {
		case domain.SingleChoice:
			if answered && selectedIsCorrect(q.Options, ans.OptionID) {
				qs.Earned = q.Points
			}
		case domain.MultipleChoice:
			if answered && exactCorrectSet(q.Options, ans.OptionIDs) {
				qs.Earned = q.Points
			}
		case domain.Sequence:
			canonical, ok := content.Canonical[q.ID]
			if !ok || len(canonical) == 0 {
				report.Inconsistencies = append(report.Inconsistencies,
					fmt.Sprintf("sequence question %s has no canonical order", q.ID))
				break
			}
			if answered && sameOrdering(ans.Ordering, canonical) {
				qs.Earned = q.Points
			}
		case domain.Text:
			// Free text is graded by a human out-of-band; it still weighs
			// into Possible so the numeric score stays capped until review.
			qs.PendingReview = true
			report.PendingReview = true
			qs.Answered = answered && strings.TrimSpace(ans.Text) != ""
		}

		report.Earned += qs.Earned
		report.Questions = append(report.Questions, qs)
	}

	if report.Possible > 0 {
		report.Percent = int(math.Round(100 * float64(report.Earned) / float64(report.Possible)))
	}
	if content.Test.PassingScore > 0 {
		passed := report.Percent >= content.Test.PassingScore
		report.Passed = &passed
	}
	return report
}

func selectedIsCorrect(options []domain.Option, optionID string) bool {
	for _, opt := range options {
		if opt.ID == optionID {
			return opt.Correct
		}
	}
	return false
}

// exactCorrectSet requires the selection to match the correct option set
// exactly: no subset credit, no distractor tolerance.
func exactCorrectSet(options []domain.Option, selected []string) bool {
	correct := make(map[string]bool)
	for _, opt := range options {
		if opt.Correct {
			correct[opt.ID] = true
		}
	}
	if len(correct) == 0 {
		return false
	}

	picked := make(map[string]bool, len(selected))
	for _, id := range selected {
		picked[id] = true
	}
	if len(picked) != len(correct) {
		return false
	}
	for id := range picked {
		if !correct[id] {
			return false
		}
	}
	return true
}

// sameOrdering compares the submitted permutation against the canonical one.
// A length mismatch means the answer was stored incomplete; it is treated as
// unanswered rather than wrong-but-partial.
func sameOrdering(submitted, canonical []string) bool {
	if len(submitted) != len(canonical) {
		return false
	}
	for i := range canonical {
		if submitted[i] != canonical[i] {
			return false
		}
	}
	return true
}
