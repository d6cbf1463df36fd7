package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// AttemptStore persists attempts and their answers in Postgres. One logical
// answer per (attempt, question): single choice and text are one row,
// multiple choice is one row per selected option, and a sequence answer is
// one row whose user_order column carries the full ordering as JSON.
// SaveAnswer deletes before inserting inside a transaction, which is what
// makes replace-by-question (and therefore last-write-wins) hold.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

const attemptColumns = `id, user_id, test_id, event_id, status, score, pending_review, start_time, end_time`

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM user_test_attempts WHERE id=$1`, attemptID)
	return scanAttempt(row)
}

func (s *AttemptStore) EnsureAttempt(ctx context.Context, userID, testID, eventID string) (domain.Attempt, error) {
	attempt, err := s.findAttempt(ctx, userID, testID, eventID)
	if err == nil {
		return attempt, nil
	}
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		return domain.Attempt{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_test_attempts (id, user_id, test_id, event_id, status, start_time)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id, test_id, event_id) DO NOTHING`,
		uuid.NewString(), userID, testID, eventID, domain.AttemptInProgress)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	// Re-read so a concurrent creator's row wins over ours.
	return s.findAttempt(ctx, userID, testID, eventID)
}

func (s *AttemptStore) findAttempt(ctx context.Context, userID, testID, eventID string) (domain.Attempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM user_test_attempts
		  WHERE user_id=$1 AND test_id=$2 AND event_id=$3`, userID, testID, eventID)
	return scanAttempt(row)
}

func scanAttempt(row pgx.Row) (domain.Attempt, error) {
	var a domain.Attempt
	err := row.Scan(&a.ID, &a.UserID, &a.TestID, &a.EventID, &a.Status,
		&a.Score, &a.PendingReview, &a.StartTime, &a.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Attempt{}, domain.ErrAttemptNotFound
		}
		return domain.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	return a, nil
}

func (s *AttemptStore) LoadAnswers(ctx context.Context, attemptID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ua.question_id, q.question_type, ua.answer_id, ua.text_answer, ua.user_order
		   FROM user_test_answers ua
		   JOIN test_questions q ON q.id = ua.question_id
		  WHERE ua.attempt_id=$1`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[string]*domain.Answer)
	var order []string
	for rows.Next() {
		var questionID string
		var qType domain.QuestionType
		var optionID, textAnswer, userOrder *string
		if err := rows.Scan(&questionID, &qType, &optionID, &textAnswer, &userOrder); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}

		ans, ok := byQuestion[questionID]
		if !ok {
			ans = &domain.Answer{QuestionID: questionID, Type: qType}
			byQuestion[questionID] = ans
			order = append(order, questionID)
		}

		switch qType {
		case domain.SingleChoice:
			if optionID != nil {
				ans.OptionID = *optionID
			}
		case domain.MultipleChoice:
			if optionID != nil {
				ans.OptionIDs = append(ans.OptionIDs, *optionID)
			}
		case domain.Sequence:
			if userOrder != nil {
				var ordering []string
				if err := json.Unmarshal([]byte(*userOrder), &ordering); err == nil {
					ans.Ordering = ordering
				}
			}
		case domain.Text:
			if textAnswer != nil {
				ans.Text = *textAnswer
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Answer, 0, len(order))
	for _, questionID := range order {
		out = append(out, *byQuestion[questionID])
	}
	return out, nil
}

func (s *AttemptStore) SaveAnswer(ctx context.Context, attemptID string, ans domain.Answer) error {
	if !ans.Filled() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save answer: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM user_test_answers WHERE attempt_id=$1 AND question_id=$2`,
		attemptID, ans.QuestionID); err != nil {
		return fmt.Errorf("replace answer: %w", err)
	}

	const insert = `INSERT INTO user_test_answers (id, attempt_id, question_id, answer_id, text_answer, user_order)
	                VALUES ($1, $2, $3, $4, $5, $6)`
	switch ans.Type {
	case domain.SingleChoice:
		_, err = tx.Exec(ctx, insert, uuid.NewString(), attemptID, ans.QuestionID, ans.OptionID, nil, nil)
	case domain.MultipleChoice:
		for _, optionID := range ans.OptionIDs {
			if _, err = tx.Exec(ctx, insert, uuid.NewString(), attemptID, ans.QuestionID, optionID, nil, nil); err != nil {
				break
			}
		}
	case domain.Sequence:
		var raw []byte
		raw, err = json.Marshal(ans.Ordering)
		if err == nil {
			_, err = tx.Exec(ctx, insert, uuid.NewString(), attemptID, ans.QuestionID, nil, nil, string(raw))
		}
	case domain.Text:
		_, err = tx.Exec(ctx, insert, uuid.NewString(), attemptID, ans.QuestionID, nil, ans.Text, nil)
	default:
		err = domain.ErrInvalidDraft
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *AttemptStore) ClearAnswers(ctx context.Context, attemptID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM user_test_answers WHERE attempt_id=$1`, attemptID); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	return nil
}

func (s *AttemptStore) CompleteAttempt(ctx context.Context, attemptID string, score int, pendingReview bool, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_test_attempts
		    SET status=$2, score=$3, pending_review=$4, end_time=$5
		  WHERE id=$1 AND status=$6`,
		attemptID, domain.AttemptCompleted, score, pendingReview, endedAt, domain.AttemptInProgress)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// The precondition failed: either the attempt is gone or another writer
	// already completed it. Never overwrite a completed score.
	var status domain.AttemptStatus
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM user_test_attempts WHERE id=$1`, attemptID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("check attempt status: %w", err)
	}
	return domain.ErrAlreadyCompleted
}
