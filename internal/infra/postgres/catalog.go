package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"exam-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Catalog loads test content from Postgres. Choice options live in
// test_answers; sequence questions draw both their options and their
// canonical ordering from test_sequence_answers, which is fetched separately
// so the authored order is never conflated with the shuffled display order.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) LoadTestContent(ctx context.Context, testID string) (domain.TestContent, error) {
	var content domain.TestContent

	err := c.pool.QueryRow(ctx,
		`SELECT id, title, type, time_limit, passing_score FROM tests WHERE id=$1`, testID).
		Scan(&content.Test.ID, &content.Test.Title, &content.Test.Type,
			&content.Test.TimeLimitMinutes, &content.Test.PassingScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TestContent{}, domain.ErrTestNotFound
		}
		return domain.TestContent{}, fmt.Errorf("load test: %w", err)
	}

	questions, err := c.loadQuestions(ctx, testID)
	if err != nil {
		return domain.TestContent{}, err
	}
	if len(questions) == 0 {
		return domain.TestContent{}, domain.ErrTestNotFound
	}

	questionIDs := make([]string, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}

	choiceOptions, err := c.loadChoiceOptions(ctx, questionIDs)
	if err != nil {
		return domain.TestContent{}, err
	}
	sequenceOptions, canonical, err := c.loadSequenceOptions(ctx, questionIDs)
	if err != nil {
		return domain.TestContent{}, err
	}

	for i := range questions {
		switch questions[i].Type {
		case domain.SingleChoice, domain.MultipleChoice:
			questions[i].Options = choiceOptions[questions[i].ID]
		case domain.Sequence:
			questions[i].Options = sequenceOptions[questions[i].ID]
		}
	}

	content.Questions = questions
	content.Canonical = canonical
	return content, nil
}

func (c *Catalog) loadQuestions(ctx context.Context, testID string) ([]domain.Question, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, question_type, question_text, points, "order"
		   FROM test_questions WHERE test_id=$1 ORDER BY "order", id`, testID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &q.Points, &q.Order); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (c *Catalog) loadChoiceOptions(ctx context.Context, questionIDs []string) (map[string][]domain.Option, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, question_id, text, is_correct, "order"
		   FROM test_answers WHERE question_id = ANY($1) ORDER BY "order", id`, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[string][]domain.Option)
	for rows.Next() {
		var questionID string
		var opt domain.Option
		if err := rows.Scan(&opt.ID, &questionID, &opt.Text, &opt.Correct, &opt.Order); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		byQuestion[questionID] = append(byQuestion[questionID], opt)
	}
	return byQuestion, rows.Err()
}

func (c *Catalog) loadSequenceOptions(ctx context.Context, questionIDs []string) (map[string][]domain.Option, map[string][]string, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, question_id, answer_text, answer_order
		   FROM test_sequence_answers WHERE question_id = ANY($1)`, questionIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load sequence answers: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[string][]domain.Option)
	for rows.Next() {
		var questionID string
		var opt domain.Option
		if err := rows.Scan(&opt.ID, &questionID, &opt.Text, &opt.Order); err != nil {
			return nil, nil, fmt.Errorf("scan sequence answer: %w", err)
		}
		byQuestion[questionID] = append(byQuestion[questionID], opt)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	canonical := make(map[string][]string, len(byQuestion))
	for questionID, opts := range byQuestion {
		sort.Slice(opts, func(i, j int) bool { return opts[i].Order < opts[j].Order })
		byQuestion[questionID] = opts
		ids := make([]string, len(opts))
		for i, opt := range opts {
			ids[i] = opt.ID
		}
		canonical[questionID] = ids
	}
	return byQuestion, canonical, nil
}
