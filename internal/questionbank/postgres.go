package questionbank

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Exam(ctx context.Context, examID int64) (*domain.Exam, error) {
	e, err := p.exam(ctx, examID)
	if err != nil {
		return nil, err
	}

	return &domain.Exam{ID: e.ID, Title: e.Title, AuthorRef: e.AuthorRef}, nil
}

func (p *Postgres) exam(ctx context.Context, examID int64) (ExamRecord, error) {
	const stmt = `
SELECT id, title, author_ref, default_question_time_seconds, default_question_points
FROM exams
WHERE id = $1;`

	var e ExamRecord
	err := p.db.QueryRow(ctx, stmt, examID).Scan(&e.ID, &e.Title, &e.AuthorRef, &e.DefaultTimeSeconds, &e.DefaultPoints)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return e, errors.NotFound("exam not found: exam=%d", examID)
	}
	if err != nil {
		return e, fmt.Errorf("select exam: %w", err)
	}

	return e, nil
}

func (p *Postgres) ExamQuestionIDs(ctx context.Context, examID int64) ([]int64, error) {
	if _, err := p.exam(ctx, examID); err != nil {
		return nil, err
	}

	const stmt = `SELECT id FROM exam_questions WHERE exam_id = $1 ORDER BY "order", id;`

	rows, err := p.db.Query(ctx, stmt, examID)
	if err != nil {
		return nil, fmt.Errorf("select question ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect question ids: %w", err)
	}

	return ids, nil
}

func (p *Postgres) Question(ctx context.Context, examID, questionID int64) (*domain.Question, error) {
	const (
		questionStmt = `
SELECT q.id, q.exam_id, q."order", q.text, q.time_limit_seconds, q.points, q.is_multiple, q.max_select,
	e.id, e.default_question_time_seconds, e.default_question_points
FROM exam_questions q
JOIN exams e ON e.id = q.exam_id
WHERE q.exam_id = $1 AND q.id = $2;`

		optionsStmt = `
SELECT id, text, is_correct
FROM exam_question_options
WHERE question_id = $1
ORDER BY id;`
	)

	var (
		e ExamRecord
		q QuestionRecord
	)
	err := p.db.QueryRow(ctx, questionStmt, examID, questionID).Scan(
		&q.ID, &q.ExamID, &q.Order, &q.Text, &q.TimeLimitSeconds, &q.Points, &q.IsMultiple, &q.MaxSelect,
		&e.ID, &e.DefaultTimeSeconds, &e.DefaultPoints,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("question not found: exam=%d question=%d", examID, questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("select question: %w", err)
	}

	rows, err := p.db.Query(ctx, optionsStmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("select options: %w", err)
	}

	q.Options, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (OptionRecord, error) {
		var o OptionRecord
		err := r.Scan(&o.ID, &o.Text, &o.IsCorrect)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect options: %w", err)
	}

	return Normalize(e, q), nil
}
