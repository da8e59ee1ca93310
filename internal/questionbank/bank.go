// Package questionbank is a read-only view over the externally owned exam tables.
//
// Schema drift of the exam tables is absorbed here, once: every question leaving this
// package has a time limit, base points, a multi-select flag and a selection cap.
package questionbank

import (
	"context"
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

const (
	DefaultTimeLimit = 15 * time.Second
	DefaultPoints    = 1000
)

type Bank interface {
	Exam(ctx context.Context, examID int64) (*domain.Exam, error)
	// ExamQuestionIDs returns the question IDs of an exam in exam order.
	ExamQuestionIDs(ctx context.Context, examID int64) ([]int64, error)
	Question(ctx context.Context, examID, questionID int64) (*domain.Question, error)
}

// ExamRecord is an exam row as stored by the question bank. Zero means unset.
type ExamRecord struct {
	ID                 int64
	Title              string
	AuthorRef          string
	DefaultTimeSeconds int
	DefaultPoints      int
}

// QuestionRecord is a question row as stored by the question bank. Zero means unset.
type QuestionRecord struct {
	ID               int64
	ExamID           int64
	Order            int
	Text             string
	TimeLimitSeconds int
	Points           int
	IsMultiple       bool
	MaxSelect        int
	Options          []OptionRecord
}

type OptionRecord struct {
	ID        int64
	Text      string
	IsCorrect bool
}

// Normalize resolves the optional question fields against the exam defaults.
// Options are expected in ID order.
func Normalize(e ExamRecord, q QuestionRecord) *domain.Question {
	out := &domain.Question{
		ID:        q.ID,
		ExamID:    q.ExamID,
		Text:      q.Text,
		TimeLimit: DefaultTimeLimit,
		Points:    DefaultPoints,
		Options:   make([]domain.Option, 0, len(q.Options)),
	}

	switch {
	case q.TimeLimitSeconds > 0:
		out.TimeLimit = time.Duration(q.TimeLimitSeconds) * time.Second
	case e.DefaultTimeSeconds > 0:
		out.TimeLimit = time.Duration(e.DefaultTimeSeconds) * time.Second
	}

	switch {
	case q.Points > 0:
		out.Points = q.Points
	case e.DefaultPoints > 0:
		out.Points = e.DefaultPoints
	}

	correct := 0
	for _, o := range q.Options {
		out.Options = append(out.Options, domain.Option{ID: o.ID, Text: o.Text, IsCorrect: o.IsCorrect})
		if o.IsCorrect {
			correct++
		}
	}

	out.Multi = q.IsMultiple || correct > 1
	out.MaxSelect = 1
	if out.Multi {
		out.MaxSelect = q.MaxSelect
		if out.MaxSelect <= 1 {
			out.MaxSelect = max(2, correct)
		}
	}

	return out
}

// Sequence returns the question order of a session: its selection, or the full exam order
// when nothing was selected.
func Sequence(ctx context.Context, b Bank, s *domain.Session) ([]int64, error) {
	if len(s.SelectedQuestionIDs) > 0 {
		return s.SelectedQuestionIDs, nil
	}

	return b.ExamQuestionIDs(ctx, s.ExamID)
}
