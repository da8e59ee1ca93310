package questionbank_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/questionbank"
)

func TestNormalize(t *testing.T) {
	opts := func(correct ...bool) []questionbank.OptionRecord {
		out := make([]questionbank.OptionRecord, 0, len(correct))
		for i, c := range correct {
			out = append(out, questionbank.OptionRecord{ID: int64(i + 1), Text: "o", IsCorrect: c})
		}
		return out
	}

	tests := map[string]struct {
		exam     questionbank.ExamRecord
		question questionbank.QuestionRecord
		assert   func(t *testing.T, q *domain.Question)
	}{
		"question values should win over exam defaults": {
			exam:     questionbank.ExamRecord{DefaultTimeSeconds: 30, DefaultPoints: 500},
			question: questionbank.QuestionRecord{TimeLimitSeconds: 20, Points: 2000, Options: opts(true, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.Equal(t, 20*time.Second, q.TimeLimit)
				assert.Equal(t, 2000, q.Points)
			},
		},

		"exam defaults should fill unset question values": {
			exam:     questionbank.ExamRecord{DefaultTimeSeconds: 30, DefaultPoints: 500},
			question: questionbank.QuestionRecord{Options: opts(true, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.Equal(t, 30*time.Second, q.TimeLimit)
				assert.Equal(t, 500, q.Points)
			},
		},

		"built-in defaults should apply when nothing is set": {
			question: questionbank.QuestionRecord{Options: opts(true, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.Equal(t, questionbank.DefaultTimeLimit, q.TimeLimit)
				assert.Equal(t, questionbank.DefaultPoints, q.Points)
			},
		},

		"one correct option should be single select": {
			question: questionbank.QuestionRecord{Options: opts(false, true, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.False(t, q.Multi)
				assert.Equal(t, 1, q.MaxSelect)
				assert.Equal(t, []int64{2}, q.CorrectOptionIDs())
			},
		},

		"several correct options should be multi select capped at the correct count": {
			question: questionbank.QuestionRecord{Options: opts(true, true, true, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.True(t, q.Multi)
				assert.Equal(t, 3, q.MaxSelect)
			},
		},

		"explicit multiple flag should allow at least two picks": {
			question: questionbank.QuestionRecord{IsMultiple: true, Options: opts(true, false, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.True(t, q.Multi)
				assert.Equal(t, 2, q.MaxSelect)
			},
		},

		"explicit max select should be kept for multi questions": {
			question: questionbank.QuestionRecord{MaxSelect: 4, Options: opts(true, true, false, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.Equal(t, 4, q.MaxSelect)
			},
		},

		"max select should be ignored for single questions": {
			question: questionbank.QuestionRecord{MaxSelect: 4, Options: opts(true, false)},
			assert: func(t *testing.T, q *domain.Question) {
				assert.Equal(t, 1, q.MaxSelect)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt.assert(t, questionbank.Normalize(tt.exam, tt.question))
		})
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	m := questionbank.NewMemory()
	m.Put(questionbank.ExamRecord{ID: 1, Title: "Go basics", AuthorRef: "instructor-1"},
		questionbank.QuestionRecord{ID: 30, Order: 2, Text: "third", Options: []questionbank.OptionRecord{{ID: 2, IsCorrect: true}, {ID: 1}}},
		questionbank.QuestionRecord{ID: 20, Order: 1, Text: "second"},
		questionbank.QuestionRecord{ID: 10, Order: 1, Text: "first"},
	)

	e, err := m.Exam(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &domain.Exam{ID: 1, Title: "Go basics", AuthorRef: "instructor-1"}, e)

	ids, err := m.ExamQuestionIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, ids, "should be ordered by order then id")

	q, err := m.Question(ctx, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ExamID)
	assert.Equal(t, int64(1), q.Options[0].ID, "options should be ordered by id")

	_, err = m.Exam(ctx, 2)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = m.ExamQuestionIDs(ctx, 2)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	_, err = m.Question(ctx, 1, 99)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
