package questionbank

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Memory is a Bank over static data, used in memory storage mode and in tests.
type Memory struct {
	mu        sync.RWMutex
	exams     map[int64]ExamRecord
	questions map[int64][]QuestionRecord
}

func NewMemory() *Memory {
	return &Memory{
		exams:     make(map[int64]ExamRecord),
		questions: make(map[int64][]QuestionRecord),
	}
}

// Put replaces an exam and its questions.
func (m *Memory) Put(e ExamRecord, qs ...QuestionRecord) {
	qs = slices.Clone(qs)
	for i := range qs {
		qs[i].ExamID = e.ID
		qs[i].Options = slices.Clone(qs[i].Options)
		slices.SortFunc(qs[i].Options, func(a, b OptionRecord) int { return cmp.Compare(a.ID, b.ID) })
	}

	slices.SortStableFunc(qs, func(a, b QuestionRecord) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.exams[e.ID] = e
	m.questions[e.ID] = qs
}

func (m *Memory) Exam(_ context.Context, examID int64) (*domain.Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.exams[examID]
	if !ok {
		return nil, errors.NotFound("exam not found: exam=%d", examID)
	}

	return &domain.Exam{ID: e.ID, Title: e.Title, AuthorRef: e.AuthorRef}, nil
}

func (m *Memory) ExamQuestionIDs(_ context.Context, examID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.exams[examID]; !ok {
		return nil, errors.NotFound("exam not found: exam=%d", examID)
	}

	qs := m.questions[examID]
	ids := make([]int64, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}

	return ids, nil
}

func (m *Memory) Question(_ context.Context, examID, questionID int64) (*domain.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, q := range m.questions[examID] {
		if q.ID == questionID {
			return Normalize(m.exams[examID], q), nil
		}
	}

	return nil, errors.NotFound("question not found: exam=%d question=%d", examID, questionID)
}
