// Package memory is an in-process store.Store for single-instance deployments and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/store"
)

var _ store.Store = (*Store)(nil)

type answerKey struct {
	session  string
	player   int64
	question int64
}

type Store struct {
	mu sync.Mutex

	sessions map[string]*domain.Session // by pin
	players  map[int64]*domain.Player
	answers  []*domain.Answer
	answered map[answerKey]*domain.Answer

	playerSeq int64
	answerSeq int64
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		players:  make(map[int64]*domain.Player),
		answered: make(map[answerKey]*domain.Answer),
	}
}

func (m *Store) CreateSession(_ context.Context, s *domain.Session) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate session ID: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.Pin]; ok {
		return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("pin is taken: pin=%s", s.Pin))
	}

	s.ID = id.String()
	s.Version = 1
	m.sessions[s.Pin] = cloneSession(s)

	return nil
}

func (m *Store) GetSessionByPin(_ context.Context, pin string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[pin]
	if !ok {
		return nil, errors.NotFound("session not found: pin=%s", pin)
	}

	return cloneSession(s), nil
}

func (m *Store) UpdateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.Pin]
	if !ok || cur.ID != s.ID {
		return errors.NotFound("session not found: pin=%s", s.Pin)
	}

	if cur.Version != s.Version {
		return errors.FailedPrecondition("session was changed concurrently: pin=%s", s.Pin)
	}

	s.Version++
	m.sessions[s.Pin] = cloneSession(s)

	return nil
}

func (m *Store) UpsertPlayer(_ context.Context, p *domain.Player) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cur := range m.players {
		if cur.SessionID == p.SessionID && cur.ClientID == p.ClientID {
			cur.Nickname = p.Nickname
			cur.AvatarKey = p.AvatarKey
			cur.IsConnected = p.IsConnected
			cur.LastSeen = p.LastSeen
			*p = *cur
			return false, nil
		}
	}

	m.playerSeq++
	p.ID = m.playerSeq
	p.Score = 0

	cp := *p
	m.players[p.ID] = &cp

	return true, nil
}

func (m *Store) GetPlayer(_ context.Context, sessionID string, playerID int64) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[playerID]
	if !ok || p.SessionID != sessionID {
		return nil, errors.NotFound("player not found: player=%d", playerID)
	}

	cp := *p
	return &cp, nil
}

func (m *Store) ListPlayers(_ context.Context, sessionID string, limit int) ([]domain.Player, error) {
	ps := m.sessionPlayers(sessionID)
	slices.SortFunc(ps, func(a, b domain.Player) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})

	return head(ps, limit), nil
}

func (m *Store) CountPlayers(_ context.Context, sessionID string) (int, error) {
	return len(m.sessionPlayers(sessionID)), nil
}

func (m *Store) TopPlayers(_ context.Context, sessionID string, limit int) ([]domain.Player, error) {
	ps := m.sessionPlayers(sessionID)
	slices.SortFunc(ps, func(a, b domain.Player) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	return head(ps, limit), nil
}

func (m *Store) SetPlayerConnected(_ context.Context, sessionID string, playerID int64, connected bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[playerID]
	if !ok || p.SessionID != sessionID {
		return errors.NotFound("player not found: player=%d", playerID)
	}

	p.IsConnected = connected
	p.LastSeen = at

	return nil
}

func (m *Store) FindAnswer(_ context.Context, sessionID string, playerID, questionID int64) (*domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.answered[answerKey{sessionID, playerID, questionID}]
	if !ok {
		return nil, errors.NotFound("answer not found: player=%d question=%d", playerID, questionID)
	}

	return cloneAnswer(a), nil
}

func (m *Store) RecordAnswer(_ context.Context, a *domain.Answer, open *store.Window) (*store.Recorded, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if open != nil {
		ss := m.sessionByID(a.SessionID)
		if ss == nil {
			return nil, errors.NotFound("session not found: session=%s", a.SessionID)
		}
		if !open.Open(ss) {
			return nil, store.QuestionClosed()
		}
	}

	p, ok := m.players[a.PlayerID]
	if !ok || p.SessionID != a.SessionID {
		return nil, errors.NotFound("player not found: player=%d", a.PlayerID)
	}

	k := answerKey{a.SessionID, a.PlayerID, a.QuestionID}
	if prev, ok := m.answered[k]; ok {
		return &store.Recorded{Answer: *cloneAnswer(prev), Score: p.Score, Duplicate: true}, nil
	}

	m.answerSeq++
	a.ID = m.answerSeq

	cp := cloneAnswer(a)
	m.answers = append(m.answers, cp)
	m.answered[k] = cp

	p.Score += a.AwardedPoints
	p.LastSeen = a.CreatedAt

	return &store.Recorded{Answer: *cloneAnswer(cp), Score: p.Score}, nil
}

func (m *Store) sessionByID(id string) *domain.Session {
	for _, s := range m.sessions {
		if s.ID == id {
			return s
		}
	}

	return nil
}

func (m *Store) CountAnswered(_ context.Context, sessionID string, questionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.answered {
		if k.session == sessionID && k.question == questionID {
			n++
		}
	}

	return n, nil
}

func (m *Store) QuestionResults(_ context.Context, sessionID string, questionID int64, limit int) ([]domain.QuestionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	as := make([]*domain.Answer, 0)
	for _, a := range m.answers {
		if a.SessionID == sessionID && a.QuestionID == questionID {
			as = append(as, a)
		}
	}

	slices.SortFunc(as, func(a, b *domain.Answer) int {
		return cmp.Or(cmp.Compare(b.AwardedPoints, a.AwardedPoints), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	as = head(as, limit)

	out := make([]domain.QuestionResult, 0, len(as))
	for _, a := range as {
		p := m.players[a.PlayerID]
		out = append(out, domain.QuestionResult{
			Nickname:      p.Nickname,
			AvatarKey:     p.AvatarKey,
			IsCorrect:     a.IsCorrect,
			AwardedPoints: a.AwardedPoints,
			TotalScore:    p.Score,
		})
	}

	return out, nil
}

func (m *Store) ListAnswers(_ context.Context, sessionID string) ([]store.AnswerDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.AnswerDetail, 0)
	for _, a := range m.answers {
		if a.SessionID != sessionID {
			continue
		}

		p := m.players[a.PlayerID]
		out = append(out, store.AnswerDetail{
			Answer:    *cloneAnswer(a),
			Nickname:  p.Nickname,
			AvatarKey: p.AvatarKey,
		})
	}

	return out, nil
}

func (m *Store) sessionPlayers(sessionID string) []domain.Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := make([]domain.Player, 0)
	for _, p := range m.players {
		if p.SessionID == sessionID {
			ps = append(ps, *p)
		}
	}

	return ps
}

func head[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}

	return s
}

func cloneSession(s *domain.Session) *domain.Session {
	cp := *s
	cp.SelectedQuestionIDs = slices.Clone(s.SelectedQuestionIDs)
	if s.QuestionLimit != nil {
		v := *s.QuestionLimit
		cp.QuestionLimit = &v
	}
	if s.QuestionStartedAt != nil {
		v := *s.QuestionStartedAt
		cp.QuestionStartedAt = &v
	}
	if s.QuestionEndsAt != nil {
		v := *s.QuestionEndsAt
		cp.QuestionEndsAt = &v
	}

	return &cp
}

func cloneAnswer(a *domain.Answer) *domain.Answer {
	cp := *a
	cp.ChoiceIDs = slices.Clone(a.ChoiceIDs)
	return &cp
}
