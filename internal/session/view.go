package session

import (
	"context"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/randomize"
	"github.com/victornm/livequiz/internal/store"
)

// NewQuestionView renders q as published in ss: options in the deterministic order of the
// session, positional labels and a 1-based index.
func NewQuestionView(ss *domain.Session, q *domain.Question, total int) domain.QuestionView {
	opts := q.Options
	if ss.QuestionStartedAt != nil {
		opts = randomize.ShuffleOptions(opts, randomize.OptionSeed(ss.Pin, q.ID, *ss.QuestionStartedAt))
	}

	views := make([]domain.OptionView, 0, len(opts))
	for i, o := range opts {
		label := randomize.Label(i)
		text := o.Text
		if text == "" {
			text = "Variant " + label
		}

		views = append(views, domain.OptionView{ID: o.ID, Label: label, Text: text})
	}

	return domain.QuestionView{
		ID:        q.ID,
		Text:      q.Text,
		TimeLimit: int(q.TimeLimit / time.Second),
		Points:    q.Points,
		Multi:     q.Multi,
		MaxSelect: q.MaxSelect,
		Options:   views,
		StartedAt: ss.QuestionStartedAt,
		EndsAt:    ss.QuestionEndsAt,
		Index:     ss.CurrentIndex + 1,
		Total:     total,
	}
}

// State is the pull view of a session for clients that missed a broadcast.
type State struct {
	Pin               string               `json:"pin"`
	State             domain.State         `json:"state"`
	CurrentIndex      int                  `json:"current_index"`
	TotalQuestions    int                  `json:"total_questions"`
	QuestionStartedAt *time.Time           `json:"question_started_at"`
	QuestionEndsAt    *time.Time           `json:"question_ends_at"`
	Question          *domain.QuestionView `json:"question,omitempty"`
	CorrectOptionIDs  []int64              `json:"correct_option_ids"`
}

// State returns the current phase and question of a session. The question carries the
// persisted window and the same option order as its broadcast. Correct options are only
// disclosed in REVEAL.
func (s *Service) State(ctx context.Context, pin string) (*State, error) {
	ss, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}

	q, seq, err := s.current(ctx, ss)
	if err != nil {
		return nil, err
	}

	st := &State{
		Pin:               ss.Pin,
		State:             ss.State,
		CurrentIndex:      ss.CurrentIndex,
		TotalQuestions:    len(seq),
		QuestionStartedAt: ss.QuestionStartedAt,
		QuestionEndsAt:    ss.QuestionEndsAt,
		CorrectOptionIDs:  []int64{},
	}

	if q == nil || ss.QuestionStartedAt == nil || ss.State == domain.StateLobby {
		return st, nil
	}

	view := NewQuestionView(ss, q, len(seq))
	st.Question = &view

	if ss.State == domain.StateReveal {
		st.CorrectOptionIDs = q.CorrectOptionIDs()
	}

	return st, nil
}

type Lobby struct {
	Pin      string               `json:"pin"`
	State    domain.State         `json:"state"`
	IsLocked bool                 `json:"is_locked"`
	Count    int                  `json:"count"`
	Players  []domain.LobbyPlayer `json:"players"`
}

// Lobby returns the presence of a session: the most recent players and the player count.
func (s *Service) Lobby(ctx context.Context, pin string) (*Lobby, error) {
	ss, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}

	players, count, err := store.Lobby(ctx, s.store, ss.ID, LobbyLimit)
	if err != nil {
		return nil, err
	}

	return &Lobby{Pin: ss.Pin, State: ss.State, IsLocked: ss.IsLocked, Count: count, Players: players}, nil
}

// Find returns the session of a pin.
func (s *Service) Find(ctx context.Context, pin string) (*domain.Session, error) {
	return s.store.GetSessionByPin(ctx, pin)
}

// Session returns the session of a pin to its host.
func (s *Service) Session(ctx context.Context, pin, hostRef string) (*domain.Session, error) {
	return s.hostSession(ctx, pin, hostRef)
}
