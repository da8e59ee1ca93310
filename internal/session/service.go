package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/questionbank"
	"github.com/victornm/livequiz/internal/randomize"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	pinRetries = 5

	LobbyLimit         = 50
	RevealResultsLimit = 50
	RevealTopLimit     = 10
	FinalTopLimit      = 50
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Bank     questionbank.Bank
	Now      func() time.Time
}

type Service struct {
	eb    *event.Bus
	store store.Store
	bank  questionbank.Bank
	now   func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		eb:    c.EventBus,
		store: c.Store,
		bank:  c.Bank,
		now:   c.Now,
	}
}

type CreateSessionRequest struct {
	ExamID  int64
	HostRef string
}

// CreateSession opens a lobby for an exam. Only the author of the exam may host it.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (_ *domain.Session, err error) {
	defer observe("create", &err)

	exam, err := s.bank.Exam(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}

	if req.HostRef == "" || exam.AuthorRef != req.HostRef {
		return nil, errors.NotFound("exam not found: exam=%d", req.ExamID)
	}

	now := s.now().UTC()
	for i := 0; ; i++ {
		pin, err := newPin()
		if err != nil {
			return nil, err
		}

		ss := &domain.Session{
			Pin:       pin,
			ExamID:    exam.ID,
			HostRef:   req.HostRef,
			State:     domain.StateLobby,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = s.store.CreateSession(ctx, ss)
		switch {
		case err == nil:
			return ss, nil
		case errors.Is(err, errors.CodeAlreadyExists) && i < pinRetries:
			continue
		default:
			return nil, err
		}
	}
}

type StartGameRequest struct {
	Pin     string
	HostRef string
	// Desired is the number of questions to play. Nil plays the whole exam in exam order.
	Desired *int
}

type StartGameResponse struct {
	Session       *domain.Session
	QuestionCount int
	TotalInExam   int
}

// StartGame publishes the first question. From QUESTION or REVEAL it restarts the game.
func (s *Service) StartGame(ctx context.Context, req StartGameRequest) (_ *StartGameResponse, err error) {
	defer observe("start", &err)

	ss, err := s.hostSession(ctx, req.Pin, req.HostRef)
	if err != nil {
		return nil, err
	}

	if ss.State == domain.StateFinished {
		return nil, errors.FailedPrecondition("session is finished")
	}

	ids, err := s.bank.ExamQuestionIDs(ctx, ss.ExamID)
	if err != nil {
		return nil, err
	}

	total := len(ids)
	if total == 0 {
		return nil, errors.FailedPrecondition("exam %d has no questions", ss.ExamID)
	}

	count := total
	ss.SelectedQuestionIDs, ss.QuestionLimit = nil, nil
	if d := req.Desired; d != nil {
		switch {
		case *d <= 0:
			return nil, errors.InvalidArgument("question count must be positive")
		case *d > total:
			return nil, errors.InvalidArgument("requested count %d exceeds exam size %d", *d, total)
		}

		count = *d
		ss.SelectedQuestionIDs = randomize.SampleQuestions(ids, count)
		ss.QuestionLimit = &count
	}

	ss.CurrentIndex = 0

	seq, err := questionbank.Sequence(ctx, s.bank, ss)
	if err != nil {
		return nil, err
	}

	view, err := s.publishQuestion(ctx, ss, seq)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventGameStarted{Pin: ss.Pin})
	s.eb.Publish(ctx, domain.EventQuestionPublished{Pin: ss.Pin, Question: *view})

	return &StartGameResponse{Session: ss, QuestionCount: count, TotalInExam: total}, nil
}

type HostRequest struct {
	Pin     string
	HostRef string
}

type AdvanceResponse struct {
	Session  *domain.Session
	Finished bool
	// Index is 1-based.
	Index int
	Total int
}

// Advance moves past a revealed question and publishes the next one, or finishes the
// session when no question is left. Outside REVEAL the current question is published again.
func (s *Service) Advance(ctx context.Context, req HostRequest) (_ *AdvanceResponse, err error) {
	defer observe("advance", &err)

	ss, err := s.hostSession(ctx, req.Pin, req.HostRef)
	if err != nil {
		return nil, err
	}

	switch ss.State {
	case domain.StateLobby:
		return nil, errors.FailedPrecondition("game is not started")
	case domain.StateFinished:
		return nil, errors.FailedPrecondition("session is finished")
	case domain.StateReveal:
		ss.CurrentIndex++
	}

	seq, err := questionbank.Sequence(ctx, s.bank, ss)
	if err != nil {
		return nil, err
	}

	if ss.CurrentIndex >= len(seq) {
		if err := s.finish(ctx, ss); err != nil {
			return nil, err
		}

		return &AdvanceResponse{Session: ss, Finished: true, Total: len(seq)}, nil
	}

	view, err := s.publishQuestion(ctx, ss, seq)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventQuestionPublished{Pin: ss.Pin, Question: *view})

	return &AdvanceResponse{Session: ss, Index: view.Index, Total: view.Total}, nil
}

type RevealResponse struct {
	Session    *domain.Session
	QuestionID int64
}

// Reveal closes the current question and publishes its results.
func (s *Service) Reveal(ctx context.Context, req HostRequest) (_ *RevealResponse, err error) {
	defer observe("reveal", &err)

	ss, err := s.hostSession(ctx, req.Pin, req.HostRef)
	if err != nil {
		return nil, err
	}

	if ss.State != domain.StateQuestion {
		return nil, errors.FailedPrecondition("no question is active")
	}

	q, _, err := s.current(ctx, ss)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errors.NotFound("question not found: index=%d", ss.CurrentIndex)
	}

	ss.State = domain.StateReveal
	ss.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	results, err := s.store.QuestionResults(ctx, ss.ID, q.ID, RevealResultsLimit)
	if err != nil {
		return nil, err
	}

	top, err := store.Standings(ctx, s.store, ss.ID, RevealTopLimit)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventQuestionRevealed{
		Pin:              ss.Pin,
		QuestionID:       q.ID,
		CorrectOptionIDs: q.CorrectOptionIDs(),
		Results:          results,
		Top:              top,
		RevealedAt:       ss.UpdatedAt,
	})

	return &RevealResponse{Session: ss, QuestionID: q.ID}, nil
}

// Finish ends the session from any state but FINISHED.
func (s *Service) Finish(ctx context.Context, req HostRequest) (_ *domain.Session, err error) {
	defer observe("finish", &err)

	ss, err := s.hostSession(ctx, req.Pin, req.HostRef)
	if err != nil {
		return nil, err
	}

	if ss.State == domain.StateFinished {
		return nil, errors.FailedPrecondition("session is finished")
	}

	if err := s.finish(ctx, ss); err != nil {
		return nil, err
	}

	return ss, nil
}

type SetLockedRequest struct {
	Pin     string
	HostRef string
	Locked  bool
}

// SetLocked opens or closes the lobby to new players.
func (s *Service) SetLocked(ctx context.Context, req SetLockedRequest) (_ *domain.Session, err error) {
	defer observe("lock", &err)

	ss, err := s.hostSession(ctx, req.Pin, req.HostRef)
	if err != nil {
		return nil, err
	}

	if ss.IsLocked == req.Locked {
		return ss, nil
	}

	ss.IsLocked = req.Locked
	ss.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return nil, err
	}

	return ss, nil
}

func (s *Service) finish(ctx context.Context, ss *domain.Session) error {
	ss.State = domain.StateFinished
	ss.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSession(ctx, ss); err != nil {
		return err
	}

	top, err := store.Standings(ctx, s.store, ss.ID, FinalTopLimit)
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventSessionFinished{Pin: ss.Pin, Top: top, FinishedAt: ss.UpdatedAt})

	return nil
}

// publishQuestion moves ss into QUESTION for the question at ss.CurrentIndex with a fresh
// answer window. The caller persists ss.
func (s *Service) publishQuestion(ctx context.Context, ss *domain.Session, seq []int64) (*domain.QuestionView, error) {
	if ss.CurrentIndex >= len(seq) {
		return nil, errors.NotFound("question not found: index=%d", ss.CurrentIndex)
	}

	q, err := s.bank.Question(ctx, ss.ExamID, seq[ss.CurrentIndex])
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	ends := now.Add(q.TimeLimit)

	ss.State = domain.StateQuestion
	ss.QuestionStartedAt = &now
	ss.QuestionEndsAt = &ends
	ss.UpdatedAt = now

	view := NewQuestionView(ss, q, len(seq))
	return &view, nil
}

// current returns the question at the session's index, or nil when the index is past the end.
func (s *Service) current(ctx context.Context, ss *domain.Session) (*domain.Question, []int64, error) {
	seq, err := questionbank.Sequence(ctx, s.bank, ss)
	if err != nil {
		return nil, nil, err
	}

	if ss.CurrentIndex < 0 || ss.CurrentIndex >= len(seq) {
		return nil, seq, nil
	}

	q, err := s.bank.Question(ctx, ss.ExamID, seq[ss.CurrentIndex])
	if err != nil {
		return nil, nil, err
	}

	return q, seq, nil
}

// hostSession loads a session for a control action. Callers other than the host see the
// same NotFound as for an unknown pin.
func (s *Service) hostSession(ctx context.Context, pin, hostRef string) (*domain.Session, error) {
	ss, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}

	if hostRef == "" || ss.HostRef != hostRef {
		return nil, errors.NotFound("session not found: pin=%s", pin)
	}

	return ss, nil
}

func newPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}

	return fmt.Sprintf("%06d", n.Int64()), nil
}

func observe(action string, err *error) {
	telemetry.HostActionsTotal.WithLabelValues(action, telemetry.Outcome(*err)).Inc()
}
