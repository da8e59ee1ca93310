package score

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/questionbank"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Bank     questionbank.Bank
	Policy   Policy
	Now      func() time.Time
}

type Service struct {
	eb     *event.Bus
	store  store.Store
	bank   questionbank.Bank
	policy Policy
	now    func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		eb:     c.EventBus,
		store:  c.Store,
		bank:   c.Bank,
		policy: c.Policy,
		now:    c.Now,
	}
}

type SubmitAnswerRequest struct {
	Pin        string
	PlayerID   int64
	ClientID   string
	QuestionID int64
	OptionIDs  []int64
	AnswerMs   int
}

type SubmitAnswerResponse struct {
	// AlreadyAnswered is set when the player had answered this question before. The
	// response then carries the first answer and Result is nil.
	AlreadyAnswered bool
	Result          *Result
	IsCorrect       bool
	AwardedPoints   int
	Score           int

	AnsweredCount int
	TotalPlayers  int
}

// SubmitAnswer scores the single answer of a player to the active question and adds the
// points to the player's total. Repeated submissions return the first result unchanged.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (_ *SubmitAnswerResponse, err error) {
	defer func() {
		if err != nil {
			telemetry.AnswersTotal.WithLabelValues("rejected").Inc()
		}
	}()

	opts := dedupe(req.OptionIDs)
	if len(opts) == 0 {
		return nil, errors.InvalidArgument("no options selected")
	}

	ss, err := s.store.GetSessionByPin(ctx, req.Pin)
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetPlayer(ctx, ss.ID, req.PlayerID)
	if err != nil {
		return nil, err
	}
	if p.ClientID != req.ClientID {
		return nil, errors.NotFound("player not found: player=%d", req.PlayerID)
	}

	prev, err := s.store.FindAnswer(ctx, ss.ID, p.ID, req.QuestionID)
	switch {
	case err == nil:
		return s.duplicate(ctx, ss, prev, p.Score)
	case !errors.Is(err, errors.CodeNotFound):
		return nil, err
	}

	if err := s.checkOpen(ctx, ss, req.QuestionID); err != nil {
		return nil, err
	}

	q, err := s.bank.Question(ctx, ss.ExamID, req.QuestionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	total := int(ss.QuestionWindow().Milliseconds())
	answerMs := req.AnswerMs
	if ss.QuestionStartedAt != nil {
		// The client reports its own reaction time but cannot claim to be faster than the
		// server saw it.
		answerMs = max(answerMs, int(now.Sub(*ss.QuestionStartedAt).Milliseconds()))
	}
	if ss.QuestionEndsAt != nil && now.After(*ss.QuestionEndsAt) {
		answerMs = total
	}

	res, err := Score(Input{
		Selected:   opts,
		Correct:    q.CorrectOptionIDs(),
		AnswerMs:   answerMs,
		TotalMs:    total,
		BasePoints: q.Points,
		Policy:     s.policy,
	})
	if err != nil {
		return nil, errors.FailedPrecondition("question %d is misconfigured: no correct option", q.ID)
	}

	rec, err := s.store.RecordAnswer(ctx, &domain.Answer{
		SessionID:     ss.ID,
		PlayerID:      p.ID,
		QuestionID:    q.ID,
		ChoiceIDs:     opts,
		IsCorrect:     res.IsCorrect,
		AnswerMs:      res.AnswerMs,
		AwardedPoints: res.Awarded,
		CreatedAt:     now,
	}, &store.Window{Index: ss.CurrentIndex, StartedAt: *ss.QuestionStartedAt})
	if err != nil {
		return nil, err
	}

	if rec.Duplicate {
		return s.duplicate(ctx, ss, &rec.Answer, rec.Score)
	}

	telemetry.AnswersTotal.WithLabelValues("scored").Inc()

	resp := &SubmitAnswerResponse{
		Result:        &res,
		IsCorrect:     res.IsCorrect,
		AwardedPoints: res.Awarded,
		Score:         rec.Score,
	}

	s.progress(ctx, ss, q.ID, resp)

	return resp, nil
}

// checkOpen accepts answers only for the current question while it is being asked.
func (s *Service) checkOpen(ctx context.Context, ss *domain.Session, questionID int64) error {
	if ss.State != domain.StateQuestion || ss.QuestionStartedAt == nil {
		return store.QuestionClosed()
	}

	seq, err := questionbank.Sequence(ctx, s.bank, ss)
	if err != nil {
		return err
	}

	if ss.CurrentIndex < 0 || ss.CurrentIndex >= len(seq) || seq[ss.CurrentIndex] != questionID {
		return errors.FailedPrecondition("question %d is not the current question", questionID)
	}

	return nil
}

func (s *Service) duplicate(ctx context.Context, ss *domain.Session, a *domain.Answer, score int) (*SubmitAnswerResponse, error) {
	telemetry.AnswersTotal.WithLabelValues("duplicate").Inc()

	resp := &SubmitAnswerResponse{
		AlreadyAnswered: true,
		IsCorrect:       a.IsCorrect,
		AwardedPoints:   a.AwardedPoints,
		Score:           score,
	}

	s.progress(ctx, ss, a.QuestionID, resp)

	return resp, nil
}

// progress fills the answered/total counts into resp and broadcasts them.
// The answer is already stored at this point, so failures are only logged.
func (s *Service) progress(ctx context.Context, ss *domain.Session, questionID int64, resp *SubmitAnswerResponse) {
	answered, err := s.store.CountAnswered(ctx, ss.ID, questionID)
	if err != nil {
		slog.ErrorContext(ctx, "score: count answered failed", "pin", ss.Pin, "error", err)
		return
	}

	total, err := s.store.CountPlayers(ctx, ss.ID)
	if err != nil {
		slog.ErrorContext(ctx, "score: count players failed", "pin", ss.Pin, "error", err)
		return
	}

	resp.AnsweredCount, resp.TotalPlayers = answered, total

	s.eb.Publish(ctx, domain.EventAnswerProgress{
		Pin:           ss.Pin,
		QuestionID:    questionID,
		AnsweredCount: answered,
		TotalPlayers:  total,
	})
}

func dedupe(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	return out
}
