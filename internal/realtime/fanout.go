package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/telemetry"
)

type FanoutConfig struct {
	EventBus  *event.Bus
	Publisher Publisher
	// PlayPath returns where lobby clients go once the game starts.
	PlayPath func(pin string) string
}

// Fanout turns session events into socket messages. Session events are keyed by pin, so
// the messages of one session are published in event order.
type Fanout struct {
	pub      Publisher
	playPath func(pin string) string
}

func NewFanout(c FanoutConfig) *Fanout {
	if c.PlayPath == nil {
		c.PlayPath = DefaultPlayPath
	}

	f := &Fanout{pub: c.Publisher, playPath: c.PlayPath}

	c.EventBus.Subscribe(domain.EventNameLobbyChanged, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventLobbyChanged)
		return f.publish(ctx, ev.Pin, AudienceLobby, TypeLobbyState, LobbyState{
			Type:    TypeLobbyState,
			Count:   ev.Count,
			Players: nonNil(ev.Players),
		})
	})

	c.EventBus.Subscribe(domain.EventNameGameStarted, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventGameStarted)
		return f.publish(ctx, ev.Pin, AudienceLobby, TypeGameStarted, GameStarted{
			Type:     TypeGameStarted,
			Redirect: f.playPath(ev.Pin),
		})
	})

	c.EventBus.Subscribe(domain.EventNameQuestionPublished, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventQuestionPublished)
		return f.publish(ctx, ev.Pin, AudiencePlay, TypeQuestionPublished, QuestionPublished{
			Type:     TypeQuestionPublished,
			Question: ev.Question,
		})
	})

	c.EventBus.Subscribe(domain.EventNameAnswerProgress, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventAnswerProgress)
		return f.publish(ctx, ev.Pin, AudiencePlay, TypeAnswerProgress, AnswerProgress{
			Type:          TypeAnswerProgress,
			QuestionID:    ev.QuestionID,
			AnsweredCount: ev.AnsweredCount,
			TotalPlayers:  ev.TotalPlayers,
		})
	})

	c.EventBus.Subscribe(domain.EventNameQuestionRevealed, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventQuestionRevealed)
		return f.publish(ctx, ev.Pin, AudiencePlay, TypeReveal, Reveal{
			Type:             TypeReveal,
			QuestionID:       ev.QuestionID,
			CorrectOptionIDs: nonNil(ev.CorrectOptionIDs),
			Results:          nonNil(ev.Results),
			Top:              nonNil(ev.Top),
			RevealedAt:       ev.RevealedAt,
		})
	})

	c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSessionFinished)
		return f.publish(ctx, ev.Pin, AudiencePlay, TypeFinished, Finished{
			Type:       TypeFinished,
			Top:        nonNil(ev.Top),
			FinishedAt: ev.FinishedAt,
		})
	})

	return f
}

// DefaultPlayPath is the player screen of a session.
func DefaultPlayPath(pin string) string {
	return fmt.Sprintf("/live/%s/play", pin)
}

func (f *Fanout) publish(ctx context.Context, pin string, a Audience, typ string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", typ, err)
	}

	if err := f.pub.Publish(ctx, pin, a, b); err != nil {
		return err
	}

	telemetry.BroadcastsTotal.WithLabelValues(typ).Inc()

	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
