// Package store persists live sessions, their players and the answer ledger.
package store

import (
	"context"
	"time"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Store is implemented by memory.Store and postgres.Store with the same behaviour.
//
// A limit <= 0 on list methods means no limit.
type Store interface {
	// CreateSession inserts s and fills its ID. A taken pin is AlreadyExists.
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSessionByPin(ctx context.Context, pin string) (*domain.Session, error)
	// UpdateSession writes s if its Version is still current and bumps it.
	// A stale version is FailedPrecondition.
	UpdateSession(ctx context.Context, s *domain.Session) error

	// UpsertPlayer inserts p or, when (session, client) exists, updates nickname, avatar
	// and presence in place. p is filled from the stored row.
	UpsertPlayer(ctx context.Context, p *domain.Player) (created bool, err error)
	GetPlayer(ctx context.Context, sessionID string, playerID int64) (*domain.Player, error)
	// ListPlayers returns the most recently joined players first.
	ListPlayers(ctx context.Context, sessionID string, limit int) ([]domain.Player, error)
	CountPlayers(ctx context.Context, sessionID string) (int, error)
	// TopPlayers orders by score desc then join time.
	TopPlayers(ctx context.Context, sessionID string, limit int) ([]domain.Player, error)
	SetPlayerConnected(ctx context.Context, sessionID string, playerID int64, connected bool, at time.Time) error

	FindAnswer(ctx context.Context, sessionID string, playerID, questionID int64) (*domain.Answer, error)
	// RecordAnswer atomically inserts a if the player has no answer for the question yet and
	// adds its points to the player's score. Otherwise nothing changes and the existing
	// answer is returned with Duplicate set.
	//
	// A non-nil open is checked in the same step: unless the session is still asking that
	// question the answer is rejected with FailedPrecondition and nothing is written.
	RecordAnswer(ctx context.Context, a *domain.Answer, open *Window) (*Recorded, error)
	// CountAnswered counts distinct players who answered the question.
	CountAnswered(ctx context.Context, sessionID string, questionID int64) (int, error)
	// QuestionResults orders by awarded points desc, latest answer first on ties.
	QuestionResults(ctx context.Context, sessionID string, questionID int64, limit int) ([]domain.QuestionResult, error)
	// ListAnswers returns every answer of the session in submission order.
	ListAnswers(ctx context.Context, sessionID string) ([]AnswerDetail, error)
}

// Window identifies one asking of a question: the session's index and the time the
// question was published. Republishing or starting over opens a new window.
type Window struct {
	Index     int
	StartedAt time.Time
}

// Open reports whether s is still asking the question of w.
func (w Window) Open(s *domain.Session) bool {
	return s.State == domain.StateQuestion &&
		s.CurrentIndex == w.Index &&
		s.QuestionStartedAt != nil &&
		s.QuestionStartedAt.Equal(w.StartedAt)
}

// QuestionClosed is the error for answers that arrive after their window closed.
func QuestionClosed() error {
	return errors.FailedPrecondition("question is closed")
}

type Recorded struct {
	Answer    domain.Answer
	Score     int
	Duplicate bool
}

type AnswerDetail struct {
	domain.Answer
	Nickname  string
	AvatarKey string
}
