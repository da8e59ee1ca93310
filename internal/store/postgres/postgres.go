// Package postgres is the pgx-backed store.Store.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/store"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const sessionColumns = `id, pin, exam_id, host_ref, state, selected_question_ids, question_limit, current_index,
	question_started_at, question_ends_at, is_locked, version, created_at, updated_at`

func (p *Store) CreateSession(ctx context.Context, s *domain.Session) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate session ID: %w", err)
	}

	const stmt = `
INSERT INTO live_sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13);`

	_, err = p.db.Exec(ctx, stmt,
		id, s.Pin, s.ExamID, s.HostRef, s.State, nonNil(s.SelectedQuestionIDs), s.QuestionLimit, s.CurrentIndex,
		s.QuestionStartedAt, s.QuestionEndsAt, s.IsLocked, s.CreatedAt, s.UpdatedAt,
	)
	if isCode(err, codeUniqueViolation) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("pin is taken: pin=%s", s.Pin),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	s.ID = id.String()
	s.Version = 1

	return nil
}

func (p *Store) GetSessionByPin(ctx context.Context, pin string) (*domain.Session, error) {
	const stmt = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE pin = $1;`

	var s domain.Session
	err := p.db.QueryRow(ctx, stmt, pin).Scan(
		&s.ID, &s.Pin, &s.ExamID, &s.HostRef, &s.State, &s.SelectedQuestionIDs, &s.QuestionLimit, &s.CurrentIndex,
		&s.QuestionStartedAt, &s.QuestionEndsAt, &s.IsLocked, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("session not found: pin=%s", pin)
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	return &s, nil
}

func (p *Store) UpdateSession(ctx context.Context, s *domain.Session) error {
	const stmt = `
UPDATE live_sessions
SET state = $3, selected_question_ids = $4, question_limit = $5, current_index = $6,
	question_started_at = $7, question_ends_at = $8, is_locked = $9, updated_at = $10, version = version + 1
WHERE id = $1 AND version = $2;`

	tag, err := p.db.Exec(ctx, stmt,
		s.ID, s.Version, s.State, nonNil(s.SelectedQuestionIDs), s.QuestionLimit, s.CurrentIndex,
		s.QuestionStartedAt, s.QuestionEndsAt, s.IsLocked, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM live_sessions WHERE id = $1);`, s.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if !exists {
			return errors.NotFound("session not found: pin=%s", s.Pin)
		}

		return errors.FailedPrecondition("session was changed concurrently: pin=%s", s.Pin)
	}

	s.Version++

	return nil
}

const playerColumns = `id, session_id, client_id, nickname, avatar_key, score, is_connected, last_seen, created_at`

func scanPlayer(r pgx.Row) (domain.Player, error) {
	var pl domain.Player
	err := r.Scan(&pl.ID, &pl.SessionID, &pl.ClientID, &pl.Nickname, &pl.AvatarKey, &pl.Score, &pl.IsConnected, &pl.LastSeen, &pl.CreatedAt)
	return pl, err
}

func (p *Store) UpsertPlayer(ctx context.Context, pl *domain.Player) (bool, error) {
	const stmt = `
INSERT INTO live_players (session_id, client_id, nickname, avatar_key, score, is_connected, last_seen, created_at)
VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
ON CONFLICT (session_id, client_id) DO UPDATE
SET nickname = EXCLUDED.nickname, avatar_key = EXCLUDED.avatar_key,
	is_connected = EXCLUDED.is_connected, last_seen = EXCLUDED.last_seen
RETURNING ` + playerColumns + `, (xmax = 0) AS created;`

	var created bool
	row := p.db.QueryRow(ctx, stmt, pl.SessionID, pl.ClientID, pl.Nickname, pl.AvatarKey, pl.IsConnected, pl.LastSeen, pl.CreatedAt)
	err := row.Scan(&pl.ID, &pl.SessionID, &pl.ClientID, &pl.Nickname, &pl.AvatarKey, &pl.Score, &pl.IsConnected, &pl.LastSeen, &pl.CreatedAt, &created)
	if isCode(err, codeForeignKeyViolation) {
		return false, errors.NotFound("session not found: session=%s", pl.SessionID)
	}
	if err != nil {
		return false, fmt.Errorf("upsert player: %w", err)
	}

	return created, nil
}

func (p *Store) GetPlayer(ctx context.Context, sessionID string, playerID int64) (*domain.Player, error) {
	const stmt = `SELECT ` + playerColumns + ` FROM live_players WHERE id = $1 AND session_id = $2;`

	pl, err := scanPlayer(p.db.QueryRow(ctx, stmt, playerID, sessionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("player not found: player=%d", playerID)
	}
	if err != nil {
		return nil, fmt.Errorf("select player: %w", err)
	}

	return &pl, nil
}

func (p *Store) ListPlayers(ctx context.Context, sessionID string, limit int) ([]domain.Player, error) {
	const stmt = `
SELECT ` + playerColumns + `
FROM live_players
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`

	return p.queryPlayers(ctx, stmt, sessionID, limitArg(limit))
}

func (p *Store) TopPlayers(ctx context.Context, sessionID string, limit int) ([]domain.Player, error) {
	const stmt = `
SELECT ` + playerColumns + `
FROM live_players
WHERE session_id = $1
ORDER BY score DESC, created_at, id
LIMIT $2;`

	return p.queryPlayers(ctx, stmt, sessionID, limitArg(limit))
}

func (p *Store) queryPlayers(ctx context.Context, stmt string, args ...any) ([]domain.Player, error) {
	rows, err := p.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}

	ps, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		return scanPlayer(r)
	})
	if err != nil {
		return nil, fmt.Errorf("collect players: %w", err)
	}

	return ps, nil
}

func (p *Store) CountPlayers(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT COUNT(*) FROM live_players WHERE session_id = $1;`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}

	return n, nil
}

func (p *Store) SetPlayerConnected(ctx context.Context, sessionID string, playerID int64, connected bool, at time.Time) error {
	const stmt = `UPDATE live_players SET is_connected = $3, last_seen = $4 WHERE id = $1 AND session_id = $2;`

	tag, err := p.db.Exec(ctx, stmt, playerID, sessionID, connected, at)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("player not found: player=%d", playerID)
	}

	return nil
}

const answerColumns = `id, session_id, player_id, question_id, choice_ids, is_correct, answer_ms, awarded_points, created_at`

func (p *Store) FindAnswer(ctx context.Context, sessionID string, playerID, questionID int64) (*domain.Answer, error) {
	a, err := p.findAnswer(ctx, p.db, sessionID, playerID, questionID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("answer not found: player=%d question=%d", playerID, questionID)
	}
	if err != nil {
		return nil, fmt.Errorf("select answer: %w", err)
	}

	return a, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Store) findAnswer(ctx context.Context, q querier, sessionID string, playerID, questionID int64) (*domain.Answer, error) {
	const stmt = `
SELECT ` + answerColumns + `
FROM live_answers
WHERE session_id = $1 AND player_id = $2 AND question_id = $3;`

	var a domain.Answer
	err := q.QueryRow(ctx, stmt, sessionID, playerID, questionID).Scan(
		&a.ID, &a.SessionID, &a.PlayerID, &a.QuestionID, &a.ChoiceIDs, &a.IsCorrect, &a.AnswerMs, &a.AwardedPoints, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// RecordAnswer locks the player row first, so concurrent submissions of one player
// are serialized and the insert-or-skip plus score increment commit together.
// With an open window the session row is share-locked as well, so a host action that
// closes the question waits for the answer to commit or makes it fail.
func (p *Store) RecordAnswer(ctx context.Context, a *domain.Answer, open *store.Window) (_ *store.Recorded, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		windowStmt = `SELECT state, current_index, question_started_at FROM live_sessions WHERE id = $1 FOR SHARE;`

		lockStmt = `SELECT score FROM live_players WHERE id = $1 AND session_id = $2 FOR UPDATE;`

		insertStmt = `
INSERT INTO live_answers (session_id, player_id, question_id, choice_ids, is_correct, answer_ms, awarded_points, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, player_id, question_id) DO NOTHING
RETURNING id;`

		scoreStmt = `UPDATE live_players SET score = score + $2, last_seen = $3 WHERE id = $1 RETURNING score;`
	)

	if open != nil {
		var ss domain.Session
		err = tx.QueryRow(ctx, windowStmt, a.SessionID).Scan(&ss.State, &ss.CurrentIndex, &ss.QuestionStartedAt)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("session not found: session=%s", a.SessionID)
		}
		if err != nil {
			return nil, fmt.Errorf("lock session: %w", err)
		}
		if !open.Open(&ss) {
			return nil, store.QuestionClosed()
		}
	}

	var score int
	err = tx.QueryRow(ctx, lockStmt, a.PlayerID, a.SessionID).Scan(&score)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("player not found: player=%d", a.PlayerID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock player: %w", err)
	}

	err = tx.QueryRow(ctx, insertStmt,
		a.SessionID, a.PlayerID, a.QuestionID, nonNil(a.ChoiceIDs), a.IsCorrect, a.AnswerMs, a.AwardedPoints, a.CreatedAt,
	).Scan(&a.ID)

	switch {
	case stderrors.Is(err, pgx.ErrNoRows):
		prev, err := p.findAnswer(ctx, tx, a.SessionID, a.PlayerID, a.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("select existing answer: %w", err)
		}

		return &store.Recorded{Answer: *prev, Score: score, Duplicate: true}, tx.Commit(ctx)

	case err != nil:
		return nil, fmt.Errorf("insert answer: %w", err)
	}

	if err = tx.QueryRow(ctx, scoreStmt, a.PlayerID, a.AwardedPoints, a.CreatedAt).Scan(&score); err != nil {
		return nil, fmt.Errorf("update score: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &store.Recorded{Answer: *a, Score: score}, nil
}

func (p *Store) CountAnswered(ctx context.Context, sessionID string, questionID int64) (int, error) {
	const stmt = `SELECT COUNT(DISTINCT player_id) FROM live_answers WHERE session_id = $1 AND question_id = $2;`

	var n int
	if err := p.db.QueryRow(ctx, stmt, sessionID, questionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answered: %w", err)
	}

	return n, nil
}

func (p *Store) QuestionResults(ctx context.Context, sessionID string, questionID int64, limit int) ([]domain.QuestionResult, error) {
	const stmt = `
SELECT pl.nickname, pl.avatar_key, a.is_correct, a.awarded_points, pl.score
FROM live_answers a
JOIN live_players pl ON pl.id = a.player_id
WHERE a.session_id = $1 AND a.question_id = $2
ORDER BY a.awarded_points DESC, a.created_at DESC, a.id DESC
LIMIT $3;`

	rows, err := p.db.Query(ctx, stmt, sessionID, questionID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}

	rs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.QuestionResult, error) {
		var qr domain.QuestionResult
		err := r.Scan(&qr.Nickname, &qr.AvatarKey, &qr.IsCorrect, &qr.AwardedPoints, &qr.TotalScore)
		return qr, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect results: %w", err)
	}

	return rs, nil
}

func (p *Store) ListAnswers(ctx context.Context, sessionID string) ([]store.AnswerDetail, error) {
	const stmt = `
SELECT a.id, a.session_id, a.player_id, a.question_id, a.choice_ids, a.is_correct, a.answer_ms, a.awarded_points,
	a.created_at, pl.nickname, pl.avatar_key
FROM live_answers a
JOIN live_players pl ON pl.id = a.player_id
WHERE a.session_id = $1
ORDER BY a.created_at, a.id;`

	rows, err := p.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}

	as, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (store.AnswerDetail, error) {
		var d store.AnswerDetail
		err := r.Scan(&d.ID, &d.SessionID, &d.PlayerID, &d.QuestionID, &d.ChoiceIDs, &d.IsCorrect, &d.AnswerMs,
			&d.AwardedPoints, &d.CreatedAt, &d.Nickname, &d.AvatarKey)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect answers: %w", err)
	}

	return as, nil
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == code
}

// limitArg maps "no limit" to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}

	return &limit
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}

	return ids
}
