// Package storetest holds the behavioural tests every store.Store implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/store"
)

// Run runs the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	tests := map[string]func(t *testing.T, s store.Store){
		"session round trip":                      testSessionRoundTrip,
		"pin should be unique":                    testPinUnique,
		"stale session update should be refused":  testStaleUpdate,
		"rejoin should update in place":           testUpsertPlayer,
		"players should be listed and ranked":     testListAndRank,
		"answer should be recorded once":          testRecordAnswerOnce,
		"concurrent duplicates should score once": testConcurrentDuplicates,
		"answer should need an open window":       testRecordAnswerWindow,
		"question results should be ranked":       testQuestionResults,
		"connection flag should be stored":        testSetConnected,
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt(t, newStore(t))
		})
	}
}

var base = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func createSession(t *testing.T, s store.Store, pin string) *domain.Session {
	t.Helper()

	ss := &domain.Session{
		Pin:       pin,
		ExamID:    1,
		HostRef:   "instructor-1",
		State:     domain.StateLobby,
		CreatedAt: base,
		UpdatedAt: base,
	}
	require.NoError(t, s.CreateSession(context.Background(), ss))
	require.NotEmpty(t, ss.ID)

	return ss
}

func join(t *testing.T, s store.Store, sessionID, client string, sec int) *domain.Player {
	t.Helper()

	p := &domain.Player{
		SessionID:   sessionID,
		ClientID:    client,
		Nickname:    "nick-" + client,
		AvatarKey:   domain.DefaultAvatar,
		IsConnected: true,
		LastSeen:    at(sec),
		CreatedAt:   at(sec),
	}
	created, err := s.UpsertPlayer(context.Background(), p)
	require.NoError(t, err)
	require.True(t, created)

	return p
}

func answer(sessionID string, playerID, questionID int64, points, sec int) *domain.Answer {
	return &domain.Answer{
		SessionID:     sessionID,
		PlayerID:      playerID,
		QuestionID:    questionID,
		ChoiceIDs:     []int64{1, 2},
		IsCorrect:     points > 0,
		AnswerMs:      1500,
		AwardedPoints: points,
		CreatedAt:     at(sec),
	}
}

func testSessionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100001")

	limit := 2
	started, ends := at(10), at(30)
	ss.State = domain.StateQuestion
	ss.SelectedQuestionIDs = []int64{30, 10}
	ss.QuestionLimit = &limit
	ss.CurrentIndex = 1
	ss.QuestionStartedAt = &started
	ss.QuestionEndsAt = &ends
	ss.IsLocked = true
	ss.UpdatedAt = at(10)
	require.NoError(t, s.UpdateSession(ctx, ss))

	got, err := s.GetSessionByPin(ctx, "100001")
	require.NoError(t, err)

	assert.Equal(t, ss.ID, got.ID)
	assert.Equal(t, domain.StateQuestion, got.State)
	assert.Equal(t, []int64{30, 10}, got.SelectedQuestionIDs)
	require.NotNil(t, got.QuestionLimit)
	assert.Equal(t, 2, *got.QuestionLimit)
	assert.Equal(t, 1, got.CurrentIndex)
	require.NotNil(t, got.QuestionStartedAt)
	assert.True(t, started.Equal(*got.QuestionStartedAt))
	require.NotNil(t, got.QuestionEndsAt)
	assert.True(t, ends.Equal(*got.QuestionEndsAt))
	assert.True(t, got.IsLocked)
	assert.Equal(t, ss.Version, got.Version)

	got.QuestionStartedAt, got.QuestionEndsAt = nil, nil
	got.State = domain.StateReveal
	require.NoError(t, s.UpdateSession(ctx, got))

	got, err = s.GetSessionByPin(ctx, "100001")
	require.NoError(t, err)
	assert.Nil(t, got.QuestionStartedAt)
	assert.Nil(t, got.QuestionEndsAt)

	_, err = s.GetSessionByPin(ctx, "999999")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func testPinUnique(t *testing.T, s store.Store) {
	createSession(t, s, "100002")

	err := s.CreateSession(context.Background(), &domain.Session{
		Pin:       "100002",
		State:     domain.StateLobby,
		CreatedAt: base,
		UpdatedAt: base,
	})
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))
}

func testStaleUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	createSession(t, s, "100003")

	a, err := s.GetSessionByPin(ctx, "100003")
	require.NoError(t, err)
	b, err := s.GetSessionByPin(ctx, "100003")
	require.NoError(t, err)

	a.CurrentIndex = 1
	require.NoError(t, s.UpdateSession(ctx, a))

	b.CurrentIndex = 2
	err = s.UpdateSession(ctx, b)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	got, err := s.GetSessionByPin(ctx, "100003")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentIndex)
}

func testUpsertPlayer(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100004")

	first := join(t, s, ss.ID, "c1", 1)

	again := &domain.Player{
		SessionID:   ss.ID,
		ClientID:    "c1",
		Nickname:    "Renamed",
		AvatarKey:   "avatar_5",
		IsConnected: true,
		LastSeen:    at(5),
		CreatedAt:   at(5),
	}
	created, err := s.UpsertPlayer(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, at(1).Equal(again.CreatedAt), "join time should be kept")

	n, err := s.CountPlayers(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetPlayer(ctx, ss.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Nickname)
	assert.Equal(t, "avatar_5", got.AvatarKey)

	other := createSession(t, s, "100005")
	_, err = s.GetPlayer(ctx, other.ID, first.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound), "player should not leak across sessions")
}

func testListAndRank(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100006")

	p1 := join(t, s, ss.ID, "c1", 1)
	p2 := join(t, s, ss.ID, "c2", 2)
	p3 := join(t, s, ss.ID, "c3", 3)

	_, err := s.RecordAnswer(ctx, answer(ss.ID, p3.ID, 1, 500, 10), nil)
	require.NoError(t, err)
	_, err = s.RecordAnswer(ctx, answer(ss.ID, p2.ID, 1, 500, 11), nil)
	require.NoError(t, err)

	ps, err := s.ListPlayers(ctx, ss.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{p3.ID, p2.ID}, playerIDs(ps), "latest joins first")

	top, err := s.TopPlayers(ctx, ss.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{p2.ID, p3.ID, p1.ID}, playerIDs(top), "score desc, earlier join first on ties")
	assert.Equal(t, 500, top[0].Score)
}

func testRecordAnswerOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100007")
	p := join(t, s, ss.ID, "c1", 1)

	_, err := s.FindAnswer(ctx, ss.ID, p.ID, 7)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	rec, err := s.RecordAnswer(ctx, answer(ss.ID, p.ID, 7, 1400, 10), nil)
	require.NoError(t, err)
	assert.False(t, rec.Duplicate)
	assert.Equal(t, 1400, rec.Score)
	assert.NotZero(t, rec.Answer.ID)

	dup, err := s.RecordAnswer(ctx, answer(ss.ID, p.ID, 7, 900, 11), nil)
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, 1400, dup.Score, "score should be unchanged")
	assert.Equal(t, 1400, dup.Answer.AwardedPoints, "the first answer should be returned")
	assert.Equal(t, rec.Answer.ID, dup.Answer.ID)

	found, err := s.FindAnswer(ctx, ss.ID, p.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, found.ChoiceIDs)

	n, err := s.CountAnswered(ctx, ss.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	as, err := s.ListAnswers(ctx, ss.ID)
	require.NoError(t, err)
	require.Len(t, as, 1)
	assert.Equal(t, "nick-c1", as[0].Nickname)

	_, err = s.RecordAnswer(ctx, answer(ss.ID, p.ID+100, 7, 1, 12), nil)
	assert.True(t, errors.Is(err, errors.CodeNotFound), "unknown player")
}

func testConcurrentDuplicates(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100008")
	p := join(t, s, ss.ID, "c1", 1)

	const n = 20

	var (
		mu      sync.Mutex
		records []*store.Recorded
		eg      errgroup.Group
	)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			rec, err := s.RecordAnswer(ctx, answer(ss.ID, p.ID, 1, 1000, 10), nil)
			if err != nil {
				return fmt.Errorf("record answer: %w", err)
			}

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	fresh := 0
	for _, rec := range records {
		if !rec.Duplicate {
			fresh++
		}
		assert.Equal(t, 1000, rec.Score)
	}
	assert.Equal(t, 1, fresh, "exactly one answer should be scored")

	got, err := s.GetPlayer(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, got.Score)

	as, err := s.ListAnswers(ctx, ss.ID)
	require.NoError(t, err)
	assert.Len(t, as, 1)
}

func testRecordAnswerWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100010")
	p := join(t, s, ss.ID, "c1", 1)

	started, ends := at(10), at(30)
	ss.State = domain.StateQuestion
	ss.CurrentIndex = 1
	ss.QuestionStartedAt, ss.QuestionEndsAt = &started, &ends
	require.NoError(t, s.UpdateSession(ctx, ss))

	open := &store.Window{Index: 1, StartedAt: started}

	tests := map[string]*store.Window{
		"other index":    {Index: 0, StartedAt: started},
		"earlier asking": {Index: 1, StartedAt: at(5)},
	}
	for name, w := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.RecordAnswer(ctx, answer(ss.ID, p.ID, 7, 500, 12), w)
			assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
		})
	}

	ss.State = domain.StateReveal
	require.NoError(t, s.UpdateSession(ctx, ss))

	_, err := s.RecordAnswer(ctx, answer(ss.ID, p.ID, 7, 500, 12), open)
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "revealed question should be closed")

	_, err = s.FindAnswer(ctx, ss.ID, p.ID, 7)
	assert.True(t, errors.Is(err, errors.CodeNotFound), "nothing should be written")

	got, err := s.GetPlayer(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Score)

	ss.State = domain.StateQuestion
	require.NoError(t, s.UpdateSession(ctx, ss))

	rec, err := s.RecordAnswer(ctx, answer(ss.ID, p.ID, 7, 500, 13), open)
	require.NoError(t, err)
	assert.Equal(t, 500, rec.Score)
}

func testQuestionResults(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100009")

	p1 := join(t, s, ss.ID, "c1", 1)
	p2 := join(t, s, ss.ID, "c2", 2)
	p3 := join(t, s, ss.ID, "c3", 3)

	for _, a := range []*domain.Answer{
		answer(ss.ID, p1.ID, 1, 300, 10),
		answer(ss.ID, p2.ID, 1, 800, 11),
		answer(ss.ID, p3.ID, 1, 300, 12),
		answer(ss.ID, p1.ID, 2, 1000, 20),
	} {
		_, err := s.RecordAnswer(ctx, a, nil)
		require.NoError(t, err)
	}

	rs, err := s.QuestionResults(ctx, ss.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, rs, 3)

	assert.Equal(t, "nick-c2", rs[0].Nickname)
	assert.Equal(t, "nick-c3", rs[1].Nickname, "later answer first on ties")
	assert.Equal(t, "nick-c1", rs[2].Nickname)
	assert.Equal(t, 1300, rs[2].TotalScore)
	assert.Equal(t, 300, rs[2].AwardedPoints)

	rs, err = s.QuestionResults(ctx, ss.ID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func testSetConnected(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := createSession(t, s, "100010")
	p := join(t, s, ss.ID, "c1", 1)

	require.NoError(t, s.SetPlayerConnected(ctx, ss.ID, p.ID, false, at(50)))

	got, err := s.GetPlayer(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsConnected)
	assert.True(t, at(50).Equal(got.LastSeen))
}

func playerIDs(ps []domain.Player) []int64 {
	ids := make([]int64, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}

	return ids
}
