package export_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/export"
	"github.com/victornm/livequiz/internal/questionbank"
	"github.com/victornm/livequiz/internal/store/memory"
)

func TestService_Write(t *testing.T) {
	ctx := context.Background()

	bank := questionbank.NewMemory()
	bank.Put(questionbank.ExamRecord{ID: 1},
		questionbank.QuestionRecord{ID: 10, Order: 1, Text: "2 + 2", Options: []questionbank.OptionRecord{
			{ID: 101, Text: "4", IsCorrect: true},
			{ID: 102, Text: "5"},
		}},
	)

	st := memory.New()
	ss := &domain.Session{Pin: "482913", ExamID: 1, State: domain.StateFinished}
	require.NoError(t, st.CreateSession(ctx, ss))

	ada := &domain.Player{SessionID: ss.ID, ClientID: "c1", Nickname: "ada", AvatarKey: "avatar_2"}
	evil := &domain.Player{SessionID: ss.ID, ClientID: "c2", Nickname: "=HYPERLINK(\"x\")", AvatarKey: "avatar_1"}
	for _, p := range []*domain.Player{ada, evil} {
		_, err := st.UpsertPlayer(ctx, p)
		require.NoError(t, err)
	}

	for _, a := range []*domain.Answer{
		{SessionID: ss.ID, PlayerID: ada.ID, QuestionID: 10, ChoiceIDs: []int64{101}, IsCorrect: true, AnswerMs: 1200, AwardedPoints: 1400},
		{SessionID: ss.ID, PlayerID: evil.ID, QuestionID: 10, ChoiceIDs: []int64{102}, AnswerMs: 3000},
		// Question no longer in the bank.
		{SessionID: ss.ID, PlayerID: ada.ID, QuestionID: 99, ChoiceIDs: []int64{991}, AnswerMs: 500},
	} {
		_, err := st.RecordAnswer(ctx, a, nil)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	svc := export.NewService(export.Config{Store: st, Bank: bank})
	require.NoError(t, svc.Write(ctx, ss, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.Equal(t, []string{export.SheetStandings, export.SheetAnswers}, f.GetSheetList())

	standings, err := f.GetRows(export.SheetStandings)
	require.NoError(t, err)
	require.Len(t, standings, 3)
	assert.Equal(t, []string{"Rank", "Nickname", "Avatar", "Score", "Correct answers"}, standings[0])
	assert.Equal(t, []string{"1", "ada", "avatar_2", "1400", "1"}, standings[1])
	assert.Equal(t, []string{"2", `=HYPERLINK("x")`, "avatar_1", "0", "0"}, standings[2], "text should be kept as typed")

	formula, err := f.GetCellFormula(export.SheetStandings, "B3")
	require.NoError(t, err)
	assert.Empty(t, formula, "nicknames should be written as text")

	answers, err := f.GetRows(export.SheetAnswers)
	require.NoError(t, err)
	require.Len(t, answers, 4)
	assert.Equal(t, []string{"2 + 2", "ada", "4"}, answers[1][:3])
	assert.Equal(t, []string{"1200", "1400"}, answers[1][4:])
	assert.Equal(t, []string{"2 + 2", `=HYPERLINK("x")`, "5"}, answers[2][:3])
	assert.Equal(t, []string{"#99", "ada", "#991"}, answers[3][:3])
}
