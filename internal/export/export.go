// Package export renders the results of a live session as an Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/questionbank"
	"github.com/victornm/livequiz/internal/store"
)

const (
	SheetStandings = "Standings"
	SheetAnswers   = "Answers"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Config struct {
	Store store.Store
	Bank  questionbank.Bank
}

type Service struct {
	store store.Store
	bank  questionbank.Bank
}

func NewService(c Config) *Service {
	return &Service{store: c.Store, bank: c.Bank}
}

// Write writes the workbook of ss to w.
func (s *Service) Write(ctx context.Context, ss *domain.Session, w io.Writer) error {
	players, err := s.store.TopPlayers(ctx, ss.ID, 0)
	if err != nil {
		return err
	}

	answers, err := s.store.ListAnswers(ctx, ss.ID)
	if err != nil {
		return err
	}

	correct := make(map[int64]int, len(players))
	for _, a := range answers {
		if a.IsCorrect {
			correct[a.PlayerID]++
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetStandings); err != nil {
		return errors.Internal(err)
	}

	if _, err := f.NewSheet(SheetAnswers); err != nil {
		return errors.Internal(err)
	}

	standings := [][]any{{"Rank", "Nickname", "Avatar", "Score", "Correct answers"}}
	for i, p := range players {
		standings = append(standings, []any{i + 1, p.Nickname, p.AvatarKey, p.Score, correct[p.ID]})
	}

	if err := writeRows(f, SheetStandings, standings); err != nil {
		return err
	}

	questions := make(map[int64]*domain.Question)
	rows := [][]any{{"Question", "Nickname", "Choices", "Correct", "Answer ms", "Points"}}
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			q, err = s.bank.Question(ctx, ss.ExamID, a.QuestionID)
			if err != nil && !errors.Is(err, errors.CodeNotFound) {
				return err
			}
			// Questions deleted from the bank since are exported by ID.
			questions[a.QuestionID] = q
		}

		rows = append(rows, []any{
			questionText(q, a.QuestionID),
			a.Nickname,
			choices(q, a.ChoiceIDs),
			a.IsCorrect,
			a.AnswerMs,
			a.AwardedPoints,
		})
	}

	if err := writeRows(f, SheetAnswers, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}

	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return errors.Internal(err)
	}

	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Internal(err)
		}

		if err := sw.SetRow(axis, row); err != nil {
			return errors.Internal(err)
		}
	}

	if err := sw.Flush(); err != nil {
		return errors.Internal(err)
	}

	return nil
}

func questionText(q *domain.Question, id int64) string {
	if q == nil || q.Text == "" {
		return fmt.Sprintf("#%d", id)
	}

	return q.Text
}

func choices(q *domain.Question, ids []int64) string {
	text := make(map[int64]string)
	if q != nil {
		for _, o := range q.Options {
			text[o.ID] = o.Text
		}
	}

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		t, ok := text[id]
		if !ok || t == "" {
			t = fmt.Sprintf("#%d", id)
		}
		parts = append(parts, t)
	}

	return strings.Join(parts, "; ")
}
