package domain

import "time"

const (
	EventNameLobbyChanged      = "lobby.changed"
	EventNameGameStarted       = "game.started"
	EventNameQuestionPublished = "question.published"
	EventNameAnswerProgress    = "answer.progress"
	EventNameQuestionRevealed  = "question.revealed"
	EventNameSessionFinished   = "session.finished"
)

// All session events are keyed by pin so handlers see them in publish order per session.

type EventLobbyChanged struct {
	Pin     string
	Count   int
	Players []LobbyPlayer
}

func (EventLobbyChanged) Name() string  { return EventNameLobbyChanged }
func (e EventLobbyChanged) Key() string { return e.Pin }

type EventGameStarted struct {
	Pin string
}

func (EventGameStarted) Name() string  { return EventNameGameStarted }
func (e EventGameStarted) Key() string { return e.Pin }

type EventQuestionPublished struct {
	Pin      string
	Question QuestionView
}

func (EventQuestionPublished) Name() string  { return EventNameQuestionPublished }
func (e EventQuestionPublished) Key() string { return e.Pin }

type EventAnswerProgress struct {
	Pin           string
	QuestionID    int64
	AnsweredCount int
	TotalPlayers  int
}

func (EventAnswerProgress) Name() string  { return EventNameAnswerProgress }
func (e EventAnswerProgress) Key() string { return e.Pin }

type EventQuestionRevealed struct {
	Pin              string
	QuestionID       int64
	CorrectOptionIDs []int64
	Results          []QuestionResult
	Top              []Standing
	RevealedAt       time.Time
}

func (EventQuestionRevealed) Name() string  { return EventNameQuestionRevealed }
func (e EventQuestionRevealed) Key() string { return e.Pin }

type EventSessionFinished struct {
	Pin        string
	Top        []Standing
	FinishedAt time.Time
}

func (EventSessionFinished) Name() string  { return EventNameSessionFinished }
func (e EventSessionFinished) Key() string { return e.Pin }
