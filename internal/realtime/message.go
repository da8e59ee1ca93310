package realtime

import (
	"time"

	"github.com/victornm/livequiz/internal/domain"
)

// Message types sent to sockets.
const (
	TypeLobbyState        = "lobby_state"
	TypeGameStarted       = "game_started"
	TypeQuestionPublished = "question_published"
	TypeAnswerProgress    = "answer_progress"
	TypeReveal            = "reveal"
	TypeFinished          = "finished"
	TypeAnswerSaved       = "answer_saved"
	TypeError             = "error"

	// TypeAnswer is the only message a client sends.
	TypeAnswer = "answer"
)

type LobbyState struct {
	Type    string               `json:"type"`
	Count   int                  `json:"count"`
	Players []domain.LobbyPlayer `json:"players"`
}

type GameStarted struct {
	Type     string `json:"type"`
	Redirect string `json:"redirect"`
}

type QuestionPublished struct {
	Type     string              `json:"type"`
	Question domain.QuestionView `json:"question"`
}

type AnswerProgress struct {
	Type          string `json:"type"`
	QuestionID    int64  `json:"question_id"`
	AnsweredCount int    `json:"answered_count"`
	TotalPlayers  int    `json:"total_players"`
}

type Reveal struct {
	Type             string                  `json:"type"`
	QuestionID       int64                   `json:"question_id"`
	CorrectOptionIDs []int64                 `json:"correct_option_ids"`
	Results          []domain.QuestionResult `json:"results"`
	Top              []domain.Standing       `json:"top"`
	RevealedAt       time.Time               `json:"revealed_at"`
}

type Finished struct {
	Type       string            `json:"type"`
	Top        []domain.Standing `json:"top"`
	FinishedAt time.Time         `json:"finished_at"`
}

// AnswerSaved is the private reply to a scored answer.
type AnswerSaved struct {
	Type          string  `json:"type"`
	QuestionID    int64   `json:"question_id"`
	IsCorrect     bool    `json:"is_correct"`
	Fraction      float64 `json:"fraction"`
	PickedCorrect int     `json:"picked_correct"`
	PickedWrong   int     `json:"picked_wrong"`
	CorrectTotal  int     `json:"correct_total"`
	AwardedPoints int     `json:"awarded_points"`
	Base          int     `json:"base"`
	Bonus         int     `json:"bonus"`
	Score         int     `json:"score"`
}

// AlreadyAnswered is the private reply to a repeated answer. It carries the first result.
type AlreadyAnswered struct {
	Type            string `json:"type"`
	QuestionID      int64  `json:"question_id"`
	AlreadyAnswered bool   `json:"already_answered"`
	Message         string `json:"message"`
	IsCorrect       bool   `json:"is_correct"`
	AwardedPoints   int    `json:"awarded_points"`
	Score           int    `json:"score"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
