package domain

import (
	"slices"
	"time"
)

// State is the phase of a live session.
type State string

const (
	StateLobby    State = "LOBBY"
	StateQuestion State = "QUESTION"
	StateReveal   State = "REVEAL"
	StateFinished State = "FINISHED"
)

// Session is one hosted run of an exam, addressed by its pin.
type Session struct {
	ID      string
	Pin     string
	ExamID  int64
	HostRef string
	State   State

	// SelectedQuestionIDs is the question order of this run. Empty means the full exam order.
	SelectedQuestionIDs []int64
	QuestionLimit       *int
	CurrentIndex        int

	// QuestionStartedAt and QuestionEndsAt bound the answer window of the current question.
	// They are nil until the first question is published and survive REVEAL, since the
	// option order of the revealed question is derived from QuestionStartedAt.
	QuestionStartedAt *time.Time
	QuestionEndsAt    *time.Time

	IsLocked bool

	// Version is bumped by every successful update and guards against lost updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuestionWindow returns the length of the answer window, or 0 when no valid window exists.
func (s *Session) QuestionWindow() time.Duration {
	if s.QuestionStartedAt == nil || s.QuestionEndsAt == nil {
		return 0
	}

	d := s.QuestionEndsAt.Sub(*s.QuestionStartedAt)
	if d <= 0 {
		return 0
	}

	return d
}

// Player is a participant identified by a durable per-browser client ID.
type Player struct {
	ID          int64
	SessionID   string
	ClientID    string
	Nickname    string
	AvatarKey   string
	Score       int
	IsConnected bool
	LastSeen    time.Time
	CreatedAt   time.Time
}

// Answer is the single scored response of a player to a question.
type Answer struct {
	ID            int64
	SessionID     string
	PlayerID      int64
	QuestionID    int64
	ChoiceIDs     []int64
	IsCorrect     bool
	AnswerMs      int
	AwardedPoints int
	CreatedAt     time.Time
}

// Exam is the question bank exam a session is hosted from.
type Exam struct {
	ID        int64
	Title     string
	AuthorRef string
}

// Question is a normalized exam question as served by the question bank.
type Question struct {
	ID        int64
	ExamID    int64
	Text      string
	TimeLimit time.Duration
	Points    int
	Multi     bool
	MaxSelect int
	Options   []Option
}

type Option struct {
	ID        int64
	Text      string
	IsCorrect bool
}

// CorrectOptionIDs returns the IDs of the correct options in option order.
func (q *Question) CorrectOptionIDs() []int64 {
	ids := make([]int64, 0, len(q.Options))
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}

	return ids
}

// Standing is a leaderboard row.
type Standing struct {
	Nickname  string `json:"nickname"`
	AvatarKey string `json:"avatar_key"`
	Score     int    `json:"score"`
}

// QuestionResult is how one player did on one question.
type QuestionResult struct {
	Nickname      string `json:"nickname"`
	AvatarKey     string `json:"avatar_key"`
	IsCorrect     bool   `json:"is_correct"`
	AwardedPoints int    `json:"awarded_points"`
	TotalScore    int    `json:"total_score"`
}

// LobbyPlayer is the public presence view of a player.
type LobbyPlayer struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarKey string `json:"avatar_key"`
}

// QuestionView is the question as shown to players, with shuffled, labelled options.
type QuestionView struct {
	ID        int64        `json:"id"`
	Text      string       `json:"text"`
	TimeLimit int          `json:"time_limit"`
	Points    int          `json:"points"`
	Multi     bool         `json:"multi"`
	MaxSelect int          `json:"max_select"`
	Options   []OptionView `json:"options"`
	StartedAt *time.Time   `json:"started_at"`
	EndsAt    *time.Time   `json:"ends_at"`
	Index     int          `json:"index"`
	Total     int          `json:"total"`
}

type OptionView struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

const DefaultAvatar = "avatar_1"

// AvatarKeys is the fixed set of avatars a player may pick.
var AvatarKeys = []string{
	"avatar_1", "avatar_2", "avatar_3", "avatar_4", "avatar_5", "avatar_6",
	"avatar_7", "avatar_8", "avatar_9", "avatar_10", "avatar_11", "avatar_12",
}

// NormalizeAvatar returns key if it is a known avatar, DefaultAvatar otherwise.
func NormalizeAvatar(key string) string {
	if slices.Contains(AvatarKeys, key) {
		return key
	}

	return DefaultAvatar
}
