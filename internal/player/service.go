// Package player admits players into a session and ties them to the browser they joined from.
package player

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/token"
)

const (
	MaxNicknameRunes = 32
	maxClientIDLen   = 64

	// LobbyLimit caps the players sent with a lobby update.
	LobbyLimit = 50
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Tokens   *token.Issuer
	Now      func() time.Time
}

type Service struct {
	eb     *event.Bus
	store  store.Store
	tokens *token.Issuer
	now    func() time.Time
}

func NewService(c Config) *Service {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		eb:     c.EventBus,
		store:  c.Store,
		tokens: c.Tokens,
		now:    c.Now,
	}
}

type JoinRequest struct {
	Pin string
	// ClientID identifies the browser. Empty mints a new one.
	ClientID  string
	Nickname  string
	AvatarKey string
}

type JoinResponse struct {
	Player         *domain.Player
	Created        bool
	ClientID       string
	Token          string
	TokenExpiresAt time.Time
}

// Join adds a player to the lobby of a session. A browser that joined before keeps its
// player and only changes nickname and avatar.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	ss, err := s.store.GetSessionByPin(ctx, req.Pin)
	if err != nil {
		return nil, err
	}

	if ss.IsLocked {
		return nil, errors.New(errors.CodePermissionDenied, errors.WithMessagef("lobby is locked"))
	}
	if ss.State == domain.StateFinished {
		return nil, errors.FailedPrecondition("session is finished")
	}

	nickname := NormalizeNickname(req.Nickname)
	if nickname == "" {
		return nil, errors.InvalidArgument("nickname must not be empty")
	}

	clientID := req.ClientID
	if clientID == "" || len(clientID) > maxClientIDLen {
		clientID = NewClientID()
	}

	now := s.now().UTC()
	p := &domain.Player{
		SessionID:   ss.ID,
		ClientID:    clientID,
		Nickname:    nickname,
		AvatarKey:   domain.NormalizeAvatar(req.AvatarKey),
		IsConnected: true,
		LastSeen:    now,
		CreatedAt:   now,
	}

	created, err := s.store.UpsertPlayer(ctx, p)
	if err != nil {
		return nil, err
	}

	tok, exp, err := s.tokens.IssuePlayer(ss.Pin, p.ID, clientID)
	if err != nil {
		return nil, err
	}

	players, count, err := store.Lobby(ctx, s.store, ss.ID, LobbyLimit)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventLobbyChanged{Pin: ss.Pin, Count: count, Players: players})

	return &JoinResponse{
		Player:         p,
		Created:        created,
		ClientID:       clientID,
		Token:          tok,
		TokenExpiresAt: exp,
	}, nil
}

// Authenticate verifies a player token for the session of pin and returns the player it
// was issued to.
func (s *Service) Authenticate(ctx context.Context, pin, tok string) (*domain.Player, error) {
	c, err := s.tokens.VerifyPlayer(tok, pin)
	if err != nil {
		return nil, err
	}

	ss, err := s.store.GetSessionByPin(ctx, pin)
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetPlayer(ctx, ss.ID, c.PlayerID)
	if err != nil {
		return nil, err
	}

	if p.ClientID != c.ClientID {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("bad token"))
	}

	return p, nil
}

// SetConnected records whether the player has an open play socket.
func (s *Service) SetConnected(ctx context.Context, p *domain.Player, connected bool) error {
	return s.store.SetPlayerConnected(ctx, p.SessionID, p.ID, connected, s.now().UTC())
}

// NormalizeNickname trims s, collapses whitespace runs into one space and caps the length.
func NormalizeNickname(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= MaxNicknameRunes {
		return s
	}

	return strings.TrimSpace(string([]rune(s)[:MaxNicknameRunes]))
}

// NewClientID returns a new browser identifier.
func NewClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
