package store

import (
	"context"

	"github.com/victornm/livequiz/internal/domain"
)

// Lobby returns the presence view of a session: up to limit most recent players and the
// total player count.
func Lobby(ctx context.Context, s Store, sessionID string, limit int) ([]domain.LobbyPlayer, int, error) {
	ps, err := s.ListPlayers(ctx, sessionID, limit)
	if err != nil {
		return nil, 0, err
	}

	count, err := s.CountPlayers(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	out := make([]domain.LobbyPlayer, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.LobbyPlayer{ID: p.ID, Nickname: p.Nickname, AvatarKey: p.AvatarKey})
	}

	return out, count, nil
}

// Standings returns the leaderboard of a session.
func Standings(ctx context.Context, s Store, sessionID string, limit int) ([]domain.Standing, error) {
	ps, err := s.TopPlayers(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Standing, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.Standing{Nickname: p.Nickname, AvatarKey: p.AvatarKey, Score: p.Score})
	}

	return out, nil
}
