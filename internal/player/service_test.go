package player_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/store/memory"
	"github.com/victornm/livequiz/internal/token"
)

const pin = "482913"

var now = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func TestService_Join(t *testing.T) {
	type outputs struct {
		resp *player.JoinResponse
		err  error
		fx   *fixture
	}

	tests := map[string]struct {
		arrange func(fx *fixture) player.JoinRequest
		assert  func(t *testing.T, out outputs)
	}{
		"new browser should get a client id and a token": {
			arrange: func(*fixture) player.JoinRequest {
				return player.JoinRequest{Pin: pin, Nickname: "  Ada   Lovelace ", AvatarKey: "avatar_7"}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.True(t, out.resp.Created)
				assert.Len(t, out.resp.ClientID, 32)
				assert.Equal(t, "Ada Lovelace", out.resp.Player.Nickname)
				assert.Equal(t, "avatar_7", out.resp.Player.AvatarKey)
				assert.True(t, out.resp.Player.IsConnected)
				assert.Equal(t, now.Add(token.DefaultPlayerTTL), out.resp.TokenExpiresAt)

				c, err := out.fx.tokens.VerifyPlayer(out.resp.Token, pin)
				require.NoError(t, err)
				assert.Equal(t, out.resp.Player.ID, c.PlayerID)
				assert.Equal(t, out.resp.ClientID, c.ClientID)
			},
		},

		"unknown avatar should fall back to the default": {
			arrange: func(*fixture) player.JoinRequest {
				return player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: "ada", AvatarKey: "avatar_99"}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, domain.DefaultAvatar, out.resp.Player.AvatarKey)
			},
		},

		"rejoin from the same browser should update the player": {
			arrange: func(fx *fixture) player.JoinRequest {
				_, err := fx.service.Join(context.Background(), player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: "ada"})
				require.NoError(fx.t, err)
				return player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: "grace", AvatarKey: "avatar_2"}
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.False(t, out.resp.Created)
				assert.Equal(t, "c1", out.resp.ClientID)
				assert.Equal(t, "grace", out.resp.Player.Nickname)
				assert.Equal(t, 1, out.fx.count(t))
			},
		},

		"empty nickname should be rejected": {
			arrange: func(*fixture) player.JoinRequest {
				return player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: " \t "}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
				assert.Equal(t, 0, out.fx.count(t))
			},
		},

		"locked lobby should be rejected": {
			arrange: func(fx *fixture) player.JoinRequest {
				fx.update(func(ss *domain.Session) { ss.IsLocked = true })
				return player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: "ada"}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodePermissionDenied))
				assert.Equal(t, 0, out.fx.count(t))
			},
		},

		"finished session should be rejected": {
			arrange: func(fx *fixture) player.JoinRequest {
				fx.update(func(ss *domain.Session) { ss.State = domain.StateFinished })
				return player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: "ada"}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeFailedPrecondition))
			},
		},

		"unknown pin should be not found": {
			arrange: func(*fixture) player.JoinRequest {
				return player.JoinRequest{Pin: "000000", Nickname: "ada"}
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeNotFound))
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			req := tt.arrange(fx)

			resp, err := fx.service.Join(context.Background(), req)
			tt.assert(t, outputs{resp: resp, err: err, fx: fx})
		})
	}
}

func TestService_Join_PublishesLobby(t *testing.T) {
	fx := newFixture(t)

	var got []domain.EventLobbyChanged
	fx.eb.Subscribe(domain.EventNameLobbyChanged, func(_ context.Context, e event.Event) error {
		got = append(got, e.(domain.EventLobbyChanged))
		return nil
	})

	for _, c := range []string{"c1", "c2"} {
		_, err := fx.service.Join(context.Background(), player.JoinRequest{Pin: pin, ClientID: c, Nickname: c})
		require.NoError(t, err)
	}
	fx.eb.Stop()

	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Count)
	require.Len(t, got[1].Players, 2)
	assert.Equal(t, "c2", got[1].Players[0].Nickname, "newest player should come first")
}

func TestService_Authenticate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	resp, err := fx.service.Join(ctx, player.JoinRequest{Pin: pin, ClientID: "c1", Nickname: "ada"})
	require.NoError(t, err)

	p, err := fx.service.Authenticate(ctx, pin, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Player.ID, p.ID)

	forged, _, err := fx.tokens.IssuePlayer(pin, resp.Player.ID, "another-browser")
	require.NoError(t, err)
	_, err = fx.service.Authenticate(ctx, pin, forged)
	assert.True(t, errors.Is(err, errors.CodeUnauthenticated))

	_, err = fx.service.Authenticate(ctx, "111111", resp.Token)
	assert.True(t, errors.Is(err, errors.CodeUnauthenticated))

	require.NoError(t, fx.service.SetConnected(ctx, p, false))
	p, err = fx.store.GetPlayer(ctx, p.SessionID, p.ID)
	require.NoError(t, err)
	assert.False(t, p.IsConnected)
}

func TestNormalizeNickname(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
	}{
		"trimmed":              {in: "  ada ", want: "ada"},
		"collapsed":            {in: "ada \t\n lovelace", want: "ada lovelace"},
		"blank":                {in: " \t ", want: ""},
		"capped by runes":      {in: strings.Repeat("ə", 40), want: strings.Repeat("ə", 32)},
		"no trailing space":    {in: strings.Repeat("a", 31) + " b", want: strings.Repeat("a", 31)},
		"exactly at the limit": {in: strings.Repeat("a", 32), want: strings.Repeat("a", 32)},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, player.NormalizeNickname(tt.in))
		})
	}
}

type fixture struct {
	t       *testing.T
	eb      *event.Bus
	store   store.Store
	tokens  *token.Issuer
	service *player.Service
}

func newFixture(t *testing.T) *fixture {
	clock := func() time.Time { return now }

	fx := &fixture{
		t:      t,
		eb:     event.NewBus(),
		store:  memory.New(),
		tokens: token.NewIssuer(token.Config{Secret: "s3cret", Now: clock}),
	}

	fx.service = player.NewService(player.Config{
		EventBus: fx.eb,
		Store:    fx.store,
		Tokens:   fx.tokens,
		Now:      clock,
	})

	require.NoError(t, fx.store.CreateSession(context.Background(), &domain.Session{
		Pin:       pin,
		ExamID:    1,
		HostRef:   "instructor-1",
		State:     domain.StateLobby,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	return fx
}

func (fx *fixture) update(fn func(ss *domain.Session)) {
	ss, err := fx.store.GetSessionByPin(context.Background(), pin)
	require.NoError(fx.t, err)

	fn(ss)
	require.NoError(fx.t, fx.store.UpdateSession(context.Background(), ss))
}

func (fx *fixture) count(t *testing.T) int {
	ss, err := fx.store.GetSessionByPin(context.Background(), pin)
	require.NoError(t, err)

	n, err := fx.store.CountPlayers(context.Background(), ss.ID)
	require.NoError(t, err)

	return n
}
