package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/questionbank"
	"github.com/victornm/livequiz/internal/realtime"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/store/memory"
	"github.com/victornm/livequiz/internal/token"
)

const host = "instructor-1"

func TestSockets_Lobby(t *testing.T) {
	fx := newFixture(t)

	ws := fx.dial(t, "/ws/live/"+fx.pin+"/lobby", nil)

	var st realtime.LobbyState
	fx.read(t, ws, &st)
	assert.Equal(t, realtime.TypeLobbyState, st.Type)
	assert.Equal(t, 0, st.Count)
	assert.Empty(t, st.Players)

	fx.join(t, "c1", "ada")

	fx.read(t, ws, &st)
	assert.Equal(t, 1, st.Count)
	require.Len(t, st.Players, 1)
	assert.Equal(t, "ada", st.Players[0].Nickname)

	_, err := fx.session.StartGame(context.Background(), session.StartGameRequest{Pin: fx.pin, HostRef: host})
	require.NoError(t, err)

	var started realtime.GameStarted
	fx.read(t, ws, &started)
	assert.Equal(t, realtime.TypeGameStarted, started.Type)
	assert.Equal(t, "/live/"+fx.pin+"/play", started.Redirect)
}

func TestSockets_UnknownPin(t *testing.T) {
	fx := newFixture(t)

	for _, path := range []string{"/ws/live/000000/lobby", "/ws/live/000000/play"} {
		_, resp, err := websocket.DefaultDialer.Dial(fx.url(path), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestSockets_Play(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	joined := fx.join(t, "c1", "ada")
	fx.join(t, "c2", "grace")

	hdr := http.Header{"Cookie": {realtime.PlayerCookie + "=" + joined.Token}}
	ws := fx.dial(t, "/ws/live/"+fx.pin+"/play", hdr)
	watcher := fx.dial(t, "/ws/live/"+fx.pin+"/play", nil)

	require.Eventually(t, func() bool {
		p, err := fx.store.GetPlayer(ctx, joined.Player.SessionID, joined.Player.ID)
		return err == nil && p.IsConnected
	}, 2*time.Second, 10*time.Millisecond)

	_, err := fx.session.StartGame(ctx, session.StartGameRequest{Pin: fx.pin, HostRef: host})
	require.NoError(t, err)

	var q realtime.QuestionPublished
	fx.read(t, watcher, &q)
	assert.Equal(t, realtime.TypeQuestionPublished, q.Type)
	assert.Equal(t, int64(10), q.Question.ID)
	assert.Len(t, q.Question.Options, 2)

	fx.read(t, ws, &q)

	fx.write(t, ws, `{"type":"answer","question_id":10,"option_ids":[101,101],"answer_ms":0}`)

	msgs := fx.readTypes(t, ws, realtime.TypeAnswerSaved, realtime.TypeAnswerProgress)

	var saved realtime.AnswerSaved
	require.NoError(t, json.Unmarshal(msgs[realtime.TypeAnswerSaved], &saved))
	assert.True(t, saved.IsCorrect)
	assert.Equal(t, 1.0, saved.Fraction)
	assert.Equal(t, 1500, saved.AwardedPoints)
	assert.Equal(t, 1500, saved.Score)
	assert.Equal(t, 500, saved.Bonus)

	var progress realtime.AnswerProgress
	require.NoError(t, json.Unmarshal(msgs[realtime.TypeAnswerProgress], &progress))
	assert.Equal(t, realtime.AnswerProgress{Type: realtime.TypeAnswerProgress, QuestionID: 10, AnsweredCount: 1, TotalPlayers: 2}, progress)

	fx.read(t, watcher, &progress)
	assert.Equal(t, 1, progress.AnsweredCount)

	// Duplicate.
	fx.write(t, ws, `{"type":"answer","question_id":"10","option_id":102}`)
	msgs = fx.readTypes(t, ws, realtime.TypeAnswerSaved, realtime.TypeAnswerProgress)

	var again realtime.AlreadyAnswered
	require.NoError(t, json.Unmarshal(msgs[realtime.TypeAnswerSaved], &again))
	assert.True(t, again.AlreadyAnswered)
	assert.Equal(t, 1500, again.AwardedPoints)

	// Malformed frames do not end the socket.
	tests := map[string]struct {
		frame string
		code  string
	}{
		"not json":         {frame: `{`, code: "invalid_argument"},
		"bad question id":  {frame: `{"type":"answer","question_id":"x","option_id":1}`, code: "invalid_argument"},
		"no options":       {frame: `{"type":"answer","question_id":10,"option_ids":[]}`, code: "invalid_argument"},
		"missing options":  {frame: `{"type":"answer","question_id":10}`, code: "invalid_argument"},
		"unknown question": {frame: `{"type":"answer","question_id":99,"option_id":1}`, code: "failed_precondition"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fx.write(t, ws, tt.frame)

			var e realtime.Error
			fx.read(t, ws, &e)
			assert.Equal(t, realtime.TypeError, e.Type)
			assert.Equal(t, tt.code, e.Code)
		})
	}

	// Other messages are ignored.
	fx.write(t, ws, `{"type":"ping"}`)

	fx.write(t, watcher, `{"type":"answer","question_id":10,"option_id":101}`)
	var e realtime.Error
	require.NoError(t, json.Unmarshal(fx.readUntil(t, watcher, realtime.TypeError), &e))
	assert.Equal(t, "unauthenticated", e.Code, "watchers cannot answer")

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		p, err := fx.store.GetPlayer(ctx, joined.Player.SessionID, joined.Player.ID)
		return err == nil && !p.IsConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSockets_Close(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	joined := fx.join(t, "c1", "ada")

	hdr := http.Header{"Cookie": {realtime.PlayerCookie + "=" + joined.Token}}
	ws := fx.dial(t, "/ws/live/"+fx.pin+"/play", hdr)

	require.Eventually(t, func() bool {
		p, err := fx.store.GetPlayer(ctx, joined.Player.SessionID, joined.Player.ID)
		return err == nil && p.IsConnected
	}, 2*time.Second, 10*time.Millisecond)

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, fx.sockets.Close(closeCtx))

	// Handlers are done once Close returns.
	p, err := fx.store.GetPlayer(ctx, joined.Player.SessionID, joined.Player.ID)
	require.NoError(t, err)
	assert.False(t, p.IsConnected)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(fx.url("/ws/live/"+fx.pin+"/play"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type fixture struct {
	srv     *httptest.Server
	sockets *realtime.Sockets
	store   *memory.Store
	session *session.Service
	player  *player.Service
	pin     string
}

func newFixture(t *testing.T) *fixture {
	bank := questionbank.NewMemory()
	bank.Put(questionbank.ExamRecord{ID: 1, AuthorRef: host},
		questionbank.QuestionRecord{ID: 10, Order: 1, Text: "2 + 2", Options: []questionbank.OptionRecord{
			{ID: 101, Text: "4", IsCorrect: true},
			{ID: 102, Text: "5"},
		}},
	)

	eb := event.NewBus()
	st := memory.New()
	hub := realtime.NewHub()

	// Freeze time at the start of the window so the speed bonus is predictable.
	now := time.Now()
	clock := func() time.Time { return now }

	fx := &fixture{store: st}
	fx.session = session.NewService(session.Config{EventBus: eb, Store: st, Bank: bank, Now: clock})
	fx.player = player.NewService(player.Config{
		EventBus: eb,
		Store:    st,
		Tokens:   token.NewIssuer(token.Config{Secret: "s3cret"}),
	})
	sc := score.NewService(score.Config{EventBus: eb, Store: st, Bank: bank, Now: clock})

	realtime.NewFanout(realtime.FanoutConfig{EventBus: eb, Publisher: realtime.NewLocalPublisher(hub)})

	sockets := realtime.NewSockets(realtime.SocketConfig{Hub: hub, Session: fx.session, Player: fx.player, Score: sc})
	fx.sockets = sockets

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/live/{pin}/lobby", func(w http.ResponseWriter, r *http.Request) {
		sockets.Lobby(w, r, r.PathValue("pin"))
	})
	mux.HandleFunc("GET /ws/live/{pin}/play", func(w http.ResponseWriter, r *http.Request) {
		sockets.Play(w, r, r.PathValue("pin"))
	})

	fx.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		fx.srv.Close()
		eb.Stop()
	})

	ss, err := fx.session.CreateSession(context.Background(), session.CreateSessionRequest{ExamID: 1, HostRef: host})
	require.NoError(t, err)
	fx.pin = ss.Pin

	return fx
}

func (fx *fixture) url(path string) string {
	return "ws" + strings.TrimPrefix(fx.srv.URL, "http") + path
}

func (fx *fixture) dial(t *testing.T, path string, hdr http.Header) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(fx.url(path), hdr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	return ws
}

func (fx *fixture) join(t *testing.T, clientID, nickname string) *player.JoinResponse {
	t.Helper()

	resp, err := fx.player.Join(context.Background(), player.JoinRequest{Pin: fx.pin, ClientID: clientID, Nickname: nickname})
	require.NoError(t, err)

	return resp
}

func (fx *fixture) write(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (fx *fixture) read(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(v))
}

// readUntil skips messages until one of type typ arrives.
func (fx *fixture) readUntil(t *testing.T, ws *websocket.Conn, typ string) []byte {
	t.Helper()

	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, b, err := ws.ReadMessage()
		require.NoError(t, err)

		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(b, &head))

		if head.Type == typ {
			return b
		}
	}
}

// readTypes reads until one message of each type has arrived. A private reply and a
// broadcast may arrive in any order.
func (fx *fixture) readTypes(t *testing.T, ws *websocket.Conn, types ...string) map[string][]byte {
	t.Helper()

	got := make(map[string][]byte)
	for len(got) < len(types) {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, b, err := ws.ReadMessage()
		require.NoError(t, err)

		var head struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(b, &head))
		require.Contains(t, types, head.Type)

		got[head.Type] = b
	}

	return got
}
