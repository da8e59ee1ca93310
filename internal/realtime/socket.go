package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	replyBuffer    = 16

	// PlayerCookie holds the player token on the play socket handshake.
	PlayerCookie = "live_player_token"
)

type SocketConfig struct {
	Hub     *Hub
	Session *session.Service
	Player  *player.Service
	Score   *score.Service
	// CheckOrigin reports whether a browser origin may open a socket. Nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// Sockets serves the lobby and play sockets of a session.
type Sockets struct {
	hub      *Hub
	session  *session.Service
	player   *player.Service
	score    *score.Service
	upgrader websocket.Upgrader

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewSockets(c SocketConfig) *Sockets {
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}

	return &Sockets{
		hub:     c.Hub,
		session: c.Session,
		player:  c.Player,
		score:   c.Score,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
	}
}

// Lobby streams presence updates of a session and the game start signal. The current
// presence is pushed right after the handshake. Inbound messages are ignored.
func (s *Sockets) Lobby(w http.ResponseWriter, r *http.Request, pin string) {
	ctx := r.Context()

	if !s.track() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	// Subscribed before the snapshot is taken, so no later update is missed.
	sub := s.hub.Subscribe(pin, AudienceLobby)

	lobby, err := s.session.Lobby(ctx, pin)
	if err != nil {
		sub.Close()
		writeHTTPError(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.WarnContext(ctx, "realtime: upgrade failed", "error", err)
		return
	}

	c := newConn(ws, sub, AudienceLobby)
	c.reply(LobbyState{Type: TypeLobbyState, Count: lobby.Count, Players: nonNil(lobby.Players)})
	c.serve(func([]byte) {})
}

// Play streams the game of a session and accepts answers. A player authenticates with the
// token of its join, from the PlayerCookie cookie or the token query parameter. Sockets
// without a token only watch.
func (s *Sockets) Play(w http.ResponseWriter, r *http.Request, pin string) {
	ctx := r.Context()

	if !s.track() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	if _, err := s.session.Find(ctx, pin); err != nil {
		writeHTTPError(w, err)
		return
	}

	tok := r.URL.Query().Get("token")
	if ck, err := r.Cookie(PlayerCookie); err == nil && ck.Value != "" {
		tok = ck.Value
	}

	sub := s.hub.Subscribe(pin, AudiencePlay)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		slog.WarnContext(ctx, "realtime: upgrade failed", "error", err)
		return
	}

	// The request context ends with the handshake.
	ctx = context.WithoutCancel(ctx)

	if tok != "" {
		if p, err := s.player.Authenticate(ctx, pin, tok); err == nil {
			s.setConnected(ctx, p, true)
			defer s.setConnected(ctx, p, false)
		}
	}

	c := newConn(ws, sub, AudiencePlay)
	c.serve(func(msg []byte) {
		s.handleAnswer(ctx, c, pin, tok, msg)
	})
}

// Close ends every open socket and waits, up to ctx, for their handlers to return.
// Sockets opened afterwards are refused.
func (s *Sockets) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sockets) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.wg.Add(1)

	return true
}

type answerFrame struct {
	QuestionID json.Number   `json:"question_id"`
	OptionIDs  []json.Number `json:"option_ids"`
	OptionID   json.Number   `json:"option_id"`
	AnswerMs   json.Number   `json:"answer_ms"`
}

func (s *Sockets) handleAnswer(ctx context.Context, c *conn, pin, tok string, msg []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		c.replyError(errors.InvalidArgument("bad payload"))
		return
	}

	if head.Type != TypeAnswer {
		return
	}

	var f answerFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.replyError(errors.InvalidArgument("bad payload"))
		return
	}

	if tok == "" {
		c.replyError(errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing token")))
		return
	}

	req, err := parseAnswer(f)
	if err != nil {
		c.replyError(err)
		return
	}

	// The token is checked again for every answer: it may have expired since the handshake.
	p, err := s.player.Authenticate(ctx, pin, tok)
	if err != nil {
		c.replyError(err)
		return
	}

	req.Pin, req.PlayerID, req.ClientID = pin, p.ID, p.ClientID

	resp, err := s.score.SubmitAnswer(ctx, req)
	if err != nil {
		c.replyError(err)
		return
	}

	if resp.AlreadyAnswered {
		c.reply(AlreadyAnswered{
			Type:            TypeAnswerSaved,
			QuestionID:      req.QuestionID,
			AlreadyAnswered: true,
			Message:         "already answered",
			IsCorrect:       resp.IsCorrect,
			AwardedPoints:   resp.AwardedPoints,
			Score:           resp.Score,
		})
		return
	}

	res := resp.Result
	c.reply(AnswerSaved{
		Type:          TypeAnswerSaved,
		QuestionID:    req.QuestionID,
		IsCorrect:     res.IsCorrect,
		Fraction:      res.Fraction.Round(4).InexactFloat64(),
		PickedCorrect: res.PickedCorrect,
		PickedWrong:   res.PickedWrong,
		CorrectTotal:  res.CorrectTotal,
		AwardedPoints: res.Awarded,
		Base:          res.Base,
		Bonus:         res.Bonus,
		Score:         resp.Score,
	})
}

// parseAnswer accepts either option_ids or a single option_id.
func parseAnswer(f answerFrame) (score.SubmitAnswerRequest, error) {
	var req score.SubmitAnswerRequest

	bad := errors.InvalidArgument("bad payload")

	qid, err := f.QuestionID.Int64()
	if err != nil {
		return req, bad
	}
	req.QuestionID = qid

	if f.AnswerMs != "" {
		ms, err := f.AnswerMs.Int64()
		if err != nil {
			return req, bad
		}
		req.AnswerMs = int(ms)
	}

	switch {
	case f.OptionIDs != nil:
		for _, n := range f.OptionIDs {
			id, err := n.Int64()
			if err != nil {
				return req, bad
			}
			req.OptionIDs = append(req.OptionIDs, id)
		}
	case f.OptionID != "":
		id, err := f.OptionID.Int64()
		if err != nil {
			return req, bad
		}
		req.OptionIDs = []int64{id}
	default:
		return req, errors.InvalidArgument("no options selected")
	}

	return req, nil
}

func (s *Sockets) setConnected(ctx context.Context, p *domain.Player, connected bool) {
	if err := s.player.SetConnected(ctx, p, connected); err != nil {
		slog.WarnContext(ctx, "realtime: update presence failed", "player", p.ID, "error", err)
	}
}

// conn pumps one socket: hub messages and private replies go out through a single writer,
// inbound frames are handled one at a time by the reader.
type conn struct {
	ws       *websocket.Conn
	sub      *Subscriber
	audience Audience
	out      chan []byte
	done     chan struct{}
	wdone    chan struct{}
}

func newConn(ws *websocket.Conn, sub *Subscriber, a Audience) *conn {
	telemetry.OpenSockets.WithLabelValues(string(a)).Inc()

	return &conn{
		ws:       ws,
		sub:      sub,
		audience: a,
		out:      make(chan []byte, replyBuffer),
		done:     make(chan struct{}),
		wdone:    make(chan struct{}),
	}
}

func (c *conn) serve(handle func(msg []byte)) {
	go func() {
		defer close(c.wdone)
		c.writeLoop()
	}()

	c.readLoop(handle)

	close(c.done)
	c.sub.Close()
	<-c.wdone

	_ = c.ws.Close()
	telemetry.OpenSockets.WithLabelValues(string(c.audience)).Dec()
}

func (c *conn) readLoop(handle func(msg []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("realtime: read failed", "error", err)
			}
			return
		}

		handle(msg)
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(typ int, b []byte) bool {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(typ, b); err != nil {
			// Unblocks the reader.
			_ = c.ws.Close()
			return false
		}
		return true
	}

	for {
		select {
		case b := <-c.out:
			if !write(websocket.TextMessage, b) {
				return
			}
		case b, ok := <-c.sub.C:
			if !ok {
				select {
				case <-c.done:
					return
				default:
				}

				// Dropped by the hub.
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.sub.closeCode, c.sub.closeText),
					time.Now().Add(writeWait))
				_ = c.ws.Close()
				return
			}
			if !write(websocket.TextMessage, b) {
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			return
		}
	}
}

// reply queues a private message for this socket only.
func (c *conn) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("realtime: marshal reply failed", "error", err)
		return
	}

	select {
	case c.out <- b:
	case <-c.done:
	case <-c.wdone:
	}
}

func (c *conn) replyError(err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.Error("realtime: handle message failed", "error", err)
	}

	c.reply(Error{Type: TypeError, Code: e.Reason(), Message: e.Message})
}

func writeHTTPError(w http.ResponseWriter, err error) {
	e := errors.Convert(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "code": e.Reason(), "message": e.Message})
}
