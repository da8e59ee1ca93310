package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/export"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/realtime"
	"github.com/victornm/livequiz/internal/session"
)

const (
	ClientCookie    = "live_client_id"
	clientCookieAge = 30 * 24 * time.Hour

	qrSize = 256
)

type createSessionBody struct {
	ExamID int64 `json:"exam_id"`
}

func (a *API) CreateSession(c *gin.Context) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ExamID <= 0 {
		abort(c, errors.InvalidArgument("exam_id is required"))
		return
	}

	ss, err := a.qss.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		ExamID:  body.ExamID,
		HostRef: hostRef(c),
	})
	if err != nil {
		abort(c, err)
		return
	}

	ok(c, gin.H{"pin": ss.Pin, "state": ss.State})
}

func (a *API) State(c *gin.Context) {
	st, err := a.qss.State(c.Request.Context(), c.Param("pin"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (a *API) Lobby(c *gin.Context) {
	l, err := a.qss.Lobby(c.Request.Context(), c.Param("pin"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

type joinBody struct {
	Nickname  string `json:"nickname"`
	AvatarKey string `json:"avatar_key"`
}

// Join admits the browser into the lobby. The browser keeps its client id across sessions
// in a cookie; the player token is set as an HTTP-only cookie and returned for clients that
// cannot use cookies on the socket.
func (a *API) Join(c *gin.Context) {
	var body joinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, errors.InvalidArgument("bad payload"))
		return
	}

	clientID, _ := c.Cookie(ClientCookie)

	resp, err := a.ps.Join(c.Request.Context(), player.JoinRequest{
		Pin:       c.Param("pin"),
		ClientID:  clientID,
		Nickname:  body.Nickname,
		AvatarKey: body.AvatarKey,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ClientCookie, resp.ClientID, int(clientCookieAge/time.Second), "/", "", a.secureCookies, false)
	c.SetCookie(realtime.PlayerCookie, resp.Token, int(time.Until(resp.TokenExpiresAt)/time.Second), "/", "", a.secureCookies, true)

	ok(c, gin.H{
		"player_id":  resp.Player.ID,
		"client_id":  resp.ClientID,
		"nickname":   resp.Player.Nickname,
		"avatar_key": resp.Player.AvatarKey,
		"token":      resp.Token,
		"created":    resp.Created,
	})
}

// QR renders the join link of a session as a PNG.
func (a *API) QR(c *gin.Context) {
	ss, err := a.qss.Find(c.Request.Context(), c.Param("pin"))
	if err != nil {
		abort(c, err)
		return
	}

	base := a.publicURL
	if base == "" {
		base = "http://" + c.Request.Host
	}

	png, err := qrcode.Encode(base+JoinPath(ss.Pin), qrcode.Medium, qrSize)
	if err != nil {
		abort(c, errors.Internal(err))
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

type startBody struct {
	// Count of questions to play. Omitted plays the whole exam.
	Count *int `json:"count"`
}

func (a *API) Start(c *gin.Context) {
	var body startBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			abort(c, errors.InvalidArgument("bad payload"))
			return
		}
	}

	resp, err := a.qss.StartGame(c.Request.Context(), session.StartGameRequest{
		Pin:     c.Param("pin"),
		HostRef: hostRef(c),
		Desired: body.Count,
	})
	if err != nil {
		abort(c, err)
		return
	}

	ok(c, gin.H{
		"state":          resp.Session.State,
		"question_count": resp.QuestionCount,
		"total_in_exam":  resp.TotalInExam,
	})
}

func (a *API) Next(c *gin.Context) {
	resp, err := a.qss.Advance(c.Request.Context(), a.hostRequest(c))
	if err != nil {
		abort(c, err)
		return
	}

	ok(c, gin.H{
		"state":    resp.Session.State,
		"finished": resp.Finished,
		"index":    resp.Index,
		"total":    resp.Total,
	})
}

func (a *API) Reveal(c *gin.Context) {
	resp, err := a.qss.Reveal(c.Request.Context(), a.hostRequest(c))
	if err != nil {
		abort(c, err)
		return
	}

	ok(c, gin.H{"state": resp.Session.State, "question_id": resp.QuestionID})
}

func (a *API) Finish(c *gin.Context) {
	ss, err := a.qss.Finish(c.Request.Context(), a.hostRequest(c))
	if err != nil {
		abort(c, err)
		return
	}

	ok(c, gin.H{"state": ss.State})
}

type lockBody struct {
	Locked *bool `json:"locked"`
}

func (a *API) Lock(c *gin.Context) {
	var body lockBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Locked == nil {
		abort(c, errors.InvalidArgument("locked is required"))
		return
	}

	ss, err := a.qss.SetLocked(c.Request.Context(), session.SetLockedRequest{
		Pin:     c.Param("pin"),
		HostRef: hostRef(c),
		Locked:  *body.Locked,
	})
	if err != nil {
		abort(c, err)
		return
	}

	ok(c, gin.H{"is_locked": ss.IsLocked})
}

func (a *API) Export(c *gin.Context) {
	ctx := c.Request.Context()

	ss, err := a.qss.Session(ctx, c.Param("pin"), hostRef(c))
	if err != nil {
		abort(c, err)
		return
	}

	var buf bytes.Buffer
	if err := a.exports.Write(ctx, ss, &buf); err != nil {
		abort(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="live-%s.xlsx"`, ss.Pin))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

func (a *API) hostRequest(c *gin.Context) session.HostRequest {
	return session.HostRequest{Pin: c.Param("pin"), HostRef: hostRef(c)}
}
