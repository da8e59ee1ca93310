package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/export"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/realtime"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/token"
)

type Config struct {
	GRPC   *grpc.Server
	Router gin.IRouter

	Session *session.Service
	Player  *player.Service
	Export  *export.Service
	Sockets *realtime.Sockets
	Tokens  *token.Issuer

	// PublicURL is the scheme and host players reach the service on. Empty falls back to
	// the host of the request.
	PublicURL string
	// SecureCookies marks the identity cookies as HTTPS only.
	SecureCookies bool
}

type API struct {
	qss     *session.Service
	ps      *player.Service
	exports *export.Service
	sockets *realtime.Sockets
	tokens  *token.Issuer

	publicURL     string
	secureCookies bool
}

func New(c Config) *API {
	a := &API{
		qss:           c.Session,
		ps:            c.Player,
		exports:       c.Export,
		sockets:       c.Sockets,
		tokens:        c.Tokens,
		publicURL:     strings.TrimRight(c.PublicURL, "/"),
		secureCookies: c.SecureCookies,
	}

	// gRPC APIs
	if c.GRPC != nil {
		registerHostControl(c.GRPC, &hostControl{qss: a.qss})
	}

	// HTTP APIs
	if c.Router != nil {
		a.routes(c.Router)
	}

	return a
}

func (a *API) routes(r gin.IRouter) {
	live := r.Group("/api/live")
	live.POST("/sessions", a.requireHost, a.CreateSession)
	live.GET("/:pin/state", a.State)
	live.GET("/:pin/lobby", a.Lobby)
	live.POST("/:pin/join", a.Join)
	live.GET("/:pin/qr.png", a.QR)

	host := live.Group("/:pin/host", a.requireHost)
	host.POST("/start", a.Start)
	host.POST("/next", a.Next)
	host.POST("/reveal", a.Reveal)
	host.POST("/finish", a.Finish)
	host.POST("/lock", a.Lock)
	host.GET("/export.xlsx", a.Export)

	ws := r.Group("/ws/live")
	ws.GET("/:pin/lobby", func(c *gin.Context) {
		a.sockets.Lobby(c.Writer, c.Request, c.Param("pin"))
	})
	ws.GET("/:pin/play", func(c *gin.Context) {
		a.sockets.Play(c.Writer, c.Request, c.Param("pin"))
	})
}

// JoinPath is the page a player joins a session from.
func JoinPath(pin string) string {
	return fmt.Sprintf("/live/%s/join", pin)
}

func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true

	c.JSON(http.StatusOK, body)
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"ok":      false,
		"code":    e.Reason(),
		"message": e.Message,
	})
}
