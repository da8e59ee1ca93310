package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/export"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/questionbank"
	"github.com/victornm/livequiz/internal/realtime"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/store/memory"
	"github.com/victornm/livequiz/internal/store/postgres"
	"github.com/victornm/livequiz/internal/telemetry"
	"github.com/victornm/livequiz/internal/token"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	// Storage is postgres or memory.
	Storage string

	Redis struct {
		// Enabled turns on the question cache and the cross-instance relay.
		Enabled bool
		Addrs   []string
		Pass    string
		Prefix  string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Token struct {
		Secret    string
		PlayerTTL time.Duration
	}

	Quiz struct {
		QuestionCacheTTL time.Duration
		PublicURL        string
		SecureCookies    bool
	}

	CORS struct {
		AllowOrigins []string
	}

	// Memory seeds the question bank in memory storage.
	Memory struct {
		Exams []MemoryExam
	}
}

type MemoryExam struct {
	Exam      questionbank.ExamRecord
	Questions []questionbank.QuestionRecord
}

// PostgresDSN returns the connection URL of the Postgres section.
func (c Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Postgres.User, c.Postgres.Pass),
		Host:   c.Postgres.Addr,
		Path:   "/" + c.Postgres.Name,
	}

	return u.String()
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	store   store.Store
	bank    questionbank.Bank
	tokens  *token.Issuer
	hub     *realtime.Hub
	relay   *realtime.Relay
	sockets *realtime.Sockets

	service struct {
		session *session.Service
		player  *player.Service
		score   *score.Service
		export  *export.Service
	}

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	if c.Token.Secret == "" {
		return nil, fmt.Errorf("server: token secret is not set")
	}

	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initStorage()
	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if s.c.Redis.Enabled {
		if err := s.initRedis(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	switch s.c.Storage {
	case StoragePostgres, "":
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q", s.c.Storage)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(s.c.PostgresDSN())
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initStorage() {
	if s.infra.postgres != nil {
		s.store = postgres.New(s.infra.postgres)
		s.bank = questionbank.NewPostgres(s.infra.postgres)
	} else {
		m := questionbank.NewMemory()
		for _, e := range s.c.Memory.Exams {
			m.Put(e.Exam, e.Questions...)
		}

		s.store = memory.New()
		s.bank = m
	}

	if s.infra.redis != nil {
		s.bank = questionbank.NewCache(questionbank.CacheConfig{
			Bank:   s.bank,
			Redis:  s.infra.redis,
			Prefix: s.c.Redis.Prefix,
			TTL:    s.c.Quiz.QuestionCacheTTL,
		})
	}
}

func (s *Server) initService() {
	s.tokens = token.NewIssuer(token.Config{
		Secret:    s.c.Token.Secret,
		PlayerTTL: s.c.Token.PlayerTTL,
	})

	s.service.session = session.NewService(session.Config{
		EventBus: s.eb,
		Store:    s.store,
		Bank:     s.bank,
	})

	s.service.player = player.NewService(player.Config{
		EventBus: s.eb,
		Store:    s.store,
		Tokens:   s.tokens,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Store:    s.store,
		Bank:     s.bank,
	})

	s.service.export = export.NewService(export.Config{
		Store: s.store,
		Bank:  s.bank,
	})

	// Each instance delivers to its own sockets. With Redis, every message goes through
	// the relay so sockets on other instances get it too.
	s.hub = realtime.NewHub()

	var pub realtime.Publisher = realtime.NewLocalPublisher(s.hub)
	if s.infra.redis != nil {
		pub = realtime.NewRedisPublisher(s.infra.redis, s.c.Redis.Prefix)
		s.relay = realtime.NewRelay(s.infra.redis, s.c.Redis.Prefix, s.hub)
	}

	realtime.NewFanout(realtime.FanoutConfig{
		EventBus:  s.eb,
		Publisher: pub,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())
	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if len(s.c.CORS.AllowOrigins) > 0 {
		e.Use(cors.New(cors.Config{
			AllowOrigins:     s.c.CORS.AllowOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s.grpc = grpc.NewServer(
		telemetry.GRPCServerInterceptor(),
		grpc.ChainUnaryInterceptor(api.HostAuthInterceptor(s.tokens)),
	)

	s.sockets = realtime.NewSockets(realtime.SocketConfig{
		Hub:         s.hub,
		Session:     s.service.session,
		Player:      s.service.player,
		Score:       s.service.score,
		CheckOrigin: checkOrigin(s.c.CORS.AllowOrigins),
	})

	api.New(api.Config{
		GRPC:   s.grpc,
		Router: e,

		Session: s.service.session,
		Player:  s.service.player,
		Export:  s.service.export,
		Sockets: s.sockets,
		Tokens:  s.tokens,

		PublicURL:     s.c.Quiz.PublicURL,
		SecureCookies: s.c.Quiz.SecureCookies,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// checkOrigin admits same-origin sockets, clients that send no Origin and the CORS origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}

		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	if s.relay != nil {
		if err := s.relay.Start(ctx); err != nil {
			slog.ErrorContext(ctx, "server: start relay failed", "error", err)
			panic(err)
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port), "storage", s.c.Storage, "redis", s.c.Redis.Enabled)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Hijacked sockets outlive http.Server.Shutdown and still use the stores.
	if err := s.sockets.Close(ctx); err != nil {
		slog.ErrorContext(ctx, "server: close sockets failed", "error", err)
	}

	s.eb.Stop()

	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close relay failed", "error", err)
		}
	}

	if s.infra.redis != nil {
		_ = s.infra.redis.Close()
	}

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
