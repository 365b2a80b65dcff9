package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sonastea/questbot/pkg/config"
	"github.com/sonastea/questbot/pkg/handler"
	"github.com/sonastea/questbot/pkg/hub"
	"github.com/sonastea/questbot/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.Named("server")

const shutdownTimeout = 30 * time.Second

type Server struct {
	cfg        *config.Config
	server     *http.Server
	redis      *redis.Client
	hub        *hub.Hub
	serverName string
}

// Option is a functional option for configuring the Server
type Option func(*Server) error

// WithRedis adds Redis client to the server
func WithRedis(client *redis.Client) Option {
	return func(s *Server) error {
		s.redis = client
		return nil
	}
}

// WithHub enables the WebSocket hub for live dashboard updates
func WithHub(h *hub.Hub) Option {
	return func(s *Server) error {
		s.hub = h
		return nil
	}
}

// WithApiHandler configures the server with REST API handlers
func WithApiHandler(apiHandler *handler.ApiHandler) Option {
	return func(s *Server) error {
		router := s.server.Handler.(*http.ServeMux)
		api := http.NewServeMux()

		api.HandleFunc("/boss", apiHandler.BossStatus)
		api.HandleFunc("/boss/history", apiHandler.BossHistory)
		api.HandleFunc("/boss/attack", apiHandler.AttackBoss)

		api.HandleFunc("/pvp/challenge", apiHandler.Challenge)
		api.HandleFunc("/pvp/accept", apiHandler.AcceptChallenge)
		api.HandleFunc("/pvp/decline", apiHandler.DeclineChallenge)
		api.HandleFunc("/pvp/cancel", apiHandler.CancelChallenge)
		api.HandleFunc("/pvp/attack", apiHandler.PvPAttack)
		api.HandleFunc("/pvp/forfeit", apiHandler.Forfeit)
		api.HandleFunc("/pvp/toggle", apiHandler.SetPvP)

		api.HandleFunc("/profile", apiHandler.Profile)
		api.HandleFunc("/quest", apiHandler.CompleteQuest)
		api.HandleFunc("/equip", apiHandler.Equip)
		api.HandleFunc("/travel", apiHandler.Travel)
		api.HandleFunc("/leaderboard", apiHandler.GetLeaderboard)

		api.HandleFunc("/admin/servers", apiHandler.Admin(apiHandler.SetServer))
		api.HandleFunc("/admin/boss/spawn", apiHandler.Admin(apiHandler.SpawnBoss))
		api.HandleFunc("/admin/boss/clear", apiHandler.Admin(apiHandler.ClearBoss))

		router.Handle("/api/", enableCors(http.StripPrefix("/api", api), s.cfg.AllowedOrigins, s.cfg.Debug))
		return nil
	}
}

// WithWebSocket configures the server with WebSocket endpoint
func WithWebSocket(path string, upgrader websocket.Upgrader) Option {
	return func(s *Server) error {
		if s.hub == nil {
			return errors.New("websocket route needs a hub")
		}

		router := s.server.Handler.(*http.ServeMux)
		router.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				log.Debug("Websocket upgrade failed: %v", err)
				return
			}

			if err := hub.NewClient(s.hub, conn); err != nil {
				log.Warn("Failed to register websocket client: %v", err)
				return
			}
		})
		return nil
	}
}

// NewServer creates a new server with functional options
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	router := http.NewServeMux()
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s := &Server{
		cfg:        cfg,
		server:     srv,
		serverName: "questbot api server",
	}

	// Apply all options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	router.HandleFunc("/healthcheck", s.healthcheckHandler)
	if s.hub != nil {
		s.serverName = "questbot server"
	}
	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func enableCors(h http.Handler, origins []string, debug bool) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		Debug:            debug,
	})

	return c.Handler(h)
}

// healthcheckHandler reports unhealthy when redis is configured but unreachable.
func (s *Server) healthcheckHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("redis unavailable\n"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// Run serves until ctx is done, then drains connections for up to 30 seconds.
// The hub, when configured, runs for the same lifetime.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.hub != nil {
		g.Go(func() error {
			s.hub.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down %s . . .", s.serverName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("%s shutdown complete.", s.serverName)
		return nil
	})

	g.Go(func() error {
		id := time.Now().Format("20060102-150405")

		resetColor := "\033[0m"
		blueColor := "\033[94m"
		boldText := "\033[1m"

		log.Info("[ID: %s%s%s%s] %s listening on %s",
			boldText, blueColor, id, resetColor, s.serverName, s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
