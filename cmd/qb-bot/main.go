package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sonastea/questbot/pkg/arena"
	"github.com/sonastea/questbot/pkg/boss"
	"github.com/sonastea/questbot/pkg/catalog"
	"github.com/sonastea/questbot/pkg/clock"
	"github.com/sonastea/questbot/pkg/config"
	db "github.com/sonastea/questbot/pkg/database"
	"github.com/sonastea/questbot/pkg/handler"
	"github.com/sonastea/questbot/pkg/hub"
	"github.com/sonastea/questbot/pkg/leaderboard"
	"github.com/sonastea/questbot/pkg/logger"
	"github.com/sonastea/questbot/pkg/notify"
	"github.com/sonastea/questbot/pkg/repository"
	"github.com/sonastea/questbot/pkg/server"
	"github.com/sonastea/questbot/pkg/service"
	"github.com/sonastea/questbot/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Fatal("questbot: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg := &config.Config{}
	if err := cfg.Load(os.Args[1:]); err != nil {
		return err
	}
	cfg.RedisOpts = config.NewRedisOpts(cfg.RedisURL)

	if err := logger.SetLevelFromString(cfg.LogLevel); err != nil {
		logger.Warn("Invalid LOG_LEVEL %q, keeping %s", cfg.LogLevel, logger.GetLevelName())
	}

	shutdownTracing, err := telemetry.Setup(ctx, "questbot", cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := redis.NewClient(cfg.RedisOpts)
	defer redisClient.Close()

	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return err
	}

	sink := notify.Multi{notify.NewLogSink(), notify.NewPublisher(redisClient)}
	board := leaderboard.New(store, redisClient)

	bosses := boss.New(store, cat, sink, board, cfg.Game.Boss)
	pvp := arena.New(store, cat, sink, board, cfg.Game.Arena)
	gameService := service.NewGameService(store, bosses, pvp, board, cat, clock.Real{})

	liveHub := hub.New(redisClient)
	srv, err := server.NewServer(
		cfg,
		server.WithRedis(redisClient),
		server.WithHub(liveHub),
		server.WithApiHandler(handler.NewApiHandler(gameService, cfg.AdminToken)),
		server.WithWebSocket("/live", newUpgrader(cfg)),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bosses.Start(ctx)
		<-ctx.Done()
		bosses.Stop()
		return nil
	})

	g.Go(func() error {
		return cat.Watch(ctx, func() {
			logger.Info("Catalog reloaded from %s", cfg.CatalogDir)
		})
	})

	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return repository.OpenSQLite(cfg.SQLitePath)
	case config.StorePostgres:
		pool, err := db.NewConnPool(ctx, cfg.DBConnURI)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(pool), nil
	default:
		return nil, errors.New("STORE must be postgres or sqlite")
	}
}

// newUpgrader only accepts dashboards served from an allowed origin.
func newUpgrader(cfg *config.Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cfg.Debug || slices.Contains(cfg.AllowedOrigins, origin)
		},
	}
}
