// Command gateway runs the direct-message WebSocket gateway and its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/whisper/dm-gateway/internal/api"
	"github.com/whisper/dm-gateway/internal/chat"
	"github.com/whisper/dm-gateway/internal/config"
	"github.com/whisper/dm-gateway/internal/gateway"
	"github.com/whisper/dm-gateway/internal/identity"
	"github.com/whisper/dm-gateway/internal/logging"
	"github.com/whisper/dm-gateway/internal/messaging"
	"github.com/whisper/dm-gateway/internal/presence"
	"github.com/whisper/dm-gateway/internal/ratelimit"
	"github.com/whisper/dm-gateway/internal/registry"
	"github.com/whisper/dm-gateway/internal/storage/kvstore"
	"github.com/whisper/dm-gateway/internal/storage/pgstore"
	"github.com/whisper/dm-gateway/internal/ws"
)

func main() {
	envFile := pflag.String("env-file", "", "load variables from this dotenv file first")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	if err := run(*envFile, *migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string, migrateOnly bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(cfg.LogLevel, "dm-gateway")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreDriver == config.DriverPostgres {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("migrations applied")
	}
	if migrateOnly {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Redis ---
	var (
		directory identity.Directory
		limiter   *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		directory = identity.NewRedisDirectory(rdb)
		if cfg.RateLimitMessages > 0 {
			limiter = ratelimit.NewLimiter(rdb, log)
		}
	}

	// --- NATS ---
	var events messaging.Publisher
	if natsCfg, ok := cfg.NATS(); ok {
		nc, err := messaging.NewNATSClient(natsCfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		events = nc
	}

	reg := registry.New()
	defer reg.Close()

	svc := chat.NewService(store, reg, log, chat.WithPublisher(events))
	pres := presence.NewBroadcaster(reg, directory, events, log)

	var gwLimiter gateway.Limiter
	var apiLimiter api.Limiter
	if limiter != nil {
		gwLimiter, apiLimiter = limiter, limiter
	}
	gw := gateway.New(cfg.Gateway(), reg, svc, pres, gwLimiter, log)

	auth := identity.NewJWTAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	dispatcher := ws.NewMessageDispatcher(log)
	server := ws.NewServer(cfg.Server(), auth, dispatcher.Dispatch, log)
	gw.Attach(server, dispatcher)

	server.SetHandler(api.NewRouter(api.Config{
		Auth:    auth,
		History: svc,
		Limiter: apiLimiter,
		Status:  server,
		Upgrade: server.HandleUpgrade,
		Log:     log,
	}))

	log.Info("gateway starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("store", cfg.StoreDriver),
		zap.String("server_name", cfg.ServerName),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("events", events != nil))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// openStore opens the configured chat.Store and returns its close function.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (chat.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		s, err := kvstore.Open(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("badger store opened", zap.String("path", cfg.BadgerPath))
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := pgstore.Open(ctx, pgstore.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}
		log.Info("postgres store opened")
		return s, func() { _ = s.Close() }, nil
	}
}
