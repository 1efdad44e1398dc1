package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/bitebox/internal/authclient"
	"github.com/Clark-Hu/bitebox/internal/config"
	"github.com/Clark-Hu/bitebox/internal/events"
	"github.com/Clark-Hu/bitebox/internal/gate"
	httpserver "github.com/Clark-Hu/bitebox/internal/http"
	"github.com/Clark-Hu/bitebox/internal/metrics"
	"github.com/Clark-Hu/bitebox/internal/profilecache"
	"github.com/Clark-Hu/bitebox/internal/repository"
	"github.com/Clark-Hu/bitebox/internal/role"
	"github.com/Clark-Hu/bitebox/internal/session"
	"github.com/Clark-Hu/bitebox/internal/store"
)

func main() {
	grantAdmins := pflag.StringSlice("grant-admin", nil, "user ids to make administrators; the server exits after granting")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(*grantAdmins) > 0 {
		if err := grant(ctx, cfg, logger, *grantAdmins); err != nil {
			logger.Fatal("grant admin", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("bitebox stopped", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*store.Store, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
}

// grant adds admin rows for userIDs and returns.
func grant(ctx context.Context, cfg config.Config, logger *zap.Logger, userIDs []string) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	admins := repository.New(st).Admins
	for _, id := range userIDs {
		if err := admins.Grant(ctx, id); err != nil {
			return err
		}
		logger.Info("granted admin", zap.String("user_id", id))
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	auth, err := authclient.NewHTTPClient(cfg.AuthURL, cfg.AuthAPIKey, time.Duration(cfg.AuthTimeoutSecs)*time.Second, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.EventBuffer, logger)
	bus.OnDrop(m.IncEventsDropped)

	profiles, closeProfiles, err := newProfileCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeProfiles()

	repo := repository.New(st)
	sessions := session.NewCookieProvider(auth, session.Options{
		JWTSecret:     cfg.AuthJWTSecret,
		Leeway:        time.Duration(cfg.RefreshLeewaySecs) * time.Second,
		SecureCookies: cfg.CookieSecure,
		Events:        bus,
		Metrics:       m,
		Logger:        logger,
	})

	rules := gate.DefaultRules()
	rules.MobileTokens = cfg.MobileTokens
	checker := role.NewChecker(repo.Admins, 2*time.Second, logger, m)

	server := httpserver.New(httpserver.Deps{
		Config:   cfg,
		Health:   st,
		Repo:     repo,
		Auth:     auth,
		Sessions: sessions,
		Gate:     gate.New(rules, sessions, checker, logger, m),
		Profiles: profiles,
		Events:   bus,
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(gctx, profilecache.NewInvalidator(profiles, logger))
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		err := server.Start(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		logger.Warn("graceful shutdown error", zap.Error(serr))
	}
	return err
}

// newProfileCache uses Redis when REDIS_URL is set and an in-process cache
// otherwise.
func newProfileCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (profilecache.Cache, func(), error) {
	ttl := time.Duration(cfg.ProfileCacheSecs) * time.Second
	if cfg.RedisURL == "" {
		logger.Info("profile cache: in-memory")
		return profilecache.NewMemory(ttl), func() {}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := profilecache.NewRedisClient(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("profile cache: redis")
	return profilecache.NewRedis(client, ttl), func() { _ = client.Close() }, nil
}
