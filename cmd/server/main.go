package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"branchledger/backend/internal/cache"
	"branchledger/backend/internal/config"
	"branchledger/backend/internal/httpapi"
	"branchledger/backend/internal/ledger"
	"branchledger/backend/internal/logger"
	"branchledger/backend/internal/service"
	"branchledger/backend/internal/store"
	"branchledger/backend/internal/store/memory"
	pgstore "branchledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	lg := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Logger = lg

	if err := validateSecurityConfig(cfg); err != nil {
		lg.Fatal().Err(err).Msg("invalid security configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		lg.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			lg.Fatal().Err(err).Msg("schema migration failed")
		}
		pg.SetLockTimeout(cfg.LockTimeout())
		repo = pg
		closers = append(closers, pg.Close)
		lg.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		lg.Info().Str("repository", "memory").Msg("repository ready")
	}

	summaries := cache.TraySummaryCache(cache.NoopTraySummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisTraySummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			lg.Warn().Err(err).Msg("redis unavailable, tray summary is not cached")
			_ = redisCache.Close()
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			lg.Info().Str("cache", "redis").Msg("tray summary cache ready")
		}
	}

	l := ledger.New(repo, ledger.Options{
		Logger:      lg,
		MaxRetries:  cfg.TxMaxRetries,
		RetryBase:   cfg.TxRetryBase(),
		Concurrency: cfg.BulkConcurrency,
	})
	svc := service.New(repo, l, summaries, service.Options{
		Logger:     lg,
		Location:   loc,
		SummaryTTL: cfg.SummaryCacheTTL(),
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	if cfg.DatabaseURL != "" {
		created, err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
		if err != nil {
			lg.Warn().Err(err).Msg("no admin account available; set BOOTSTRAP_ADMIN_PASSWORD")
		} else if created {
			lg.Info().Str("username", cfg.BootstrapAdminUsername).Msg("bootstrap admin account created")
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, lg)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if interval := cfg.ConsistencyCheckInterval(); interval > 0 {
		checker := ledger.NewChecker(l, interval, svc.RecordDivergence)
		go checker.Run(runCtx)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          newServerErrorLog(lg),
	}

	go func() {
		lg.Info().Str("addr", cfg.Address()).Str("timezone", loc.String()).Msg("branch ledger listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stopRun()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			lg.Error().Err(err).Msg("close error")
		}
	}

	lg.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated digits, straight runs and a short list
// of common PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "159753": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}

// serverLogWriter routes net/http's internal error log through zerolog.
type serverLogWriter struct {
	log zerolog.Logger
}

func (w serverLogWriter) Write(p []byte) (int, error) {
	w.log.Warn().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

func newServerErrorLog(lg zerolog.Logger) *stdlog.Logger {
	return stdlog.New(serverLogWriter{log: lg.With().Str("component", "http-server").Logger()}, "", 0)
}
