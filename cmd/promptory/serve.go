package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promptory/internal/config"
	"promptory/internal/db"
	"promptory/internal/handlers"
	"promptory/internal/metrics"
	"promptory/internal/realtime"
	"promptory/internal/router"
	"promptory/internal/rpc"
	"promptory/internal/services"
	"promptory/internal/store"
	"promptory/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	serveMemory  bool
	serveMigrate bool
	servePort    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Promptory HTTP server.

The server provides the prompt and collection pages, the rpc endpoint under
/api/rpc, the change stream under /api/events and /healthz.

Examples:
  promptory serve                 # Postgres from DATABASE_URL
  promptory serve --migrate       # apply SQL migrations first
  promptory serve --memory        # in-process store, seeded categories`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("memory") {
			cfg.Memory = serveMemory
		}
		if servePort != "" {
			cfg.Port = servePort
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "use the in-process store instead of Postgres")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending SQL migrations before serving")
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (overrides PORT)")

	rootCmd.AddCommand(serveCmd)
}

// backend is the store plus the change source feeding the realtime bridge.
type backend struct {
	store  store.Store
	source realtime.Source
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Memory {
		src := realtime.NewMemorySource()
		st := store.NewMemoryStore(src)
		if cfg.SeedFile != "" {
			sf, err := db.LoadSeed(cfg.SeedFile)
			if err != nil {
				return nil, fmt.Errorf("load seed: %w", err)
			}
			if _, err := db.Seed(ctx, st, sf); err != nil {
				return nil, err
			}
		}
		logger.Warn("using in-memory store; data is lost on exit")
		return &backend{store: st, source: src}, nil
	}

	if serveMigrate {
		version, err := db.Migrate(cfg.MigrationsDir, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("database migrated", "version", version)
	}
	conn, err := db.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	return &backend{
		store:  store.NewGormStore(conn),
		// The listener resolves DATABASE_URL again on every reconnect.
		source: realtime.NewPGSource(func(context.Context) (string, error) {
			return config.DatabaseURL(cfgFile)
		}),
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.InsecureSecret() {
		logger.Warn("SESSION_SECRET is not set; using the built-in development secret")
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	cache, err := utils.NewQueryCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return err
	}
	rec := metrics.NewRecorder()
	svc := services.New(be.store, services.Options{TokenTTL: cfg.TokenTTL, Logger: logger})
	rpcServer := rpc.NewServer(rpc.Config{
		Registry: rpc.NewRegistry(rpc.Procedures(svc, rec)...),
		Cache:    cache,
		Metrics:  rec,
		Logger:   logger,
	})

	hub := realtime.NewHub(32)
	bridge := realtime.NewBridge(realtime.BridgeConfig{
		Source:        be.source,
		Cache:         cache,
		Hub:           hub,
		Logger:        logger,
		RetryDelay:    cfg.RealtimeRetryDelay,
		MaxRetryDelay: cfg.RealtimeMaxDelay,
	})
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- bridge.Run(ctx) }()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go refreshOnSignal(ctx, hup, bridge.Refresh, logger)

	renderer, err := handlers.LoadTemplates(cfg.TemplatesDir)
	if err != nil {
		return err
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.TokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("promptory_session", sessionStore))
	r.HTMLRender = renderer
	r.Static("/static", cfg.StaticDir)

	router.RegisterRoutes(r, router.Deps{
		Services:      svc,
		RPC:           rpcServer,
		Hub:           hub,
		RealtimeState: func() string { return bridge.State().String() },
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the process so event streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("promptory server starting", "addr", srv.Addr, "memory", cfg.Memory)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := <-bridgeDone; err != nil {
		logger.Warn("realtime bridge stopped", "error", err)
	}
	return nil
}

// refreshOnSignal calls refresh for every signal until ctx is done.
func refreshOnSignal(ctx context.Context, sig <-chan os.Signal, refresh func(), logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			logger.Info("reloading realtime credentials", "signal", s.String())
			refresh()
		}
	}
}
