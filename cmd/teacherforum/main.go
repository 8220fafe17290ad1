package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/teacherforum/teacherforum/internal/auth"
	"github.com/teacherforum/teacherforum/internal/config"
	httpapp "github.com/teacherforum/teacherforum/internal/http"
	"github.com/teacherforum/teacherforum/internal/logging"
	"github.com/teacherforum/teacherforum/internal/rate"
	"github.com/teacherforum/teacherforum/internal/store"
	"github.com/teacherforum/teacherforum/internal/store/gormstore"
	"github.com/teacherforum/teacherforum/internal/store/memory"
	"github.com/teacherforum/teacherforum/internal/store/sqlite"
)

const version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "teacherforum",
		Usage:   "discussion forum API for teachers",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:3000", Usage: "server URL for client commands", EnvVars: []string{"FORUM_URL"}},
			&cli.StringFlag{Name: "token", Usage: "token for client commands", EnvVars: []string{"FORUM_TOKEN"}},
		},
		Action: serve,
		Commands: append([]*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server (default)",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply schema migrations",
				Action: withStore(func(ctx context.Context, st store.Store, log *logrus.Entry) error {
					if err := st.Migrate(ctx); err != nil {
						return err
					}
					log.Info("migrations applied")
					return nil
				}),
			},
			{
				Name:   "seed",
				Usage:  "load fixture data, replacing existing rows",
				Action: withStore(func(ctx context.Context, st store.Store, log *logrus.Entry) error {
					if err := st.Seed(ctx, store.DefaultFixtures()); err != nil {
						return err
					}
					log.Info("fixtures loaded")
					return nil
				}),
			},
			{
				Name:   "reset",
				Usage:  "delete all rows, then seed",
				Action: withStore(resetStore),
			},
			{
				Name:  "token",
				Usage: "issue a token locally with the configured secret",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "app", Required: true},
				},
				Action: cmdToken,
			},
		}, clientCommands()...),
	}
}

// resetStore replaces every row with the fixtures in the store's single
// seed transaction.
func resetStore(ctx context.Context, st store.Store, log *logrus.Entry) error {
	if err := store.Reset(ctx, st); err != nil {
		return err
	}
	log.Info("store reset")
	return nil
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "migrate", Usage: "apply migrations before serving"},
		&cli.BoolFlag{Name: "seed", Usage: "load fixture data before serving"},
	}
}

// loadConfig reads and validates the environment configuration and builds
// the logger it describes.
func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func openStore(cfg config.Config) (store.Store, error) {
	mode := store.ClientIDs
	if cfg.IDMode == config.IDModeServer {
		mode = store.ServerIDs
	}
	switch cfg.Store {
	case config.StoreSQLite:
		return sqlite.Open(cfg.DBPath, mode)
	case config.StorePostgres:
		return gormstore.OpenPostgres(cfg.DatabaseURL, mode)
	case config.StoreMemory:
		return memory.New(mode), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func withStore(fn func(ctx context.Context, st store.Store, log *logrus.Entry) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		defer st.Close()
		return fn(c.Context, st, logger.WithField("store", cfg.Store))
	}
}

func newAuthService(cfg config.Config, logger *logrus.Logger) (*auth.Service, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		var err error
		if secret, err = auth.RandomSecret(); err != nil {
			return nil, err
		}
		logger.Warn("FORUM_JWT_SECRET is not set; tokens will not survive a restart")
	}
	return auth.NewService(secret, cfg.TokenTTL, auth.Scheme(cfg.AuthScheme)), nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer st.Close()

	ctx := c.Context
	if c.Bool("migrate") {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}
	// a fresh memory store has nothing to serve without fixtures
	if c.Bool("seed") || cfg.Store == config.StoreMemory {
		if err := store.Reset(ctx, st); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("fixtures loaded")
	}

	authSvc, err := newAuthService(cfg, logger)
	if err != nil {
		return err
	}
	limiter := rate.NewMemory()
	server, err := httpapp.NewServer(st, authSvc, limiter, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepLimiter(ctx, limiter)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "store": cfg.Store, "id_mode": cfg.IDMode}).Info("teacherforum listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func sweepLimiter(ctx context.Context, limiter *rate.MemoryLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}

func cmdToken(c *cli.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("FORUM_JWT_SECRET must be set to issue tokens a server will accept")
	}
	authSvc, err := newAuthService(cfg, logger)
	if err != nil {
		return err
	}
	tok, err := authSvc.Issue(c.String("email"), c.String("app"))
	if err != nil {
		return err
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
	return nil
}
