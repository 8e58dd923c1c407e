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

	"github.com/lorepin/lorepin/internal/analysis"
	"github.com/lorepin/lorepin/internal/api"
	"github.com/lorepin/lorepin/internal/cache"
	"github.com/lorepin/lorepin/internal/challenge"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/database"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/moderation"
	"github.com/lorepin/lorepin/internal/provider"
	"github.com/lorepin/lorepin/internal/ratelimit"
	"github.com/lorepin/lorepin/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func run() error {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "Path to the configuration file",
	}

	app := &cli.Command{
		Name:  "lorepin",
		Usage: "Content moderation and challenge approval service",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API and the video poller",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c.String("config"))
					if err != nil {
						return err
					}
					return serve(ctx, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "Create or update the database schema",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c.String("config"))
					if err != nil {
						return err
					}
					store, err := database.Open(ctx, &cfg.Database)
					if err != nil {
						return err
					}
					defer store.Close()
					log.Info().Str("driver", cfg.Database.Driver).Msg("Database schema is up to date")
					return nil
				},
			},
			{
				Name:  "generate-config",
				Usage: "Write a sample configuration file",
				Action: func(_ context.Context, c *cli.Command) error {
					path := c.String("config")
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("refusing to overwrite existing file: %s", path)
					}
					if err := config.GenerateSample(path); err != nil {
						return fmt.Errorf("failed to write sample config: %w", err)
					}
					fmt.Printf("Sample configuration written to %s\n", path)
					return nil
				},
			},
			{
				Name:  "token",
				Usage: "Issue a bearer token for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uid", Required: true, Usage: "Subject of the token"},
					&cli.StringFlag{Name: "role", Value: string(models.RoleUser), Usage: "user, moderator or admin"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "Token lifetime"},
				},
				Action: func(_ context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c.String("config"))
					if err != nil {
						return err
					}
					tok, err := api.IssueToken(&cfg.Auth, models.Caller{
						UID:  c.String("uid"),
						Role: models.Role(c.String("role")),
					}, c.Duration("ttl"))
					if err != nil {
						return err
					}
					fmt.Println(tok)
					return nil
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(&cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// newLimiter returns a bucket shared through Redis when configured, otherwise
// an in-process one.
func newLimiter(cfg *config.Config, c cache.Cache, name string, rpm int) ratelimit.Limiter {
	if cfg.RateLimits.Shared {
		if rc, ok := c.(*cache.RedisCache); ok {
			return ratelimit.NewRedisBucket(rc.Client(), name, rpm)
		}
		log.Warn().Str("provider", name).Msg("Shared rate limits need the redis cache, using a local bucket")
	}
	return ratelimit.NewTokenBucket(rpm)
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	c, err := cache.New(&cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer c.Close()

	providers := &cfg.Providers
	text := provider.NewTextAnalyzer(&providers.OpenAI, c,
		newLimiter(cfg, c, "openai", providers.OpenAI.RequestsPerMinute))
	image := provider.NewImageAnalyzer(ctx, &providers.Vision, c,
		newLimiter(cfg, c, "vision", providers.Vision.RequestsPerMinute))
	video := provider.NewVideoAnalyzer(&providers.Rekognition, c)

	engine := analysis.NewEngine(text, image, video)
	queue := moderation.NewService(store, engine)
	challenges := challenge.NewService(store, queue)

	poller, err := scheduler.NewVideoPoller(&cfg.Scheduler, queue)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(cfg, engine, queue, challenges, store, c),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	poller.Start()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			poller.Stop(context.Background())
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	poller.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
