package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/config"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/memory"
	pgcatalog "exam-attempt-service/internal/infra/postgres"
	redisinfra "exam-attempt-service/internal/infra/redis"
	transport "exam-attempt-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	sessionTTL := config.TTLDuration(cfg.Session.TTL, 4*time.Hour)
	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.CatalogLoader = memory.NewStaticCatalog(sampleCatalog())
	if pool != nil {
		loader = pgcatalog.NewCatalog(pool)
	}

	var catalog app.CatalogRepository
	if redisClient != nil {
		catalog = redisinfra.NewCatalogCache(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalogCache(loader, catalogTTL)
	}

	var store app.AttemptStore
	if pool != nil {
		store = pgcatalog.NewAttemptStore(pool)
	} else {
		store = memory.NewAttemptStore()
	}

	var registry app.SessionRegistry
	if redisClient != nil {
		registry = redisinfra.NewSessionRegistry(redisClient, sessionTTL)
	} else {
		registry = memory.NewSessionRegistry()
	}

	service := app.NewSessionService(catalog, store, registry)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog provides demo content when no database is configured. It
// covers all four question types.
func sampleCatalog() map[string]domain.TestContent {
	return map[string]domain.TestContent{
		"test-1": {
			Test: domain.Test{
				ID:               "test-1",
				Title:            "Onboarding knowledge check",
				Type:             "entry",
				TimeLimitMinutes: 10,
				PassingScore:     70,
			},
			Questions: []domain.Question{
				{
					ID: "q1", Type: domain.SingleChoice, Text: "What is 2 + 2?", Points: 2, Order: 1,
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
				{
					ID: "q2", Type: domain.MultipleChoice, Text: "Select the even numbers", Points: 3, Order: 2,
					Options: []domain.Option{
						{ID: "o4", Text: "2", Correct: true},
						{ID: "o5", Text: "3"},
						{ID: "o6", Text: "8", Correct: true},
					},
				},
				{
					ID: "q3", Type: domain.Sequence, Text: "Order smallest to largest", Points: 3, Order: 3,
					Options: []domain.Option{
						{ID: "o7", Text: "1", Order: 1},
						{ID: "o8", Text: "5", Order: 2},
						{ID: "o9", Text: "9", Order: 3},
					},
				},
				{
					ID: "q4", Type: domain.Text, Text: "Describe your first week goals", Points: 2, Order: 4,
				},
			},
			Canonical: map[string][]string{
				"q3": {"o7", "o8", "o9"},
			},
		},
	}
}
