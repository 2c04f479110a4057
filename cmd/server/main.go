package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mikeboe/deep-search/pkg/chat"
	"github.com/mikeboe/deep-search/pkg/clients"
	"github.com/mikeboe/deep-search/pkg/config"
	"github.com/mikeboe/deep-search/pkg/database"
	"github.com/mikeboe/deep-search/pkg/embeddings"
	"github.com/mikeboe/deep-search/pkg/evidence"
	"github.com/mikeboe/deep-search/pkg/generation"
	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/research/tools"
	"github.com/mikeboe/deep-search/pkg/server"
	"github.com/mikeboe/deep-search/pkg/splitter"
	"github.com/mikeboe/deep-search/pkg/store"
	"github.com/mikeboe/deep-search/pkg/vectorstore"
	"google.golang.org/genai"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the server")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	agents, err := generation.FromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}
	search, err := tools.New(cfg)
	if err != nil {
		return err
	}
	engine, err := research.NewEngine(agents.Capabilities(), search, research.Options{
		MaxRounds:       cfg.MaxRounds,
		ResultsPerQuery: cfg.ResultsPerQuery,
	})
	if err != nil {
		return err
	}
	engine.Logger = logger

	svc := server.NewService(engine, store.NewPostgres(db), logger)
	svc.LogLevel = cfg.SlogLevel()
	defer svc.Close()

	var (
		chatSvc  *chat.Service
		searcher server.EvidenceSearcher
	)
	if ec, ok := cfg.Evidence(); ok {
		client, err := clients.GenAI(ctx, ec.GoogleApiKey)
		if err != nil {
			return err
		}
		index, vs, err := newEvidenceIndex(ctx, db, client, ec, logger)
		if err != nil {
			return err
		}
		svc.Evidence = index
		searcher = index

		chatSvc, err = chat.NewService(ctx, db, cfg, client, index, vs)
		if err != nil {
			return err
		}
	} else {
		logger.Info("Evidence index disabled", "reason", "DATABASE_URL and GOOGLE_API_KEY are both required")
	}

	if err := svc.Recover(ctx); err != nil {
		logger.Error("Failed to recover runs", "error", err)
	}
	if err := svc.StartSweeper(time.Duration(cfg.SuspensionTTLHours) * time.Hour); err != nil {
		return err
	}

	mcpHandler := server.NewMCPHandler(server.NewMCPServer(svc, searcher, version))
	handler := server.NewHandler(svc, chatSvc, mcpHandler)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: true,
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newEvidenceIndex(ctx context.Context, db *database.PostgresDB, client *genai.Client, ec config.EvidenceConfig, logger *slog.Logger) (*evidence.Index, *vectorstore.PGVectorStore, error) {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, nil, err
	}
	if err := db.CreateEmbeddingsTable(ctx, ec.Collection, ec.Dimensions); err != nil {
		return nil, nil, err
	}

	embedder, err := embeddings.NewGoogleEmbedder(client, ec.Model, ec.Dimensions)
	if err != nil {
		return nil, nil, err
	}
	vs, err := vectorstore.NewPGVectorStore(db.Pool, ec.Collection)
	if err != nil {
		return nil, nil, err
	}
	sp := splitter.NewRecursiveCharacterTextSplitter(ec.ChunkSize, ec.ChunkOverlap)
	return evidence.New(embedder, vs, sp, logger), vs, nil
}
