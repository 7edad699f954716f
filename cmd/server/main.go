package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kfilewski/conversbot/internal/api"
	"github.com/kfilewski/conversbot/internal/config"
	"github.com/kfilewski/conversbot/internal/llm"
	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/middleware"
	"github.com/kfilewski/conversbot/internal/rag"
	"github.com/kfilewski/conversbot/internal/rowstore"
	"github.com/kfilewski/conversbot/internal/study"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// No logger yet; config failures are fatal either way.
		panic(err)
	}
	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	store, err := rowstore.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal("open row store", "error", err, "path", cfg.DBPath)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		log.Fatal("row store unreachable", "error", err)
	}

	client, err := llm.NewClient(log, llm.Options{BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIKey})
	if err != nil {
		log.Fatal("language model client", "error", err)
	}

	// A missing or malformed corpus is fatal: the study must not run with
	// silently empty retrieval.
	retriever, err := rag.NewRetriever(log, client, cfg.CorpusPath, cfg.Study.Retrieval.AnchorTerms)
	if err != nil {
		log.Fatal("load retrieval corpus", "error", err, "path", cfg.CorpusPath)
	}

	balancer := study.NewGroupBalancer(log, store, cfg.Study.ConditionKeys())
	engine := study.NewConversationEngine(log, retriever, client, &cfg.Study)
	sessions := study.NewSessionService(log, store, engine, balancer, &cfg.Study)
	auth := study.NewAuthService(middleware.SignToken)

	handler := api.NewRouter(log, sessions, auth, store).Handler()
	if staticDir := os.Getenv("CONVERSBOT_STATIC_DIR"); staticDir != "" {
		handler = withStatic(handler, staticDir)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr, "conditions", cfg.Study.ConditionKeys())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", "error", err)
	}
}

// withStatic serves the participant frontend from disk while keeping the
// API and health routes on the main handler.
func withStatic(next http.Handler, dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api") || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
