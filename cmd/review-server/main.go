package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joelkehle/patent-review/internal/embedding"
	"github.com/joelkehle/patent-review/internal/patentreview"
	"github.com/joelkehle/patent-review/internal/reviewserver"
	"github.com/joelkehle/patent-review/internal/textextract"
	"github.com/joelkehle/patent-review/internal/tracer"
	"github.com/joelkehle/patent-review/internal/vectorindex"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "reviews.db", "SQLite review store path")
	flag.Parse()

	_ = godotenv.Load()

	shutdownTracer := tracer.Init("patent-review-server")

	caller, err := patentreview.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	embedder, err := embedding.NewClient(embedding.Config{
		Endpoint:   requiredEnv("EMBEDDING_ENDPOINT"),
		Deployment: requiredEnv("EMBEDDING_DEPLOYMENT"),
		APIKey:     requiredEnv("EMBEDDING_API_KEY"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	index, err := vectorindex.Connect(ctx, requiredEnv("VECTOR_DB_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer index.Close()
	if err := index.EnsureSchema(ctx, envInt("EMBEDDING_DIMENSIONS", 1536)); err != nil {
		log.Fatal(err)
	}

	orch := patentreview.NewOrchestrator(embedder, index, caller, patentreview.Config{
		RetryUpstreamOnce: true,
	})
	if err := orch.ValidateConfig(); err != nil {
		log.Fatal(err)
	}

	var extractor reviewserver.DocumentExtractor
	if base := strings.TrimSpace(os.Getenv("DOCAI_BASE_URL")); base != "" {
		client, err := textextract.NewClient(textextract.Config{
			BaseURL:     base,
			ProcessorID: requiredEnv("DOCAI_PROCESSOR_ID"),
			APIKey:      requiredEnv("DOCAI_API_KEY"),
		})
		if err != nil {
			log.Fatal(err)
		}
		extractor = client
	} else {
		log.Printf("review-server document extraction disabled (set DOCAI_BASE_URL to enable)")
	}

	store, err := reviewserver.OpenStore(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	handler := reviewserver.NewServer(
		orch,
		patentreview.NewIntake(caller),
		extractor,
		store,
		reviewserver.NewChromiumPDFRenderer(),
	)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = shutdownTracer(shutdownCtx)
	}()

	log.Printf("review-server listening addr=%s db=%s", *addr, *dbPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func requiredEnv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.Fatalf("missing required env var %s", key)
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	if n <= 0 {
		return fallback
	}
	return n
}
