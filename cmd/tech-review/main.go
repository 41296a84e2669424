package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joelkehle/patent-review/internal/embedding"
	"github.com/joelkehle/patent-review/internal/patentreview"
	"github.com/joelkehle/patent-review/internal/vectorindex"
)

// tech-review runs one review from the command line and prints the
// report JSON to stdout.
func main() {
	mode := flag.String("mode", "tech", "review mode: tech, single, guide or compare")
	fieldsPath := flag.String("fields", "", "JSON file with invention fields (tech/single)")
	textPath := flag.String("text", "", "text file with the specification (guide)")
	applicationPath := flag.String("application", "", "application specification text file (compare)")
	targetPath := flag.String("target", "", "target specification text file (compare)")
	flag.Parse()

	_ = godotenv.Load()

	caller, err := patentreview.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "tech", "single":
		runRetrieval(ctx, caller, *mode, *fieldsPath)
	case "guide":
		runGuide(ctx, caller, *textPath)
	case "compare":
		runCompare(ctx, caller, *applicationPath, *targetPath)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func runRetrieval(ctx context.Context, caller patentreview.DialogueCaller, mode, fieldsPath string) {
	if fieldsPath == "" {
		log.Fatal("-fields is required for tech and single modes")
	}
	blob, err := os.ReadFile(fieldsPath)
	if err != nil {
		log.Fatal(err)
	}
	var fields map[string]string
	if err := json.Unmarshal(blob, &fields); err != nil {
		log.Fatalf("parse fields file: %v", err)
	}
	req := patentreview.ReviewRequest{Fields: fields}

	embedder, err := embedding.NewClient(embedding.Config{
		Endpoint:   requiredEnv("EMBEDDING_ENDPOINT"),
		Deployment: requiredEnv("EMBEDDING_DEPLOYMENT"),
		APIKey:     requiredEnv("EMBEDDING_API_KEY"),
	})
	if err != nil {
		log.Fatal(err)
	}
	index, err := vectorindex.Connect(ctx, requiredEnv("VECTOR_DB_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer index.Close()

	orch := patentreview.NewOrchestrator(embedder, index, caller, patentreview.Config{RetryUpstreamOnce: true})

	stages := patentreview.TechReviewStages()
	if mode == "single" {
		stages = patentreview.SingleReviewStages()
	}

	started := time.Now()
	sess, err := orch.Run(ctx, req, stages)
	if err != nil {
		log.Fatalf("review failed: %v", err)
	}
	log.Printf("review complete title=%q stages=%d took=%s", req.Title(), len(sess.Stages), time.Since(started).Round(time.Millisecond))

	// only the full two-hop run carries the fields the report needs
	if mode == "single" {
		printJSON(sess.MergedResult())
		return
	}
	report, err := patentreview.ProjectReview(req, sess.MergedResult(), time.Now())
	if err != nil {
		log.Fatalf("report projection failed: %v", err)
	}
	printJSON(report)
}

func runGuide(ctx context.Context, caller patentreview.DialogueCaller, textPath string) {
	if textPath == "" {
		log.Fatal("-text is required for guide mode")
	}
	blob, err := os.ReadFile(textPath)
	if err != nil {
		log.Fatal(err)
	}

	orch := patentreview.NewOrchestrator(nil, nil, caller, patentreview.Config{})
	sess, err := orch.RunDirect(ctx, patentreview.ReviewRequest{}, patentreview.SpecGuideStage(), string(blob))
	if err != nil {
		log.Fatalf("guide failed: %v", err)
	}
	printJSON(sess.FinalResult())
}

func runCompare(ctx context.Context, caller patentreview.DialogueCaller, applicationPath, targetPath string) {
	if applicationPath == "" || targetPath == "" {
		log.Fatal("-application and -target are required for compare mode")
	}
	applicationText, err := os.ReadFile(applicationPath)
	if err != nil {
		log.Fatal(err)
	}
	targetText, err := os.ReadFile(targetPath)
	if err != nil {
		log.Fatal(err)
	}

	orch := patentreview.NewOrchestrator(nil, nil, caller, patentreview.Config{})
	sess, err := orch.RunComparative(ctx, patentreview.SpecComparisonStage(), string(applicationText), string(targetText))
	if err != nil {
		log.Fatalf("comparison failed: %v", err)
	}
	report, err := patentreview.ProjectComparison(sess.FinalResult(), time.Now())
	if err != nil {
		log.Fatalf("report projection failed: %v", err)
	}
	printJSON(report)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(append(out, '\n'))
}

func requiredEnv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.Fatalf("missing required env var %s", key)
	}
	return v
}
