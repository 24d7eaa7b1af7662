// sqrld is the sqrl memory daemon: it serves the local JSON-RPC socket,
// optionally watches session logs, and feeds them through the ingest
// pipeline into the memory store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sqrlhq/sqrl/internal/chunking"
	"github.com/sqrlhq/sqrl/internal/config"
	"github.com/sqrlhq/sqrl/internal/embedding"
	"github.com/sqrlhq/sqrl/internal/ingest"
	"github.com/sqrlhq/sqrl/internal/ipc"
	"github.com/sqrlhq/sqrl/internal/llm"
	"github.com/sqrlhq/sqrl/internal/notify"
	"github.com/sqrlhq/sqrl/internal/parser"
	"github.com/sqrlhq/sqrl/internal/storage"
	"github.com/sqrlhq/sqrl/internal/storage/postgres"
	"github.com/sqrlhq/sqrl/internal/storage/sqlite"
	"github.com/sqrlhq/sqrl/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ~/.sqrl/config.yaml)")
	flag.Parse()

	if *configPath == "" {
		home, _ := os.UserHomeDir()
		*configPath = filepath.Join(home, ".sqrl", "config.yaml")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	client := llm.NewClient(llm.ClientConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Timeout:           cfg.LLM.Timeout,
	})
	embedder := embedding.NewService(client, cfg.LLM.EmbeddingDims)

	sessionParser := parser.NewClaudeCodeParser("")
	pipeline, err := ingest.NewPipeline(client, sessionParser,
		chunking.Config{ChunkSize: cfg.Ingest.ChunkSize, Overlap: cfg.Ingest.Overlap},
		ingest.NewCommitter(store, embedder))
	if err != nil {
		log.Fatalf("Failed to build ingest pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Watcher.Enabled {
		watcher := notify.NewSessionWatcher(cfg.Watcher.LogDir, cfg.Watcher.Debounce,
			func(sessionPath string) {
				ingestSession(ctx, pipeline, store, sessionPath)
			})
		if err := watcher.Start(); err != nil {
			log.Fatalf("Failed to start session watcher: %v", err)
		}
		defer watcher.Stop()
	}

	srv := ipc.NewServer(cfg.Daemon.SocketPath)
	processor := ipc.NewEpisodeProcessor(client, client)
	if err := processor.RegisterWith(srv); err != nil {
		log.Fatalf("Failed to register RPC methods: %v", err)
	}
	if err := srv.Listen(); err != nil {
		log.Fatalf("Failed to bind socket: %v", err)
	}
	defer srv.Close()

	serveDone := make(chan struct{})
	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Printf("RPC server stopped: %v", err)
		}
		close(serveDone)
	}()
	log.Printf("sqrld listening on %s", cfg.Daemon.SocketPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	<-serveDone
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.Open(cfg.Storage.PostgresDSN)
	}
	return sqlite.Open(filepath.Join(cfg.Storage.DataPath, "sqrl.db"))
}

// ingestSession runs one watched session through the pipeline, pulling recent
// memories as writer context.
func ingestSession(ctx context.Context, pipeline *ingest.Pipeline, store storage.Store, sessionPath string) {
	projectID := filepath.Base(filepath.Dir(sessionPath))

	recent, err := store.RecentMemories(ctx, projectID, 20)
	if err != nil {
		log.Printf("Failed to load recent memories for %s: %v", projectID, err)
	}

	result, err := pipeline.IngestSession(ctx, sessionPath, ingest.Params{
		ProjectID:      projectID,
		OwnerType:      types.OwnerUser,
		OwnerID:        currentUser(),
		RecentMemories: memoryContext(recent),
	})
	if err != nil {
		log.Printf("Failed to ingest session %s: %v", sessionPath, err)
		return
	}

	log.Printf("Ingested %s: %d chunks, %d episodes, %d memories, %d errors",
		filepath.Base(sessionPath), result.ChunksProcessed,
		result.EpisodesDetected, result.MemoriesExtracted, len(result.Errors))
	for _, e := range result.Errors {
		log.Printf("  %s", e)
	}
}

// memoryContext converts stored memories into the writer-prompt context shape.
func memoryContext(memories []*types.Memory) []map[string]any {
	out := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		out = append(out, map[string]any{
			"id":     m.ID,
			"kind":   string(m.Kind),
			"status": string(m.Status),
			"text":   m.Text,
		})
	}
	return out
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
