/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the contribution engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire ingestion, workflow, metrics, and report services
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: contrib.db)
           Use ":memory:" for an in-memory database
  -media   Root directory for uploads and generated workbooks
           (default: ./media)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/contrib.db" -media="./data/media"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/orgpulse/contrib-engine/api"
	"github.com/orgpulse/contrib-engine/ingest"
	"github.com/orgpulse/contrib-engine/metrics"
	"github.com/orgpulse/contrib-engine/report"
	"github.com/orgpulse/contrib-engine/store/sqlite"
	"github.com/orgpulse/contrib-engine/workflow"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "contrib.db", "SQLite database path")
	mediaRoot := flag.String("media", "./media", "root directory for uploads and generated workbooks")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Clean(*mediaRoot), 0o755); err != nil {
		log.Fatalf("Failed to create media root: %v", err)
	}

	handler := api.NewHandler(
		store,
		ingest.NewService(store, &ingest.FileStore{Root: *mediaRoot}),
		workflow.NewEngine(store),
		metrics.NewCalculator(store),
		report.NewGenerator(store, report.Config{MediaRoot: *mediaRoot}),
	)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
