/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the screen-time rewards engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Construct the engine (loads persisted ledger state)
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: screentime.db)
           Use ":memory:" for an in-memory database
  -tz      IANA timezone for daily rollover (default: system local)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/screentime.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Pin the rollover timezone
  ./server -tz="Europe/Paris"

SEE ALSO:
  - api/server.go: Router configuration
  - engine/engine.go: Core orchestration
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
	"syscall"
	"time"

	"github.com/warp/screentime-engine/api"
	"github.com/warp/screentime-engine/engine"
	"github.com/warp/screentime-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "screentime.db", "SQLite database path")
	tz := flag.String("tz", "", "IANA timezone for daily rollover (default: system local)")
	flag.Parse()

	cfg := engine.DefaultConfig()
	if *tz != "" {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			log.Fatalf("Invalid timezone %q: %v", *tz, err)
		}
		cfg.Location = loc
	}

	// Initialize store
	st, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	// Construct the engine; loads records, reservations, and the
	// consumed counter from the store.
	eng, err := engine.New(context.Background(), cfg, st, engine.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	// Create router
	handler := api.NewHandler(eng)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
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
