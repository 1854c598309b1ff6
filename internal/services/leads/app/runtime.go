package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/habitar/leadengine/internal/services/leads/api/httpapi"
	leadsdomain "github.com/habitar/leadengine/internal/services/leads/domain"
	leadssqlite "github.com/habitar/leadengine/internal/services/leads/storage/sqlite"
	notifapp "github.com/habitar/leadengine/internal/services/notifications/app"
	"github.com/habitar/leadengine/internal/services/notifications/bus"
	"github.com/habitar/leadengine/internal/services/notifications/dispatch"
	notifsqlite "github.com/habitar/leadengine/internal/services/notifications/storage/sqlite"
)

// RuntimeConfig controls engine startup, dependencies, and sweep behavior.
type RuntimeConfig struct {
	HTTPAddr               string
	DBPath                 string
	NotificationsDBPath    string
	WindowDuration         time.Duration
	SweepInterval          time.Duration
	SweepBatchSize         int
	DefaultPoolID          string
	EnforceCapacityOnClaim bool
	AMQPURL                string
	AMQPExchange           string
}

const (
	defaultHTTPAddr        = ":8080"
	defaultEngineDB        = "data/leadengine.db"
	defaultNotificationsDB = "data/notifications.db"
	defaultWindowDuration  = 15 * time.Minute
	defaultSweepInterval   = 30 * time.Second
)

// Run starts engine runtime dependencies, the claim-window sweep loop,
// and the HTTP server. It blocks until ctx is canceled or the server
// fails, then shuts everything down in order.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.DefaultPoolID) == "" {
		return fmt.Errorf("default pool id is required")
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultEngineDB
	}
	if strings.TrimSpace(cfg.NotificationsDBPath) == "" {
		cfg.NotificationsDBPath = defaultNotificationsDB
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = defaultWindowDuration
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	for _, path := range []string{cfg.DBPath, cfg.NotificationsDBPath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
		}
	}

	engineStore, err := leadssqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open engine sqlite store: %w", err)
	}
	defer func() {
		if closeErr := engineStore.Close(); closeErr != nil {
			log.Printf("close engine sqlite store: %v", closeErr)
		}
	}()

	notifStore, err := notifsqlite.Open(cfg.NotificationsDBPath)
	if err != nil {
		return fmt.Errorf("open notifications sqlite store: %w", err)
	}
	defer func() {
		if closeErr := notifStore.Close(); closeErr != nil {
			log.Printf("close notifications sqlite store: %v", closeErr)
		}
	}()

	var busPublisher dispatch.BusPublisher
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		publisher, err := bus.Connect(bus.Config{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange})
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Printf("close event bus: %v", closeErr)
			}
		}()
		busPublisher = publisher
	}

	inbox := notifapp.NewService(notifStore, nil)
	dispatcher := dispatch.New(inbox, busPublisher)
	defer dispatcher.Wait()

	engine := leadsdomain.NewService(
		newDomainStoreAdapter(engineStore),
		dispatcher,
		leadsdomain.Config{
			WindowDuration:         cfg.WindowDuration,
			DefaultPoolID:          cfg.DefaultPoolID,
			EnforceCapacityOnClaim: cfg.EnforceCapacityOnClaim,
			SweepBatchSize:         cfg.SweepBatchSize,
		},
		nil,
		nil,
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		runSweepLoop(sweepCtx, engine, cfg.SweepInterval)
	}()

	mux := http.NewServeMux()
	httpapi.New(engine, inbox).Register(mux)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	log.Printf("lead engine listening at %s", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown http server: %v", err)
		}
		<-serveErr
		<-sweepDone
		return nil
	case err := <-serveErr:
		stopSweep()
		<-sweepDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

// runSweepLoop periodically resolves expired claim windows. Sweep
// failures are logged and retried on the next tick so a transient
// storage error never stops the loop.
func runSweepLoop(ctx context.Context, engine *leadsdomain.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := engine.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("sweep expired claim windows: %v", err)
				}
				continue
			}
			if result.Assigned > 0 || result.Held > 0 || result.LostRaces > 0 {
				log.Printf("sweep: assigned=%d held=%d lost_races=%d", result.Assigned, result.Held, result.LostRaces)
			}
		}
	}
}
