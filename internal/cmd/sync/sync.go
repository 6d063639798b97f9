// Package sync parses sync command flags and starts the synchronization
// service runtime.
package sync

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	entrypoint "github.com/louisbranch/storytree/internal/platform/cmd"
	"github.com/louisbranch/storytree/internal/sync/app"
	"github.com/louisbranch/storytree/internal/sync/broker"
	"github.com/louisbranch/storytree/internal/sync/catchup"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/fetch"
	"github.com/louisbranch/storytree/internal/sync/permission"
	"github.com/louisbranch/storytree/internal/sync/publisher"
	"github.com/louisbranch/storytree/internal/sync/storage"
	"github.com/louisbranch/storytree/internal/sync/storage/sqlite"
)

// shutdownGrace bounds the HTTP drain after a stop signal.
const shutdownGrace = 10 * time.Second

// Config holds sync command configuration.
type Config struct {
	Port int    `env:"STORYTREE_SYNC_PORT" envDefault:"8083"`
	Addr string `env:"STORYTREE_SYNC_ADDR"`
	// DBPath locates the sqlite database file.
	DBPath string `env:"STORYTREE_SYNC_DB_PATH"`
	// RedisAddr enables the push channel when set; blank runs poll-only.
	RedisAddr string `env:"STORYTREE_REDIS_ADDR"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The sync server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The sync server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sync database file")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the push channel (blank disables push)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "sync.db")
	}
	return cfg, nil
}

// Run starts the sync service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSync, func(ctx context.Context) error {
		return serve(ctx, cfg)
	})
}

func serve(ctx context.Context, cfg Config) error {
	pool := storage.NewPool(func() (storage.Store, error) {
		return sqlite.Open(cfg.DBPath)
	})
	defer func() {
		if err := pool.Close(); err != nil {
			log.Printf("close storage pool: %v", err)
		}
	}()

	if err := pool.HealthCheck(ctx); err != nil {
		return fmt.Errorf("storage health check: %w", err)
	}

	registry, err := event.NewRegistry()
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	fetcher, err := fetch.New(pool)
	if err != nil {
		return err
	}
	perms := permission.New(permission.OwnerAggregator{})

	var signals broker.Broker
	var relay *app.Relay
	if cfg.RedisAddr != "" {
		redisBroker := broker.NewRedisBroker(cfg.RedisAddr)
		defer func() {
			if err := redisBroker.Close(); err != nil {
				log.Printf("close push channel: %v", err)
			}
		}()
		signals = redisBroker
		relay, err = app.NewRelay(signals, fetcher, perms)
		if err != nil {
			return err
		}
	}

	pub, err := publisher.New(registry, poolEventLog{pool: pool}, poolRoots{fetcher: fetcher}, signals)
	if err != nil {
		return err
	}
	catchupSvc, err := catchup.New(fetcher, perms)
	if err != nil {
		return err
	}

	server, err := app.NewServer(pub, catchupSvc, relay, pool)
	if err != nil {
		return err
	}

	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}
	httpServer := server.HTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("sync server listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// poolEventLog routes append and list calls through the shared pool so the
// publisher sees the same refresh semantics as the fetchers.
type poolEventLog struct {
	pool *storage.Pool
}

func (p poolEventLog) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	store, err := p.pool.Borrow()
	if err != nil {
		return event.Event{}, err
	}
	defer p.pool.Return(store)
	return store.AppendEvent(ctx, evt)
}

func (p poolEventLog) ListEventsAfter(ctx context.Context, after uint64) ([]event.Event, error) {
	store, err := p.pool.Borrow()
	if err != nil {
		return nil, err
	}
	defer p.pool.Return(store)
	return store.ListEventsAfter(ctx, after)
}

func (p poolEventLog) LatestEventID(ctx context.Context) (uint64, error) {
	store, err := p.pool.Borrow()
	if err != nil {
		return 0, err
	}
	defer p.pool.Return(store)
	return store.LatestEventID(ctx)
}

// poolRoots resolves game roots through the resilient fetch layer.
type poolRoots struct {
	fetcher *fetch.Fetcher
}

func (p poolRoots) RootTextID(ctx context.Context, gameID string) (string, error) {
	return p.fetcher.RootTextID(ctx, gameID)
}
