package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/workitems/internal/api"
	"github.com/mattjoyce/workitems/internal/auth"
	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/events"
	"github.com/mattjoyce/workitems/internal/lock"
	"github.com/mattjoyce/workitems/internal/log"
	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/storage"
	"github.com/mattjoyce/workitems/internal/workspace"
)

const retentionInterval = time.Hour

// storeFlags are shared by every command that opens the queue database.
type storeFlags struct {
	configPath string
	dbPath     string
	filesDir   string
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&f.dbPath, "db", "", "Override server.state.path")
	fs.StringVar(&f.filesDir, "files-dir", "", "Override server.files_dir")
}

func (f *storeFlags) load() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.dbPath != "" {
		cfg.Server.State.Path = f.dbPath
	}
	if f.filesDir != "" {
		cfg.Server.FilesDir = f.filesDir
	}
	return cfg, nil
}

type queueStack struct {
	db    *sql.DB
	queue *queue.Queue
	blobs workspace.Store
}

func openQueueStack(ctx context.Context, cfg *config.Config) (*queueStack, error) {
	db, err := storage.OpenSQLite(ctx, cfg.Server.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Server.State.Path, err)
	}
	blobs, err := workspace.NewFSStore(cfg.Server.FilesDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open file store %s: %w", cfg.Server.FilesDir, err)
	}
	return &queueStack{db: db, queue: queue.New(db), blobs: blobs}, nil
}

func (s *queueStack) Close() error { return s.db.Close() }

func runServe(args []string) int {
	var sf storeFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	sf.register(fs)
	listen := fs.String("listen", "", "Override server.listen")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := sf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if cfg.Server.APIKey == "" && len(cfg.Server.Tokens) == 0 {
		fmt.Fprintln(os.Stderr, "Refusing to serve without credentials: set server.api_key or server.tokens")
		return 1
	}

	log.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := log.WithComponent("main")
	logger.Info("workitems starting", "version", version, "config", sf.configPath)

	pidLock, err := lock.AcquirePIDLock(cfg.Server.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Server.PIDFile, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := openQueueStack(ctx, cfg)
	if err != nil {
		logger.Error("failed to open queue storage", "error", err)
		return 1
	}
	defer func() { _ = stack.Close() }()
	logger.Info("database opened", "path", cfg.Server.State.Path, "files_dir", cfg.Server.FilesDir)

	tokens := make([]auth.TokenConfig, 0, len(cfg.Server.Tokens))
	for _, t := range cfg.Server.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes, Workspaces: t.Workspaces})
	}
	server := api.New(api.Config{
		Listen: cfg.Server.Listen,
		APIKey: cfg.Server.APIKey,
		Tokens: tokens,
	}, stack.queue, stack.blobs, events.NewHub(256), log.WithComponent("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runRetention(gctx, stack, cfg.Server.FileRetention, log.WithComponent("retention"))
		return nil
	})
	g.Go(func() error { return server.Start(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return 1
	}
	logger.Info("workitems stopped")
	return 0
}

func runRetention(ctx context.Context, stack *queueStack, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := pruneReleased(ctx, stack, retention)
			if err != nil {
				logger.Warn("retention pass failed", "error", err)
				continue
			}
			if report.Items > 0 || report.OrphanDirs > 0 {
				logger.Info("retention pass complete", "items", report.Items, "orphan_dirs", report.OrphanDirs)
			}
		}
	}
}

type pruneReport struct {
	Items      int `json:"items"`
	OrphanDirs int `json:"orphan_dirs"`
}

// pruneReleased deletes released items older than age, then their blobs,
// then any stale blob directory whose item no longer exists.
func pruneReleased(ctx context.Context, stack *queueStack, age time.Duration) (pruneReport, error) {
	ids, err := stack.queue.PruneReleased(ctx, time.Now().Add(-age))
	if err != nil {
		return pruneReport{}, err
	}
	var errs []error
	for _, id := range ids {
		if err := stack.blobs.RemoveItem(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("remove files of %s: %w", id, err))
		}
	}
	live := func(itemID string) bool {
		_, err := stack.queue.Get(ctx, itemID)
		return !errors.Is(err, queue.ErrItemNotFound)
	}
	report, err := stack.blobs.Cleanup(ctx, age, live)
	if err != nil {
		errs = append(errs, err)
	}
	return pruneReport{Items: len(ids), OrphanDirs: report.DeletedDirs}, errors.Join(errs...)
}
