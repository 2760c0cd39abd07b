package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/lingpoint/internal/config"
	"github.com/example/lingpoint/internal/excel"
	"github.com/example/lingpoint/internal/localstore"
	"github.com/example/lingpoint/internal/mastery"
	"github.com/example/lingpoint/internal/notify"
	"github.com/example/lingpoint/internal/remote"
	"github.com/example/lingpoint/internal/repository"
	syncsvc "github.com/example/lingpoint/internal/sync"
)

func main() {
	importPath := flag.String("import", "", "import knowledge points from an xlsx or csv file and exit")
	syncOnce := flag.Bool("sync-once", false, "run one reconciliation pass and exit")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load()

	store, err := localstore.Open(localstore.Config{
		Driver: cfg.DBDriver,
		Path:   cfg.DBPath,
		DSN:    cfg.DBDSN,
	}, log)
	if err != nil {
		log.Fatal("failed to open local store", zap.Error(err))
	}
	defer store.Close()

	if *importPath != "" {
		importCfg := excel.DefaultImportConfig()
		importCfg.FilePath = *importPath

		result, err := excel.ImportPoints(store, importCfg)
		if err != nil {
			log.Fatal("import failed", zap.Error(err))
		}
		log.Info("import finished",
			zap.Int("processed", result.TotalProcessed),
			zap.Int("created", result.Created),
			zap.Int("skipped", result.Skipped),
			zap.Int("errors", len(result.Errors)))
		for _, e := range result.Errors {
			log.Warn("import row error", zap.String("detail", e))
		}
		return
	}

	var remoteClient *remote.Client
	var remoteAPI repository.RemoteAPI
	if cfg.Authenticated() {
		remoteClient = remote.New(cfg.RemoteBaseURL, cfg.RemoteToken, log)
		remoteAPI = remoteClient
	} else {
		log.Info("no remote store configured, running in guest mode")
	}

	engine := mastery.NewEngine()
	repo := repository.New(store, remoteAPI, engine, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if remoteClient == nil {
		if *syncOnce {
			log.Fatal("sync requires REMOTE_BASE_URL and REMOTE_TOKEN")
		}
		// Guest mode still serves reads and reviews; nothing to
		// reconcile until the user signs in.
		waitForSignal(ctx, log)
		return
	}

	reconciler := syncsvc.NewReconciler(store, remoteClient, log)

	if *syncOnce {
		result, err := reconciler.Reconcile(ctx)
		if err != nil {
			log.Fatal("reconciliation failed", zap.Error(err))
		}
		log.Info("reconciliation finished",
			zap.Int("promoted", len(result.Promoted)),
			zap.Int("conflicts", len(result.Conflicts)))
		return
	}

	var notifier syncsvc.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			notifier = tg
		}
	}

	window := syncsvc.ReminderWindow{StartHour: cfg.ReminderStartHour, EndHour: cfg.ReminderEndHour}
	scheduler := syncsvc.NewScheduler(reconciler, repo, notifier, cfg.SyncInterval, window, log)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	log.Info("lingpoint started", zap.Duration("sync_interval", cfg.SyncInterval))
	waitForSignal(ctx, log)
	log.Info("stopped")
}

// waitForSignal blocks until SIGINT/SIGTERM or context cancellation.
func waitForSignal(ctx context.Context, log *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("received signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
}
