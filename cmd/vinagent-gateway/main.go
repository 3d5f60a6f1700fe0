package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/api"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/audit"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/auth"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/classify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/execution"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/ingest"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/notify"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/store"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/task"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/token"
	"github.com/Babel-Snake/vinagent-backend-sub000/internal/worker"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(context.Background(), config.FromEnv(), log); err != nil {
		log.Fatal("gateway exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := syncRegistry(ctx, db, reg); err != nil {
		return err
	}

	classifier := classify.NewService(externalClassifier(cfg), db, cfg.ClassifierTimeout, log)
	h := buildHandler(cfg, reg, db, classifier, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	regen := worker.NewRegenerator(db, classifier, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("vinagent-gateway listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := regen.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildHandler wires the full service graph behind the HTTP surface.
func buildHandler(cfg config.Config, reg config.Registry, db *store.Store, classifier *classify.Service, log *zap.Logger) *api.Handler {
	rec := audit.NewRecorder(log)
	tokens := token.NewService(cfg.TokenTTL, log)

	engine := execution.NewEngine(execution.Deps{
		Tokens:        tokens,
		Providers:     execution.NewRegistryProviders(reg, log),
		Audit:         rec,
		Dispatcher:    notify.NewDispatcher(notify.NewRegistryFactory(reg, log), log),
		Messages:      db,
		PublicBaseURL: cfg.PublicBaseURL,
		Log:           log,
	})

	return &api.Handler{
		Auth:    auth.NewRegistryAuthenticator(reg),
		Gateway: ingest.NewGateway(db, classifier, rec, log),
		Tasks:   task.NewService(db, rec, engine, tokens, log),
		DB:      db,
		Log:     log,
	}
}

// syncRegistry pushes the operator-edited roster into the database so inbound
// routing and foreign keys see the same tenants the config names.
func syncRegistry(ctx context.Context, db *store.Store, reg config.Registry) error {
	for _, te := range reg.Tenants {
		if err := db.UpsertTenant(ctx, te.Tenant()); err != nil {
			return err
		}
	}
	for _, se := range reg.Staff {
		staff := types.Staff{ID: se.ID, TenantID: se.TenantID, Name: se.Name, Role: se.Role}
		if err := db.UpsertStaff(ctx, staff); err != nil {
			return err
		}
	}
	return nil
}

func externalClassifier(cfg config.Config) classify.Classifier {
	if cfg.ClassifierURL == "" {
		return nil
	}
	return &classify.HTTPClassifier{
		BaseURL: cfg.ClassifierURL,
		Token:   os.Getenv("VINAGENT_CLASSIFIER_TOKEN"),
	}
}
