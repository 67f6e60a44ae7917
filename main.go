package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agenti/config"
	"agenti/database"
	"agenti/jobs"
	"agenti/logger"
	"agenti/routes"
	"agenti/services/cashcount"
	"agenti/services/cashsession"
	"agenti/services/vault"
	"agenti/store"
	"agenti/store/gormstore"
	"agenti/store/memstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	var st store.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logg.Warn("using in-memory store; data is lost on exit")
		st = memstore.New()
	default:
		db, err := database.Connect(cfg.DB, logg)
		if err != nil {
			logg.Fatal("failed to connect to database", zap.Error(err))
		}
		st = gormstore.New(db)
	}

	ledger := vault.New(st,
		vault.WithLogger(logg.Named("vault")),
		vault.WithPendingExpiry(cfg.PendingExpiry),
	)
	capture := cashcount.New(st, cashcount.WithLogger(logg.Named("cashcount")))
	machine := cashsession.New(st, ledger, cashsession.WithLogger(logg.Named("cashsession")))

	app := fiber.New()
	routes.Setup(app, routes.Deps{
		Ledger:      ledger,
		Capture:     capture,
		Machine:     machine,
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	sweeper := jobs.NewExpirySweeper(ledger, cfg.ExpiryInterval, logg.Named("jobs"))
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})

	addr := cfg.Addr()
	logg.Info("server running", zap.String("addr", addr))
	g.Go(func() error {
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		logg.Info("gracefully shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logg.Fatal("server stopped with error", zap.Error(err))
	}
	logg.Info("server exited cleanly")
}
