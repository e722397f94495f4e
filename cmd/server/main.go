package main

import (
	"context"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetyard/shipcm/internal/server"
	"github.com/fleetyard/shipcm/modules/changes/handlers"
	"github.com/fleetyard/shipcm/modules/changes/infrastructure/persistence"
	"github.com/fleetyard/shipcm/modules/changes/services"
	"github.com/fleetyard/shipcm/pkg/configuration"
	"github.com/fleetyard/shipcm/pkg/eventbus"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	if err := persistence.Migrate(conf.Database.Opts); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	bus := eventbus.NewEventPublisher(logger)
	handlers.RegisterAuditHandler(bus, persistence.NewAuditRepository(), logger)

	formsRepo := persistence.NewFormRepository()
	ledgerRepo := persistence.NewLedgerRepository()
	trailRepo := persistence.NewTrailRepository()

	workflow := services.NewWorkflowService(
		formsRepo,
		ledgerRepo,
		trailRepo,
		services.NewEventBusAuditRecorder(bus),
	)
	reconcile := services.NewReconcileService(formsRepo, ledgerRepo, trailRepo)

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Pool:          pool,
		Workflow:      workflow,
		Reconcile:     reconcile,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	logger.Infof("listening on %s", conf.SocketAddress)
	if err := serverInstance.ListenAndServe(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
