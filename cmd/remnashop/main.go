package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/cache"
	"github.com/remnashop/remnashop/internal/pkg/constants"
	"github.com/remnashop/remnashop/internal/pkg/database"
	"github.com/remnashop/remnashop/internal/pkg/entsync"
	"github.com/remnashop/remnashop/internal/pkg/env"
	"github.com/remnashop/remnashop/internal/pkg/events"
	"github.com/remnashop/remnashop/internal/pkg/gateway"
	"github.com/remnashop/remnashop/internal/pkg/jobqueue"
	"github.com/remnashop/remnashop/internal/pkg/ledger"
	"github.com/remnashop/remnashop/internal/pkg/panel"
	"github.com/remnashop/remnashop/internal/pkg/pipeline"
	"github.com/remnashop/remnashop/internal/pkg/router"
	"github.com/remnashop/remnashop/internal/pkg/subscription"
)

func main() {
	app := NewApplication()

	// Stop background workers cleanly so in-flight jobs finish their
	// checkpoints before the process exits.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		jobqueue.GetManager().Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	if err := models.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
	}

	// Domain wiring. The queue manager dispatches every async job to these
	// services; the HTTP layer only records webhooks and enqueues.
	sink := events.LogSink{}
	manager := jobqueue.GetManager()
	sched := jobqueue.NewScheduler(manager.GetQueue())

	ledgerSvc := ledger.NewServiceFromDB(db)
	subSvc := subscription.NewServiceFromDB(db, sink, sched)
	syncRepo := entsync.NewRepository(db)
	syncSvc := entsync.NewService(syncRepo, panel.NewClientFromEnv(), sink)

	refundPolicy := func(provider string) string {
		if settings := models.GetAppSettings(); settings != nil {
			return settings.GetRefundPolicy(provider)
		}
		return models.RefundPolicyManual
	}
	coordinator := pipeline.NewCoordinator(
		pipeline.NewRepository(db),
		ledgerSvc,
		subSvc,
		pipeline.NewQuoter(db),
		refundPolicy,
		sink,
	)

	manager.Configure(jobqueue.Processors{
		Syncer:   syncSvc,
		Sweeper:  subSvc,
		Pipeline: coordinator,
		Events:   gateway.NewRepository(db),
		Auditor:  ledgerSvc,
	}, syncRepo)
	manager.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1048576, // 1 MiB, webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
