package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/coursefox/paycore/app/controllers"
	"github.com/coursefox/paycore/internal/pkg/cache"
	"github.com/coursefox/paycore/internal/pkg/database"
	"github.com/coursefox/paycore/internal/pkg/env"
	"github.com/coursefox/paycore/internal/pkg/mail"
	counter "github.com/coursefox/paycore/internal/pkg/metrics/counter"
	"github.com/coursefox/paycore/internal/pkg/provider"
	"github.com/coursefox/paycore/internal/pkg/reconcile"
	"github.com/coursefox/paycore/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	// Stop the background producers cleanly on shutdown signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		manager.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *reconcile.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Reconciliation wiring: one engine, both producers, one lifecycle.
	cfg := reconcile.ConfigFromEnv()
	engine := reconcile.NewEngine(reconcile.NewRepository(database.GetDB()), cfg)
	engine.SetStats(counter.NewRecorder())
	engine.OnCompleted(mail.SendPaymentReceipt)

	webhookSecret := env.GetEnv("PROVIDER_WEBHOOK_SECRET", "")
	intake := reconcile.NewIntake(engine, env.GetEnv("PROVIDER_NAME", "payfox"), func(payload []byte, signature string) bool {
		return provider.VerifyWebhookSignature(payload, signature, webhookSecret)
	})
	intake.SetReplayGuard(cache.NewReplayGuard(cfg.DefaultExpiry * 4))

	sweeper := reconcile.NewSweeper(engine, provider.NewClientFromEnv())
	reaper := reconcile.NewReaper(engine)
	manager := reconcile.NewManager(sweeper, reaper)

	controllers.SetupPaymentEngine(engine)
	controllers.SetupPaymentIntake(intake)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "paycore",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app, manager
}
