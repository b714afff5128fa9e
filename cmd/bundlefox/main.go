package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/BundleFox/app/controllers"
	"github.com/ManuelReschke/BundleFox/internal/pkg/bundlestore"
	"github.com/ManuelReschke/BundleFox/internal/pkg/cache"
	"github.com/ManuelReschke/BundleFox/internal/pkg/constants"
	"github.com/ManuelReschke/BundleFox/internal/pkg/database"
	"github.com/ManuelReschke/BundleFox/internal/pkg/env"
	"github.com/ManuelReschke/BundleFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BundleFox/internal/pkg/router"
	"github.com/ManuelReschke/BundleFox/internal/pkg/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app, stop := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Server] Shutdown error: %v", err)
	}
	stop()
}

// NewApplication wires the services and returns the app with a function that
// stops the background workers.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/bundlefox to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	store := setupBundleStore()
	svc := services.New(database.GetDB(), cache.GetClient(), store, services.LoadConfig())
	ctl := controllers.New(svc.Dependencies())

	manager := jobqueue.NewManager(svc.Queue)
	manager.SetCounterFlusher(svc.Aggregator)
	manager.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024,
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
		BasePath: constants.DocsPath + "/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	cfg := router.LoadConfig(ctl)
	cfg.LimiterStorage = router.NewLimiterStorage(cache.GetClient())
	router.InstallRouter(app, cfg)

	stop := func() {
		manager.Stop()
		ctl.Triggers.Wait()
		svc.Updates.Wait()
	}
	return app, stop
}

// setupBundleStore connects object storage when it is enabled.
func setupBundleStore() *bundlestore.Client {
	cfg, err := bundlestore.LoadConfig()
	if err != nil {
		log.Fatalf("[BundleStore] Invalid configuration: %v", err)
	}
	if !cfg.IsEnabled() {
		log.Info("[BundleStore] Object storage disabled, only external bundle URLs are served")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := bundlestore.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("[BundleStore] Failed to create client: %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		log.Warnf("[BundleStore] Bucket not reachable: %v", err)
	}
	return client
}
