package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sitestock-backend/internal/audit"
	"sitestock-backend/internal/auth"
	"sitestock-backend/internal/config"
	"sitestock-backend/internal/database"
	"sitestock-backend/internal/ledger"
	"sitestock-backend/internal/logger"
	"sitestock-backend/internal/materials"
	"sitestock-backend/internal/metrics"
	"sitestock-backend/internal/models"
	"sitestock-backend/internal/mongostore"
	"sitestock-backend/internal/projects"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// Quantities and money go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	db, store, mongoClient, err := openStorage(cfg, zl)
	if err != nil {
		zl.Fatal("storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	if mongoClient != nil {
		defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	}

	reg := metrics.NewRegistry()
	opts := []ledger.Option{
		ledger.WithLogger(zl.Named("ledger")),
		ledger.WithRetry(cfg.Ledger.MaxRetries, cfg.Ledger.RetryBase),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, ledger.WithRecorder(metrics.NewLedger(reg)))
	}
	svc := ledger.NewService(store, opts...)
	auditWriter := audit.NewWriter(db, zl.Named("audit"))

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var e *fiber.Error
			if errors.As(err, &e) {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			zl.Error("unexpected error", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.CORSOriginList(), ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "storage": cfg.Storage.Driver})
	})
	if cfg.Metrics.Enabled {
		app.Get("/metrics", metrics.Handler(reg))
	}

	api := app.Group("/api")

	// Public auth; accounts live in Postgres.
	if db != nil {
		api.Post("/auth/register", auth.RegisterHandler(db, cfg))
		api.Post("/auth/login", auth.LoginHandler(db, cfg))
	}

	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg.Auth.JWTSecret))

	protected.Get("/auth/me", auth.MeHandler(db))

	projects.RegisterRoutes(protected, projects.Deps{
		Ledger:  svc,
		Audit:   auditWriter,
		Timeout: cfg.Ledger.RequestTimeout,
	})
	materials.RegisterRoutes(protected, materials.Deps{
		Ledger:  svc,
		Audit:   auditWriter,
		Log:     zl.Named("materials"),
		Timeout: cfg.Ledger.RequestTimeout,
	})

	if db != nil {
		protected.Get("/audit-logs", auth.RequireRole(models.RoleOwner), audit.ListAuditLogsHandler(db))
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		zl.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			zl.Error("shutdown", zap.Error(err))
		}
	}()

	zl.Info("server listening", zap.String("port", cfg.HTTP.Port), zap.String("storage", cfg.Storage.Driver))
	if err := app.Listen(":" + cfg.HTTP.Port); err != nil {
		zl.Fatal("listen", zap.Error(err))
	}
}

// openStorage picks the ledger store. Postgres also backs users and audit
// logs; with the other drivers it is opened only when a DSN was configured.
func openStorage(cfg *config.Config, zl *zap.Logger) (*gorm.DB, ledger.Store, *mongo.Client, error) {
	var db *gorm.DB
	if cfg.PostgresEnabled() {
		var err error
		db, err = database.Open(cfg.Postgres.DSN, zl)
		if err != nil {
			return nil, nil, nil, err
		}
	} else {
		zl.Warn("no postgres configured; serving externally issued tokens, auth and audit log routes are disabled")
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return db, database.NewLedgerStore(db), nil, nil
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		client, store, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, zl)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, store, client, nil
	default:
		return db, ledger.NewMemoryStore(), nil, nil
	}
}
