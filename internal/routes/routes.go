package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vtu-pay/vtu_pay/internal/config"
	"github.com/vtu-pay/vtu_pay/internal/device"
	"github.com/vtu-pay/vtu_pay/internal/middleware"
	"github.com/vtu-pay/vtu_pay/internal/session"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	Storage  storage.Store
	Registry *device.Registry
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Storage == nil || d.Registry == nil {
		return fmt.Errorf("routes: storage and device registry are required")
	}
	if !d.Cfg.IsDev() && d.Cache == nil {
		d.Logger.Warn("redis is not configured; idempotency and login rate limiting are disabled", slog.String("env", d.Cfg.AppEnv))
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	dev := api.Group("", middleware.Device(d.Registry))

	var rateLimiter, idempotency fiber.Handler
	if d.Cache != nil {
		rateLimiter = middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit)
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	// Public routes
	RegisterSessionRoutes(dev, rateLimiter, d.Logger)
	RegisterBannerRoutes(dev)

	// Protected routes
	RegisterBeneficiaryRoutes(dev, middleware.Guard(session.Authenticated))
	RegisterPurchaseRoutes(dev, middleware.Guard(session.Transactional), idempotency)

	return nil
}

// ErrorHandler renders errors as {"message": ...} so clients can show the
// text verbatim.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	msg := "Something went wrong. Please try again."
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"message": msg})
}
