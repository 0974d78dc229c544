// Package api serves the read-only status endpoints and the manual stop
// control over HTTP.
package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"omni-trader/internal/catalog"
	"omni-trader/internal/engine"
	"omni-trader/internal/ledger"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
	"omni-trader/internal/resilience"
	"omni-trader/internal/security"
)

// Backend is the engine surface the API reads from.
type Backend interface {
	Status() engine.Status
	Metrics() models.PerformanceMetrics
	OpenTrades() []models.Trade
	ClosedTrades() []models.Trade
	LedgerSnapshot() ledger.Snapshot
	Providers() []resilience.CircuitBreakerStats
	Catalog() *catalog.Snapshot
	Signals() []models.Signal
	Stop() bool
}

const (
	defaultLimit  = 100
	shutdownGrace = 5 * time.Second
)

type Router struct {
	app     *fiber.App
	backend Backend
	logger  zerolog.Logger
}

func New(backend Backend, logger zerolog.Logger) *Router {
	app := fiber.New(fiber.Config{
		AppName:               "omni-trader",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          errorHandler,
	})

	r := &Router{
		app:     app,
		backend: backend,
		logger:  logging.WithComponent(logger, "api"),
	}

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Get("/status", r.status)
	v1.Get("/metrics", r.metrics)
	v1.Get("/ledger", r.ledger)
	v1.Get("/trades/open", r.openTrades)
	v1.Get("/trades/closed", r.closedTrades)
	v1.Get("/catalog", r.catalog)
	v1.Get("/signals", r.signals)
	v1.Post("/stop", r.stop)

	app.Get("/health", r.health)

	return r
}

func (r *Router) App() *fiber.App {
	return r.app
}

// Listen serves on addr until ctx is cancelled.
func (r *Router) Listen(ctx context.Context, addr string) error {
	serverErr := make(chan error, 1)
	go func() {
		r.logger.Info().Str("addr", addr).Msg("API listening")
		serverErr <- r.app.Listen(addr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := r.app.ShutdownWithContext(shutdownCtx); err != nil {
			r.logger.Error().Err(err).Msg("API shutdown error")
			return err
		}
		r.logger.Info().Msg("API shutdown complete")
		return nil
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": security.MaskSensitive(err.Error())})
}

func (r *Router) health(c *fiber.Ctx) error {
	providers := r.backend.Providers()
	status := "ok"
	for _, p := range providers {
		if p.State == resilience.CircuitOpen {
			status = "degraded"
			break
		}
	}
	running := r.backend.Status().Running
	if !running {
		status = "halted"
	}
	return c.JSON(fiber.Map{
		"status":    status,
		"running":   running,
		"providers": providers,
	})
}

func (r *Router) status(c *fiber.Ctx) error {
	return c.JSON(r.backend.Status())
}

func (r *Router) metrics(c *fiber.Ctx) error {
	return c.JSON(r.backend.Metrics())
}

func (r *Router) ledger(c *fiber.Ctx) error {
	return c.JSON(r.backend.LedgerSnapshot())
}

func (r *Router) openTrades(c *fiber.Ctx) error {
	trades := r.backend.OpenTrades()
	if trades == nil {
		trades = []models.Trade{}
	}
	return c.JSON(trades)
}

// closedTrades returns the most recent closed trades, newest last.
func (r *Router) closedTrades(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}

	symbol := security.NormalizeSymbol(c.Query("symbol"))
	if symbol != "" {
		if err := security.ValidateSymbol(symbol); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	status := models.TradeStatus(c.Query("status"))
	if status != "" {
		if err := security.ValidateStatus(string(status)); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	all := r.backend.ClosedTrades()
	trades := make([]models.Trade, 0, len(all))
	for _, t := range all {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		trades = append(trades, t)
	}
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return c.JSON(trades)
}

func (r *Router) catalog(c *fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	snap := r.backend.Catalog()
	insts := snap.Instruments
	if len(insts) > limit {
		insts = insts[:limit]
	}
	return c.JSON(fiber.Map{
		"seq":          snap.Seq,
		"refreshed_at": snap.RefreshedAt,
		"scanned":      snap.Scanned,
		"failed":       snap.Failed,
		"instruments":  insts,
	})
}

func (r *Router) signals(c *fiber.Ctx) error {
	sigs := r.backend.Signals()
	if sigs == nil {
		sigs = []models.Signal{}
	}
	return c.JSON(sigs)
}

func (r *Router) stop(c *fiber.Ctx) error {
	stopped := r.backend.Stop()
	r.logger.Info().Bool("stopped", stopped).Str("remote", c.IP()).Msg("Stop requested")
	if !stopped {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"stopped": false, "status": "already halted"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"stopped": true})
}

func queryLimit(c *fiber.Ctx) (int, error) {
	v := c.Query("limit")
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid limit")
	}
	return n, nil
}
