package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/3moredev/climasys/models"
	"github.com/3moredev/climasys/printing"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// EventPublisher relays browser window signals to a print station.
type EventPublisher interface {
	Publish(ctx context.Context, station string, ev printing.Event) error
}

// PrintHandler runs sequential print cycles, one orchestrator per station.
type PrintHandler struct {
	platform     func(station string) printing.Platform
	events       EventPublisher
	options      []printing.Option
	cycleTimeout time.Duration
	logger       *zap.Logger
	validator    *validator.Validate

	mu       sync.Mutex
	stations map[string]*printing.Orchestrator
}

// NewPrintHandler creates a PrintHandler. platform builds the print platform of a station.
func NewPrintHandler(platform func(station string) printing.Platform, events EventPublisher, cycleTimeout time.Duration, logger *zap.Logger, opts ...printing.Option) *PrintHandler {
	if cycleTimeout <= 0 {
		cycleTimeout = 2 * time.Minute
	}
	return &PrintHandler{
		platform:     platform,
		events:       events,
		options:      append([]printing.Option{printing.WithLogger(logger)}, opts...),
		cycleTimeout: cycleTimeout,
		logger:       logger,
		validator:    validator.New(),
		stations:     make(map[string]*printing.Orchestrator),
	}
}

func (h *PrintHandler) orchestrator(station string) *printing.Orchestrator {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.stations[station]
	if !ok {
		o = printing.NewOrchestrator(h.platform(station), h.options...)
		h.stations[station] = o
	}
	return o
}

func (h *PrintHandler) station(c *fiber.Ctx) (string, bool, error) {
	station := c.Params("station")
	if err := h.validator.Var(station, "required,alphanum,max=64"); err != nil {
		return "", false, c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse("INVALID_STATION", "station must be alphanumeric", formatValidationErrors(err)))
	}
	return station, true, nil
}

// RunJob prints the primary document and then, once, the secondary one.
func (h *PrintHandler) RunJob(c *fiber.Ctx) error {
	station, ok, err := h.station(c)
	if !ok {
		return err
	}
	var req models.PrintRequest
	if ok, err := bind(c, h.validator, h.logger, &req); !ok {
		return err
	}
	if req.Primary.Empty() {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("EMPTY_DOCUMENT", "primary document has no content"))
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.cycleTimeout)
	defer cancel()

	res, err := h.orchestrator(station).Run(ctx, req.Primary, req.Secondary)
	switch {
	case errors.Is(err, printing.ErrCycleInProgress):
		return c.Status(fiber.StatusConflict).JSON(NewErrorResponse("PRINT_IN_PROGRESS", err.Error()))
	case err != nil:
		h.logger.Warn("print cycle aborted", zap.String("station", station), zap.Error(err))
		return c.Status(fiber.StatusGatewayTimeout).JSON(NewErrorResponse("PRINT_ABORTED", err.Error(), res))
	}
	return c.JSON(res)
}

// PostEvent relays an afterprint, focus or blur signal from the station window.
func (h *PrintHandler) PostEvent(c *fiber.Ctx) error {
	station, ok, err := h.station(c)
	if !ok {
		return err
	}
	var ev printing.Event
	if ok, err := bind(c, h.validator, h.logger, &ev); !ok {
		return err
	}
	if err := h.events.Publish(c.Context(), station, ev); err != nil {
		h.logger.Error("failed to relay print event", zap.String("station", station), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(NewErrorResponse("RELAY_FAILED", err.Error()))
	}
	return c.SendStatus(fiber.StatusAccepted)
}
