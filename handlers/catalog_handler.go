package handlers

import (
	"context"
	"time"

	"github.com/3moredev/climasys/clinical"
	"github.com/3moredev/climasys/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// CatalogSearcher finds catalog entries for type-ahead pickers.
type CatalogSearcher interface {
	Search(ctx context.Context, scope clinical.Scope, kind clinical.Kind, term string, limit int) ([]clinical.Option, error)
}

// CatalogHandler handles reference catalog lookups
type CatalogHandler struct {
	catalogs CatalogSearcher
	logger   *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalogs CatalogSearcher, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalogs: catalogs,
		logger:   logger,
	}
}

// SearchCatalog searches one kind's catalog for the term query parameter.
func (h *CatalogHandler) SearchCatalog(c *fiber.Ctx) error {
	kind, err := clinical.ParseKind(c.Params("kind"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("UNKNOWN_KIND", err.Error()))
	}
	searchTerm := c.Query("term")
	if searchTerm == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Search term is required"})
	}
	scope := middleware.ScopeFrom(c)

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	options, err := h.catalogs.Search(ctx, scope, kind, searchTerm, c.QueryInt("limit", 50))
	if err != nil {
		h.logger.Error("failed to search catalog",
			zap.String("kind", string(kind)),
			zap.String("searchTerm", searchTerm),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to search catalog",
		})
	}

	h.logger.Debug("catalog search completed",
		zap.String("kind", string(kind)),
		zap.String("searchTerm", searchTerm),
		zap.Int("count", len(options)))

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"kind":    kind,
		"options": options,
	})
}
