package handlers

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/3moredev/climasys/clinical"
	"github.com/3moredev/climasys/middleware"
	"github.com/3moredev/climasys/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	refreshTimeout = 30 * time.Second
)

// VisitHandler exposes visit sessions: one reconciliation coordinator per
// open visit-entry screen.
type VisitHandler struct {
	sessions  *clinical.Sessions
	logger    *zap.Logger
	validator *validator.Validate

	// background refreshes started after a save
	refreshes sync.WaitGroup
}

// NewVisitHandler creates a new VisitHandler
func NewVisitHandler(sessions *clinical.Sessions, logger *zap.Logger) *VisitHandler {
	return &VisitHandler{
		sessions:  sessions,
		logger:    logger,
		validator: validator.New(),
	}
}

// Wait blocks until every background refresh has finished.
func (h *VisitHandler) Wait() {
	h.refreshes.Wait()
}

func (h *VisitHandler) coordinator(c *fiber.Ctx) (*clinical.Coordinator, error) {
	return h.sessions.Get(c.Params("id"), middleware.ScopeFrom(c))
}

// kind resolves the :kind parameter. When ok is false the error response
// has already been written and err is what the handler returns.
func (h *VisitHandler) kind(c *fiber.Ctx) (clinical.Kind, bool, error) {
	kind, err := clinical.ParseKind(c.Params("kind"))
	if err != nil {
		return "", false, c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("UNKNOWN_KIND", err.Error()))
	}
	return kind, true, nil
}

// bind parses and validates the body into req, answering 400 when it fails.
func bind(c *fiber.Ctx, v *validator.Validate, logger *zap.Logger, req any) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		logger.Debug("failed to parse request body", zap.Error(err))
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
	}
	if err := v.Struct(req); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": formatValidationErrors(err),
		})
	}
	return true, nil
}

// OpenSession starts a visit session, loads every catalog and runs the initial fetch.
func (h *VisitHandler) OpenSession(c *fiber.Ctx) error {
	var req models.OpenVisitRequest
	if ok, err := bind(c, h.validator, h.logger, &req); !ok {
		return err
	}

	visit := clinical.VisitRef{
		Scope:       middleware.ScopeFrom(c),
		PatientID:   req.PatientID,
		ShiftID:     req.ShiftID,
		VisitNumber: req.VisitNumber,
	}
	id, coord, err := h.sessions.Open(visit)
	if err != nil {
		return clinicalError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	resp := models.OpenVisitResponse{SessionID: id}
	if failed := coord.LoadCatalogs(ctx); len(failed) > 0 {
		resp.CatalogErrors = make(map[string]string, len(failed))
		for kind, err := range failed {
			resp.CatalogErrors[string(kind)] = err.Error()
		}
	}
	outcome, err := coord.Fetch(ctx)
	resp.Fetch = outcome.String()
	if err != nil {
		resp.FetchError = err.Error()
	}
	resp.Visit = coord.Snapshot()

	h.logger.Info("visit session opened",
		zap.String("session_id", id),
		zap.String("patient_id", visit.PatientID),
		zap.String("fetch", resp.Fetch),
		zap.Int("catalog_failures", len(resp.CatalogErrors)))
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetSession returns the current state of the session.
func (h *VisitHandler) GetSession(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(coord.Snapshot())
}

// CloseSession drops the session.
func (h *VisitHandler) CloseSession(c *fiber.Ctx) error {
	if err := h.sessions.Close(c.Params("id"), middleware.ScopeFrom(c)); err != nil {
		return clinicalError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Refresh runs fetch reconciliation.
func (h *VisitHandler) Refresh(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	outcome, err := coord.Fetch(ctx)
	if err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(fiber.Map{
		"fetch": outcome.String(),
		"visit": coord.Snapshot(),
	})
}

// ReloadCatalog retries the catalog load of one kind.
func (h *VisitHandler) ReloadCatalog(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	kind, ok, err := h.kind(c)
	if !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if err := coord.LoadCatalog(ctx, kind); err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(fiber.Map{
		"kind":    kind,
		"options": coord.Registry(kind).Catalog().Options(),
	})
}

// SetSelection replaces the selection set of one kind.
func (h *VisitHandler) SetSelection(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	kind, ok, err := h.kind(c)
	if !ok {
		return err
	}
	var req models.SelectionRequest
	if ok, err := bind(c, h.validator, h.logger, &req); !ok {
		return err
	}
	if err := coord.SetSelection(kind, req.Keys); err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(fiber.Map{
		"kind":     kind,
		"selected": coord.Registry(kind).Selected(),
	})
}

// BulkAdd adds catalog entries, or the current selection when no keys are sent.
func (h *VisitHandler) BulkAdd(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	kind, ok, err := h.kind(c)
	if !ok {
		return err
	}
	var req models.BulkAddRequest
	if len(c.Body()) > 0 {
		if ok, err := bind(c, h.validator, h.logger, &req); !ok {
			return err
		}
	}
	added, notices, err := coord.BulkAdd(kind, req.Keys)
	if err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(models.MutationResponse{
		Rows:    coord.Registry(kind).Rows(),
		Added:   added,
		Notices: notices,
	})
}

// AddCustom adds a user-authored entry.
func (h *VisitHandler) AddCustom(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	kind, ok, err := h.kind(c)
	if !ok {
		return err
	}
	var req clinical.CustomInput
	if ok, err := bind(c, h.validator, h.logger, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	row, notice, err := coord.AddCustom(ctx, kind, req)
	if err != nil {
		return clinicalError(c, err)
	}
	resp := models.MutationResponse{Rows: coord.Registry(kind).Rows()}
	if notice != nil {
		resp.Notices = []*clinical.Notice{notice}
		return c.JSON(resp)
	}
	resp.Added = []clinical.Row{row}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// RemoveRow deletes the row with the given key.
func (h *VisitHandler) RemoveRow(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	kind, ok, err := h.kind(c)
	if !ok {
		return err
	}
	// keys fall back to the label, so they may carry escaped spaces
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("INVALID_KEY", "Row key is not a valid path segment"))
	}
	removed, err := coord.Remove(kind, key)
	if err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(fiber.Map{
		"removed": removed,
		"rows":    coord.Registry(kind).Rows(),
	})
}

// UpdateField edits one freeform field of a row.
func (h *VisitHandler) UpdateField(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	kind, ok, err := h.kind(c)
	if !ok {
		return err
	}
	var req models.UpdateFieldRequest
	if ok, err := bind(c, h.validator, h.logger, &req); !ok {
		return err
	}
	row, err := coord.UpdateField(kind, c.Params("rowID"), clinical.Field(req.Field), req.Value)
	if err != nil {
		return clinicalError(c, err)
	}
	return c.JSON(row)
}

// Save persists the visit and then refreshes it in the background.
func (h *VisitHandler) Save(c *fiber.Ctx) error {
	coord, err := h.coordinator(c)
	if err != nil {
		return clinicalError(c, err)
	}
	var req models.SaveRequest
	if len(c.Body()) > 0 {
		if ok, err := bind(c, h.validator, h.logger, &req); !ok {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := coord.Save(ctx, req.Fields); err != nil {
		if !errors.Is(err, clinical.ErrSaveInProgress) {
			h.logger.Warn("visit save failed", zap.String("session_id", c.Params("id")), zap.Error(err))
		}
		return clinicalError(c, err)
	}

	h.refreshes.Add(1)
	go func() {
		defer h.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := coord.RefreshAfterSave(ctx); err != nil {
			h.logger.Warn("refresh after save failed",
				zap.String("patient_id", coord.Visit().PatientID),
				zap.Error(err))
		}
	}()

	return c.JSON(coord.Snapshot())
}
