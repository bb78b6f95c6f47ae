package handlers

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/movement"
)

// MovementHandler serves the movement configuration endpoints.
type MovementHandler struct {
	builder *movement.Builder
}

func NewMovementHandler(builder *movement.Builder) *MovementHandler {
	return &MovementHandler{builder: builder}
}

func (h *MovementHandler) RegisterRoutes(g *echo.Group) {
	movements := g.Group("/movements")
	movements.GET("", h.List)
	movements.POST("", h.Create)
	movements.GET("/:movement_id", h.Get)
	movements.DELETE("/:movement_id", h.Delete)

	movements.POST("/:movement_id/chains", h.AttachChain)
	movements.DELETE("/:movement_id/chains/:chain_id", h.DetachChain)

	steps := movements.Group("/:movement_id/chains/:chain_id/steps/:step_id")
	steps.POST("/activate", h.ActivateStep)
	steps.POST("/deactivate", h.DeactivateStep)
	steps.PUT("/files/:step_file_id/monitoring", h.SetFileMonitored)
	steps.PUT("/files/:step_file_id/names", h.OverrideFileNames)
	steps.POST("/files/:step_file_id/rules", h.AddRule)

	g.DELETE("/rules/:rule_id", h.RemoveRule)
}

// stepPath is the movement, chain and step ids every step route carries.
type stepPath struct {
	movementID uuid.UUID
	chainID    uuid.UUID
	stepID     uuid.UUID
}

func parseStepPath(c echo.Context) (stepPath, error) {
	var (
		p   stepPath
		err error
	)
	if p.movementID, err = ParseUUID(c, "movement_id"); err != nil {
		return p, err
	}
	if p.chainID, err = ParseUUID(c, "chain_id"); err != nil {
		return p, err
	}
	if p.stepID, err = ParseUUID(c, "step_id"); err != nil {
		return p, err
	}
	return p, nil
}

// List handles GET /movements
func (h *MovementHandler) List(c echo.Context) error {
	movements, err := h.builder.ListMovements(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, movements)
}

// Create handles POST /movements
func (h *MovementHandler) Create(c echo.Context) error {
	req, err := BindRequest[models.CreateMovementRequest](c)
	if err != nil {
		return err
	}

	created, err := h.builder.CreateMovement(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, created)
}

// Get handles GET /movements/:movement_id
func (h *MovementHandler) Get(c echo.Context) error {
	id, err := ParseUUID(c, "movement_id")
	if err != nil {
		return err
	}

	m, err := h.builder.GetMovement(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, m)
}

// Delete handles DELETE /movements/:movement_id
func (h *MovementHandler) Delete(c echo.Context) error {
	id, err := ParseUUID(c, "movement_id")
	if err != nil {
		return err
	}

	if err := h.builder.DeleteMovement(c.Request().Context(), id); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// AttachChain handles POST /movements/:movement_id/chains
func (h *MovementHandler) AttachChain(c echo.Context) error {
	id, err := ParseUUID(c, "movement_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.AttachChainRequest](c)
	if err != nil {
		return err
	}

	chain, err := h.builder.AttachChain(c.Request().Context(), id, req.CatalogChainID)
	if err != nil {
		return err
	}
	return CreatedResponse(c, chain)
}

// DetachChain handles DELETE /movements/:movement_id/chains/:chain_id
func (h *MovementHandler) DetachChain(c echo.Context) error {
	id, err := ParseUUID(c, "movement_id")
	if err != nil {
		return err
	}
	chainID, err := ParseUUID(c, "chain_id")
	if err != nil {
		return err
	}

	if err := h.builder.DetachChain(c.Request().Context(), id, chainID); err != nil {
		return err
	}
	return NoContentResponse(c)
}

func (h *MovementHandler) ActivateStep(c echo.Context) error {
	p, err := parseStepPath(c)
	if err != nil {
		return err
	}

	step, err := h.builder.ActivateStep(c.Request().Context(), p.movementID, p.chainID, p.stepID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, step)
}

func (h *MovementHandler) DeactivateStep(c echo.Context) error {
	p, err := parseStepPath(c)
	if err != nil {
		return err
	}

	step, err := h.builder.DeactivateStep(c.Request().Context(), p.movementID, p.chainID, p.stepID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, step)
}

func (h *MovementHandler) SetFileMonitored(c echo.Context) error {
	p, err := parseStepPath(c)
	if err != nil {
		return err
	}
	fileID, err := ParseUUID(c, "step_file_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.SetMonitoringRequest](c)
	if err != nil {
		return err
	}

	file, err := h.builder.SetFileMonitored(c.Request().Context(), p.movementID, p.chainID, p.stepID, fileID, *req.IsMonitored)
	if err != nil {
		return err
	}
	return SuccessResponse(c, file)
}

func (h *MovementHandler) OverrideFileNames(c echo.Context) error {
	p, err := parseStepPath(c)
	if err != nil {
		return err
	}
	fileID, err := ParseUUID(c, "step_file_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.OverrideFileNamesRequest](c)
	if err != nil {
		return err
	}

	file, err := h.builder.OverrideFileNames(c.Request().Context(), p.movementID, p.chainID, p.stepID, fileID, req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, file)
}

func (h *MovementHandler) AddRule(c echo.Context) error {
	p, err := parseStepPath(c)
	if err != nil {
		return err
	}
	fileID, err := ParseUUID(c, "step_file_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.AddRuleRequest](c)
	if err != nil {
		return err
	}

	rule, err := h.builder.AddRule(c.Request().Context(), p.movementID, p.chainID, p.stepID, fileID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, rule)
}

// RemoveRule handles DELETE /rules/:rule_id
func (h *MovementHandler) RemoveRule(c echo.Context) error {
	id, err := ParseUUID(c, "rule_id")
	if err != nil {
		return err
	}

	if err := h.builder.RemoveRule(c.Request().Context(), id); err != nil {
		return err
	}
	return NoContentResponse(c)
}
