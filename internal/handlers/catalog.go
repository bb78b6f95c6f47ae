package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/models"
)

// CatalogHandler serves the chain catalog administration endpoints.
type CatalogHandler struct {
	service *catalog.Service
}

func NewCatalogHandler(service *catalog.Service) *CatalogHandler {
	return &CatalogHandler{service: service}
}

func (h *CatalogHandler) RegisterRoutes(g *echo.Group) {
	chains := g.Group("/catalog/chains")
	chains.GET("", h.ListChains)
	chains.POST("", h.CreateChain)
	chains.GET("/:chain_id", h.GetChain)
	chains.PUT("/:chain_id", h.UpdateChain)
	chains.DELETE("/:chain_id", h.RetireChain)
	chains.GET("/:chain_id/steps", h.ListSteps)
	chains.POST("/:chain_id/steps", h.AddStep)

	g.GET("/catalog/steps/:step_id", h.GetStep)
	g.POST("/catalog/steps/:step_id/files", h.AddStepFile)
}

// ListChains handles GET /catalog/chains
func (h *CatalogHandler) ListChains(c echo.Context) error {
	chains, err := h.service.ListChains(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, chains)
}

// CreateChain handles POST /catalog/chains
func (h *CatalogHandler) CreateChain(c echo.Context) error {
	req, err := BindRequest[models.CreateChainRequest](c)
	if err != nil {
		return err
	}

	chain, err := h.service.CreateChain(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, chain)
}

// GetChain handles GET /catalog/chains/:chain_id
func (h *CatalogHandler) GetChain(c echo.Context) error {
	id, err := ParseUUID(c, "chain_id")
	if err != nil {
		return err
	}

	chain, err := h.service.GetChain(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, chain)
}

// UpdateChain handles PUT /catalog/chains/:chain_id
func (h *CatalogHandler) UpdateChain(c echo.Context) error {
	id, err := ParseUUID(c, "chain_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.UpdateChainRequest](c)
	if err != nil {
		return err
	}

	chain, err := h.service.UpdateChain(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, chain)
}

// RetireChain handles DELETE /catalog/chains/:chain_id. Retired chains stay
// readable for the movements already using them.
func (h *CatalogHandler) RetireChain(c echo.Context) error {
	id, err := ParseUUID(c, "chain_id")
	if err != nil {
		return err
	}

	chain, err := h.service.RetireChain(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, chain)
}

// ListSteps handles GET /catalog/chains/:chain_id/steps
func (h *CatalogHandler) ListSteps(c echo.Context) error {
	id, err := ParseUUID(c, "chain_id")
	if err != nil {
		return err
	}

	steps, err := h.service.ListStepsFor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, steps)
}

// AddStep handles POST /catalog/chains/:chain_id/steps
func (h *CatalogHandler) AddStep(c echo.Context) error {
	id, err := ParseUUID(c, "chain_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.CreateStepRequest](c)
	if err != nil {
		return err
	}

	step, err := h.service.AddStep(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, step)
}

// GetStep handles GET /catalog/steps/:step_id
func (h *CatalogHandler) GetStep(c echo.Context) error {
	id, err := ParseUUID(c, "step_id")
	if err != nil {
		return err
	}

	step, err := h.service.GetStep(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, step)
}

// AddStepFile handles POST /catalog/steps/:step_id/files
func (h *CatalogHandler) AddStepFile(c echo.Context) error {
	id, err := ParseUUID(c, "step_id")
	if err != nil {
		return err
	}
	req, err := BindRequest[models.CreateStepFileRequest](c)
	if err != nil {
		return err
	}

	file, err := h.service.AddStepFile(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, file)
}
