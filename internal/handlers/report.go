package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/report"
)

// WorkflowHandler serves the read-only workflow report.
type WorkflowHandler struct {
	generator *report.Generator
}

func NewWorkflowHandler(generator *report.Generator) *WorkflowHandler {
	return &WorkflowHandler{generator: generator}
}

func (h *WorkflowHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/movements/:movement_id/workflow", h.Get)
}

// Get handles GET /movements/:movement_id/workflow
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := ParseUUID(c, "movement_id")
	if err != nil {
		return err
	}

	response, err := h.generator.Generate(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, response)
}
