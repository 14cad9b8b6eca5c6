package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/scholargraph/scholargraph/internal/server/middleware"
)

// GetAggregatedEdgesHandler returns cross-document edge summaries, one row
// per entity pair, strongest first.
func GetAggregatedEdgesHandler(c echo.Context) error {
	type getAggregatedEdgesParams struct {
		MinDocuments int `query:"min_documents" validate:"omitempty,min=1"`
		Limit        int `query:"limit" validate:"omitempty,min=1,max=1000"`
	}

	params := new(getAggregatedEdgesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	store := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	edges, err := store.AggregatedEdges(ctx, params.MinDocuments, params.Limit)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, edges)
}
