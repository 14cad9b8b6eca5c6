package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/scholargraph/scholargraph/internal/server/middleware"
)

// GetDocumentStatusHandler reports whether a document's graph contribution
// has been written, with the stored summary when it has.
func GetDocumentStatusHandler(c echo.Context) error {
	type getDocumentStatusParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(getDocumentStatusParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	store := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	doc, ok, err := store.GetDocument(ctx, params.ID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"id":     params.ID,
			"status": "unknown",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":       doc.ID,
		"status":   "done",
		"document": doc,
	})
}
