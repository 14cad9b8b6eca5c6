package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/scholargraph/scholargraph/internal/server/middleware"
	"github.com/scholargraph/scholargraph/pkg/model"
)

// GetEntitiesHandler lists the canonical entities of one category with
// their aliases.
func GetEntitiesHandler(c echo.Context) error {
	type getEntitiesParams struct {
		Category string `param:"category" validate:"required,oneof=theory method phenomenon variable finding contribution author citation"`
	}

	params := new(getEntitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	store := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	entities, err := store.EntitiesByCategory(ctx, model.Category(params.Category))
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	type entityView struct {
		Category      string   `json:"category"`
		CanonicalName string   `json:"canonical_name"`
		Aliases       []string `json:"aliases"`
	}
	out := make([]entityView, 0, len(entities))
	for _, e := range entities {
		out = append(out, entityView{
			Category:      string(e.Category),
			CanonicalName: e.CanonicalName,
			Aliases:       e.Aliases,
		})
	}

	return c.JSON(http.StatusOK, out)
}
