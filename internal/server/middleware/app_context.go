package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/scholargraph/scholargraph/pkg/graphstore"
)

// App bundles the shared dependencies every handler needs.
type App struct {
	Store   *graphstore.Store
	Channel *amqp091.Channel
}

// AppContext wraps the request context with the shared application state.
type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}
