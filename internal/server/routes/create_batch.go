package routes

import (
	"encoding/json"
	"net/http"

	gonanoid "github.com/matoous/go-nanoid/v2"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/scholargraph/scholargraph/internal/queue"
	"github.com/scholargraph/scholargraph/internal/server/middleware"
)

// CreateBatchHandler accepts a batch of document paths and enqueues it for
// the workers. Responds 202 with the generated batch ID; processing status
// is per document, via the status endpoint.
func CreateBatchHandler(c echo.Context) error {
	type createBatchParams struct {
		Source string   `json:"source" validate:"required,oneof=fs s3"`
		Paths  []string `json:"paths" validate:"required,min=1,dive,required"`
	}

	params := new(createBatchParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	batchID, err := gonanoid.New()
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	msg := queue.BatchMessage{
		BatchID: batchID,
		Source:  params.Source,
		Paths:   params.Paths,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	ch := c.(*middleware.AppContext).App.Channel
	if err := queue.PublishFIFO(ch, queue.IngestQueue, data); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"batch_id":  batchID,
		"documents": len(params.Paths),
	})
}
