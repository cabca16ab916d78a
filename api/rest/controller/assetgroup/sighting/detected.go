package sighting

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/api/rest/controller/respond"
	"github.com/houston-cloud/houston/api/rest/service/sighting"
	"github.com/houston-cloud/houston/internal/detection"
	"github.com/labstack/echo/v4"
)

// Detected is the callback sage invokes when a detection job resolves.
// It must accept duplicate and late deliveries without erroring.
func Detected(c echo.Context) error {
	sightingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	var payload detection.ResultPayload
	if err = c.Bind(&payload); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	err = sighting.Service(c.Request().Context()).
		SageDetected(sightingID, jobID, &payload)
	if err != nil {
		return respond.Error(err)
	}

	return c.NoContent(http.StatusOK)
}
