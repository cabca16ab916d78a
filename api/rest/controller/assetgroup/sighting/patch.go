package sighting

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/api/rest/controller/respond"
	"github.com/houston-cloud/houston/api/rest/service/sighting"
	"github.com/labstack/echo/v4"
)

// HeaderAllowDeleteCascadeSighting confirms that a patch removing the
// last encounter may cascade-delete the whole sighting.
const HeaderAllowDeleteCascadeSighting = "x-allow-delete-cascade-sighting"

func Patch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	var req sighting.PatchRequest
	if err = c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	opts := sighting.PatchOptions{
		AllowDeleteCascadeSighting: allowed(
			c.Request().Header.Get(HeaderAllowDeleteCascadeSighting)),
	}

	s, err := sighting.Service(c.Request().Context()).Patch(id, &req, opts)
	if err != nil {
		return respond.Error(err)
	}
	if s == nil {
		// the patch cascade-deleted the sighting
		return c.NoContent(http.StatusNoContent)
	}

	return c.JSON(http.StatusOK, s)
}

func allowed(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}
