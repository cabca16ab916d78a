package assetgroup

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/api/rest/controller/respond"
	"github.com/houston-cloud/houston/api/rest/service/assetgroup"
	"github.com/labstack/echo/v4"
)

func Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	if err := assetgroup.Service(c.Request().Context()).Delete(id); err != nil {
		return respond.Error(err)
	}

	return c.NoContent(http.StatusNoContent)
}
