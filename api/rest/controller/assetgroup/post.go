package assetgroup

import (
	"net/http"

	"github.com/houston-cloud/houston/api/rest/controller/respond"
	"github.com/houston-cloud/houston/api/rest/service/assetgroup"
	"github.com/labstack/echo/v4"
)

func Post(c echo.Context) error {
	var req assetgroup.CreateRequest

	if err := c.Bind(&req); err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	group, err := assetgroup.Service(c.Request().Context()).Create(&req)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, group)
}
