package assetgroup

import (
	"net/http"

	"github.com/houston-cloud/houston/api/rest/controller/respond"
	"github.com/houston-cloud/houston/api/rest/service/assetgroup"
	"github.com/labstack/echo/v4"
)

func List(c echo.Context) error {
	groups, err := assetgroup.Service(c.Request().Context()).List()
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, groups)
}
