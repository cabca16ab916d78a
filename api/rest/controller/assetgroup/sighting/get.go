package sighting

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/houston-cloud/houston/api/rest/controller/respond"
	"github.com/houston-cloud/houston/api/rest/service/sighting"
	"github.com/labstack/echo/v4"
)

func Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	s, err := sighting.Service(c.Request().Context()).Get(id)
	if err != nil {
		return respond.Error(err)
	}

	return c.JSON(http.StatusOK, s)
}
