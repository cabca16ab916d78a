package api

import (
	"fmt"

	"github.com/houston-cloud/houston/api/gql"
	rest "github.com/houston-cloud/houston/api/rest/v1"
	"github.com/houston-cloud/houston/pkg/env"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
)

// Start launches Houston's API.
func Start() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	e.GET("/health", Health)

	// metrics
	prometheus.NewPrometheus("houston", nil).Use(e)

	// REST
	rest.Bind(e.Group("/v1"))

	// GraphQL
	e.GET("/gql", gql.Handler())
	e.POST("/gql", gql.Handler())

	return e.Start(fmt.Sprintf(":%v", env.Variables().Port))
}
