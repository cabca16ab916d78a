package bind

import (
	"github.com/houston-cloud/houston/api/rest/controller/assetgroup"
	"github.com/houston-cloud/houston/api/rest/controller/assetgroup/sighting"
	eventctrl "github.com/houston-cloud/houston/api/rest/controller/event"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/labstack/echo/v4"
)

func All(g *echo.Group) {
	// asset groups
	{
		g.GET("/asset_groups", assetgroup.List)
		g.GET("/asset_groups/", assetgroup.List)
		g.POST("/asset_groups", assetgroup.Post)
		g.POST("/asset_groups/", assetgroup.Post)
		g.GET("/asset_groups/:id", assetgroup.Get)
		g.DELETE("/asset_groups/:id", assetgroup.Delete)
	}

	// asset group sightings
	{
		g.GET("/asset_groups/sighting/:id", sighting.Get)
		g.PATCH("/asset_groups/sighting/:id", sighting.Patch)
		g.DELETE("/asset_groups/sighting/:id", sighting.Delete)
		g.POST("/asset_groups/sighting/:id/detect", sighting.Detect)
		g.POST("/asset_groups/sighting/:id/sage_detected/:job_id", sighting.Detected)
		g.POST("/asset_groups/sighting/:id/commit", sighting.Commit)
	}

	// events
	g.GET("/events", eventctrl.New(event.Default()).Stream)
}
