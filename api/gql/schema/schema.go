package schema

import (
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/houston-cloud/houston/api/rest/service/assetgroup"
	"github.com/houston-cloud/houston/api/rest/service/sighting"
	"github.com/houston-cloud/houston/internal/models"
)

// New instantiates a fresh GraphQL schema for
// Houston's API. The schema is read-only; mutations go
// through the REST surface.
func New() graphql.SchemaConfig {
	return graphql.SchemaConfig{
		Query: graphql.NewObject(
			graphql.ObjectConfig{
				Name:   "Query",
				Fields: fields(),
			},
		),
	}
}

var assetType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Asset",
	Fields: graphql.Fields{
		"guid":      &graphql.Field{Type: graphql.String},
		"path":      &graphql.Field{Type: graphql.String},
		"mime_type": &graphql.Field{Type: graphql.String},
		"size":      &graphql.Field{Type: graphql.Int},
	},
})

var sightingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AssetGroupSighting",
	Fields: graphql.Fields{
		"guid": &graphql.Field{Type: graphql.String},
		"stage": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				s, ok := p.Source.(*models.AssetGroupSighting)
				if !ok {
					return nil, nil
				}
				return string(s.CurrentStage()), nil
			},
		},
		"asset_group_guid": &graphql.Field{Type: graphql.String},
	},
})

var assetGroupType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AssetGroup",
	Fields: graphql.Fields{
		"guid":        &graphql.Field{Type: graphql.String},
		"major_type":  &graphql.Field{Type: graphql.String},
		"description": &graphql.Field{Type: graphql.String},
		"commit_hash": &graphql.Field{Type: graphql.String},
		"assets":      &graphql.Field{Type: graphql.NewList(assetType)},
		"asset_group_sightings": &graphql.Field{
			Type: graphql.NewList(sightingType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				g, ok := p.Source.(*models.AssetGroup)
				if !ok {
					return nil, nil
				}
				return g.Sightings, nil
			},
		},
	},
})

func fields() graphql.Fields {
	return graphql.Fields{
		"assetGroups": &graphql.Field{
			Type: graphql.NewList(assetGroupType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return assetgroup.Service(p.Context).List()
			},
		},
		"assetGroup": &graphql.Field{
			Type: assetGroupType,
			Args: graphql.FieldConfigArgument{
				"guid": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id, err := uuid.Parse(p.Args["guid"].(string))
				if err != nil {
					return nil, err
				}
				return assetgroup.Service(p.Context).Get(id)
			},
		},
		"assetGroupSighting": &graphql.Field{
			Type: sightingType,
			Args: graphql.FieldConfigArgument{
				"guid": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id, err := uuid.Parse(p.Args["guid"].(string))
				if err != nil {
					return nil, err
				}
				return sighting.Service(p.Context).Get(id)
			},
		},
	}
}
