package db

import (
	"sync"

	"github.com/houston-cloud/houston/internal/models"
	"github.com/houston-cloud/houston/pkg/env"
	"github.com/houston-cloud/houston/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	conn *gorm.DB
	once sync.Once
)

// Connection returns the process-wide database handle, opening it on
// first use according to the configured database type.
func Connection() *gorm.DB {
	once.Do(func() {
		var err error

		switch env.Variables().DatabaseType {
		case "sqlite":
			conn, err = gorm.Open(
				sqlite.Open(env.Variables().DatabaseDSN),
				&gorm.Config{},
			)
		case "postgres":
			fallthrough
		default:
			conn, err = gorm.Open(
				postgres.Open(env.Variables().DatabaseDSN),
				&gorm.Config{},
			)
		}

		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
	})

	return conn
}

// Migrate creates or updates the houston schema.
func Migrate() error {
	return Connection().AutoMigrate(
		&models.AssetGroup{},
		&models.Asset{},
		&models.AssetGroupSighting{},
		&models.Sighting{},
		&models.Encounter{},
		&models.Annotation{},
	)
}
