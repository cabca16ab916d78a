package env

import (
	"time"

	"github.com/houston-cloud/houston/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for houston.
func Process() error {
	if err := envconfig.Process("houston", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by houston.
type Environment struct {
	LogLevel     string `default:"info"`
	Port         int    `default:"8080"`
	DatabaseType string `default:"postgres"`
	DatabaseDSN  string `default:"host=postgres user=postgres password=postgres dbname=houston port=5432 sslmode=disable"`

	// PublicURL is the externally reachable base URL used to
	// build detection callback URLs.
	PublicURL string `default:"http://localhost:8080"`

	// AssetGroupRoot holds one local git working copy per asset group.
	AssetGroupRoot string `default:"/var/lib/houston/asset_groups"`

	// TusRoot is the staging area populated by the tus upload server,
	// one directory per transaction.
	TusRoot         string `default:"/var/lib/houston/tus"`
	TusFilePatterns []string

	// GitHostURL and GitHostToken configure the remote repository host
	// (GitLab-style projects API).
	GitHostURL       string `default:"http://gitlab:80"`
	GitHostToken     string `default:""`
	GitHostNamespace string `default:"houston"`

	// SageURL is the base URL of the detection/identification service.
	SageURL string `default:"http://sage:5000"`

	// DetectionModelCatalog points at the YAML file describing the
	// available detection models.
	DetectionModelCatalog string `default:"/etc/houston/detection_models.yaml"`

	RepoRetryAttempts      int           `default:"10"`
	RepoRetryDelay         time.Duration `default:"10m"`
	DetectionRetryAttempts int           `default:"10"`
	DetectionRetryDelay    time.Duration `default:"10s"`

	TaskQueueSize int `default:"16"`

	// StaleJobSweepSchedule is a cron expression; StaleJobThreshold is
	// how long a detection job may stay active before being flagged.
	StaleJobSweepSchedule string        `default:"*/30 * * * *"`
	StaleJobThreshold     time.Duration `default:"24h"`
}
