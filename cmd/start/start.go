package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/houston-cloud/houston/api"
	"github.com/houston-cloud/houston/api/rest/service/assetgroup"
	"github.com/houston-cloud/houston/internal/detection"
	"github.com/houston-cloud/houston/internal/event"
	"github.com/houston-cloud/houston/internal/gitstore"
	"github.com/houston-cloud/houston/internal/retry"
	"github.com/houston-cloud/houston/internal/sage"
	"github.com/houston-cloud/houston/internal/sweeper"
	"github.com/houston-cloud/houston/internal/tasks"
	"github.com/houston-cloud/houston/internal/tus"
	"github.com/houston-cloud/houston/pkg/db"
	"github.com/houston-cloud/houston/pkg/env"
	"github.com/houston-cloud/houston/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a houston pipeline instance"
	long    = "This command starts a houston pipeline instance"
	example = "houston start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

var cancel context.CancelFunc

func start(cmd *cobra.Command, args []string) error {
	signalChan := make(chan os.Signal, 1)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT:
				log.Info("gracefully shutting down due to SIGINT signal")
				shutdown()
				os.Exit(0)
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT)

	ctx, cancelFunc := context.WithCancel(context.Background())
	cancel = cancelFunc

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	vars := env.Variables()

	catalog, err := detection.LoadCatalog(vars.DetectionModelCatalog)
	if err != nil {
		log.Fatal("detection model catalog failure", "error", err)
	}
	log.Info("loaded detection models", "models", catalog.Names())

	backend := gitstore.NewHTTPBackend(
		vars.GitHostURL, vars.GitHostToken, vars.GitHostNamespace)
	store := gitstore.NewStore(vars.AssetGroupRoot, backend, vars.GitHostToken)
	staging := tus.NewStore(vars.TusRoot, vars.TusFilePatterns)
	assetgroup.SetDefaults(staging, store)

	dispatcher := detection.NewDispatcher(
		db.Connection(),
		sage.New(vars.SageURL),
		catalog,
		vars.PublicURL,
		event.Default(),
	)
	detection.SetDefault(dispatcher)

	tasks.SetDefault(tasks.New(tasks.Config{
		PoolSize:   vars.TaskQueueSize,
		DB:         db.Connection(),
		Store:      store,
		Dispatcher: dispatcher,
		RepoPolicy: retry.Policy{
			Attempts: vars.RepoRetryAttempts,
			Delay:    vars.RepoRetryDelay,
		},
		DetectionPolicy: retry.Policy{
			Attempts: vars.DetectionRetryAttempts,
			Delay:    vars.DetectionRetryDelay,
		},
	}))

	sweep, err := sweeper.New(
		db.Connection(),
		vars.StaleJobSweepSchedule,
		vars.StaleJobThreshold,
		event.Default(),
	)
	if err != nil {
		log.Fatal("stale job sweeper configuration failure", "error", err)
	}

	go func() {
		log.Info("launching stale job sweeper",
			"schedule", vars.StaleJobSweepSchedule,
			"threshold", vars.StaleJobThreshold)
		sweep.Run(ctx)
	}()

	defer shutdown()

	log.Info("spinning up api")
	return api.Start()
}

func shutdown() {
	if cancel != nil {
		cancel()
	}
	if q := tasks.Default(); q != nil {
		q.Wait()
	}
}
