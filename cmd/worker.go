package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/internal/config"
	"github.com/stratumhq/stratum/internal/diff"
	"github.com/stratumhq/stratum/internal/image"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the diff worker",
	Long:  `Process queued layer diff computations until interrupted.`,
	Run:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setLogLevel(cfg.Log.Level)

	store, closeCache, err := openStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer closeCache() //nolint:errcheck

	queueStore, err := diff.OpenStore(cfg.Queue.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open queue database")
	}
	defer queueStore.Close()

	images := image.NewService(store, nil)
	engine := diff.NewEngine(store, images)
	queue := diff.NewQueue(queueStore, cfg.Queue.Capacity, cfg.Worker.PollInterval)
	lock := diff.NewLock(queueStore)
	worker := diff.NewWorker(queue, lock, engine, cfg.Queue.LockTTL, cfg.Worker.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker stopped with error")
	}
	log.Info().Msg("Worker shut down")
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
