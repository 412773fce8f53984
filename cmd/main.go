package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const configFilePath = "./configs/config.yaml"

type globalFlags struct {
	configPath  string
	projectID   int64
	projectName string
	verbose     bool
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	// a missing .env is fine; keys may come from the environment
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "spec-rag",
		Short:         "Index construction specifications and search them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if flags.verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", configFilePath, "path to the YAML config")
	root.PersistentFlags().Int64Var(&flags.projectID, "project", 1, "project whose knowledge base is used")
	root.PersistentFlags().StringVar(&flags.projectName, "project-name", "", "project name recorded in the catalog")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newIndexCmd(flags),
		newRemoveCmd(flags),
		newSearchCmd(flags),
		newStatsCmd(flags),
		newClearCmd(flags),
		newExportCmd(flags),
		newImportCmd(flags),
		newCatalogCmd(flags),
		newCacheCmd(flags),
		newRespondCmd(flags),
		newWatchCmd(flags),
	)
	return root
}
