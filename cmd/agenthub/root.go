package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenthub"
	"github.com/hupe1980/agenthub/config"
	"github.com/hupe1980/agenthub/logging"
)

type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

// hubFactory builds the Hub used by every command. Tests replace it.
var hubFactory = func(ctx context.Context, cfg *config.Config, logger logging.Logger) (*agenthub.Hub, error) {
	return agenthub.New(ctx, func(o *agenthub.Options) {
		o.Config = cfg
		o.Logger = logger
	})
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "agenthub",
		Short:         "agenthub - multi-provider agent runtime with retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files to load")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newModelsCmd(flags),
		newIngestCmd(flags),
		newSearchCmd(flags),
		newRunCmd(flags),
	)
	return root
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(func(o *config.LoadOptions) {
		o.Path = f.configPath
		o.EnvFiles = f.envFiles
	})
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}

// openHub loads the config and builds a Hub logging through zap. The
// returned func flushes the logger and closes the Hub.
func (f *globalFlags) openHub(ctx context.Context) (*agenthub.Hub, func(), error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	zl, err := logging.NewZapProduction(level)
	if err != nil {
		return nil, nil, err
	}

	hub, err := hubFactory(ctx, cfg, zl)
	if err != nil {
		_ = zl.Sync()
		return nil, nil, err
	}
	return hub, func() {
		if err := hub.Close(); err != nil {
			zl.Warn("hub.close", logging.KeyError, err)
		}
		_ = zl.Sync()
	}, nil
}
