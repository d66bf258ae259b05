package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/forkpool/internal/config"
	"github.com/zjrosen/forkpool/internal/log"
	"github.com/zjrosen/forkpool/internal/paths"
	"github.com/zjrosen/forkpool/internal/tracing"
)

const localConfigPath = ".forkpool/config.yaml"

// annotationNoSetup marks commands that only edit configuration and must work
// even when the current configuration is invalid.
const annotationNoSetup = "forkpool/no-setup"

var envKeyReplacer = strings.NewReplacer(".", "_")

var (
	version = "dev"
	cfgFile string
	cfg     config.Config

	logCleanup     func()
	tracerProvider *tracing.Provider
)

var rootCmd = &cobra.Command{
	Use:   "forkpool",
	Short: "Run worker functions in child processes and collect their results",
	Long: `forkpool spawns registered worker functions as child processes, exchanges
messages with them over a shared memory channel and merges what they send
back once they exit.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .forkpool/config.yaml, then ~/.config/forkpool/config.yaml)")
	rootCmd.PersistentFlags().String("log-file", "", "append logs from the parent and every worker to this file")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("codec", "", "slot codec: json or cbor")
	rootCmd.PersistentFlags().Bool("no-history", false, "do not record this run")

	_ = viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("shm.codec", rootCmd.PersistentFlags().Lookup("codec"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("shm.dir", defaults.Shm.Dir)
	viper.SetDefault("shm.slot_size", defaults.Shm.SlotSize)
	viper.SetDefault("shm.codec", defaults.Shm.Codec)
	viper.SetDefault("worker.poll_interval", defaults.Worker.PollInterval)
	viper.SetDefault("harvest.poll_interval", defaults.Harvest.PollInterval)
	viper.SetDefault("harvest.result_ttl", defaults.Harvest.ResultTTL)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("history.enabled", defaults.History.Enabled)
	viper.SetDefault("history.path", defaults.History.Path)

	// FORKPOOL_SHM_CODEC, FORKPOOL_HISTORY_ENABLED, ...
	viper.SetEnvPrefix("forkpool")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .forkpool/config.yaml (current directory)
		// 2. ~/.config/forkpool/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			viper.AddConfigPath(paths.ConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// A missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()
	_ = viper.Unmarshal(&cfg)
}

// setup validates the configuration and starts logging and tracing for
// commands that spawn workers. Children inherit both through their
// environment.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationNoSetup] == "true" {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory {
		cfg.History.Enabled = false
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		cleanup, err := log.Init(cfg.Log.File)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
		logCleanup = cleanup
		log.Info(log.CatConfig, "Configuration loaded", "file", viper.ConfigFileUsed(), "command", cmd.Name())
	}

	if cfg.Tracing.Enabled {
		p, err := tracing.NewProvider(cfg.TracingConfig())
		if err != nil {
			return fmt.Errorf("starting tracing: %w", err)
		}
		tracerProvider = p
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	var errs []error
	if tracerProvider != nil {
		errs = append(errs, tracerProvider.Shutdown(context.Background()))
		tracerProvider = nil
	}
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
	return errors.Join(errs...)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
