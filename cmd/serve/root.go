package serve

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lhartmann/kedis/rpc/common"
	"github.com/lhartmann/kedis/rpc/server"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the kedis server",
		Long:    `Start the kedis server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is KEDIS_<flag> (e.g. KEDIS_LISTEN=0.0.0.0:1234)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "listen"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:1234", "The address to listen on (or the socket path for --network unix)")

	key = "network"
	ServeCmd.PersistentFlags().String(key, "tcp", "The listener network (tcp, unix)")

	key = "free-workers"
	ServeCmd.PersistentFlags().Int(key, 4, "Number of background workers that tear down large values")

	key = "idle-timeout"
	ServeCmd.PersistentFlags().Int(key, 0, "Close connections idle for this many seconds (0 = never)")

	key = "metrics-addr"
	ServeCmd.PersistentFlags().String(key, "", "Optional HTTP address serving Prometheus metrics (e.g. localhost:9100)")

	key = "stats-interval"
	ServeCmd.PersistentFlags().Int(key, 60, "Seconds between stats log lines (0 = off)")

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", "LogLevel is the level at which logs will be output (debug, info, warn, error)")
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Listen = viper.GetString("listen")
	serveCmdConfig.Network = viper.GetString("network")
	serveCmdConfig.FreeWorkers = viper.GetInt("free-workers")
	serveCmdConfig.IdleTimeoutSec = viper.GetInt("idle-timeout")
	serveCmdConfig.MetricsAddr = viper.GetString("metrics-addr")
	serveCmdConfig.StatsIntervalSec = viper.GetInt("stats-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if err := serveCmdConfig.Validate(); err != nil {
		return err
	}
	return common.InitLoggers(*serveCmdConfig)
}

// run starts the kedis server and blocks until a termination signal arrives
func run(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(*serveCmdConfig).ListenAndServe(ctx)
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kedis")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
