package monitor

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectqai/sonar/cmd"
	"github.com/projectqai/sonar/config"
)

var (
	configPath      string
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	readTimeout     time.Duration
	metricsAddr     string
	raw             bool
)

var CMD = &cobra.Command{
	Use:   "run",
	Short: "print distances from all configured sensors",
	RunE:  RunMonitor,
}

func init() {
	flags := cmd.CMD.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "device config file (yaml), default: $"+config.EnvPath+" or built-in sensors")
	flags.DurationVar(&pollInterval, "poll-interval", 0, "how often to look for missing devices")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 0, "how long to wait for sessions to stop")
	flags.DurationVar(&readTimeout, "read-timeout", 0, "serial read timeout")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9464")
	flags.BoolVar(&raw, "raw", false, "also print the voltage of every sample")

	cmd.CMD.AddCommand(CMD)
}

// Flags override the file; zero values keep the file or default setting.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	if pollInterval > 0 {
		cfg.PollInterval = pollInterval
	}
	if shutdownTimeout > 0 {
		cfg.ShutdownTimeout = shutdownTimeout
	}
	if readTimeout > 0 {
		cfg.ReadTimeout = readTimeout
	}
	return cfg, nil
}

func RunMonitor(c *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Run(ctx, cfg, Options{
		Raw:         raw,
		MetricsAddr: metricsAddr,
		Out:         c.OutOrStdout(),
	})
}
