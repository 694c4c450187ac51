package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/projectqai/sonar/logging"
)

var logLevel string

var CMD = &cobra.Command{
	Use:          "sonar",
	Short:        "ultrasonic range sensor monitor",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		godotenv.Load()
		return logging.SetLevel(logLevel)
	},
}

func init() {
	CMD.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}
