package main

import (
	"os"

	_ "github.com/projectqai/sonar/logging"

	"github.com/projectqai/sonar/cmd"

	_ "github.com/projectqai/sonar/cli"
	"github.com/projectqai/sonar/monitor"
	_ "github.com/projectqai/sonar/version"
)

func init() {
	cmd.CMD.RunE = monitor.RunMonitor
}

func main() {
	err := cmd.CMD.Execute()
	if err != nil {
		os.Exit(1)
	}
}
