package version

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/projectqai/sonar/cmd"
)

var short bool

var CMD = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(c *cobra.Command, args []string) {
		printVersion(c.OutOrStdout(), short)
	},
}

func init() {
	CMD.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	cmd.CMD.AddCommand(CMD)
}

func printVersion(w io.Writer, short bool) {
	if short {
		fmt.Fprintln(w, Version)
		return
	}
	fmt.Fprintf(w, "sonar %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
