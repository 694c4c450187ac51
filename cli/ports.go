package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/projectqai/sonar/cmd"
	"github.com/projectqai/sonar/config"
	"github.com/projectqai/sonar/serial"
)

var allPorts bool

func init() {
	portsCmd := &cobra.Command{
		Use:     "ports",
		Aliases: []string{"ls"},
		Short:   "list serial ports and which configured sensor they belong to",
		RunE:    runPorts,
	}
	portsCmd.Flags().BoolVarP(&allPorts, "all", "a", false, "include ports without a serial number")

	cmd.CMD.AddCommand(portsCmd)
}

func runPorts(c *cobra.Command, args []string) error {
	ports, err := serial.NewResolver().Ports()
	if err != nil {
		return fmt.Errorf("failed to list ports: %w", err)
	}

	// the flag is registered by the monitor command; fall back to defaults without it
	path, _ := c.Flags().GetString("config")
	cfg, err := config.Load(config.ResolvePath(path))
	if err != nil {
		return err
	}

	printPortsTable(c.OutOrStdout(), ports, cfg.Devices, allPorts)
	return nil
}

func printPortsTable(w io.Writer, ports []serial.PortInfo, devices []config.Device, all bool) {
	labels := make(map[string]string, len(devices))
	for i, dev := range devices {
		labels[dev.SerialNumber] = dev.Label(i)
	}

	tbl := table.New("Port", "Serial", "VID:PID", "Product", "Sensor").WithWriter(w)
	tbl.WithHeaderFormatter(color.New(color.FgGreen, color.Underline).SprintfFunc())

	rows := 0
	for _, p := range ports {
		if p.SerialNumber == "" && !all {
			continue
		}
		usb := ""
		if p.IsUSB {
			usb = p.VendorID + ":" + p.ProductID
		}
		tbl.AddRow(p.Path, p.SerialNumber, usb, p.Product, labels[p.SerialNumber])
		rows++
	}

	if rows == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	tbl.Print()

	missing := 0
	for i, dev := range devices {
		if !present(ports, dev.SerialNumber) {
			if missing == 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "not connected: %s (%s)\n", dev.Label(i), dev.SerialNumber)
			missing++
		}
	}
}

func present(ports []serial.PortInfo, serialNumber string) bool {
	for _, p := range ports {
		if p.SerialNumber == serialNumber {
			return true
		}
	}
	return false
}
