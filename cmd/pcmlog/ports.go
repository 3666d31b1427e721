package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial/enumerator"
)

func init() {
	portsCmd.AddCommand(listPortsCmd)
	portsCmd.AddCommand(selectPortCmd)

	rootCmd.AddCommand(portsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Manage the serial port of a pass-thru bridge",
}

var listPortsCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available serial ports on the host",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := availablePorts()
		if err != nil {
			return err
		}

		listPorts(cmd.OutOrStdout(), ports)
		return nil
	},
}

func listPorts(w io.Writer, ports []serialPort) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return
	}
	for i, p := range ports {
		fmt.Fprintf(w, "[%d]:\tPortName: '%s'\n\tProduct: %s\n\tVID/PID: %s/%s\n\tUSB: %v\n\tSelected: %v\n",
			i, p.PortName, p.Product, p.VendorID, p.ProductID, p.IsUSB, p.PortName == port)
	}
}

var selectPortCmd = &cobra.Command{
	Use:          "set",
	Short:        "Set the bridge port in the config file and use the serial bridge driver",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := availablePorts()
		if err != nil {
			return err
		}
		listPorts(cmd.OutOrStdout(), ports)
		if len(ports) == 0 {
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), "Port (index): ")

		i, err := readIndex(cmd.InOrStdin(), len(ports))
		if err != nil {
			return err
		}

		portName := ports[i].PortName
		viper.Set(portSettingName, portName)
		viper.Set(driverSettingName, driverSerialBridge)
		fmt.Fprintf(cmd.OutOrStdout(), "Selected '%s'\n", portName)

		return viper.WriteConfig()
	},
}

// readIndex reads one line and parses it as an index below n.
func readIndex(r io.Reader, n int) (int, error) {
	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		return 0, err
	}

	i, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, errors.Wrap(err, "parsing input as integer")
	}
	if i < 0 || i >= n {
		return 0, errors.New("invalid selection")
	}
	return i, nil
}

type serialPort struct {
	PortName  string
	Product   string
	IsUSB     bool
	VendorID  string
	ProductID string
}

// availablePorts returns all available serial ports on the current host.
func availablePorts() ([]serialPort, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "listing serial ports")
	}

	ports := make([]serialPort, len(list))
	for i, p := range list {
		ports[i] = serialPort{
			PortName:  p.Name,
			Product:   p.Product,
			IsUSB:     p.IsUSB,
			VendorID:  p.VID,
			ProductID: p.PID,
		}
	}

	return ports, nil
}
