package main

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path"

	"github.com/gavinwade12/pcmLogger/diag"
	"github.com/gavinwade12/pcmLogger/protocols/j2534"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	portSettingName   string = "port"
	driverSettingName string = "driver"

	driverSimulator    = "sim"
	driverSerialBridge = "bridge-serial"
	driverWSBridge     = "bridge-ws"
)

var configFile string
var driverName string
var port string
var bridgeBaud int
var bridgeURL string
var osid uint32
var quiet bool
var verbose bool

func init() {
	cobra.OnInitialize(func() {
		initConfig()
		postInitCommands(rootCmd.Commands())
	})

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.pcmlog.yaml)")
	rootCmd.PersistentFlags().StringVar(&driverName, driverSettingName, driverSimulator, "pass-thru driver: sim, bridge-serial or bridge-ws")
	rootCmd.PersistentFlags().StringVar(&port, portSettingName, "", "serial port of a pass-thru bridge. Example: /dev/ttyUSB0")
	rootCmd.PersistentFlags().IntVar(&bridgeBaud, "bridgeBaud", 115200, "serial baud rate of a pass-thru bridge")
	rootCmd.PersistentFlags().StringVar(&bridgeURL, "url", "", "websocket url of a pass-thru bridge. Example: ws://192.168.1.20:8534/")
	rootCmd.PersistentFlags().Uint32Var(&osid, "osid", 0, "operating system id of the PCM (queried from the PCM when 0)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "quiet all log output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "provide verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pcmlog",
	Short:         "A CLI for logging live data from a GM PCM over a J2534 pass-thru interface.",
	SilenceErrors: true,
}

func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(path.Base(configFile))
		viper.AddConfigPath(path.Dir(configFile))
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.Fatalf("finding home directory: %v\n", err)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".pcmlog")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("pcmlog")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			if err = viper.SafeWriteConfig(); err != nil {
				log.Fatalf("creating config file: %v\n", err)
			}
		} else {
			log.Fatalf("reading config file: %v\n", err)
		}
	}
}

func postInitCommands(commands []*cobra.Command) {
	for _, cmd := range commands {
		presetRequiredFlags(cmd)
		if cmd.HasSubCommands() {
			postInitCommands(cmd.Commands())
		}
	}
}

func presetRequiredFlags(cmd *cobra.Command) {
	viper.BindPFlags(cmd.Flags())
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if viper.IsSet(f.Name) && viper.GetString(f.Name) != "" {
			cmd.Flags().Set(f.Name, viper.GetString(f.Name))
		}
	})
}

func pcmLogger(cmd *cobra.Command) diag.Logger {
	if !verbose {
		return diag.NopLogger
	}
	return diag.DefaultLogger(cmd.ErrOrStderr())
}

// passThruDriver opens the configured driver. Verbose output also logs
// every pass-thru call.
func passThruDriver(cmd *cobra.Command, l diag.Logger) (j2534.Driver, io.Closer, error) {
	var (
		d      j2534.Driver
		closer io.Closer = closerFunc(func() error { return nil })
	)
	switch driverName {
	case driverSimulator:
		simOSID := uint32(vpw.OSID12593358)
		if osid != 0 {
			simOSID = osid
		}
		sim := j2534.NewSimulator(vpw.NewSimulatedPCM(simOSID))
		sim.Echo = true
		d = sim
	case driverSerialBridge:
		if port == "" {
			return nil, nil, errors.New("the port setting is required for a serial bridge")
		}
		l.Debugf("opening serial port %s", port)
		b, err := j2534.OpenSerialBridge(port, bridgeBaud)
		if err != nil {
			return nil, nil, err
		}
		d, closer = b, closerFunc(b.Shutdown)
	case driverWSBridge:
		if bridgeURL == "" {
			return nil, nil, errors.New("the url setting is required for a websocket bridge")
		}
		l.Debugf("dialing %s", bridgeURL)
		b, err := j2534.DialBridge(bridgeURL)
		if err != nil {
			return nil, nil, err
		}
		d, closer = b, closerFunc(b.Shutdown)
	default:
		return nil, nil, errors.Errorf("unknown driver '%s'", driverName)
	}

	if verbose {
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
		d = j2534.NewLoggedDriver(d, logger, slog.LevelDebug)
	}
	return d, closer, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openVehicle initializes the pass-thru device and returns a vehicle
// session on it.
func openVehicle(cmd *cobra.Command) (*vpw.Vehicle, func(), error) {
	l := pcmLogger(cmd)
	d, closer, err := passThruDriver(cmd, l)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening pass-thru driver")
	}

	dev := j2534.NewDevice(d, l)
	if err = dev.Initialize(); err != nil {
		closer.Close()
		return nil, nil, errors.Wrap(err, "initializing pass-thru device")
	}

	cleanup := func() {
		if err := dev.Close(); err != nil {
			l.Debug(err.Error())
		}
		closer.Close()
	}
	return vpw.NewVehicle(dev, l), cleanup, nil
}
