package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gavinwade12/pcmLogger/datalog"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/gavinwade12/pcmLogger/units"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logFileFormat string
var passive bool
var maxSkipped int

func init() {
	addLoggedParamCmd.Flags().StringVar(&paramID, "paramID", "", "The parameter Id to add")
	addLoggedParamCmd.Flags().StringVar(&unit, "unit", "", "The desired unit for the parameter (default is the parameter's own unit)")
	addLoggedParamCmd.Flags().IntVar(&decimals, "decimals", 2, "The number of decimals logged")
	logCmd.AddCommand(addLoggedParamCmd)

	rootCmd.AddCommand(logCmd)

	logCmd.Flags().StringVar(&logFileFormat, "logFileFormat", "{{osid}}-{{timestamp}}.csv", "The format used for generating a log file name (path included). Variables can be injected using the format {{variableName}}. Supported variables: osid, timestamp.")
	logCmd.Flags().BoolVar(&passive, "passive", false, "Ask the PCM to stream data instead of requesting every row")
	logCmd.Flags().IntVar(&maxSkipped, "maxSkipped", datalog.DefaultMaxSkippedRows, "Stop after this many consecutive rows could not be read")
}

type loggedParameter struct {
	Id       string     `mapstructure:"id"`
	Unit     units.Unit `mapstructure:"unit"`
	Decimals *int       `mapstructure:"decimals"`
}

// logColumns looks up the configured parameters.
func logColumns(cfgParams []loggedParameter) ([]vpw.LogColumn, error) {
	columns := make([]vpw.LogColumn, 0, len(cfgParams))
	for _, cfgParam := range cfgParams {
		p, ok := vpw.Parameters[cfgParam.Id]
		if !ok {
			return nil, errors.Errorf("unknown parameter '%s'", cfgParam.Id)
		}

		col := vpw.NewLogColumn(p)
		if cfgParam.Unit != "" {
			col.Conversion.Units = cfgParam.Unit
		}
		if cfgParam.Decimals != nil {
			col.Conversion.Decimals = *cfgParam.Decimals
		}
		columns = append(columns, col)
	}
	return columns, nil
}

var logCmd = &cobra.Command{
	Use:          "log",
	Short:        "Log the parameters configured for logging to a CSV file.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if logFileFormat == "" {
			return errors.New("a log file name format is required")
		}

		var cfgParams []loggedParameter
		if err := viper.UnmarshalKey("logging.parameters", &cfgParams); err != nil {
			return errors.Wrap(err, "getting parameters configured for logging")
		}
		if len(cfgParams) == 0 {
			return errors.New("no parameters are configured for logging")
		}
		columns, err := logColumns(cfgParams)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		stdOut := cmd.OutOrStdout()
		if !quiet {
			fmt.Fprintln(stdOut, "initializing the pass-thru device...")
		}
		vehicle, cleanup, err := openVehicle(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id := osid
		if id == 0 {
			if id, err = vehicle.QueryOperatingSystemID(); err != nil {
				return errors.Wrap(err, "querying the operating system id")
			}
		}
		if !quiet {
			fmt.Fprintf(stdOut, "connected to PCM with operating system %d\n", id)
		}

		mode := datalog.Active
		if passive {
			mode = datalog.Passive
		}
		controller, err := datalog.New(vehicle, id, columns, datalog.Options{
			Mode:   mode,
			Logger: pcmLogger(cmd),
		})
		if err != nil {
			return errors.Wrap(err, "building the logging configuration")
		}

		fileName := strings.NewReplacer(
			"{{osid}}", strconv.FormatUint(uint64(id), 10),
			"{{timestamp}}", time.Now().Format("20060102_150405"), //yyyyMMdd_hhmmss
		).Replace(logFileFormat)
		if !quiet {
			fmt.Fprintf(stdOut, "logging %d DPIDs in %s mode to file: %s\n",
				len(controller.Configuration().ParameterGroups), controller.Mode(), fileName)
		}

		f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
		if err != nil {
			return errors.Wrap(err, "opening file for logging")
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err = w.Write(append([]string{"Timestamp"}, controller.ColumnNames()...)); err != nil {
			return errors.Wrap(err, "writing header line to log file")
		}

		session, err := datalog.LoggingSession(ctx, controller, maxSkipped)
		if err != nil {
			return err
		}

		start := time.Now()
		rows := 0
		for row := range session {
			record := append([]string{row.Time.Format("15:04:05.000")}, row.Strings()...)
			if err = w.Write(record); err != nil {
				return errors.Wrap(err, "writing row to log file")
			}
			w.Flush()
			rows++
		}
		w.Flush()
		if err = w.Error(); err != nil {
			return errors.Wrap(err, "flushing log file")
		}

		if !quiet {
			elapsed := time.Since(start)
			fmt.Fprintf(stdOut, "logged %d rows in %s (%.1f rows/s)\n",
				rows, elapsed.Round(time.Millisecond), float64(rows)/elapsed.Seconds())
		}
		if controller.State() == datalog.StateFailed {
			return datalog.ErrSessionFailed
		}
		return nil
	},
}

var paramID string
var unit string
var decimals int

var addLoggedParamCmd = &cobra.Command{
	Use:   "add_param",
	Short: "Adds a parameter to the logging config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if paramID == "" {
			return errors.New("no paramID set")
		}

		var cfgParams []loggedParameter
		if err := viper.UnmarshalKey("logging.parameters", &cfgParams); err != nil {
			return errors.Wrap(err, "getting parameters configured for logging")
		}
		for _, p := range cfgParams {
			if p.Id == paramID {
				return errors.New("the parameter is already configured for logging")
			}
		}

		p, ok := vpw.Parameters[paramID]
		if !ok {
			return errors.New("invalid paramID")
		}
		u := units.Unit(unit)
		if u == "" {
			u = p.Unit
		}
		if !units.CanConvert(p.Unit, u) {
			return errors.Errorf("%s is logged in %s and cannot be converted to %s", p.ID, p.Unit, u)
		}

		d := decimals
		cfgParams = append(cfgParams, loggedParameter{
			Id:       paramID,
			Unit:     u,
			Decimals: &d,
		})

		viper.Set("logging.parameters", cfgParams)
		return viper.WriteConfig()
	},
}
