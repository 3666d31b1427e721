package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gavinwade12/pcmLogger/diag"
	"github.com/gavinwade12/pcmLogger/protocols/j2534"
	"github.com/gavinwade12/pcmLogger/protocols/vpw"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var listenAddr string
var simulatedOSID uint32

func init() {
	simulateCmd.Flags().StringVar(&listenAddr, "listen", ":8534", "address to serve the websocket bridge on")
	simulateCmd.Flags().Uint32Var(&simulatedOSID, "simOSID", vpw.OSID12593358, "operating system id reported by the simulated PCM")

	rootCmd.AddCommand(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:          "simulate",
	Short:        "Serve a simulated pass-thru device with a PCM attached as a websocket bridge.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		sim := j2534.NewSimulator(vpw.NewSimulatedPCM(simulatedOSID))
		sim.Echo = true

		l := diag.NopLogger
		if verbose {
			l = diag.Slog(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		srv := &http.Server{
			Addr:              listenAddr,
			Handler:           j2534.BridgeHandler(sim, l),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "serving simulated PCM %d on ws://%s/\n", simulatedOSID, listenAddr)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving bridge")
		}
		return nil
	},
}
