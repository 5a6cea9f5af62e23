package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kubo-market/sensorwatch/internal/config"
	"github.com/kubo-market/sensorwatch/internal/domain"
	"github.com/kubo-market/sensorwatch/internal/logging"
	"github.com/kubo-market/sensorwatch/internal/seed"
)

func newDemoCommand(configPath *string) *cobra.Command {
	var capacity int
	cmd := &cobra.Command{
		Use:   "demo",
		Args:  cobra.NoArgs,
		Short: "Load the demo fleet in memory and print what the stores hold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// The demo runs in memory only.
			cfg.Postgres.Enabled, cfg.Redis.Enabled, cfg.Seed.Demo = false, false, false
			if cmd.Flags().Changed("capacity") {
				cfg.Tracker.Capacity = capacity
			}
			cfg.Log.Level = "warn"
			log, err := logging.NewWithOutput(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runDemo(cmd, cfg, log)
		},
	}
	cmd.Flags().IntVarP(&capacity, "capacity", "k", 0, "top-K capacity (defaults to tracker.capacity)")
	return cmd
}

func runDemo(cmd *cobra.Command, cfg config.Config, log *logrus.Logger) error {
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	fleet := seed.DemoFleet()
	if _, err := seed.Apply(cmd.Context(), a.svc, fleet); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	cfg1, err := a.svc.SensorMetadata("sensor_1")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sensor sensor_1: location=%q machine=%q threshold=%g\n", cfg1.Location, cfg1.MachineID, cfg1.Threshold)

	probe := fleet.Readings[1].Timestamp
	value, err := a.svc.Reading("sensor_1", probe)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reading sensor_1 at %s: %g\n", domain.FormatTimestamp(probe), value)

	points, err := a.svc.Readings("sensor_1", time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "All readings for sensor_1:")
	for _, p := range points {
		fmt.Fprintf(out, "  %s  %g\n", domain.FormatTimestamp(p.Timestamp), p.Value)
	}

	printAnomalies(out, a.svc.TopAnomalies())
	return nil
}

func printAnomalies(out io.Writer, top []domain.AnomalyRecord) {
	if len(top) == 0 {
		fmt.Fprintln(out, "Top anomalies: none")
		return
	}
	fmt.Fprintln(out, "Top anomalies:")
	for i, rec := range top {
		fmt.Fprintf(out, "  %d. %s at %s deviation=%g\n", i+1, rec.SensorID, domain.FormatTimestamp(rec.Timestamp), rec.Deviation)
	}
}
