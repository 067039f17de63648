package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stockflow/invopt/optim"
)

var outputPath string // file for the JSON report; stdout when empty

// optimizeReport is the JSON document the optimize command prints.
type optimizeReport struct {
	Result    *optim.OptimizationResult `json:"result"`
	Alerts    *optim.AlertSet           `json:"alerts"`
	Telemetry optim.Telemetry           `json:"telemetry"`
	Seed      int64                     `json:"seed"`
}

// optimizeCmd collects once, runs a single cycle and prints the plan.
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run a single optimization cycle and print the plan as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := setup(cmd)

		var report bytes.Buffer
		err := optimizeOnce(cmd.Context(), cfg, &report)
		if werr := emitReport(outputPath, os.Stdout, report.Bytes(), err); werr != nil {
			logrus.Fatalf("Failed to write report: %v", werr)
		}
		if err != nil {
			logrus.Fatalf("Optimization failed: %v", err)
		}
	},
}

func init() {
	optimizeCmd.Flags().StringVar(&outputPath, "output", "", "Write the JSON report to this file instead of stdout")
}

// emitReport writes the report to path, or to stdout when path is empty or
// the cycle failed. A failed cycle never creates or truncates path.
func emitReport(path string, stdout io.Writer, report []byte, cycleErr error) error {
	if path == "" || cycleErr != nil {
		_, err := stdout.Write(report)
		return err
	}
	return os.WriteFile(path, report, 0o644)
}

// optimizeOnce runs one cycle against a single collection and writes the
// report to w. Alerts are written even when the cycle fails.
func optimizeOnce(ctx context.Context, cfg optim.Config, w io.Writer) error {
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	if !eng.collector.Collect(ctx) {
		return fmt.Errorf("collecting SKU data from %s source failed", cfg.Collector.Source)
	}
	if err := eng.optimizer.InitializeAlgorithms(); err != nil {
		return err
	}

	result, cycleErr := eng.optimizer.RunCycle(ctx)
	report := optimizeReport{
		Result:    result,
		Telemetry: eng.optimizer.CurrentTelemetry(),
		Seed:      eng.optimizer.Seed(),
	}
	if alerts, ok := eng.optimizer.CurrentAlerts(); ok {
		report.Alerts = alerts
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if cycleErr != nil {
		return cycleErr
	}
	logrus.WithFields(logrus.Fields{
		"skus":        len(result.Plan.Lines),
		"excluded":    len(result.Excluded),
		"score":       result.Fitness.Score,
		"generations": result.Generations,
		"termination": result.Termination,
	}).Info("Optimization complete.")
	return nil
}
