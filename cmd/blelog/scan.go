package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/scanner"
)

type scanFlags struct {
	duration        time.Duration
	format          string
	services        []string
	allowList       []string
	blockList       []string
	allowDuplicates bool
}

func newScanCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed in the order they were first seen, with the latest
RSSI and advertised name. Press Ctrl+C to stop early and keep the results.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, flags)
		},
	}

	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", 5*time.Second, "Scan duration")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&flags.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&flags.allowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&flags.blockList, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&flags.allowDuplicates, "allow-duplicates", true, "Report repeated advertisements (keeps RSSI current)")
	return cmd
}

func runScan(cmd *cobra.Command, flags *scanFlags) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}

	// Config file values apply unless the flag was given explicitly
	if !cmd.Flags().Changed("format") {
		flags.format = e.cfg.OutputFormat
	}
	if !cmd.Flags().Changed("duration") {
		flags.duration = e.cfg.ScanDuration
	}
	if !cmd.Flags().Changed("allow-duplicates") {
		flags.allowDuplicates = e.cfg.AllowDuplicates
	}

	switch flags.format {
	case "table", "json":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", flags.format)
	}
	if flags.duration <= 0 {
		return fmt.Errorf("invalid duration %s: must be > 0", flags.duration)
	}

	// Validate and normalize service UUIDs if provided
	var serviceUUIDs []string
	if len(flags.services) > 0 {
		serviceUUIDs, err = device.ValidateUUID(flags.services...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	e.open()
	defer e.Close()

	s := scanner.NewScanner(e.platform, e.hub, e.gate, e.logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	// Ctrl+C stops the scan but keeps the results
	stopped := context.AfterFunc(ctx, s.Stop)
	defer stopped()

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", "Scanning", flags.duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	peripherals, err := s.Scan(context.WithoutCancel(ctx), &scanner.ScanOptions{
		Duration:        flags.duration,
		AllowDuplicates: flags.allowDuplicates,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       flags.allowList,
		BlockList:       flags.blockList,
	}, progress.Callback())
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.WithError(err).Error("scan failed")
		return err
	}

	if flags.format == "json" {
		return displayDevicesJSON(out, peripherals)
	}
	return displayDevicesTable(out, peripherals)
}

func displayDevicesTable(out io.Writer, peripherals []device.Peripheral) error {
	if len(peripherals) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, p := range peripherals {
		name := p.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", name, p.ID, p.RSSI)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, peripherals []device.Peripheral) error {
	if peripherals == nil {
		peripherals = []device.Peripheral{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(peripherals)
}
