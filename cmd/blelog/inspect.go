package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelog/inspector"
	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/session"
)

type inspectFlags struct {
	connectTimeout time.Duration
	json           bool
}

func newInspectCmd() *cobra.Command {
	flags := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect <peripheral-id>",
		Short: "List the services and characteristics of a BLE device",
		Long: `Connects to a BLE device, discovers its services and characteristics,
prints them and disconnects.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], flags)
		},
	}
	cmd.Flags().DurationVar(&flags.connectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	cmd.Flags().BoolVar(&flags.json, "json", false, "Output as JSON")
	return cmd
}

// inspectReport is the JSON form of an inspected device.
type inspectReport struct {
	Peripheral device.Peripheral `json:"peripheral"`
	Services   []device.Service  `json:"services"`
}

func runInspect(cmd *cobra.Command, peripheralID string, flags *inspectFlags) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	e.open()
	defer e.Close()

	m := session.NewMachine(e.platform, e.hub, session.Options{Logger: e.logger, Gate: e.gate})
	defer m.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, fmt.Sprintf("Inspecting device %s", peripheralID), "Connecting", flags.connectTimeout, "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = inspector.InspectDevice(ctx, m, device.Peripheral{ID: peripheralID},
		&inspector.InspectOptions{ConnectTimeout: flags.connectTimeout}, e.logger, progress.Callback(),
		func(snap session.Snapshot) (struct{}, error) {
			progress.Stop()
			if flags.json {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return struct{}{}, encoder.Encode(inspectReport{Peripheral: snap.Peripheral, Services: snap.Services})
			}
			fmt.Fprintf(out, "Device %s\n", snap.Peripheral.ID)
			printServices(out, snap)
			return struct{}{}, nil
		})
	return err
}
