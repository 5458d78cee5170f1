package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelog/internal/bledb"
	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/groutine"
	"github.com/srg/blelog/internal/samplelog"
	"github.com/srg/blelog/internal/session"
	"github.com/srg/blelog/monitor"
	"github.com/srg/blelog/scanner"
)

type monitorFlags struct {
	service string
	log     bool
	logDir  string
}

func newMonitorCmd() *cobra.Command {
	flags := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor <peripheral-id>",
		Short: "Connect to a device and show live sensor values",
		Long: `Connect to a BLE device, list its services and stream float32 samples
from every notifying characteristic of the selected service.

Commands read from stdin:
  select <uuid>   subscribe to a service (replaces the current one)
  toggle          pause or resume notifications of the selected service
  services        list the device's services
  values          print the latest values
  quit            disconnect and exit

Ctrl+C disconnects and exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.service, "service", "s", "", "Service UUID to subscribe to after connecting")
	cmd.Flags().BoolVar(&flags.log, "log", false, "Log samples to a CSV file")
	cmd.Flags().StringVar(&flags.logDir, "log-dir", "", "Directory for CSV sample logs (default from config)")
	return cmd
}

// lockedWriter serializes writes from the renderer and the command loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runMonitor(cmd *cobra.Command, peripheralID string, flags *monitorFlags) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	if flags.service != "" {
		if _, err := device.ValidateUUID(flags.service); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}
	logDir := flags.logDir
	if logDir == "" {
		logDir = e.cfg.LogDir
	}

	cmd.SilenceUsage = true
	e.open()
	defer e.Close()

	opts := session.Options{
		Logger:      e.logger,
		Gate:        e.gate,
		Placeholder: e.cfg.Placeholder,
	}
	if flags.log {
		opts.Sinks = samplelog.NewFactory(logDir, nil, e.logger)
	}

	scanOpts := scanner.DefaultScanOptions()
	scanOpts.Duration = e.cfg.ScanDuration
	scanOpts.AllowDuplicates = e.cfg.AllowDuplicates

	ctrl := monitor.NewController(
		scanner.NewScanner(e.platform, e.hub, e.gate, e.logger),
		session.NewMachine(e.platform, e.hub, opts),
		&monitor.Options{Logger: e.logger, ScanOptions: scanOpts},
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	m := &monitorSession{ctrl: ctrl, out: out, logger: e.logger, placeholder: e.cfg.Placeholder}

	runErr := m.run(ctx, cmd.InOrStdin(), peripheralID, flags.service)

	logPath := ctrl.View().LogPath()
	if err := ctrl.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if logPath != "" {
		fmt.Fprintf(out, "Samples logged to %s\n", logPath)
	}
	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(out, "Disconnected")
		return nil
	}
	return runErr
}

// monitorSession drives one controller from stdin intents and renders its view.
type monitorSession struct {
	ctrl        *monitor.Controller
	out         io.Writer
	logger      *logrus.Logger
	placeholder string
}

func (m *monitorSession) run(ctx context.Context, in io.Reader, peripheralID, service string) error {
	fmt.Fprintf(m.out, "Connecting to %s...\n", peripheralID)
	if err := m.ctrl.Connect(ctx, peripheralID); err != nil {
		return err
	}
	view := m.ctrl.View()
	color.New(color.FgGreen).Fprintf(m.out, "Connected to %s (%s)\n", view.Session.Peripheral.DisplayName(), view.Session.Peripheral.ID)
	printServices(m.out, view.Session)

	if service != "" {
		if err := m.selectService(ctx, service); err != nil {
			return err
		}
	}

	lost := make(chan struct{})
	groutine.Go(ctx, "monitor-render", func(ctx context.Context) {
		m.render(ctx, lost)
	})

	lines := make(chan string)
	groutine.Go(ctx, "monitor-stdin", func(ctx context.Context) {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	})

	fmt.Fprintln(m.out, "Type 'help' for commands.")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			return ErrConnectionLost
		case line, ok := <-lines:
			if !ok {
				// stdin closed
				return nil
			}
			quit, err := m.handle(ctx, line)
			if err != nil {
				color.New(color.FgRed).Fprintf(m.out, "ERROR: %s\n", FormatUserError(err))
			}
			if quit {
				return nil
			}
		}
	}
}

// handle runs one stdin command. It reports whether the session should end.
func (m *monitorSession) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "q":
		return true, nil
	case "select":
		if len(fields) != 2 {
			return false, errors.New("usage: select <service-uuid>")
		}
		return false, m.selectService(ctx, fields[1])
	case "toggle":
		report, err := m.ctrl.ToggleNotifications(ctx)
		if err != nil {
			return false, err
		}
		state := m.ctrl.View().Session.State
		fmt.Fprintf(m.out, "Notifications of %s: %s (%d characteristics)\n",
			report.Service, state, len(report.Outcomes))
		return false, nil
	case "services":
		printServices(m.out, m.ctrl.View().Session)
		return false, nil
	case "values":
		m.printValues(m.ctrl.View().Session)
		return false, nil
	case "help":
		fmt.Fprintln(m.out, "Commands: select <uuid>, toggle, services, values, quit")
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", fields[0])
	}
}

func (m *monitorSession) selectService(ctx context.Context, serviceUUID string) error {
	report, err := m.ctrl.SelectService(ctx, serviceUUID)
	if report != nil && len(report.Succeeded()) > 0 {
		fmt.Fprintf(m.out, "Subscribed to %s: %s\n", report.Service, strings.Join(report.Succeeded(), ", "))
	}
	if err != nil {
		var partial *session.PartialSubscriptionError
		if errors.As(err, &partial) {
			// still Active on the characteristics that succeeded
			color.New(color.FgYellow).Fprintf(m.out, "WARNING: %s\n", FormatUserError(err))
			return nil
		}
		return err
	}
	if report != nil && len(report.Outcomes) == 0 {
		fmt.Fprintf(m.out, "Service %s has no notifying characteristics\n", report.Service)
	}
	if path := m.ctrl.View().LogPath(); path != "" {
		fmt.Fprintf(m.out, "Logging to %s\n", path)
	}
	return nil
}

// render prints values as they change. It closes lost when the link drops.
func (m *monitorSession) render(ctx context.Context, lost chan<- struct{}) {
	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctrl.Changes():
		}

		snap := m.ctrl.View().Session
		if snap.State == session.Disconnected {
			m.logger.Debug("Session ended, renderer stopping")
			close(lost)
			return
		}
		if snap.State != session.Active || len(snap.LiveValues) == 0 {
			continue
		}
		line := m.valuesLine(snap)
		if line != last {
			fmt.Fprintln(m.out, line)
			last = line
		}
	}
}

func (m *monitorSession) valuesLine(snap session.Snapshot) string {
	parts := make([]string, 0, len(snap.Subscriptions))
	for _, c := range snap.Subscriptions {
		v := m.placeholder
		if f, ok := snap.Value(c); ok {
			v = session.FormatSample(f)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", c, v))
	}
	return strings.Join(parts, "  ")
}

func (m *monitorSession) printValues(snap session.Snapshot) {
	if snap.State != session.Active {
		fmt.Fprintf(m.out, "No active subscriptions (%s)\n", snap.State)
		return
	}
	fmt.Fprintln(m.out, m.valuesLine(snap))
}

// printServices lists services and their characteristics; the selected service is marked with *.
func printServices(w io.Writer, snap session.Snapshot) {
	if len(snap.Services) == 0 {
		fmt.Fprintln(w, "No services discovered")
		return
	}
	bold := color.New(color.Bold)
	for _, svc := range snap.Services {
		marker := " "
		if device.SameUUID(svc.UUID, snap.SelectedService) {
			marker = "*"
		}
		bold.Fprintf(w, "%s %s", marker, svc.UUID)
		if name := bledb.LookupService(svc.UUID); name != "" {
			fmt.Fprintf(w, " (%s)", name)
		}
		fmt.Fprintln(w)
		for _, c := range svc.Characteristics {
			fmt.Fprintf(w, "    %s [%s]", c.UUID, capabilities(c))
			if name := bledb.LookupCharacteristic(c.UUID); name != "" {
				fmt.Fprintf(w, " %s", name)
			}
			if snap.Subscribed(c.UUID) {
				fmt.Fprint(w, " subscribed")
			}
			fmt.Fprintln(w)
		}
	}
}

func capabilities(c device.Characteristic) string {
	var caps []string
	if c.SupportsRead {
		caps = append(caps, "read")
	}
	if c.SupportsWrite {
		caps = append(caps, "write")
	}
	if c.SupportsNotify {
		caps = append(caps, "notify")
	}
	return strings.Join(caps, ",")
}
