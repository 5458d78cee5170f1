package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelog/internal/device"
	goble "github.com/srg/blelog/internal/device/go-ble"
	"github.com/srg/blelog/internal/events"
	"github.com/srg/blelog/internal/permission"
	"github.com/srg/blelog/pkg/config"
)

// newPlatform creates the BLE platform (can be overridden in tests). The returned
// func releases the adapter.
var newPlatform = func(hub *events.Hub, logger *logrus.Logger) (device.Platform, func() error) {
	p := goble.NewPlatform(hub, logger)
	return p, p.Close
}

// newGate creates the permission gate (can be overridden in tests)
var newGate = func() permission.Gate {
	return permission.System{}
}

// env is what every command needs: config, logger, event hub and platform.
type env struct {
	cfg      *config.Config
	logger   *logrus.Logger
	hub      *events.Hub
	platform device.Platform
	gate     permission.Gate
	release  func() error
}

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, path != "", nil
}

// newEnv loads the configuration and logger.
func newEnv(cmd *cobra.Command) (*env, error) {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg, fromFile)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger}, nil
}

// open creates the event hub, BLE platform and permission gate.
func (e *env) open() {
	e.hub = events.NewHub(e.cfg.EventBufferSize, e.logger)
	e.platform, e.release = newPlatform(e.hub, e.logger)
	e.gate = newGate()
}

// Close releases the platform, if open.
func (e *env) Close() {
	if e.release == nil {
		return
	}
	if err := e.release(); err != nil {
		e.logger.WithError(err).Warn("Failed to release BLE adapter")
	}
}
