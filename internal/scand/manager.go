package scand

import (
	"context"
	"fmt"
	"time"
)

// Logger defines the logging interface for the scanner manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// HealthChecker reports scanner liveness from the MQTT side.
// Satisfied by the bridge, which tracks health reports per scanner.
// Optional; without it the manager only watches the process itself.
type HealthChecker interface {
	// ScannerHealthy reports whether the scanner has sent a recent
	// health report over MQTT.
	ScannerHealthy(scannerID string) bool
}

// Manager manages the blinky-scand helper process.
//
// The scanner is a separate binary because BlueZ D-Bus access wants its
// own privileges and crash domain. Core supervises it like any other
// protocol helper: start, watch, restart with backoff.
type Manager struct {
	config Config
	sup    *supervisor
	health HealthChecker
	logger Logger
}

// NewManager creates a new scanner manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Binary == "" {
		cfg.Binary = "/usr/bin/blinky-scand"
	}
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartAttempts == 0 {
		cfg.MaxRestartAttempts = 10
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	if cfg.Managed {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid scanner config: %w", err)
		}
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetHealthChecker sets the MQTT-side liveness source.
// Must be called before Start.
func (m *Manager) SetHealthChecker(h HealthChecker) {
	m.health = h
}

// Start launches the scanner daemon.
func (m *Manager) Start(ctx context.Context) error {
	if !m.config.Managed {
		m.logger.Info("scanner management disabled, expecting external scanners")
		return nil
	}

	args := m.config.BuildArgs()

	m.logger.Info("starting scanner",
		"binary", m.config.Binary,
		"scanner_id", m.config.ScannerID,
		"adapter", m.config.Adapter,
	)

	m.sup = newSupervisor(supervisorConfig{
		binary:           m.config.Binary,
		args:             args,
		restartOnFailure: m.config.RestartOnFailure,
		restartDelay:     m.config.RestartDelay,
		maxRestarts:      m.config.MaxRestartAttempts,
		gracefulTimeout:  m.config.GracefulTimeout,
		healthInterval:   30 * time.Second,
		healthCheck:      m.HealthCheck,
		onRestart: func(attempt int) {
			m.logger.Info("scanner restarting", "attempt", attempt)
		},
		logger: m.logger,
	})

	if err := m.sup.start(ctx); err != nil {
		return fmt.Errorf("starting scanner: %w", err)
	}

	m.logger.Info("scanner ready", "scanner_id", m.config.ScannerID)
	return nil
}

// Stop gracefully stops the scanner daemon.
func (m *Manager) Stop() error {
	if !m.config.Managed || m.sup == nil {
		return nil
	}

	m.logger.Info("stopping scanner")
	return m.sup.stop()
}

// IsRunning reports whether the scanner process is running.
// Always false when unmanaged.
func (m *Manager) IsRunning() bool {
	if m.sup == nil {
		return false
	}
	return m.sup.isRunning()
}

// RestartCount returns how many times the scanner has been restarted
// since Start.
func (m *Manager) RestartCount() int {
	if m.sup == nil {
		return 0
	}
	return m.sup.restartCount()
}

// ScannerID returns the configured scanner identifier.
func (m *Manager) ScannerID() string {
	return m.config.ScannerID
}

// HealthCheck verifies the scanner is alive.
//
// The process manager already detects exits; this adds the MQTT-side
// check so a hung scanner (process up, no health reports) is restarted.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.sup == nil || !m.sup.isRunning() {
		return fmt.Errorf("scanner process not running")
	}

	if m.health != nil && !m.health.ScannerHealthy(m.config.ScannerID) {
		return fmt.Errorf("scanner %s silent on MQTT", m.config.ScannerID)
	}

	return nil
}
