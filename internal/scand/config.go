package scand

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// adapterPattern matches Linux HCI adapter names (hci0, hci1, ...).
var adapterPattern = regexp.MustCompile(`^hci\d+$`)

// scannerIDPattern restricts scanner IDs to MQTT-topic-safe characters.
var scannerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds the configuration for the blinky-scand helper daemon.
type Config struct {
	// Managed indicates whether Blinky Core should manage the scanner
	// lifecycle. If false, scanners are expected to run externally (for
	// example on remote hosts) and only their MQTT traffic is consumed.
	Managed bool `yaml:"managed"`

	// Binary is the path to the blinky-scand executable.
	// Default: "/usr/bin/blinky-scand"
	Binary string `yaml:"binary"`

	// ScannerID identifies this scanner in MQTT topics and messages.
	ScannerID string `yaml:"scanner_id"`

	// Adapter is the HCI adapter to scan with (e.g. "hci0").
	// Default: "hci0"
	Adapter string `yaml:"adapter"`

	// ActiveScan enables active scanning (scan requests for scan responses).
	// Passive scanning is the default; it is enough for Blinky discovery.
	ActiveScan bool `yaml:"active_scan"`

	// BrokerURL is the MQTT broker the scanner publishes to.
	// Usually the same broker Core connects to.
	BrokerURL string `yaml:"broker_url"`

	// Username and Password authenticate the scanner to the broker.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// RestartOnFailure enables automatic restart if the scanner crashes.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelay is the time to wait before restarting.
	// Default: 5s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// GracefulTimeout is how long to wait for graceful shutdown.
	// Default: 10s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// DefaultConfig returns a Config with sensible defaults for a local scanner.
func DefaultConfig() Config {
	return Config{
		Managed:            true,
		Binary:             "/usr/bin/blinky-scand",
		Adapter:            "hci0",
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("scanner binary path is required")
	}
	if strings.ContainsAny(c.Binary, " \t\n") {
		return fmt.Errorf("scanner binary path must not contain whitespace")
	}

	if c.ScannerID == "" {
		return fmt.Errorf("scanner_id is required")
	}
	if !scannerIDPattern.MatchString(c.ScannerID) {
		return fmt.Errorf("scanner_id %q contains characters unsafe for MQTT topics", c.ScannerID)
	}

	if !adapterPattern.MatchString(c.Adapter) {
		return fmt.Errorf("adapter %q is not a valid HCI adapter name", c.Adapter)
	}

	if c.BrokerURL == "" {
		return fmt.Errorf("broker_url is required")
	}

	return nil
}

// BuildArgs constructs the command-line arguments for blinky-scand.
func (c *Config) BuildArgs() []string {
	args := []string{
		"--adapter", c.Adapter,
		"--scanner-id", c.ScannerID,
		"--broker", c.BrokerURL,
	}

	if c.Username != "" {
		args = append(args, "--username", c.Username)
	}
	if c.Password != "" {
		args = append(args, "--password", c.Password)
	}
	if c.ActiveScan {
		args = append(args, "--active")
	}

	return args
}
