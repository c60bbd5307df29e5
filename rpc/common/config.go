package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the server.
type ServerConfig struct {
	// Network is the listener network, "tcp" or "unix".
	Network string
	// Listen is the address (tcp) or socket path (unix) to listen on.
	Listen string

	// FreeWorkers is the size of the background free pool.
	FreeWorkers int

	// IdleTimeoutSec closes connections idle for this long. 0 disables.
	IdleTimeoutSec int

	// MetricsAddr, if non-empty, serves Prometheus metrics over HTTP.
	MetricsAddr string

	// StatsIntervalSec is the period of the stats log line. 0 disables.
	StatsIntervalSec int

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for inconsistencies.
func (c *ServerConfig) Validate() error {
	switch c.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("invalid network %q (expected tcp or unix)", c.Network)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.FreeWorkers < 1 {
		return fmt.Errorf("at least one free worker is required")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Network", c.Network)
	addField("Listen", c.Listen)
	addField("Free Workers", strconv.Itoa(c.FreeWorkers))
	if c.IdleTimeoutSec > 0 {
		addField("Idle Timeout", fmt.Sprintf("%d sec", c.IdleTimeoutSec))
	} else {
		addField("Idle Timeout", "off")
	}

	addSection("Observability")
	if c.MetricsAddr != "" {
		addField("Metrics Endpoint", c.MetricsAddr)
	} else {
		addField("Metrics Endpoint", "off")
	}
	if c.StatsIntervalSec > 0 {
		addField("Stats Interval", fmt.Sprintf("%d sec", c.StatsIntervalSec))
	} else {
		addField("Stats Interval", "off")
	}
	addField("Log Level", c.LogLevel)

	return sb.String()
}
