// Package browser provides the rod-backed implementation of the patrol
// engine's browser capabilities: a browser pool, per-device incognito
// contexts, drivable pages, and screenshot capture.
package browser

import "time"

// Config holds browser launch and pool configuration.
type Config struct {
	// DebuggerURL connects to an already-running Chrome instead of
	// launching one.
	DebuggerURL string `json:"debugger_url" yaml:"debugger_url"`
	// Bin is the Chrome binary path; empty uses the launcher's lookup.
	Bin      string   `json:"bin,omitempty" yaml:"bin,omitempty"`
	Headless *bool    `json:"headless,omitempty" yaml:"headless,omitempty"`
	Flags    []string `json:"flags,omitempty" yaml:"flags,omitempty"`
	// PoolSize caps concurrently borrowed browser processes.
	PoolSize       int `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	ConnectTimeout int `json:"connect_timeout_sec,omitempty" yaml:"connect_timeout_sec,omitempty"`
}

// IsHeadless returns the headless setting (default true; patrol runs
// are unattended).
func (c Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// Size returns the effective pool size.
func (c Config) Size() int {
	if c.PoolSize <= 0 {
		return 2
	}
	return c.PoolSize
}

// ConnectDeadline returns the browser connect timeout.
func (c Config) ConnectDeadline() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ConnectTimeout) * time.Second
}
