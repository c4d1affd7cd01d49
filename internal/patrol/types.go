// Package patrol implements the patrol engine: it drives a headless
// browser against a task's URL list, classifies each page, runs
// role-specific heuristic checks, and folds the outcomes into a
// pass/fail verdict with supporting evidence.
package patrol

import (
	"time"
)

// PageType is the role assigned to a page by the classifier.
type PageType string

const (
	PageHomepage PageType = "homepage"
	PageLanding  PageType = "landing"
	PageProduct  PageType = "product"
	PageGeneral  PageType = "general"
)

// Confidence is a heuristic's self-reported certainty about its
// boolean outcome.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// CheckDetail is one heuristic check outcome. It is transient: produced
// by the check engine, consumed by the verdict evaluator within a
// single test attempt, and flattened into the result's detail text.
type CheckDetail struct {
	Name       string
	Passed     bool
	Message    string
	Confidence Confidence
}

// Verdict is the tri-state outcome of evaluating a check list.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictFail    Verdict = "fail"
)

// Status is the two-state per-URL outcome persisted on results.
// Warning verdicts collapse to fail; see CollapseVerdict.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// DeviceType identifies a device profile class.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceTablet  DeviceType = "tablet"
	DeviceMobile  DeviceType = "mobile"
)

// Device is one viewport/user-agent profile a URL list is tested under.
type Device struct {
	Type      DeviceType `json:"type" yaml:"type"`
	Name      string     `json:"name" yaml:"name"`
	Width     int        `json:"width" yaml:"width"`
	Height    int        `json:"height" yaml:"height"`
	UserAgent string     `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// DefaultDesktop is the implicit device used when a task configures none.
func DefaultDesktop() Device {
	return Device{Type: DeviceDesktop, Name: "Desktop", Width: 1920, Height: 1080}
}

// PatrolURL is one entry of a task's ordered URL list.
type PatrolURL struct {
	URL  string `json:"url" yaml:"url"`
	Name string `json:"name" yaml:"name"`
}

// RetryPolicy controls re-running a single-URL test on infrastructure
// failure. Retry is entirely disabled unless Enabled is set.
type RetryPolicy struct {
	Enabled      bool  `json:"enabled" yaml:"enabled"`
	MaxAttempts  int   `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	RetryDelayMs int   `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`
	// RetryOnInfraError defaults to true; only infra failures are ever
	// retried regardless.
	RetryOnInfraError *bool `json:"retry_on_infra_error,omitempty" yaml:"retry_on_infra_error,omitempty"`
}

// RetryOnInfra reports whether infra failures trigger a retry.
func (r RetryPolicy) RetryOnInfra() bool {
	return r.RetryOnInfraError == nil || *r.RetryOnInfraError
}

// Attempts returns the effective attempt budget.
func (r RetryPolicy) Attempts() int {
	if !r.Enabled {
		return 1
	}
	if r.MaxAttempts <= 0 {
		return 3
	}
	return r.MaxAttempts
}

// Delay returns the fixed inter-attempt delay.
func (r RetryPolicy) Delay() time.Duration {
	if r.RetryDelayMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(r.RetryDelayMs) * time.Millisecond
}

// HomepageChecks toggles the homepage/landing check suite.
type HomepageChecks struct {
	RequireNavigation *bool `json:"require_navigation,omitempty" yaml:"require_navigation,omitempty"`
	RequireBanner     *bool `json:"require_banner,omitempty" yaml:"require_banner,omitempty"`
	RequireFooter     *bool `json:"require_footer,omitempty" yaml:"require_footer,omitempty"`
	RequireNewsletter *bool `json:"require_newsletter,omitempty" yaml:"require_newsletter,omitempty"`
	// MinContentModules is advisory: it shows up in the check message
	// but the content check passes at >=1 visible module regardless.
	MinContentModules int `json:"min_content_modules,omitempty" yaml:"min_content_modules,omitempty"`
}

// Navigation reports whether the navigation check runs (default true).
func (h HomepageChecks) Navigation() bool { return h.RequireNavigation == nil || *h.RequireNavigation }

// Banner reports whether the banner check runs (default true).
func (h HomepageChecks) Banner() bool { return h.RequireBanner == nil || *h.RequireBanner }

// Footer reports whether the footer check runs (default true).
func (h HomepageChecks) Footer() bool { return h.RequireFooter == nil || *h.RequireFooter }

// Newsletter reports whether the footer check additionally requires a
// subscription widget (default false).
func (h HomepageChecks) Newsletter() bool {
	return h.RequireNewsletter != nil && *h.RequireNewsletter
}

// MinModules returns the advisory content-module minimum.
func (h HomepageChecks) MinModules() int {
	if h.MinContentModules <= 0 {
		return 3
	}
	return h.MinContentModules
}

// VisualPolicy configures optional screenshot comparison.
type VisualPolicy struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	DiffThreshold float64 `json:"diff_threshold,omitempty" yaml:"diff_threshold,omitempty"`
	SaveBaseline  bool    `json:"save_baseline,omitempty" yaml:"save_baseline,omitempty"`
}

// Threshold returns the diff percentage above which a page is flagged.
func (v VisualPolicy) Threshold() float64 {
	if v.DiffThreshold <= 0 {
		return 1.0
	}
	return v.DiffThreshold
}

// Config is a task's patrol configuration. It is read-only input to the
// engine; the engine never mutates it.
type Config struct {
	Devices     []Device       `json:"devices,omitempty" yaml:"devices,omitempty"`
	Retry       RetryPolicy    `json:"retry" yaml:"retry"`
	Homepage    HomepageChecks `json:"homepage" yaml:"homepage"`
	Visual      VisualPolicy   `json:"visual" yaml:"visual"`
	Concurrency int            `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	// TimeoutSec bounds one page navigation; WaitAfterLoadSec is the
	// settle wait before checks run.
	TimeoutSec       int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	WaitAfterLoadSec int `json:"wait_after_load_sec,omitempty" yaml:"wait_after_load_sec,omitempty"`
}

// MaxConcurrent returns the page-level job ceiling per device batch.
func (c Config) MaxConcurrent() int {
	if c.Concurrency <= 0 {
		return 3
	}
	return c.Concurrency
}

// NavTimeout returns the per-navigation timeout.
func (c Config) NavTimeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// SettleWait returns the post-load settle wait.
func (c Config) SettleWait() time.Duration {
	if c.WaitAfterLoadSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.WaitAfterLoadSec) * time.Second
}

// DeviceList returns the configured devices, or the implicit single
// desktop device when none are configured.
func (c Config) DeviceList() []Device {
	if len(c.Devices) == 0 {
		return []Device{DefaultDesktop()}
	}
	return c.Devices
}

// Task is a named, persistent configuration of URLs, devices, checks,
// and notification targets. Owned by the task repository and mutated
// only through explicit update operations.
type Task struct {
	ID                  string      `json:"id" yaml:"id,omitempty"`
	Name                string      `json:"name" yaml:"name"`
	Description         string      `json:"description,omitempty" yaml:"description,omitempty"`
	URLs                []PatrolURL `json:"urls" yaml:"urls"`
	NotificationTargets []string    `json:"notification_targets,omitempty" yaml:"notification_targets,omitempty"`
	// Schedule is a cron expression; empty means manual runs only.
	Schedule  string    `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Config    Config    `json:"config" yaml:"config"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// ExecutionStatus is the lifecycle state of one patrol run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// VisualDiff is the structural summary returned by the external
// comparison capability.
type VisualDiff struct {
	HasDifference  bool    `json:"has_difference"`
	DiffPercentage float64 `json:"diff_percentage"`
	DiffImageRef   string  `json:"diff_image_ref,omitempty"`
	BaselineRef    string  `json:"baseline_ref,omitempty"`
}

// TestResult is the per (URL, device) outcome of one patrol test.
type TestResult struct {
	URL           string        `json:"url"`
	Name          string        `json:"name"`
	Status        Status        `json:"status"`
	StatusCode    int           `json:"status_code,omitempty"`
	ResponseTime  time.Duration `json:"response_time,omitempty"`
	CheckDetails  string        `json:"check_details,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ScreenshotRef string        `json:"screenshot_ref,omitempty"`
	VisualDiff    *VisualDiff   `json:"visual_diff,omitempty"`
	Device        *Device       `json:"device,omitempty"`
	InfraError    bool          `json:"infra_error,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}

// Execution is one concrete run instance of a task. Created pending,
// transitioned to running once a browser is acquired, finalized exactly
// once to completed or failed, immutable afterwards.
type Execution struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	TotalURLs    int             `json:"total_urls"`
	PassedURLs   int             `json:"passed_urls"`
	FailedURLs   int             `json:"failed_urls"`
	Results      []TestResult    `json:"results"`
	NotifiedAt   *time.Time      `json:"notified_at,omitempty"`
	Notified     bool            `json:"notified"`
	Duration     time.Duration   `json:"duration,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
