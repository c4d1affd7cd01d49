package patrol

import (
	"context"
	"time"
)

// WaitUntil names a navigation settle strategy, from strictest to most
// permissive. The tester degrades through them when a stricter one
// times out.
type WaitUntil string

const (
	WaitNetworkIdle WaitUntil = "networkidle"
	WaitDOMReady    WaitUntil = "domcontentloaded"
	WaitLoad        WaitUntil = "load"
)

// NavOptions bounds a single navigation.
type NavOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Element is the structured view of one matched DOM element, as
// returned by the in-page query capability. Selector heuristics stay
// in this package as data; the page only executes structured queries.
type Element struct {
	Selector      string
	Tag           string
	Text          string
	Visible       bool
	Enabled       bool
	Top           float64
	Left          float64
	Width         float64
	Height        float64
	FontSize      float64
	ImageComplete bool
	NaturalWidth  float64
	NaturalHeight float64
}

// Page is the drivable-page capability: one browser tab the engine can
// navigate, query, and capture. Implementations live outside the
// engine (internal/browser provides the rod-backed one; tests use a
// fake).
type Page interface {
	// Navigate loads url and returns the HTTP status code (0 when no
	// response was observed).
	Navigate(ctx context.Context, url string, opt NavOptions) (int, error)
	// Wait sleeps in page time (settle waits between interactions).
	Wait(d time.Duration)
	// Scroll scrolls the viewport vertically by deltaY CSS pixels.
	Scroll(ctx context.Context, deltaY float64) error
	// Query returns structured info for every element matching sel.
	Query(ctx context.Context, sel string) ([]Element, error)
	// QueryWithin restricts the query to descendants of the first
	// element matching rootSel.
	QueryWithin(ctx context.Context, rootSel, sel string) ([]Element, error)
	// NearbyText returns the text of the enclosing block of the first
	// element matching sel (used for price-near-title extraction).
	NearbyText(ctx context.Context, sel string) (string, error)
	// JSONLD returns the raw contents of ld+json script tags.
	JSONLD(ctx context.Context) ([]string, error)
	// Click clicks the first visible element matching sel.
	Click(ctx context.Context, sel string) error
	// BodyChildCount reports how many children document.body has.
	BodyChildCount(ctx context.Context) (int, error)
	// IsClosed reports whether the tab is gone (closed or crashed).
	IsClosed() bool
	// Close releases the tab. Safe to call more than once.
	Close() error
}

// DeviceContext is one browser context configured for a single device
// profile. It belongs to exactly one device batch at a time.
type DeviceContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Browser is one borrowed browser process.
type Browser interface {
	NewDeviceContext(ctx context.Context, dev Device) (DeviceContext, error)
	// Connected reports whether the underlying browser is still alive.
	Connected() bool
}

// BrowserPool lends browsers for the duration of an execution. A
// borrowed browser must be released exactly once, on every path.
type BrowserPool interface {
	Acquire(ctx context.Context) (Browser, error)
	Release(b Browser)
}

// Screenshotter captures a page and stores the image somewhere opaque,
// returning a reference recorded verbatim on the result.
type Screenshotter interface {
	CaptureAndStore(ctx context.Context, p Page) (string, error)
}

// VisualComparer compares a fresh screenshot against a stored baseline.
type VisualComparer interface {
	Compare(ctx context.Context, screenshotRef, url string, dev DeviceType, policy VisualPolicy) (*VisualDiff, error)
}

// Notifier dispatches a patrol report. Fire-and-forget from the
// engine's perspective: failures are logged, never propagated.
type Notifier interface {
	SendPatrolReport(ctx context.Context, executionID string) error
}

// TaskRepository persists patrol tasks.
type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*Task, error)
	FindAll(ctx context.Context, enabledOnly bool) ([]*Task, error)
}

// ExecutionRepository persists patrol executions.
type ExecutionRepository interface {
	Create(ctx context.Context, e *Execution) error
	UpdateStatus(ctx context.Context, id string, status ExecutionStatus, errMsg string) error
	Complete(ctx context.Context, id string, passed, failed int, results []TestResult, duration time.Duration) error
	// Fail finalizes an execution as failed, recording completion time
	// and duration like Complete does.
	Fail(ctx context.Context, id string, errMsg string, duration time.Duration) error
	FindByID(ctx context.Context, id string) (*Execution, error)
	FindAll(ctx context.Context, limit int) ([]*Execution, error)
	FindByTaskID(ctx context.Context, taskID string, limit int) ([]*Execution, error)
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

// EventSink receives lifecycle events. Emission failures must never
// abort a run, so the sink is push-only and non-blocking.
type EventSink interface {
	Emit(evt Event)
}

// EventType names a lifecycle event.
type EventType string

const (
	EventTaskCreated      EventType = "task.created"
	EventTaskUpdated      EventType = "task.updated"
	EventTaskDeleted      EventType = "task.deleted"
	EventExecutionCreated EventType = "execution.created"
	EventPatrolStarted    EventType = "patrol.started"
	EventPatrolCompleted  EventType = "patrol.completed"
	EventPatrolFailed     EventType = "patrol.failed"
)

// Event is one lifecycle event carrying the relevant entity ids.
type Event struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	TaskID      string    `json:"task_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Message     string    `json:"message,omitempty"`
}
