package patrol

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakePage is a scriptable DOM capability: selector tables stand in
// for a real page so check heuristics run without a browser.
type fakePage struct {
	mu sync.Mutex

	dom    map[string][]Element
	within map[string]map[string][]Element
	nearby map[string]string
	jsonld []string

	navigate func(url string, opt NavOptions) (int, error)
	children int
	closed   bool
	clicks   []string
	scrolled float64
}

func newFakePage() *fakePage {
	return &fakePage{
		dom:      make(map[string][]Element),
		within:   make(map[string]map[string][]Element),
		nearby:   make(map[string]string),
		children: 1,
		navigate: func(string, NavOptions) (int, error) { return 200, nil },
	}
}

func (p *fakePage) Navigate(_ context.Context, url string, opt NavOptions) (int, error) {
	return p.navigate(url, opt)
}

func (p *fakePage) Wait(time.Duration) {}

func (p *fakePage) Scroll(_ context.Context, deltaY float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolled += deltaY
	return nil
}

func (p *fakePage) Query(_ context.Context, sel string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dom[sel], nil
}

func (p *fakePage) QueryWithin(_ context.Context, rootSel, sel string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if scoped, ok := p.within[rootSel]; ok {
		return scoped[sel], nil
	}
	return nil, nil
}

func (p *fakePage) NearbyText(_ context.Context, sel string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nearby[sel], nil
}

func (p *fakePage) JSONLD(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jsonld, nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, sel)
	return nil
}

func (p *fakePage) BodyChildCount(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.children, nil
}

func (p *fakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) Close() error { return nil }

// visibleEl builds a visible element with sane geometry.
func visibleEl(text string) Element {
	return Element{Text: text, Visible: true, Enabled: true, Top: 10, Width: 1200, Height: 200}
}

// fakeDeviceContext hands out pages built by newPage.
type fakeDeviceContext struct {
	newPage func() (Page, error)
	closed  bool
}

func (c *fakeDeviceContext) NewPage(context.Context) (Page, error) { return c.newPage() }
func (c *fakeDeviceContext) Close() error                          { c.closed = true; return nil }

type fakeBrowser struct {
	mu        sync.Mutex
	connected bool
	newCtx    func(dev Device) (DeviceContext, error)
}

func (b *fakeBrowser) NewDeviceContext(_ context.Context, dev Device) (DeviceContext, error) {
	return b.newCtx(dev)
}

func (b *fakeBrowser) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBrowser) setConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

type fakePool struct {
	mu       sync.Mutex
	acquire  func() (Browser, error)
	acquired int
	released int
}

func (p *fakePool) Acquire(context.Context) (Browser, error) {
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return p.acquire()
}

func (p *fakePool) Release(Browser) {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
}

func (p *fakePool) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired, p.released
}

// memTaskRepo / memExecRepo are in-memory repositories for engine tests.
type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func newMemTaskRepo() *memTaskRepo { return &memTaskRepo{tasks: make(map[string]*Task)} }

func (r *memTaskRepo) Create(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
	return nil
}

func (r *memTaskRepo) Update(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	r.tasks[t.ID] = t
	return nil
}

func (r *memTaskRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *memTaskRepo) FindByID(_ context.Context, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id], nil
}

func (r *memTaskRepo) FindAll(_ context.Context, enabledOnly bool) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Task
	for _, t := range r.tasks {
		if enabledOnly && !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type memExecRepo struct {
	mu    sync.Mutex
	execs map[string]*Execution
}

func newMemExecRepo() *memExecRepo { return &memExecRepo{execs: make(map[string]*Execution)} }

func (r *memExecRepo) Create(_ context.Context, e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.execs[e.ID] = &cp
	return nil
}

func (r *memExecRepo) UpdateStatus(_ context.Context, id string, status ExecutionStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Status = status
	e.ErrorMessage = errMsg
	return nil
}

func (r *memExecRepo) Complete(_ context.Context, id string, passed, failed int, results []TestResult, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	now := time.Now()
	e.Status = ExecutionCompleted
	e.PassedURLs = passed
	e.FailedURLs = failed
	e.Results = results
	e.Duration = duration
	e.CompletedAt = &now
	return nil
}

func (r *memExecRepo) Fail(_ context.Context, id string, errMsg string, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	now := time.Now()
	e.Status = ExecutionFailed
	e.ErrorMessage = errMsg
	e.Duration = duration
	e.CompletedAt = &now
	return nil
}

func (r *memExecRepo) FindByID(_ context.Context, id string) (*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *memExecRepo) FindAll(_ context.Context, limit int) ([]*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Execution
	for _, e := range r.execs {
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memExecRepo) FindByTaskID(_ context.Context, taskID string, limit int) ([]*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Execution
	for _, e := range r.execs {
		if e.TaskID != taskID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memExecRepo) MarkNotified(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return fmt.Errorf("execution %s not found", id)
	}
	e.Notified = true
	e.NotifiedAt = &at
	return nil
}

// singlePagePool is the usual happy-path fixture: one connected
// browser whose contexts serve pages from build.
func singlePagePool(build func() (Page, error)) (*fakePool, *fakeBrowser) {
	browser := &fakeBrowser{connected: true}
	browser.newCtx = func(Device) (DeviceContext, error) {
		return &fakeDeviceContext{newPage: build}, nil
	}
	pool := &fakePool{}
	pool.acquire = func() (Browser, error) { return browser, nil }
	return pool, browser
}
