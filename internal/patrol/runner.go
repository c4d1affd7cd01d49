package patrol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// batchRunner executes the URL×device cartesian product against one
// borrowed browser. It owns the borrow for the duration of a run and
// guarantees exactly one release, including on failure paths. The one
// place mid-run browser death is repaired is page/context acquisition.
type batchRunner struct {
	pool BrowserPool
	log  *zap.Logger

	mu      sync.Mutex
	browser Browser
}

func newBatchRunner(pool BrowserPool, log *zap.Logger) *batchRunner {
	return &batchRunner{pool: pool, log: log}
}

// start borrows a browser. Failure here is execution-wide: the caller
// marks the whole run failed.
func (r *batchRunner) start(ctx context.Context) error {
	b, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire browser: %w", err)
	}
	r.mu.Lock()
	r.browser = b
	r.mu.Unlock()
	return nil
}

// close returns the borrowed browser. Safe to call once only; the
// service defers it on every path.
func (r *batchRunner) close() {
	r.mu.Lock()
	b := r.browser
	r.browser = nil
	r.mu.Unlock()
	if b != nil {
		r.pool.Release(b)
	}
}

// repairBrowser swaps a disconnected browser for a fresh one. Callers
// racing here are fine: whoever sees a healthy browser keeps it.
func (r *batchRunner) repairBrowser(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil && r.browser.Connected() {
		return nil
	}
	if r.browser != nil {
		r.pool.Release(r.browser)
		r.browser = nil
	}
	b, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("re-acquire browser: %w", err)
	}
	r.browser = b
	return nil
}

func (r *batchRunner) currentBrowser() Browser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser
}

// contextHolder shares one device context between the jobs of a batch
// and lets a job swap in a repaired one after browser loss.
type contextHolder struct {
	mu     sync.Mutex
	dev    Device
	devCtx DeviceContext
}

func (h *contextHolder) get() DeviceContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.devCtx
}

func (h *contextHolder) swap(devCtx DeviceContext) {
	h.mu.Lock()
	old := h.devCtx
	h.devCtx = devCtx
	h.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (h *contextHolder) close() {
	h.mu.Lock()
	devCtx := h.devCtx
	h.devCtx = nil
	h.mu.Unlock()
	if devCtx != nil {
		_ = devCtx.Close()
	}
}

// run executes every device batch in order and returns results indexed
// by input URL order within each batch. attempted flips as soon as any
// URL job starts; once it has, batch-level trouble degrades to
// synthesized infra failures instead of failing the execution.
func (r *batchRunner) run(ctx context.Context, task *Task, test func(ctx context.Context, page Page, u PatrolURL, dev Device) TestResult) ([]TestResult, error) {
	var all []TestResult
	var attempted atomic.Bool

	for _, dev := range task.Config.DeviceList() {
		results, err := r.runBatch(ctx, task, dev, test, &attempted)
		if err != nil {
			if !attempted.Load() {
				return nil, err
			}
			r.log.Error("device batch aborted",
				zap.String("device", dev.Name),
				zap.Error(err))
			all = append(all, synthesizeInfraResults(task.URLs, dev, err)...)
			continue
		}
		all = append(all, results...)
	}
	return all, nil
}

// runBatch opens one browser context for the device and fans the URL
// list out through a weighted semaphore so at most K page jobs are
// live at once. Job outcomes land in input-order slots, so the final
// list order never depends on completion order.
func (r *batchRunner) runBatch(ctx context.Context, task *Task, dev Device, test func(ctx context.Context, page Page, u PatrolURL, dev Device) TestResult, attempted *atomic.Bool) ([]TestResult, error) {
	holder := &contextHolder{dev: dev}
	devCtx, err := r.openContext(ctx, dev)
	if err != nil {
		return nil, err
	}
	holder.devCtx = devCtx
	defer holder.close()

	r.log.Info("device batch started",
		zap.String("device", dev.Name),
		zap.String("type", string(dev.Type)),
		zap.Int("urls", len(task.URLs)),
		zap.Int("concurrency", task.Config.MaxConcurrent()))

	results := make([]TestResult, len(task.URLs))
	sem := semaphore.NewWeighted(int64(task.Config.MaxConcurrent()))
	var wg sync.WaitGroup

	for i, u := range task.URLs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = infraResult(u, dev, fmt.Errorf("run cancelled: %w", err))
			continue
		}
		wg.Add(1)
		go func(i int, u PatrolURL) {
			defer wg.Done()
			defer sem.Release(1)
			attempted.Store(true)

			page, err := r.acquirePage(ctx, holder)
			if err != nil {
				// Failing to even obtain a page degrades one job, not
				// the batch.
				results[i] = infraResult(u, dev, err)
				return
			}
			defer func() { _ = page.Close() }()

			results[i] = test(ctx, page, u, dev)
		}(i, u)
	}
	wg.Wait()

	return results, nil
}

// openContext creates a device context, repairing the browser once if
// it reports disconnected.
func (r *batchRunner) openContext(ctx context.Context, dev Device) (DeviceContext, error) {
	b := r.currentBrowser()
	if b == nil {
		return nil, fmt.Errorf("no browser held for device %s", dev.Name)
	}
	devCtx, err := b.NewDeviceContext(ctx, dev)
	if err == nil {
		return devCtx, nil
	}
	if b.Connected() {
		return nil, fmt.Errorf("create context for %s: %w", dev.Name, err)
	}

	r.log.Warn("browser disconnected, re-acquiring", zap.String("device", dev.Name))
	if repairErr := r.repairBrowser(ctx); repairErr != nil {
		return nil, fmt.Errorf("create context for %s: %w (repair: %v)", dev.Name, err, repairErr)
	}
	devCtx, err = r.currentBrowser().NewDeviceContext(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("create context for %s after repair: %w", dev.Name, err)
	}
	return devCtx, nil
}

// acquirePage opens a fresh page in the batch's context, repairing the
// browser and context once when the browser died mid-run.
func (r *batchRunner) acquirePage(ctx context.Context, holder *contextHolder) (Page, error) {
	devCtx := holder.get()
	if devCtx == nil {
		return nil, fmt.Errorf("device context closed")
	}
	page, err := devCtx.NewPage(ctx)
	if err == nil {
		return page, nil
	}

	b := r.currentBrowser()
	if b != nil && b.Connected() {
		return nil, fmt.Errorf("new page: %w", err)
	}

	if repairErr := r.repairBrowser(ctx); repairErr != nil {
		return nil, fmt.Errorf("new page: %w (repair: %v)", err, repairErr)
	}
	fresh, ctxErr := r.currentBrowser().NewDeviceContext(ctx, holder.dev)
	if ctxErr != nil {
		return nil, fmt.Errorf("recreate context: %w", ctxErr)
	}
	holder.swap(fresh)

	page, err = fresh.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("new page after repair: %w", err)
	}
	return page, nil
}

func infraResult(u PatrolURL, dev Device, err error) TestResult {
	return TestResult{
		URL:          u.URL,
		Name:         u.Name,
		Status:       StatusFail,
		ErrorMessage: "infrastructure error: " + err.Error(),
		Device:       &dev,
		InfraError:   true,
		Duration:     0,
	}
}

func synthesizeInfraResults(urls []PatrolURL, dev Device, err error) []TestResult {
	results := make([]TestResult, len(urls))
	for i, u := range urls {
		results[i] = infraResult(u, dev, err)
	}
	return results
}
