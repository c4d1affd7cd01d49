package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// Pool lends browser processes to patrol executions. Browsers are
// launched lazily up to the configured size, health-checked on both
// borrow and return, and dead ones are discarded instead of recycled.
type Pool struct {
	cfg Config
	log *zap.Logger

	slots chan struct{}

	mu     sync.Mutex
	idle   []*Instance
	closed bool
}

// NewPool builds a pool; no browser is launched until the first Acquire.
func NewPool(cfg Config, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	slots := make(chan struct{}, cfg.Size())
	for i := 0; i < cfg.Size(); i++ {
		slots <- struct{}{}
	}
	return &Pool{cfg: cfg, log: log, slots: slots}
}

// Acquire borrows a browser, launching one when no healthy idle
// instance is available. Blocks while the pool is fully borrowed.
func (p *Pool) Acquire(ctx context.Context) (patrol.Browser, error) {
	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser: %w", ctx.Err())
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.slots <- struct{}{}
			return nil, fmt.Errorf("browser pool closed")
		}
		if len(p.idle) == 0 {
			p.mu.Unlock()
			break
		}
		inst := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if inst.Connected() {
			return inst, nil
		}
		p.log.Warn("discarding dead idle browser")
		inst.close()
	}

	inst, err := p.connect(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	return inst, nil
}

// Release returns a borrowed browser. Dead browsers are closed and
// dropped; their slot frees up for a fresh launch.
func (p *Pool) Release(b patrol.Browser) {
	defer func() { p.slots <- struct{}{} }()

	inst, ok := b.(*Instance)
	if !ok || inst == nil {
		return
	}
	if !inst.Connected() {
		p.log.Warn("released browser is dead, closing")
		inst.close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		inst.close()
		return
	}
	p.idle = append(p.idle, inst)
}

// Close shuts down every idle browser. Borrowed browsers are closed as
// they come back.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, inst := range idle {
		inst.close()
	}
}

// connect attaches to the configured debugger URL or launches a fresh
// Chrome with the configured binary and flags.
func (p *Pool) connect(ctx context.Context) (*Instance, error) {
	controlURL := p.cfg.DebuggerURL
	if controlURL == "" {
		url, err := p.launch()
		if err != nil {
			return nil, err
		}
		controlURL = url
	}

	connectCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectDeadline())
	defer cancel()

	rb := rod.New().ControlURL(controlURL).Context(connectCtx)
	if err := rb.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	// The connect deadline must not outlive the connection phase.
	rb = rb.Context(context.Background())

	p.log.Info("browser connected", zap.String("control_url", controlURL))
	return &Instance{rb: rb, log: p.log}, nil
}

func (p *Pool) launch() (string, error) {
	l := launcher.New().Headless(p.cfg.IsHeadless())
	if p.cfg.Bin != "" {
		l = l.Bin(p.cfg.Bin)
	}
	for _, raw := range p.cfg.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	url, err := l.Launch()
	if err == nil {
		return url, nil
	}

	// Custom flags can make Chrome refuse to start; retry bare.
	fallback := launcher.New().Headless(p.cfg.IsHeadless())
	if p.cfg.Bin != "" {
		fallback = fallback.Bin(p.cfg.Bin)
	}
	alt, altErr := fallback.Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	p.log.Warn("launched without custom flags", zap.Error(err))
	return alt, nil
}

// Instance is one connected browser process.
type Instance struct {
	rb  *rod.Browser
	log *zap.Logger
}

// Connected reports whether the DevTools connection still answers.
func (b *Instance) Connected() bool {
	_, err := b.rb.Version()
	return err == nil
}

// NewDeviceContext opens an incognito context configured for one device
// profile. Incognito keeps cookies and storage from leaking between
// device batches.
func (b *Instance) NewDeviceContext(_ context.Context, dev patrol.Device) (patrol.DeviceContext, error) {
	incognito, err := b.rb.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	return &deviceContext{browser: incognito, dev: dev, log: b.log}, nil
}

func (b *Instance) close() {
	if err := b.rb.Close(); err != nil {
		b.log.Debug("browser close failed", zap.Error(err))
	}
}
