package playwright

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
)

// Defaults for the pool.
const (
	DefaultMaxContexts = 4
	DefaultIdleTimeout = 5 * time.Minute
)

// ErrPoolClosed is returned by Open after Shutdown.
var ErrPoolClosed = errors.New("browser pool is shut down")

// Runtime is a launched browser that can open isolated pages.
type Runtime interface {
	NewDriver(ctx context.Context) (capability.Driver, error)
	Close() error
}

// Launcher starts a Runtime.
type Launcher func(ctx context.Context) (Runtime, error)

// PoolConfig bounds the pool.
type PoolConfig struct {
	// MaxContexts caps concurrently open pages.
	MaxContexts int
	// IdleTimeout closes the runtime once nothing has used it for this
	// long. Zero keeps it until Shutdown.
	IdleTimeout time.Duration
}

// Pool shares one lazily launched runtime between calls. Each Open takes a
// reference that the returned driver gives back on Close; the runtime is
// closed when it has been idle long enough, or at Shutdown once the last
// reference is returned.
type Pool struct {
	launch Launcher
	log    *logging.Logger
	slots  chan struct{}
	idle   time.Duration

	mu         sync.Mutex
	rt         Runtime
	refs       int
	generation int
	closed     bool
	stopped    chan struct{}
}

var _ capability.Backend = (*Pool)(nil)

// NewPool creates a pool around launch.
func NewPool(launch Launcher, cfg PoolConfig, log *logging.Logger) *Pool {
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = DefaultMaxContexts
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pool{
		launch:  launch,
		log:     log,
		slots:   make(chan struct{}, cfg.MaxContexts),
		idle:    cfg.IdleTimeout,
		stopped: make(chan struct{}),
	}
}

// Acquire takes a reference on the runtime, launching it if needed. It
// blocks while MaxContexts references are out.
func (p *Pool) Acquire(ctx context.Context) (Runtime, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopped:
		return nil, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.slots
		return nil, ErrPoolClosed
	}
	if p.rt == nil {
		rt, err := p.launch(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		p.log.Infof("browser runtime started")
		p.rt = rt
	}
	p.refs++
	p.generation++
	return p.rt, nil
}

// Release gives back a reference taken by Acquire.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		return
	}
	p.refs--
	<-p.slots
	if p.refs > 0 || p.rt == nil {
		return
	}
	if p.closed {
		p.stopRuntime()
		return
	}
	if p.idle > 0 {
		gen := p.generation
		time.AfterFunc(p.idle, func() { p.expire(gen) })
	}
}

func (p *Pool) expire(gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 && p.generation == gen && p.rt != nil {
		p.log.Infof("browser runtime idle for %s, closing", p.idle)
		p.stopRuntime()
	}
}

func (p *Pool) stopRuntime() {
	if err := p.rt.Close(); err != nil {
		p.log.Warnf("failed to close browser runtime: %v", err)
	}
	p.rt = nil
}

// Refs returns the number of outstanding references.
func (p *Pool) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// Running reports whether a runtime is currently launched.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rt != nil
}

// Open implements capability.Backend: a fresh isolated page per call.
func (p *Pool) Open(ctx context.Context) (capability.Driver, error) {
	rt, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	d, err := rt.NewDriver(ctx)
	if err != nil {
		p.Release()
		return nil, err
	}
	return &pooledDriver{Driver: d, pool: p}, nil
}

// Shutdown refuses new calls and closes the runtime as soon as no call
// holds it.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stopped)
	if p.refs == 0 && p.rt != nil {
		p.stopRuntime()
	}
	return nil
}

// Close implements capability.Backend.
func (p *Pool) Close() error {
	return p.Shutdown()
}

type pooledDriver struct {
	capability.Driver
	pool *Pool
	once sync.Once
}

func (d *pooledDriver) Close() error {
	var err error
	d.once.Do(func() {
		err = d.Driver.Close()
		d.pool.Release()
	})
	return err
}
