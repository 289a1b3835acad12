package identity

import (
	"sync"
	"sync/atomic"
)

// Provider owns the process-wide Client. Construction is lazy and happens at
// most once no matter how many goroutines ask; every caller shares the same
// Client (and therefore the same session state, persistence path, and
// refresh timer). Reset discards the instance so tests can start clean.
//
// The Provider is created once at wiring time and passed down; nothing else
// should construct a Client directly.
type Provider struct {
	mu    sync.Mutex
	build func() (*Client, error)
	once  func() (*Client, error)
	built atomic.Pointer[Client]
}

// NewProvider creates a Provider around the given constructor. The
// constructor is not called until the first Client request.
func NewProvider(build func() (*Client, error)) *Provider {
	p := &Provider{build: build}
	p.arm()
	return p
}

// arm installs a fresh do-once wrapper around the constructor. Callers must
// hold mu or have exclusive access.
func (p *Provider) arm() {
	p.once = sync.OnceValues(func() (*Client, error) {
		c, err := p.build()
		if err != nil {
			return nil, err
		}
		p.built.Store(c)
		return c, nil
	})
}

// Client returns the shared Client, constructing it on first use.
// Construction errors are sticky until Reset.
func (p *Provider) Client() (*Client, error) {
	p.mu.Lock()
	once := p.once
	p.mu.Unlock()

	return once()
}

// Reset closes the current Client, if any, and re-arms construction so the
// next Client call builds a fresh instance.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.built.Swap(nil); c != nil {
		c.Close()
	}
	p.arm()
}

// Close releases the current Client without re-arming construction.
func (p *Provider) Close() {
	if c := p.built.Load(); c != nil {
		c.Close()
	}
}
