package identity

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newCountingProvider(builds *atomic.Int32) *Provider {
	return NewProvider(func() (*Client, error) {
		builds.Add(1)
		return NewClient(Config{Endpoint: "https://id.example.com", PublicKey: "pk"}, &memStore{})
	})
}

func TestProviderConstructionIsLazy(t *testing.T) {
	var builds atomic.Int32
	p := newCountingProvider(&builds)
	defer p.Close()

	if got := builds.Load(); got != 0 {
		t.Fatalf("builds before first use = %d, want 0", got)
	}

	if _, err := p.Client(); err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if got := builds.Load(); got != 1 {
		t.Errorf("builds after first use = %d, want 1", got)
	}
}

func TestProviderSharesOneClientAcrossGoroutines(t *testing.T) {
	var builds atomic.Int32
	p := newCountingProvider(&builds)
	defer p.Close()

	const workers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		clients = make([]*Client, workers)
		errs    = make([]error, workers)
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			clients[i], errs[i] = p.Client()
		}()
	}
	close(start)
	wg.Wait()

	for i := range workers {
		if errs[i] != nil {
			t.Fatalf("worker %d: Client() error = %v", i, errs[i])
		}
		if clients[i] != clients[0] {
			t.Fatalf("worker %d received a different client instance", i)
		}
	}
	if got := builds.Load(); got != 1 {
		t.Errorf("builds = %d, want 1", got)
	}
}

func TestProviderResetBuildsFreshClient(t *testing.T) {
	var builds atomic.Int32
	p := newCountingProvider(&builds)
	defer p.Close()

	first, err := p.Client()
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}

	p.Reset()

	second, err := p.Client()
	if err != nil {
		t.Fatalf("Client() after Reset error = %v", err)
	}
	if first == second {
		t.Error("Reset returned the same client instance")
	}
	if got := builds.Load(); got != 2 {
		t.Errorf("builds = %d, want 2", got)
	}
}

func TestProviderKeepsConstructionErrorUntilReset(t *testing.T) {
	var builds atomic.Int32
	buildErr := errors.New("endpoint unreachable")
	fail := atomic.Bool{}
	fail.Store(true)

	p := NewProvider(func() (*Client, error) {
		builds.Add(1)
		if fail.Load() {
			return nil, buildErr
		}
		return NewClient(Config{Endpoint: "https://id.example.com", PublicKey: "pk"}, &memStore{})
	})
	defer p.Close()

	for range 3 {
		if _, err := p.Client(); !errors.Is(err, buildErr) {
			t.Fatalf("Client() error = %v, want construction error", err)
		}
	}
	if got := builds.Load(); got != 1 {
		t.Errorf("builds = %d, want 1 for repeated failing calls", got)
	}

	fail.Store(false)
	p.Reset()

	if _, err := p.Client(); err != nil {
		t.Fatalf("Client() after Reset error = %v", err)
	}
	if got := builds.Load(); got != 2 {
		t.Errorf("builds = %d, want 2 after Reset", got)
	}
}
