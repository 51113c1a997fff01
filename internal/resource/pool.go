// Package resource implements the ResourcePool: a multiset of named token
// resources from which a Job can atomically lease a demanded count of
// tokens, blocking until all of them are simultaneously available.
package resource

import (
	"context"
	"fmt"
	"sync"
)

// Demand is a (name, count) request passed to Pool.Request.
type Demand struct {
	Name  string
	Count int
}

// Pool is a collection of named token multisets. Zero value is not usable;
// construct with New.
type Pool struct {
	mu     sync.Mutex
	tokens map[string][]string // name -> available tokens
	notify chan struct{}       // closed and replaced on every release, to wake waiters
}

// New creates a Pool. tokens maps resource name to its ordered token
// values (for anonymous counted resources, synthesize stable ids such as
// "name-0", "name-1", ... before calling New).
func New(tokens map[string][]string) *Pool {
	cp := make(map[string][]string, len(tokens))
	for name, toks := range tokens {
		cp[name] = append([]string(nil), toks...)
	}
	return &Pool{tokens: cp, notify: make(chan struct{})}
}

// Size returns the number of tokens of the named resource currently
// available, i.e. not held by a Lease (0 if undeclared).
func (p *Pool) Size(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens[name])
}

// Lease is a set of tokens held exclusively until Release is called.
// Releasing more than once is a no-op after the first call.
type Lease struct {
	pool    *Pool
	granted map[string][]string
	once    sync.Once
}

// Tokens returns the granted token values for a resource name.
func (l *Lease) Tokens(name string) []string {
	return l.granted[name]
}

// Release returns all leased tokens to the pool. Safe to call multiple
// times and safe to call on a nil Lease (e.g. when a test needed no
// resources).
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.pool.put(l.granted)
	})
}

// Request blocks until all demanded tokens can be granted simultaneously
// (never a partial grant), or ctx is done. On success it returns a Lease
// that must be released by the caller.
func (p *Pool) Request(ctx context.Context, demands []Demand) (*Lease, error) {
	for {
		if lease, ok := p.TryRequest(demands); ok {
			return lease, nil
		}
		p.mu.Lock()
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
			// Another release happened; loop and re-check.
		}
	}
}

// TryRequest attempts to grant demands without blocking. It is the
// dispatch loop's primitive: the scheduler is single-threaded and
// non-blocking, so it polls TryRequest on every Pending cell rather than
// calling Request.
func (p *Pool) TryRequest(demands []Demand) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.satisfiable(demands) {
		return nil, false
	}
	granted := make(map[string][]string, len(demands))
	for _, d := range demands {
		if d.Count == 0 {
			continue
		}
		avail := p.tokens[d.Name]
		n := len(avail)
		granted[d.Name] = append([]string(nil), avail[n-d.Count:]...)
		p.tokens[d.Name] = avail[:n-d.Count]
	}
	return &Lease{pool: p, granted: granted}, true
}

// satisfiable reports whether demands can all be granted right now.
// Caller must hold p.mu.
func (p *Pool) satisfiable(demands []Demand) bool {
	for _, d := range demands {
		if len(p.tokens[d.Name]) < d.Count {
			return false
		}
	}
	return true
}

func (p *Pool) put(granted map[string][]string) {
	p.mu.Lock()
	for name, toks := range granted {
		p.tokens[name] = append(p.tokens[name], toks...)
	}
	close(p.notify)
	p.notify = make(chan struct{})
	p.mu.Unlock()
}

// Validate checks that every demand in demands can be met by the tokens
// currently available in the pool, without acquiring anything. The
// manifest-load check that rejects tests which could never be satisfied is
// done by graph.Build against declared pool sizes, not by this method.
func (p *Pool) Validate(demands []Demand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range demands {
		if cap := len(p.tokens[d.Name]); cap < d.Count {
			return fmt.Errorf("resource %q: demand %d exceeds pool size %d", d.Name, d.Count, cap)
		}
	}
	return nil
}
