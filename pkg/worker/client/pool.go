package client

import (
	"context"
	"sync"
)

// Pool hands out worker clients to scheduler workers. Healthy clients are
// reused across dispatches; a client whose worker crashed is discarded and
// replaced on the next Get.
type Pool struct {
	cfg Config

	mu     sync.Mutex
	idle   []*Client
	closed bool
}

// NewPool creates a worker pool using the given client configuration.
func NewPool(cfg Config) *Pool {
	return &Pool{cfg: cfg}
}

// Get returns an idle healthy client or starts a new worker process.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	p.mu.Lock()
	for len(p.idle) > 0 {
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if c.Healthy() {
			p.mu.Unlock()
			return c, nil
		}
		_ = c.Close()
	}
	p.mu.Unlock()

	return Start(ctx, p.cfg)
}

// Put returns a client to the pool. Broken or closed clients are reaped.
func (p *Pool) Put(c *Client) {
	if c == nil {
		return
	}
	if !c.Healthy() {
		_ = c.Close()
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Close shuts down all idle workers and returns the first shutdown error.
// Clients currently checked out are closed by their holders.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	for _, c := range idle {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
