package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// DefaultPoolSize is used when the configured size is not positive.
	DefaultPoolSize       = 4
	defaultAcquireTimeout = 5 * time.Second
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("session pool is closed")

// modelSession bundles an ONNX session with its bound tensors. A session is
// not safe for concurrent Run calls, so it is only ever held by one request.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *modelSession) destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Size            int
	InUse           int
	TotalAcquired   int64
	AcquireFailures int64
}

// SessionPool hands out a bounded number of model sessions.
type SessionPool struct {
	sessions       chan *modelSession
	size           int
	acquireTimeout time.Duration

	mu     sync.Mutex
	closed bool
	stats  PoolStats
}

func newSessionPool(size int, factory func() (*modelSession, error)) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	pool := &SessionPool{
		sessions:       make(chan *modelSession, size),
		size:           size,
		acquireTimeout: defaultAcquireTimeout,
		stats:          PoolStats{Size: size},
	}
	for i := 0; i < size; i++ {
		s, err := factory()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize session %d: %w", i, err)
		}
		pool.sessions <- s
	}
	return pool, nil
}

// Acquire waits for a free session until ctx ends or the acquire timeout passes.
func (p *SessionPool) Acquire(ctx context.Context) (*modelSession, error) {
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.stats.InUse++
		p.stats.TotalAcquired++
		p.mu.Unlock()
		return s, nil
	case <-timer.C:
		p.mu.Lock()
		p.stats.AcquireFailures++
		p.mu.Unlock()
		return nil, errors.New("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns s to the pool, or destroys it if the pool is closed.
func (p *SessionPool) Release(s *modelSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.InUse--
	if p.closed {
		s.destroy()
		return
	}
	p.sessions <- s
}

// Close destroys idle sessions. Sessions still in use are destroyed on Release.
func (p *SessionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)
	for s := range p.sessions {
		s.destroy()
	}
}

// Stats returns a copy of the usage counters.
func (p *SessionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
