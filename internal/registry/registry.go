// Package registry correlates outgoing command ids with pending replies.
// It enforces per-command timeouts and provides a completion barrier used
// to serialize push dispatching behind connect/subscribe post-processing.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KatantDev/centrifuge-go/internal/protocol"
)

// ErrTimeout is returned when a command reply does not arrive in time.
var ErrTimeout = errors.New("centrifuge: operation timeout")

type outcome struct {
	reply *protocol.Reply
	err   error
}

// Future resolves exactly once with either a reply or an error.
type Future struct {
	ch chan outcome
}

// Await blocks until the future resolves or the context is done.
func (f *Future) Await(ctx context.Context) (*protocol.Reply, error) {
	select {
	case out := <-f.ch:
		return out.reply, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type barrier struct {
	once sync.Once
	ch   chan struct{}
}

func (b *barrier) signal() {
	b.once.Do(func() { close(b.ch) })
}

type record struct {
	future  *Future
	timer   *time.Timer
	barrier *barrier
}

// Registry holds pending reply records keyed by command id.
type Registry struct {
	mu      sync.Mutex
	pending map[uint32]*record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[uint32]*record)}
}

// Register creates a pending record for the given command id. If timeout is
// positive, the record resolves with ErrTimeout when it fires first.
func (r *Registry) Register(id uint32, timeout time.Duration) *Future {
	fut, _ := r.register(id, timeout, false)
	return fut
}

// RegisterWithBarrier is Register plus a completion barrier. The caller must
// invoke the returned function once its post-processing of the reply has
// finished; until then ResolveSuccess for this id blocks, which keeps any
// later messages in the same frame from being dispatched. The function is
// idempotent and must be called on every exit path.
func (r *Registry) RegisterWithBarrier(id uint32, timeout time.Duration) (*Future, func()) {
	return r.register(id, timeout, true)
}

func (r *Registry) register(id uint32, timeout time.Duration, barriered bool) (*Future, func()) {
	rec := &record{future: &Future{ch: make(chan outcome, 1)}}
	done := func() {}
	if barriered {
		rec.barrier = &barrier{ch: make(chan struct{})}
		done = rec.barrier.signal
	}
	if timeout > 0 {
		rec.timer = time.AfterFunc(timeout, func() {
			r.ResolveError(id, ErrTimeout)
		})
	}
	r.mu.Lock()
	r.pending[id] = rec
	r.mu.Unlock()
	return rec.future, done
}

// take removes and returns the record for id; nil when already resolved.
func (r *Registry) take(id uint32) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	if rec.timer != nil {
		rec.timer.Stop()
	}
	return rec
}

// ResolveSuccess delivers a reply to the pending record for id. If the
// record carries a barrier, ResolveSuccess blocks until the registering
// caller signals that its post-processing is complete. Resolving an unknown
// or already-resolved id is a no-op.
func (r *Registry) ResolveSuccess(id uint32, reply *protocol.Reply) {
	rec := r.take(id)
	if rec == nil {
		return
	}
	rec.future.ch <- outcome{reply: reply}
	if rec.barrier != nil {
		<-rec.barrier.ch
	}
}

// ResolveError fails the pending record for id. The barrier, if any, fires
// immediately: error post-processing never holds up later messages.
func (r *Registry) ResolveError(id uint32, err error) {
	rec := r.take(id)
	if rec == nil {
		return
	}
	rec.future.ch <- outcome{err: err}
	if rec.barrier != nil {
		rec.barrier.signal()
	}
}

// CancelAll fails every outstanding record with err.
func (r *Registry) CancelAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint32]*record)
	r.mu.Unlock()
	for _, rec := range pending {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		rec.future.ch <- outcome{err: err}
		if rec.barrier != nil {
			rec.barrier.signal()
		}
	}
}

// Len reports the number of outstanding records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
