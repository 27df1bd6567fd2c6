// Package shutdown provides graceful shutdown coordination for the CLI.
// It intercepts SIGINT/SIGTERM, cancels the command context and runs
// registered cleanup functions with a bounded grace period.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is the default time allowed for cleanup operations.
const DefaultGracePeriod = 5 * time.Second

// CleanupFunc performs cleanup during shutdown. The context is canceled
// when cleanup runs out of its grace period.
type CleanupFunc struct {
	Name string
	Func func(ctx context.Context) error
}

// Coordinator manages graceful shutdown for the CLI.
type Coordinator struct {
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	gracePeriod  time.Duration
	cleanupFuncs []CleanupFunc
	shutdownOnce sync.Once
	doneCh       chan struct{}
}

// New creates a Coordinator. The returned context is canceled when
// shutdown is triggered.
func New() (*Coordinator, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:         ctx,
		cancel:      cancel,
		gracePeriod: DefaultGracePeriod,
		doneCh:      make(chan struct{}),
	}, ctx
}

// RegisterCleanup adds a cleanup function. Cleanup functions run in LIFO
// order.
func (c *Coordinator) RegisterCleanup(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, CleanupFunc{Name: name, Func: fn})
}

// HandleSignals starts listening for SIGINT and SIGTERM. The first signal
// triggers graceful shutdown; a second one exits immediately.
func (c *Coordinator) HandleSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		go c.Shutdown(fmt.Sprintf("received signal %v", sig))
		<-sigCh
		os.Exit(1)
	}()
}

// Shutdown cancels the context and runs cleanup functions within the
// grace period. Safe to call more than once.
func (c *Coordinator) Shutdown(reason string) {
	c.shutdownOnce.Do(func() {
		c.cancel()

		cleanupCtx, cancel := context.WithTimeout(context.Background(), c.gracePeriod)
		defer cancel()

		c.mu.Lock()
		funcs := make([]CleanupFunc, len(c.cleanupFuncs))
		copy(funcs, c.cleanupFuncs)
		c.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i].Func(cleanupCtx); err != nil {
				fmt.Fprintf(os.Stderr, "cleanup %s: %v\n", funcs[i].Name, err)
			}
		}
		close(c.doneCh)
	})
}

// Done returns a channel closed once shutdown and cleanup completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}
