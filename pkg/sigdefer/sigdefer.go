// Package sigdefer postpones SIGINT/SIGTERM/SIGHUP delivery until any active
// critical section (a Scope) completes, so a cache write is never torn apart
// mid-flush by an interrupted process. It mirrors a dedicated signal-handler
// thread that defers to an active critical section rather than acting on a
// signal immediately.
package sigdefer

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	mu            sync.Mutex
	deferCount    int
	pending       os.Signal
	flushCallback func()
	sigCh         chan os.Signal
	stopCh        chan struct{}
	started       bool
)

// Start installs the signal handler and registers the callback invoked
// before the process exits on a deferred or immediate signal (the active
// cache's Flush). It is idempotent; subsequent calls only update the
// callback. Call Stop to release the signal channel when no Cache remains
// open.
func Start(onFlush func()) {
	mu.Lock()
	defer mu.Unlock()

	flushCallback = onFlush

	if started {
		return
	}

	started = true
	sigCh = make(chan os.Signal, 1)
	stopCh = make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go watch(sigCh, stopCh)
}

// Stop releases the signal channel. Safe to call even if Start was never
// called.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	if !started {
		return
	}

	signal.Stop(sigCh)
	close(stopCh)
	started = false
	flushCallback = nil
	pending = nil
	deferCount = 0
}

func watch(ch chan os.Signal, stop chan struct{}) {
	for {
		select {
		case sig := <-ch:
			handleSignal(sig)
		case <-stop:
			return
		}
	}
}

func handleSignal(sig os.Signal) {
	mu.Lock()
	defer mu.Unlock()

	if deferCount > 0 {
		pending = sig

		return
	}

	deliver(sig)
}

// deliver runs the flush callback and terminates the process with the
// conventional 128+signal exit code. Called with mu held.
func deliver(sig os.Signal) {
	if flushCallback != nil {
		flushCallback()
	}

	code := 128
	if signum, ok := sig.(syscall.Signal); ok {
		code += int(signum)
	}

	os.Exit(code)
}

// Guard represents an active critical section. Close must be called exactly
// once, typically via defer, when the section ends.
type Guard struct{}

// Scope enters a critical section, deferring signal delivery until every
// open Guard returned by Scope has been Closed.
func Scope() Guard {
	mu.Lock()
	deferCount++
	mu.Unlock()

	return Guard{}
}

// Close exits the critical section. If this was the last open Guard and a
// signal arrived during the scope, it is delivered now (flush callback, then
// process exit).
func (Guard) Close() {
	mu.Lock()
	defer mu.Unlock()

	deferCount--

	if deferCount == 0 && pending != nil {
		sig := pending
		pending = nil

		deliver(sig)
	}
}
