package capy

import (
	"sync"
)

// dispatcher starts gateway handler work in goroutines tracked by a
// WaitGroup. Once shutdown begins it refuses new work, so nothing is
// added to the WaitGroup while shutdown waits on it.
type dispatcher struct {
	mu      sync.Mutex
	closing bool

	// tails holds, per ordering key, a channel that's closed when the
	// most recent work started under that key returns
	tails map[string]chan struct{}
}

// open allows work to be started again
func (d *dispatcher) open() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closing = false
}

// close stops new work from starting. Work already started keeps running.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closing = true
}

// goTracked runs f in a new goroutine tracked by wg, and reports whether
// it was started. Work sharing a non-empty key runs one at a time, in the
// order goTracked was called.
func (d *dispatcher) goTracked(wg *sync.WaitGroup, key string, f func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return false
	}
	wg.Add(1)

	if key == "" {
		go func() {
			defer wg.Done()
			f()
		}()
		return true
	}

	if d.tails == nil {
		d.tails = map[string]chan struct{}{}
	}
	prev := d.tails[key]
	done := make(chan struct{})
	d.tails[key] = done

	go func() {
		defer wg.Done()
		defer func() {
			close(done)
			d.mu.Lock()
			if d.tails[key] == done {
				delete(d.tails, key)
			}
			d.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		f()
	}()
	return true
}

// pending returns the number of ordering keys with work in progress
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tails)
}
