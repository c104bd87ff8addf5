package pool

import "sync"

// The process-wide shared pool: "A global reference counter
// tracks how many queues currently consume pool slots; the pool is lazily
// instantiated and may be released when the counter reaches zero."
var shared struct {
	mu   sync.Mutex
	pool *Pool
	refs int
}

// AcquireShared returns the process-wide pool, creating it with cfg on
// first acquisition. Later acquirers share the original instance; their
// cfg is ignored (first-wins, since in-flight reservations are sized
// against it).
func AcquireShared(cfg Config) *Pool {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.pool == nil {
		shared.pool = New(cfg)
	}
	shared.refs++
	return shared.pool
}

// ReleaseShared drops one reference; at zero the pool instance is
// discarded so the next AcquireShared starts fresh. Started tasks run to
// completion regardless — only the singleton slot is released here.
func ReleaseShared() {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.refs == 0 {
		return
	}
	shared.refs--
	if shared.refs == 0 {
		shared.pool = nil
	}
}

// SharedRefs reports the current reference count, for tests and the
// metrics shim.
func SharedRefs() int {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	return shared.refs
}
