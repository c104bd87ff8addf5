package pool

import (
	"context"
	"sync"

	"github.com/mokuroreader/corestore/cmn/atomic"
	"github.com/mokuroreader/corestore/corelog"
)

// Config sizes the pool.
type Config struct {
	MaxConcurrentWorkers int
	MemoryBudget         int64 // soft, bytes
}

// DefaultConfig derives maxConcurrentWorkers from host parallelism, clamped
// to a sensible minimum and cap.
func DefaultConfig(numCPU int) Config {
	w := numCPU
	if w < 2 {
		w = 2
	}
	if w > 8 {
		w = 8
	}
	return Config{MaxConcurrentWorkers: w, MemoryBudget: 512 << 20}
}

// Pool is the single process-wide worker pool shared by the download and
// backup/export queues.
type Pool struct {
	cfg Config

	mu               sync.Mutex
	queued           []*Task
	cancelled        map[string]struct{}
	inFlightMem      int64
	providerInFlight map[string]int
	activeCount      int
}

func New(cfg Config) *Pool {
	return &Pool{
		cfg:              cfg,
		cancelled:        map[string]struct{}{},
		providerInFlight: map[string]int{},
	}
}

// Submit enqueues t and immediately attempts to schedule it and anything
// else waiting.
func (p *Pool) Submit(t *Task) {
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	p.mu.Lock()
	p.queued = append(p.queued, t)
	p.mu.Unlock()
	p.scheduleMore()
}

// Cancel removes a not-yet-started task from the queue. Returns whether it found
// and removed a queued (never-started) task.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.queued {
		if t.ID == taskID {
			p.queued = append(p.queued[:i], p.queued[i+1:]...)
			return true
		}
	}
	p.cancelled[taskID] = struct{}{}
	return false
}

// scheduleMore scans the queue in submit order, admitting every task whose
// resource checks currently pass. A task
// that doesn't fit is skipped, not blocking later, cheaper tasks.
func (p *Pool) scheduleMore() {
	p.mu.Lock()
	var toStart []*Task
	remaining := p.queued[:0:0]
	for _, t := range p.queued {
		if p.admitsLocked(t) {
			p.reserveLocked(t)
			toStart = append(toStart, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	p.queued = remaining
	p.mu.Unlock()

	for _, t := range toStart {
		go p.run(t)
	}
}

// admitsLocked checks the three admission conditions. Caller
// must hold p.mu.
func (p *Pool) admitsLocked(t *Task) bool {
	if p.activeCount >= p.cfg.MaxConcurrentWorkers {
		return false
	}
	if p.activeCount > 0 && p.inFlightMem+t.MemoryRequirement > p.cfg.MemoryBudget {
		// "unless no task is in flight (a single task is always admitted
		// even if it exceeds the budget — better a slow success than a
		// permanent stall)"
		return false
	}
	if t.ProviderConcurrencyLimit > 0 && p.providerInFlight[t.Provider] >= t.ProviderConcurrencyLimit {
		return false
	}
	return true
}

func (p *Pool) reserveLocked(t *Task) {
	p.inFlightMem += t.MemoryRequirement
	p.providerInFlight[t.Provider]++
	p.activeCount++
}

func (p *Pool) run(t *Task) {
	ctx := context.Background()

	p.mu.Lock()
	_, wasCancelled := p.cancelled[t.ID]
	p.mu.Unlock()
	if wasCancelled {
		p.release(t)
		return
	}

	data, err := t.PrepareData(ctx)
	if err != nil {
		p.finish(t, nil, err)
		return
	}
	var loaded64, total64 atomic.Int64
	onProgress := func(loaded, total int64) {
		loaded64.Store(loaded)
		total64.Store(total)
		if t.OnProgress != nil {
			t.OnProgress(Event{TaskID: t.ID, Loaded: loaded, Total: total})
		}
	}
	result, err := t.Run(ctx, data, onProgress)
	p.finish(t, result, err)
}

// finish dispatches OnError/OnComplete. OnComplete receives a
// releaseMemory closure: the memory slot stays reserved until the caller
// invokes it, typically after the main thread has finished writing the
// task's result to storage.
func (p *Pool) finish(t *Task, result interface{}, err error) {
	release := func() { p.release(t) }
	if err != nil {
		if t.OnError != nil {
			t.OnError(Event{TaskID: t.ID, Err: err})
		}
		release()
		return
	}
	if t.OnComplete != nil {
		t.OnComplete(Event{TaskID: t.ID, Payload: result}, release)
	} else {
		release()
	}
}

func (p *Pool) release(t *Task) {
	p.mu.Lock()
	p.inFlightMem -= t.MemoryRequirement
	if p.inFlightMem < 0 {
		p.inFlightMem = 0
	}
	p.providerInFlight[t.Provider]--
	if p.providerInFlight[t.Provider] <= 0 {
		delete(p.providerInFlight, t.Provider)
	}
	p.activeCount--
	delete(p.cancelled, t.ID)
	p.mu.Unlock()
	corelog.Infof("pool: released task %s", t.ID)
	p.scheduleMore()
}

// Stats is a point-in-time snapshot for the progress/metrics shim.
type Stats struct {
	Active      int
	Queued      int
	InFlightMem int64
}

// MaxWorkers exposes the pool's configured concurrency ceiling, used by
// the backup queue
// to size the pseudo-provider "export" bucket.
func (p *Pool) MaxWorkers() int { return p.cfg.MaxConcurrentWorkers }

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.activeCount, Queued: len(p.queued), InFlightMem: p.inFlightMem}
}
