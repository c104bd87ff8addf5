// Package pool implements the worker pool and scheduler: a single
// process-wide pool of off-thread workers shared by the
// download queue and the backup/export queue, admitting tasks
// under a global soft memory budget and per-provider concurrency caps.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package pool

import (
	"context"

	"github.com/google/uuid"
)

// Event is the payload handed to a task's callbacks.
type Event struct {
	TaskID  string
	Loaded  int64
	Total   int64
	Payload interface{}
	Err     error
}

// Task is the unit of pool work. PrepareData is
// invoked only when the scheduler is about to start the task — this is how
// credentials are fetched at the last possible moment.
type Task struct {
	ID                      string
	MemoryRequirement       int64
	Provider                string // concurrency-bucket key, e.g. "google-drive:upload"
	ProviderConcurrencyLimit int

	PrepareData func(ctx context.Context) (interface{}, error)
	Run         func(ctx context.Context, data interface{}, onProgress func(loaded, total int64)) (interface{}, error)

	OnProgress func(Event)
	OnComplete func(event Event, releaseMemory func())
	OnError    func(Event)
}

// NewTaskID returns a globally-unique task identifier, distinct from the
// deterministic volume/series hashing in cmn/ids.
func NewTaskID() string { return uuid.NewString() }
