// Package corelog is a small leveled logger: a global verbosity level
// per module name, cheap to gate on the hot paths (resumable download
// loop, reconciler) so no formatting cost is paid when verbosity is low.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package corelog

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Known module names.
const (
	SmoduleIngest   = "ingest"
	SmoduleStore    = "store"
	SmodulePool     = "pool"
	SmoduleProvider = "provider"
	SmoduleCatalog  = "catalog"
	SmoduleQueue    = "queue"
	SmoduleDedup    = "dedup"
)

var (
	mu   sync.RWMutex
	lvls = map[string]int{}
	std  = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// SetLevel sets the verbosity level for module; 0 disables V() logging.
func SetLevel(module string, level int) {
	mu.Lock()
	lvls[module] = level
	mu.Unlock()
}

// V reports whether module logging at `level` is enabled, letting call
// sites skip expensive formatting entirely.
func V(level int, module string) bool {
	mu.RLock()
	l := lvls[module]
	mu.RUnlock()
	return l >= level
}

func Infoln(args ...interface{})          { std.Output(2, "I "+fmt.Sprintln(args...)) }
func Infof(format string, a ...interface{}) { std.Output(2, "I "+fmt.Sprintf(format, a...)) }
func Errorln(args ...interface{})         { std.Output(2, "E "+fmt.Sprintln(args...)) }
func Errorf(format string, a ...interface{}) { std.Output(2, "E "+fmt.Sprintf(format, a...)) }
func Warnf(format string, a ...interface{})  { std.Output(2, "W "+fmt.Sprintf(format, a...)) }
