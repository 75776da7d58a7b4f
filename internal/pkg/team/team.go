// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package team implements the fork-join worker team used for the parallel
// section of a greeting job. A team of a fixed size is spawned for the
// duration of one parallel region and joined at its end; every worker gets a
// unique 0-based index and sees the same team size. The package also provides
// the barrier and critical-section primitives workers synchronize with.
package team

import (
	"os"
	"runtime"
	"strconv"
	"sync"
)

// SizeEnvVar is the environment variable that selects the team size when the
// caller does not set one explicitly. It is read by this runtime layer, never
// by application logic.
const SizeEnvVar = "GREET_NUM_THREADS"

// Team represents one parallel region: a fixed set of workers sharing a
// barrier and a critical section
type Team struct {
	size    int
	mu      sync.Mutex
	barrier barrier
}

// Worker is the handle each member of a team receives
type Worker struct {
	id   int
	team *Team
}

// DefaultSize returns the team size selected by the execution environment:
// the value of the size environment variable when it is set to a positive
// integer, the number of CPUs otherwise
func DefaultSize() int {
	if val := os.Getenv(SizeEnvVar); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// Run spawns a team of size workers, hands each of them its Worker handle and
// runs fn on all of them concurrently. Run returns once every worker has
// returned (the implicit barrier at the end of the parallel region). A size
// of zero or less means DefaultSize().
func Run(size int, fn func(w *Worker)) {
	if size <= 0 {
		size = DefaultSize()
	}

	t := &Team{size: size}
	t.barrier.n = size

	var wg sync.WaitGroup
	wg.Add(size)
	for i := 0; i < size; i++ {
		go func(id int) {
			defer wg.Done()
			fn(&Worker{id: id, team: t})
		}(i)
	}
	wg.Wait()
}

// ID returns the 0-based index of the worker within its team
func (w *Worker) ID() int {
	return w.id
}

// TeamSize returns the total number of workers in the team
func (w *Worker) TeamSize() int {
	return w.team.size
}

// Critical runs fn while holding the team's critical section. At most one
// worker is inside the critical section at any time.
func (w *Worker) Critical(fn func()) {
	w.team.mu.Lock()
	defer w.team.mu.Unlock()
	fn()
}

// Barrier blocks the worker until every worker of the team has called Barrier
func (w *Worker) Barrier() {
	w.team.barrier.await()
}

// barrier is a cyclic barrier over a fixed number of parties
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	gen     int
}

func (b *barrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cond == nil {
		b.cond = sync.NewCond(&b.mu)
	}

	gen := b.gen
	b.arrived++
	if b.arrived == b.n {
		// Last one in releases everybody and opens the next generation
		b.arrived = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// StackSize reports the number of bytes of stack memory the process obtained
// from the operating system, the closest figure this runtime exposes to a
// per-worker stack limit
func StackSize() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.StackSys
}
