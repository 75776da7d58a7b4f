// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package greeter implements the hybrid hello protocol: one greeting line per
// (rank, worker) pair of a distributed/shared-memory run, written under mutual
// exclusion so lines never interleave.
package greeter

import (
	"fmt"
	"io"
	"os"

	"github.com/sylabs/hybrid-greeter/internal/pkg/greeterr"
	"github.com/sylabs/hybrid-greeter/internal/pkg/procgroup"
	"github.com/sylabs/hybrid-greeter/internal/pkg/team"
)

// Config controls one greeting run
type Config struct {
	// Out is the stream the greeting lines are written to (os.Stdout when nil)
	Out io.Writer

	// TeamSize is the number of workers per process; zero or less means the
	// size the team runtime picks from the environment
	TeamSize int

	// RequiredThreadSupport is the thread support level requested from the
	// process-group runtime at initialization
	RequiredThreadSupport procgroup.ThreadLevel

	// CheckThreadSupport makes the run fail when the runtime provides less
	// than RequiredThreadSupport. When unset the provided level is ignored,
	// which is the degenerate variant of the program.
	CheckThreadSupport bool

	// PadWorkerFields pads the worker index and team size to a fixed width so
	// the output lines up
	PadWorkerFields bool

	// ReportStackSize makes worker 0 of rank 0 report the stack figure once
	// all the greetings of the process are out
	ReportStackSize bool
}

// DefaultConfig returns the configuration of the canonical variant of the
// program: serialized thread support, checked, padded output, stack report on
func DefaultConfig() Config {
	return Config{
		RequiredThreadSupport: procgroup.ThreadSerialized,
		CheckThreadSupport:    true,
		PadWorkerFields:       true,
		ReportStackSize:       true,
	}
}

// Run executes one full greeting job against the given process group:
// initialize with thread support, discover the topology, fan a worker team
// out, emit one guarded line per worker, optionally report the stack figure,
// join everybody and finalize the group.
//
// On greeterr.ErrThreadSupport nothing has been written to cfg.Out and the
// group has not been finalized; the caller is expected to exit with a failure
// status right away.
func Run(grp procgroup.Group, cfg *Config) error {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	provided, err := grp.InitThread(cfg.RequiredThreadSupport)
	if err != nil {
		return fmt.Errorf("group initialization failed: %s", err)
	}
	if cfg.CheckThreadSupport && provided < cfg.RequiredThreadSupport {
		// The single fatal path of the program: no greeting is emitted and the
		// caller terminates with a failure status
		return greeterr.ErrThreadSupport
	}

	rank := grp.Rank()
	size := grp.Size()
	host, err := grp.HostName()
	if err != nil {
		return fmt.Errorf("unable to identify the host: %s", err)
	}

	team.Run(cfg.TeamSize, func(w *team.Worker) {
		line := formatGreeting(rank, size, w.ID(), w.TeamSize(), host, cfg.PadWorkerFields)
		w.Critical(func() {
			fmt.Fprint(out, line)
		})

		// Wait for every greeting of this process before the one-off report
		w.Barrier()
		if cfg.ReportStackSize && rank == 0 && w.ID() == 0 {
			fmt.Fprintf(out, "\nThe chief bunny rabbit reports a stack size of %d bytes.\n", team.StackSize())
		}
	})

	err = grp.Finalize()
	if err != nil {
		return fmt.Errorf("group finalization failed: %s", err)
	}

	return nil
}

// formatGreeting builds the single line a worker emits
func formatGreeting(rank int, size int, worker int, teamSize int, host string, padded bool) string {
	if padded {
		return fmt.Sprintf("Hello from ... colony %d / %d : bunny rabbit %2d / %2d : warren %s\n",
			rank, size, worker, teamSize, host)
	}
	return fmt.Sprintf("Hello from ... colony %d / %d : bunny rabbit %d / %d : warren %s\n",
		rank, size, worker, teamSize, host)
}
