// Copyright (c) 2019, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package procgroup

import (
	"fmt"
	"os"
	"strconv"
)

// Local is the group backend used when no rendezvous addresses are set. It
// covers two cases: a plain single-process run, and a run driven by a foreign
// scheduler that sets the rank and size environment variables but provides no
// way for the ranks to reach each other.
type Local struct {
	rank        int
	size        int
	initialized bool
}

// InitThread initializes the local group from the environment
func (g *Local) InitThread(required ThreadLevel) (ThreadLevel, error) {
	if g.initialized {
		return ThreadSingle, fmt.Errorf("group already initialized")
	}

	g.rank = 0
	g.size = 1

	if val := os.Getenv(SizeEnvVar); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil || size < 1 {
			return ThreadSingle, fmt.Errorf("invalid %s value: %s", SizeEnvVar, val)
		}
		g.size = size
	}
	if val := os.Getenv(RankEnvVar); val != "" {
		rank, err := strconv.Atoi(val)
		if err != nil || rank < 0 || rank >= g.size {
			return ThreadSingle, fmt.Errorf("invalid %s value: %s", RankEnvVar, val)
		}
		g.rank = rank
	}

	g.initialized = true

	// Goroutines make every call safe from any worker
	return capThreadSupport(ThreadMultiple), nil
}

// Rank returns the rank of the local process
func (g *Local) Rank() int {
	if !g.initialized {
		return -1
	}
	return g.rank
}

// Size returns the number of processes in the group
func (g *Local) Size() int {
	if !g.initialized {
		return 0
	}
	return g.size
}

// HostName returns the identifier of the host executing this process
func (g *Local) HostName() (string, error) {
	return hostName()
}

// Finalize terminates the local group
func (g *Local) Finalize() error {
	if !g.initialized {
		return fmt.Errorf("group is not initialized")
	}
	g.initialized = false
	return nil
}

// LoadLocal is the function used by the backend detection mechanism to load
// the local backend. It is the default backend and always loads.
func LoadLocal() (bool, Group) {
	return true, &Local{}
}
